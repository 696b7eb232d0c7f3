package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ghosttown/go-mcp/internal/config"
)

const flagConfig = "config"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ghosttown",
		Short:        "Serve and call ghosttown MCP tools",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String(flagConfig, "", "Path to a config file (yaml, json or toml)")
	cmd.PersistentFlags().String("log-level", config.Default().LogLevel, "Log level: debug, info, warn or error")
	cmd.PersistentFlags().String("log-format", config.Default().LogFormat, "Log format: text or json")

	cmd.AddCommand(
		newServeCmd(),
		newCallCmd(),
		newToolsCmd(),
	)

	return cmd
}

// loadConfig reads the configuration for cmd, honoring every flag visible to it.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	configFile, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return config.Config{}, nil, err
	}

	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return config.Config{}, nil, err
	}

	// Logs go to stderr so stdout stays free for the stdio transport and command output.
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
