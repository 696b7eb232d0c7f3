package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ghosttown/go-mcp"
	"github.com/ghosttown/go-mcp/internal/config"
)

// clientInfo identifies the command line client to servers.
var clientInfo = mcp.Info{Name: "ghosttown-cli", Version: mcp.DefaultServerInfo.Version}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "call <tool>",
		Short:   "Call a tool on a running server and print its value",
		Example: `  ghosttown call add_tool --args '{"a": 123, "b": 456}'
  ghosttown call add_tool --unwrap --args '{"a": 1, "b": 2}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			rawArgs, err := cmd.Flags().GetString("args")
			if err != nil {
				return err
			}
			var toolArgs any
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
					return fmt.Errorf("failed to parse --args: %w", err)
				}
			}

			client := newClient(cfg)
			value, err := client.CallTool(commandContext(cmd), args[0], toolArgs)
			if err != nil {
				return err
			}
			logger.Debug("tool called", slog.String("tool", args[0]))

			unwrap, err := cmd.Flags().GetBool("unwrap")
			if err != nil {
				return err
			}
			if unwrap {
				value = mcp.UnwrapValue(value)
			}

			return printJSON(cmd, value)
		},
	}

	addClientFlags(cmd)
	cmd.Flags().String("args", "", "Tool arguments as a JSON object")
	cmd.Flags().Bool("unwrap", false, `Print v instead of {"value": v} for tools returning a single value`)

	return cmd
}

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered by a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			tools, err := newClient(cfg).ListTools(commandContext(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd, tools)
		},
	}

	addClientFlags(cmd)

	return cmd
}

func addClientFlags(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().String("url", def.URL, "URL of the server's JSON-RPC endpoint")
	cmd.Flags().Bool("streaming", def.Streaming, "Ask for replies as an event stream")
	cmd.Flags().Duration("timeout", def.Timeout, "Deadline of each request")
}

func newClient(cfg config.Config) *mcp.Client {
	transport := mcp.NewHTTPClientTransport(cfg.URL,
		mcp.WithHTTPClient(&http.Client{}),
		mcp.WithStreaming(cfg.Streaming),
	)
	return mcp.NewClient(clientInfo, transport, mcp.WithClientTimeout(cfg.Timeout))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
