package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ghosttown/go-mcp"
	"github.com/ghosttown/go-mcp/internal/config"
	"github.com/ghosttown/go-mcp/servers/arith"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tools over HTTP, or over stdin/stdout with --stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", def.Addr, "Address to listen on")
	flags.String("path", def.Path, "Path the JSON-RPC endpoint is mounted on")
	flags.String("metrics-addr", def.MetricsAddr, "Address to serve Prometheus metrics on; empty disables it")
	flags.Bool("stdio", def.Stdio, "Serve over stdin/stdout instead of HTTP")
	flags.Bool("lenient", def.Lenient, "Accept tool calls before the handshake completes")
	flags.Bool("top-level-tools", def.TopLevelTools, "Also expose every tool as a JSON-RPC method of its own")
	flags.Duration("session-ttl", def.SessionTTL, "How long an idle HTTP session is kept")
	flags.Int64("max-body-size", def.MaxBodySize, "Maximum size of a request body in bytes")
	flags.StringSlice("expose", def.Expose, "Glob patterns of tools to expose; all tools when empty")
	flags.Float64("global-rps", def.GlobalRPS, "Requests per second across all tool traffic; 0 disables the limit")
	flags.Int("global-burst", def.GlobalBurst, "Burst size of the global limit")
	flags.Float64("tool-rps", def.ToolRPS, "Calls per second for each tool; 0 disables the limit")
	flags.Int("tool-burst", def.ToolBurst, "Burst size of the per-tool limit")

	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	registry, err := arith.NewRegistry()
	if err != nil {
		return err
	}
	if registry, err = registry.Select(cfg.Expose...); err != nil {
		return err
	}

	metrics := prometheus.NewRegistry()
	server := mcp.NewServer(mcp.DefaultServerInfo, registry, serverOptions(cfg, logger, metrics)...)

	if cfg.Stdio {
		logger.Info("serving over stdio", slog.Int("tools", registry.Len()))
		return mcp.NewStdIOServer(server, os.Stdin, os.Stdout, logger).Serve(ctx)
	}

	handler := mcp.NewHTTPHandler(server,
		mcp.WithSessionTTL(cfg.SessionTTL),
		mcp.WithMaxBodySize(cfg.MaxBodySize),
		mcp.WithHTTPHandlerLogger(logger),
	)
	defer handler.Shutdown()

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, handler)
	servers := []*http.Server{{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}}

	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to serve on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shut down %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func serverOptions(cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) []mcp.ServerOption {
	opts := []mcp.ServerOption{
		mcp.WithServerLogger(logger),
		mcp.WithMetrics(reg),
	}
	if cfg.Lenient {
		opts = append(opts, mcp.WithLenientHandshake())
	}
	if cfg.TopLevelTools {
		opts = append(opts, mcp.WithTopLevelTools())
	}
	if cfg.GlobalRPS > 0 || cfg.ToolRPS > 0 {
		limits := mcp.RateLimitConfig{
			GlobalRPS:   cfg.GlobalRPS,
			GlobalBurst: cfg.GlobalBurst,
		}
		if cfg.ToolRPS > 0 {
			limits.ToolRPS = map[string]float64{"*": cfg.ToolRPS}
			limits.ToolBurst = map[string]int{"*": cfg.ToolBurst}
		}
		opts = append(opts, mcp.WithRateLimiter(mcp.NewRateLimiter(limits)))
	}
	return opts
}
