package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"mcpreview/internal/mcpserver"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool catalog over MCP stdio",
		Long: `Starts an MCP server on stdin/stdout exposing every tool a new session may
use. Each call runs in its own session. When metrics.enabled is set, a
Prometheus endpoint is served on metrics.listen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(runServe)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	srv, err := mcpserver.New(ctx, mcpserver.Config{Orchestrator: a.orch, Version: version, Logger: a.logger})
	if err != nil {
		return err
	}

	if a.cfg.Metrics.Enabled {
		stop := serveMetrics(a)
		defer stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down mcp server")
		return nil
	}
}

// serveMetrics exposes the Prometheus registry and returns a shutdown func.
func serveMetrics(a *app) func() {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.metrics.Handler())
	httpServer := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics listening", "addr", httpServer.Addr, "path", a.cfg.Metrics.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "err", fmt.Errorf("listen %s: %w", httpServer.Addr, err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics shutdown", "err", err)
		}
	}
}
