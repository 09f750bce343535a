package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mcpreview/internal/agent"
	"mcpreview/internal/config"
	"mcpreview/internal/metrics"
	"mcpreview/internal/pipeline"
	"mcpreview/internal/provider"
	"mcpreview/internal/store"
	"mcpreview/internal/tool"
)

// app holds everything a command needs, built once from the config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store // nil when no dbPath is configured
	metrics *metrics.Metrics
	orch    *agent.Orchestrator
	closers []func() error
}

// loadConfig reads the config file, falling back to defaults when it is missing.
func loadConfig() (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			logger.Warn("config not found, using defaults", "path", cfgPath)
			return config.Defaults(), cfgPath, nil
		}
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// newLogger builds the stderr TextHandler at the configured level, tee'd to
// general.logFile when set. stdout is left alone for MCP stdio.
func newLogger(gen config.GeneralConfig) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gen.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	closer := func() error { return nil }
	if gen.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gen.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log directory: %w", err)
		}
		f, err := os.OpenFile(gen.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	lg, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: lg, metrics: metrics.New(), closers: []func() error{closeLog}}

	if cfg.Tools.Database.DBPath != "" {
		st, err := store.Open(ctx, cfg.Tools.Database.DBPath, lg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("review store: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}

	pipelines := pipeline.NewRegistry()
	if n, err := pipelines.LoadDirectory(cfg.Orchestrator.PipelinesDir, lg); err != nil {
		a.Close()
		return nil, fmt.Errorf("load pipelines: %w", err)
	} else if n > 0 {
		lg.Info("pipelines loaded", "count", n, "dir", cfg.Orchestrator.PipelinesDir)
	}

	orchCfg := agent.OrchestratorConfig{
		Registry:                a.registerTools(),
		Pipelines:               pipelines,
		Limiter:                 agent.NewRateLimiter(cfg.Model.RateBurst, float64(cfg.Model.RateLimitPerMinute)),
		Metrics:                 a.metrics,
		Logger:                  lg,
		ModelTimeout:            cfg.Model.Timeout(),
		ComprehensiveMultiplier: cfg.Model.ComprehensiveMultiplier,
		ToolTimeout:             cfg.Orchestrator.ToolTimeout(),
		MaxParallel:             cfg.Orchestrator.MaxParallelTools,
		MaxFollowUpCalls:        cfg.Orchestrator.MaxFollowUpCalls,
		StageDelay:              cfg.Orchestrator.StageDelay(),
		DeniedTools:             cfg.Orchestrator.DeniedTools,
		GrantedCapabilities:     cfg.Orchestrator.GrantedCapabilities,
		NotifyChannel:           cfg.Orchestrator.NotifyChannel,
	}
	if client := a.modelClient(); client != nil {
		orchCfg.Model = client
	}
	a.orch = agent.NewOrchestrator(orchCfg)
	return a, nil
}

// registerTools builds the registry from the enabled tool sections.
func (a *app) registerTools() *tool.Registry {
	t := a.cfg.Tools
	timeout := a.cfg.Orchestrator.ToolTimeout()
	reg := tool.NewRegistry(a.logger)

	if t.Git.Enabled {
		reg.MustRegister(tool.NewGitTool(timeout))
	}
	if t.Filesystem.Enabled {
		reg.MustRegister(tool.NewFilesystemTool(tool.FilesystemConfig{
			Root:              t.Filesystem.Root,
			AllowedExtensions: t.Filesystem.AllowedExtensions,
			MaxFileBytes:      t.Filesystem.MaxFileBytes,
			Timeout:           timeout,
		}))
	}
	if t.Database.Enabled && a.store != nil {
		reg.MustRegister(tool.NewDatabaseTool(a.store.DB(), timeout))
	}
	if t.Notification.Enabled {
		reg.MustRegister(tool.NewNotificationTool(tool.NotificationConfig{
			SlackWebhookURL: t.Notification.SlackWebhookURL,
			TeamsWebhookURL: t.Notification.TeamsWebhookURL,
			SMTP: tool.SMTPConfig{
				Host:     t.Notification.SMTP.Host,
				Port:     t.Notification.SMTP.Port,
				From:     t.Notification.SMTP.From,
				Username: t.Notification.SMTP.Username,
				Password: t.Notification.SMTP.Password,
			},
			HTTPClient: provider.SharedHTTPClient(timeout),
			Timeout:    timeout,
			Logger:     a.logger,
		}))
	}
	return reg
}

// modelClient returns nil when no endpoint is configured; model round trips
// then fail with a transport failure instead of the process refusing to start.
func (a *app) modelClient() provider.Client {
	m := a.cfg.Model
	if m.Endpoint == "" {
		return nil
	}
	return provider.NewClient(provider.EndpointConfig{
		BaseURL:    m.Endpoint,
		APIKey:     m.APIKey,
		ChatPath:   m.ChatPath,
		ReviewPath: m.ReviewPath,
		MaxRetries: m.MaxRetries,
		HTTPClient: provider.SharedHTTPClient(time.Duration(float64(m.Timeout()) * max(1, m.ComprehensiveMultiplier))),
		Logger:     a.logger,
	}, m.FallbackEndpoints)
}

// Close waits briefly for background tasks, then releases resources in
// reverse order.
func (a *app) Close() {
	if a.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundDrainTimeout)
		if err := a.orch.Background().Wait(ctx); err != nil {
			a.logger.Warn("background tasks still running at exit", "err", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}
