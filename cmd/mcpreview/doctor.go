package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mcpreview/internal/config"
	"mcpreview/internal/pipeline"
	"mcpreview/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your mcpreview installation",
		Long: `Verifies that the configuration, review database, pipelines, model endpoint
and metrics listener are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("mcpreview doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'mcpreview init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			if dbPath := cfg.Tools.Database.DBPath; dbPath != "" {
				if err := checkDatabase(ctx, dbPath); err != nil {
					r.fail("Database", err.Error())
				} else {
					r.pass("Database", dbPath)
				}
			} else {
				r.warn("Database", "no dbPath: review history is not recorded")
			}

			reg := pipeline.NewRegistry()
			if n, err := reg.LoadDirectory(cfg.Orchestrator.PipelinesDir, logger); err != nil {
				r.fail("Pipelines", err.Error())
			} else {
				r.pass("Pipelines", fmt.Sprintf("%d loaded from %s (%v)", n, cfg.Orchestrator.PipelinesDir, reg.Names()))
			}

			if cfg.Model.Endpoint == "" {
				r.warn("Model endpoint", "not configured: only structured reviews will work")
			} else {
				a := &app{cfg: cfg, logger: logger}
				if err := a.modelClient().Healthy(ctx); err != nil {
					r.fail("Model endpoint", err.Error())
				} else {
					r.pass("Model endpoint", cfg.Model.Endpoint)
				}
				if cfg.Model.APIKey == "" {
					r.warn("Model API key", "empty: requests are sent unauthenticated")
				}
			}

			if cfg.Tools.Notification.Enabled && cfg.Orchestrator.NotifyChannel == "slack" && cfg.Tools.Notification.SlackWebhookURL == "" {
				r.warn("Notifications", "notifyChannel is slack but no slackWebhookURL is set")
			}

			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					r.warn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
				} else {
					r.pass("Metrics listen", cfg.Metrics.Listen+cfg.Metrics.Path)
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned == 0 {
		fmt.Printf("\nAll checks passed.\n")
	}
	return nil
}

// checkDatabase opens (and migrates) the review store, then probes a write.
func checkDatabase(ctx context.Context, dbPath string) error {
	st, err := store.Open(ctx, dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.DB().ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	st.DB().ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
