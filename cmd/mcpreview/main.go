package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"mcpreview/internal/config"
	"mcpreview/internal/domain"
	"mcpreview/internal/store"

	"github.com/spf13/cobra"
)

const backgroundDrainTimeout = 10 * time.Second

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "mcpreview",
		Short:        "Tool-orchestrating code review agent",
		Long:         "mcpreview drives git, filesystem, review-history and notification tools through isolated sessions to review pull requests with an external model endpoint.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.mcpreview/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(askCmd())
	root.AddCommand(reviewCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// withApp loads config, builds the app, and runs fn under a signal-aware context.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initCmd() *cobra.Command {
	var yamlFormat bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the pipelines directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if configPath == "" && yamlFormat {
				cfgPath = strings.TrimSuffix(cfgPath, ".json") + ".yaml"
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Orchestrator.PipelinesDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "pipelines", cfg.Orchestrator.PipelinesDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yamlFormat, "yaml", false, "write config.yaml instead of config.json")
	return cmd
}

func toolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools a new session can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, err := a.orch.CreateSession("")
				if err != nil {
					return err
				}
				catalog := s.AvailableTools(ctx)
				s.Close()

				if asJSON {
					return printJSON(catalog)
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tDESCRIPTION")
				for _, t := range catalog {
					fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full schemas as JSON")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		allowed []string
		ctxVals map[string]string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a prompt with the tool catalog and run the requested tool calls",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				initial := make(map[string]any, len(ctxVals))
				for k, v := range ctxVals {
					initial[k] = v
				}
				resp := a.orch.ExecuteWithToolCatalog(ctx, strings.Join(args, " "), allowed, initial)
				if asJSON {
					return printJSON(resp)
				}
				if !resp.Success {
					return fmt.Errorf("%s: %s", resp.Kind, resp.Error)
				}
				fmt.Println(resp.Content)
				for _, r := range resp.ToolResults {
					printToolResult(r)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&allowed, "tools", nil, "restrict the session to these tools")
	cmd.Flags().StringToStringVar(&ctxVals, "context", nil, "initial session context (key=value)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func printToolResult(r domain.ToolResult) {
	if r.Success {
		fmt.Printf("  [ok]    %s\n", r.ToolName)
		return
	}
	fmt.Printf("  [%s] %s: %s\n", r.Kind, r.ToolName, r.Error)
}

func reviewCmd() *cobra.Command {
	var (
		task   domain.ReviewTask
		opts   = domain.DefaultReviewOptions()
		mode   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review a pull request and record the outcome",
		Long: `Runs a structured (multi-stage pipeline), comprehensive (model-led) or
streaming review against a repository and records the result in the review
history database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if task.RepositoryURL == "" {
				return fmt.Errorf("--repo is required")
			}
			if task.ID == "" {
				task.ID = task.SourceBranch
			}
			return withApp(func(ctx context.Context, a *app) error {
				var res *domain.ReviewResult
				switch mode {
				case "structured":
					res = a.orch.PerformStructuredReview(ctx, task, opts)
				case "comprehensive":
					res = a.orch.PerformComprehensiveReview(ctx, task, opts)
				case "stream":
					return streamReview(ctx, a, task, opts)
				default:
					return fmt.Errorf("unknown mode %q (structured, comprehensive, stream)", mode)
				}
				a.record(ctx, task, mode, res)

				if asJSON {
					return printJSON(res)
				}
				printReview(res)
				if !res.Success {
					return fmt.Errorf("review failed: %s", res.Error)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&mode, "mode", "structured", "structured, comprehensive or stream")
	f.StringVar(&task.ID, "id", "", "pull request id (default: source branch)")
	f.StringVar(&task.ProjectID, "project", "", "project id for learned patterns")
	f.StringVar(&task.Title, "title", "", "pull request title")
	f.StringVar(&task.Description, "description", "", "pull request description")
	f.StringVar(&task.Author, "author", "", "pull request author")
	f.StringVar(&task.RepositoryURL, "repo", "", "local repository path")
	f.StringVar(&task.SourceBranch, "source", "", "source branch")
	f.StringVar(&task.TargetBranch, "target", "", "target branch")
	f.StringSliceVar(&opts.FocusAreas, "focus", opts.FocusAreas, "focus areas")
	f.StringVar(&opts.SeverityThreshold, "severity", opts.SeverityThreshold, "severity threshold")
	f.BoolVar(&opts.IncludeSuggestions, "suggestions", opts.IncludeSuggestions, "ask for improvement suggestions")
	f.StringVar(&opts.Pipeline, "pipeline", "", "pipeline name (default: structured_review)")
	f.BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func streamReview(ctx context.Context, a *app, task domain.ReviewTask, opts domain.ReviewOptions) error {
	failed := 0
	for u := range a.orch.StreamReview(ctx, task, opts) {
		if u.Status == domain.UpdateError {
			failed++
			fmt.Printf("[%s] %s: error: %s\n", u.Stage, u.Tool, u.Error)
			continue
		}
		fmt.Printf("[%s] %s: completed\n", u.Stage, u.Tool)
	}
	if failed > 0 {
		a.logger.Warn("stream review finished with failures", "failed", failed)
	}
	return ctx.Err()
}

// record stores the review in the history database. A failure to record is
// logged; the review outcome itself still stands.
func (a *app) record(ctx context.Context, task domain.ReviewTask, mode string, res *domain.ReviewResult) {
	if a.store == nil || task.ID == "" {
		a.logger.Debug("review not recorded", "has_store", a.store != nil, "pull_request", task.ID)
		return
	}
	if _, err := a.store.RecordReview(ctx, store.RecordFromResult(task, mode, res)); err != nil {
		a.logger.Warn("record review failed", "pull_request", task.ID, "err", err)
	}
}

func printReview(res *domain.ReviewResult) {
	status := "ok"
	if !res.Success {
		status = "failed"
	}
	fmt.Printf("Review %s (session %s, critical=%v)\n", status, res.SessionID, res.Critical)
	for _, st := range res.Stages {
		fmt.Printf("Stage %s:\n", st.Name)
		for _, r := range st.Results {
			printToolResult(r)
		}
	}
	if res.Model != nil && res.Model.Content != "" {
		fmt.Printf("\n%s\n", res.Model.Content)
	}
	if len(res.Stages) == 0 {
		for _, r := range res.ToolResults {
			printToolResult(r)
		}
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. orchestrator.maxParallelTools)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. model.endpoint http://localhost:3000)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})
	return cmd
}
