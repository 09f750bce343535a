package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mcpreview/internal/config"
	"mcpreview/internal/domain"
)

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.General.LogLevel = "error"
	cfg.Tools.Database.DBPath = filepath.Join(dir, "reviews.db")
	cfg.Orchestrator.PipelinesDir = filepath.Join(dir, "pipelines")
	cfg.Orchestrator.StageDelayMs = 0
	return cfg
}

func TestNewApp_RegistersEnabledTools(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tools.Notification.Enabled = false

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	s, err := a.orch.CreateSession("probe")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	var names []string
	for _, sch := range s.AvailableTools(context.Background()) {
		names = append(names, sch.Name)
	}
	if diff := cmp.Diff([]string{"database", "filesystem", "git"}, names); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}
}

func TestNewApp_NoModelEndpoint(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	resp := a.orch.ExecuteWithToolCatalog(context.Background(), "hello", nil, nil)
	if resp.Success || resp.Kind != domain.FailureTransport {
		t.Fatalf("expected transport failure without an endpoint, got %+v", resp)
	}
}

func TestRecord_StoresFailedReview(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	task := domain.ReviewTask{ID: "pr-9", Title: "x", RepositoryURL: t.TempDir()}
	res := a.orch.PerformStructuredReview(ctx, task, domain.ReviewOptions{Pipeline: "missing"})
	a.record(ctx, task, "structured", res)

	n, err := a.store.ReviewCount(ctx, "pr-9")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one recorded review, got %d", n)
	}
}

func TestNewLogger_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mcpreview.log")
	lg, closeFn, err := newLogger(config.GeneralConfig{LogLevel: "debug", LogFile: path})
	if err != nil {
		t.Fatal(err)
	}
	lg.Debug("hello from test")
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected the log file to receive output")
	}
}
