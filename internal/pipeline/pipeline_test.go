package pipeline

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mcpreview/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStructuredReview_ShapeAndRequests(t *testing.T) {
	def := StructuredReview()
	if err := def.Validate(); err != nil {
		t.Fatalf("built-in pipeline invalid: %v", err)
	}
	if len(def.Stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(def.Stages))
	}

	got := def.Stages[1].Requests(domain.ReviewTask{RepositoryURL: "/srv/repo"}.Vars())
	want := []domain.ToolInvocationRequest{
		{ToolName: "filesystem", Parameters: map[string]any{"operation": "analyze_structure", "path": "/srv/repo"}},
		{ToolName: "git", Parameters: map[string]any{"command": "diff", "repository": "/srv/repo"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("analysis requests mismatch (-want +got):\n%s", diff)
	}

	// Materializing must not mutate the definition.
	if p := def.Stages[1].Steps[0].Params["path"]; p != "${repository}" {
		t.Errorf("definition mutated: %v", p)
	}
}

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"author": "alice", "repository": "/r"}
	in := map[string]any{
		"repository": "${repository}",
		"parameters": map[string]any{"author": "$author", "since": "7 days ago", "days": 7},
		"list":       []any{"${author}", 3},
		"names":      []string{"${missing}x"},
	}
	want := map[string]any{
		"repository": "/r",
		"parameters": map[string]any{"author": "alice", "since": "7 days ago", "days": 7},
		"list":       []any{"alice", 3},
		"names":      []string{"x"},
	}
	if diff := cmp.Diff(want, Substitute(in, vars)); diff != "" {
		t.Errorf("Substitute mismatch (-want +got):\n%s", diff)
	}
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want string
	}{
		{"no name", Definition{Stages: []Stage{{Steps: []Step{{Tool: "git"}}}}}, "name is required"},
		{"no stages", Definition{Name: "x"}, "has no stages"},
		{"empty stage", Definition{Name: "x", Stages: []Stage{{Name: "a"}}}, "has no steps"},
		{"missing tool", Definition{Name: "x", Stages: []Stage{{Steps: []Step{{}}}}}, "tool is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDefinition_StageName(t *testing.T) {
	def := Definition{Name: "x", Stages: []Stage{{Name: "gather"}, {}}}
	if got := def.StageName(0); got != "gather" {
		t.Errorf("got %q", got)
	}
	if got := def.StageName(1); got != "stage-2" {
		t.Errorf("got %q", got)
	}
}

func TestRegistry_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("security-only.yaml", `
description: Just the findings
stages:
  - name: findings
    steps:
      - tool: database
        params:
          query: security_findings
          parameters:
            author: ${author}
`)
	write("broken.yml", "stages: [")
	write("empty.yaml", "name: empty\nstages: []\n")
	write("notes.txt", "ignored")

	r := NewRegistry()
	n, err := r.LoadDirectory(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pipeline loaded, got %d", n)
	}
	if diff := cmp.Diff([]string{"security-only", StructuredReviewName}, r.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	def, ok := r.Get("security-only")
	if !ok {
		t.Fatal("security-only not registered")
	}
	reqs := def.Stages[0].Requests(map[string]string{"author": "bob"})
	want := []domain.ToolInvocationRequest{{
		ToolName:   "database",
		Parameters: map[string]any{"query": "security_findings", "parameters": map[string]any{"author": "bob"}},
	}}
	if diff := cmp.Diff(want, reqs); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_GetDefaultsAndMissingDir(t *testing.T) {
	r := NewRegistry()
	if def, ok := r.Get(""); !ok || def.Name != StructuredReviewName {
		t.Fatalf("empty name should select the structured review, got %q %v", def.Name, ok)
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("unexpected pipeline")
	}
	n, err := r.LoadDirectory(filepath.Join(t.TempDir(), "missing"), testLogger())
	if err != nil || n != 0 {
		t.Errorf("missing dir: n=%d err=%v", n, err)
	}
	if err := r.Register(Definition{Name: "bad"}); err == nil {
		t.Error("expected invalid definition to be rejected")
	}
}
