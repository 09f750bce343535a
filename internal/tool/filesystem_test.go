package tool

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fsFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go":             "package main\n",
		"README.md":           "# readme\n",
		"image.png":           "binary",
		".hidden.yml":         "a: 1\n",
		"pkg/util.go":         "package pkg\n",
		"pkg/deep/deeper.go":  "package deep\n",
		"pkg/deep/notes.json": "{}\n",
	}
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func fsCall(tool *FilesystemTool, op, path string, opts map[string]any) (map[string]any, []map[string]any, error) {
	params := map[string]any{"operation": op, "path": path}
	if opts != nil {
		params["parameters"] = opts
	}
	res := tool.Execute(context.Background(), params)
	if !res.Success {
		return nil, nil, errString(res.Error)
	}
	list, _ := res.Content.([]map[string]any)
	return res.Metadata, list, nil
}

type errString string

func (e errString) Error() string { return string(e) }

func names(list []map[string]any) []string {
	var out []string
	for _, m := range list {
		out = append(out, m["name"].(string))
	}
	sort.Strings(out)
	return out
}

func TestFilesystemTool_ReadFile(t *testing.T) {
	root := fsFixture(t)
	tool := NewFilesystemTool(FilesystemConfig{Root: root, Timeout: 5 * time.Second})

	res := tool.Execute(context.Background(), map[string]any{"operation": "read_file", "path": "main.go"})
	if !res.Success {
		t.Fatalf("read_file failed: %s", res.Error)
	}
	if res.Content != "package main\n" || res.Metadata["lines"] != 1 {
		t.Errorf("unexpected result %q %v", res.Content, res.Metadata)
	}

	res = tool.Execute(context.Background(), map[string]any{"operation": "read_file", "path": "image.png"})
	if res.Success || !strings.Contains(res.Error, "not allowed") {
		t.Errorf("expected extension rejection, got %+v", res)
	}
}

func TestFilesystemTool_MaxSize(t *testing.T) {
	root := fsFixture(t)
	tool := NewFilesystemTool(FilesystemConfig{Root: root, MaxFileBytes: 4})
	res := tool.Execute(context.Background(), map[string]any{"operation": "read_file", "path": "main.go"})
	if res.Success {
		t.Fatal("expected oversized file to be rejected")
	}
}

func TestFilesystemTool_RootRestriction(t *testing.T) {
	root := fsFixture(t)
	tool := NewFilesystemTool(FilesystemConfig{Root: root})
	res := tool.Execute(context.Background(), map[string]any{"operation": "read_file", "path": "../outside.go"})
	if res.Success || !strings.Contains(res.Error, "outside") {
		t.Fatalf("expected traversal rejection, got %+v", res)
	}
}

func TestFilesystemTool_ListDirectory(t *testing.T) {
	root := fsFixture(t)
	tool := NewFilesystemTool(FilesystemConfig{Root: root})

	_, list, err := fsCall(tool, "list_directory", ".", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"README.md", "image.png", "main.go", "pkg"}
	if diff := cmp.Diff(want, names(list)); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}

	meta, list, err := fsCall(tool, "list_directory", ".", map[string]any{"include_hidden": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 5 || meta["include_hidden"] != true {
		t.Errorf("expected hidden file included, got %v", names(list))
	}
}

func TestFilesystemTool_FindFiles(t *testing.T) {
	root := fsFixture(t)
	tool := NewFilesystemTool(FilesystemConfig{Root: root})

	_, list, err := fsCall(tool, "find_files", ".", map[string]any{"pattern": "*.go"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"deeper.go", "main.go", "util.go"}, names(list)); diff != "" {
		t.Errorf("recursive find mismatch (-want +got):\n%s", diff)
	}

	_, list, err = fsCall(tool, "find_files", ".", map[string]any{"pattern": "*.go", "recursive": false})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"main.go"}, names(list)); diff != "" {
		t.Errorf("non-recursive find mismatch (-want +got):\n%s", diff)
	}

	_, list, err = fsCall(tool, "find_files", ".", map[string]any{"pattern": "*.go", "max_depth": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"main.go"}, names(list)); diff != "" {
		t.Errorf("depth-limited find mismatch (-want +got):\n%s", diff)
	}

	// Non-allow-listed files never match.
	_, list, err = fsCall(tool, "find_files", ".", map[string]any{"pattern": "*"})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range names(list) {
		if n == "image.png" {
			t.Error("find_files returned a disallowed extension")
		}
	}
}

func TestFilesystemTool_AnalyzeStructure(t *testing.T) {
	root := fsFixture(t)
	tool := NewFilesystemTool(FilesystemConfig{Root: root})

	res := tool.Execute(context.Background(), map[string]any{"operation": "analyze_structure", "path": "."})
	if !res.Success {
		t.Fatalf("analyze_structure failed: %s", res.Error)
	}
	got := res.Content.(map[string]any)
	if got["total_files"] != 7 {
		t.Errorf("expected 7 files, got %v", got["total_files"])
	}
	if got["total_directories"] != 3 {
		t.Errorf("expected 3 directories (root, pkg, deep), got %v", got["total_directories"])
	}
	exts := got["extension_counts"].(map[string]int)
	if exts[".go"] != 3 || exts[".png"] != 1 {
		t.Errorf("unexpected extension counts %v", exts)
	}
}

func TestFilesystemTool_FileInfoAndUnknownOp(t *testing.T) {
	root := fsFixture(t)
	tool := NewFilesystemTool(FilesystemConfig{Root: root})

	res := tool.Execute(context.Background(), map[string]any{"operation": "get_file_info", "path": "pkg"})
	if !res.Success {
		t.Fatalf("get_file_info failed: %s", res.Error)
	}
	if res.Content.(map[string]any)["is_directory"] != true {
		t.Error("expected pkg to be a directory")
	}

	res = tool.Execute(context.Background(), map[string]any{"operation": "delete", "path": "main.go"})
	if res.Success || !strings.Contains(res.Error, "Unknown operation") {
		t.Errorf("expected unknown operation failure, got %+v", res)
	}
}
