package tool

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"mcpreview/internal/domain"
)

// DefaultAllowedExtensions lists the code and configuration files readable by the filesystem tool.
var DefaultAllowedExtensions = []string{
	".go", ".java", ".js", ".ts", ".py", ".md", ".yml", ".yaml",
	".json", ".xml", ".properties", ".sql", ".sh", ".bat",
}

const DefaultMaxFileBytes = 1 << 20

type filesystemOptions struct {
	Pattern       string `json:"pattern,omitempty" jsonschema:"description=File name glob to match"`
	Recursive     *bool  `json:"recursive,omitempty" jsonschema:"description=Search recursively"`
	MaxDepth      int    `json:"max_depth,omitempty" jsonschema:"description=Maximum directory depth"`
	IncludeHidden bool   `json:"include_hidden,omitempty" jsonschema:"description=Include hidden files"`
}

type filesystemParams struct {
	Operation  string            `json:"operation" jsonschema:"required,enum=read_file,enum=list_directory,enum=find_files,enum=analyze_structure,enum=get_file_info,description=Filesystem operation to perform"`
	Path       string            `json:"path" jsonschema:"required,description=File or directory path"`
	Parameters filesystemOptions `json:"parameters,omitempty" jsonschema:"description=Operation-specific parameters"`
}

// FilesystemConfig restricts what the filesystem tool may touch.
type FilesystemConfig struct {
	Root              string // empty means unrestricted
	AllowedExtensions []string
	MaxFileBytes      int64
	Timeout           time.Duration
}

// FilesystemTool reads code files and summarizes directory trees.
type FilesystemTool struct {
	cfg    FilesystemConfig
	schema map[string]any
}

func NewFilesystemTool(cfg FilesystemConfig) *FilesystemTool {
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = DefaultAllowedExtensions
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	return &FilesystemTool{cfg: cfg, schema: SchemaFor[filesystemParams]()}
}

func (t *FilesystemTool) Name() string { return "filesystem" }
func (t *FilesystemTool) Description() string {
	return fmt.Sprintf("Read files, list directories, and analyze file structures. Limited to code and configuration files under %d bytes.", t.cfg.MaxFileBytes)
}
func (t *FilesystemTool) InputSchema() map[string]any { return t.schema }
func (t *FilesystemTool) RequiredCapabilities() []string { return []string{"filesystem:read"} }
func (t *FilesystemTool) Available(ctx context.Context) bool { return true }

func (t *FilesystemTool) Execute(ctx context.Context, params map[string]any) domain.ToolResult {
	op := ArgsString(params, "operation")
	path, err := resolvePath(t.cfg.Root, ArgsString(params, "path"))
	if err != nil {
		return domain.ExecutionFailure(err.Error())
	}
	opts := ArgsMap(params, "parameters")

	return runBounded(ctx, t.cfg.Timeout, "filesystem "+op, func(ctx context.Context) domain.ToolResult {
		switch op {
		case "read_file":
			return t.readFile(path)
		case "list_directory":
			return t.listDirectory(path, opts)
		case "find_files":
			return t.findFiles(ctx, path, opts)
		case "analyze_structure":
			return t.analyzeStructure(ctx, path, opts)
		case "get_file_info":
			return t.fileInfo(path)
		default:
			return domain.ExecutionFailure("Unknown operation: " + op)
		}
	})
}

func (t *FilesystemTool) readFile(path string) domain.ToolResult {
	if !t.allowed(path) {
		return domain.ExecutionFailure("File type not allowed or file too large: " + path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ExecutionFailure("Failed to read file: " + err.Error())
	}
	content := string(data)
	return domain.Success(content, map[string]any{
		"file":     path,
		"size":     len(data),
		"lines":    countLines(content),
		"encoding": "UTF-8",
	})
}

func (t *FilesystemTool) listDirectory(path string, opts map[string]any) domain.ToolResult {
	hidden, _ := ExtractOptional(opts, "include_hidden", false)
	entries, err := os.ReadDir(path)
	if err != nil {
		return domain.ExecutionFailure("Failed to list directory: " + err.Error())
	}
	files := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if !hidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, pathInfo(filepath.Join(path, e.Name())))
	}
	return domain.Success(files, map[string]any{
		"directory":      path,
		"file_count":     len(files),
		"include_hidden": hidden,
	})
}

func (t *FilesystemTool) findFiles(ctx context.Context, root string, opts map[string]any) domain.ToolResult {
	pattern, _ := ExtractOptional(opts, "pattern", "*")
	recursive, _ := ExtractOptional(opts, "recursive", true)
	maxDepth, _ := ExtractOptional(opts, "max_depth", 10)
	if _, err := filepath.Match(pattern, ""); err != nil {
		return domain.ExecutionFailure(fmt.Sprintf("invalid pattern %q: %v", pattern, err))
	}

	var found []map[string]any
	err := walk(ctx, root, maxDepth, func(p string, d fs.DirEntry, depth int) error {
		if d.IsDir() {
			if !recursive && depth > 0 {
				return fs.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok && t.allowed(p) {
			found = append(found, pathInfo(p))
		}
		return nil
	})
	if err != nil {
		return domain.ExecutionFailure("Failed to find files: " + err.Error())
	}
	return domain.Success(found, map[string]any{
		"root_path":   root,
		"pattern":     pattern,
		"found_files": len(found),
		"recursive":   recursive,
	})
}

func (t *FilesystemTool) analyzeStructure(ctx context.Context, root string, opts map[string]any) domain.ToolResult {
	maxDepth, _ := ExtractOptional(opts, "max_depth", 5)
	var files, dirs int
	var size int64
	exts := map[string]int{}

	err := walk(ctx, root, maxDepth, func(p string, d fs.DirEntry, _ int) error {
		if d.IsDir() {
			dirs++
			return nil
		}
		files++
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		if ext := filepath.Ext(d.Name()); ext != "" && ext != d.Name() {
			exts[ext]++
		}
		return nil
	})
	if err != nil {
		return domain.ExecutionFailure("Failed to analyze structure: " + err.Error())
	}
	return domain.Success(map[string]any{
		"total_files":       files,
		"total_directories": dirs,
		"total_size_bytes":  size,
		"extension_counts":  exts,
	}, map[string]any{
		"root_path":     root,
		"max_depth":     maxDepth,
		"analysis_time": time.Now().UnixMilli(),
	})
}

func (t *FilesystemTool) fileInfo(path string) domain.ToolResult {
	info, err := os.Stat(path)
	if err != nil {
		return domain.ExecutionFailure("Failed to get file info: " + err.Error())
	}
	mode := info.Mode()
	return domain.Success(map[string]any{
		"path":            path,
		"size":            info.Size(),
		"is_directory":    info.IsDir(),
		"is_regular_file": mode.IsRegular(),
		"modified_time":   info.ModTime().UTC().Format(time.RFC3339),
		"mode":            mode.String(),
		"executable":      mode.IsRegular() && mode.Perm()&0o111 != 0,
	}, nil)
}

func (t *FilesystemTool) allowed(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() > t.cfg.MaxFileBytes {
		return false
	}
	name := strings.ToLower(filepath.Base(path))
	return slices.ContainsFunc(t.cfg.AllowedExtensions, func(ext string) bool {
		return strings.HasSuffix(name, strings.ToLower(ext))
	})
}

// walk visits root and its descendants up to maxDepth levels down; root is depth 0.
func walk(ctx context.Context, root string, maxDepth int, fn func(p string, d fs.DirEntry, depth int) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", root)
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, _ := filepath.Rel(root, p)
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}
		if depth > maxDepth {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		return fn(p, d, depth)
	})
}

func pathInfo(p string) map[string]any {
	info, err := os.Stat(p)
	if err != nil {
		return map[string]any{"name": filepath.Base(p), "path": p, "error": "Failed to read attributes"}
	}
	typ := "file"
	if info.IsDir() {
		typ = "directory"
	}
	return map[string]any{
		"name":     info.Name(),
		"path":     p,
		"type":     typ,
		"size":     info.Size(),
		"modified": info.ModTime().UTC().Format(time.RFC3339),
	}
}

// resolvePath cleans path and, when root is set, resolves it relative to root and
// rejects anything that escapes it.
func resolvePath(root, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if root == "" {
		return filepath.Clean(path), nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside %q", resolved, rootAbs)
	}
	return resolved, nil
}
