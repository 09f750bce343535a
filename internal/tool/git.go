package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/waigani/diffparser"

	"mcpreview/internal/domain"
)

const maxLogCommits = 50

type gitCommandParams struct {
	File   string `json:"file,omitempty" jsonschema:"description=File path relative to the repository root"`
	Commit string `json:"commit,omitempty" jsonschema:"description=Commit hash or revision"`
	Branch string `json:"branch,omitempty" jsonschema:"description=Branch name"`
	Since  string `json:"since,omitempty" jsonschema:"description=Only commits after this date (e.g. 7 days ago or 2024-01-31)"`
	Author string `json:"author,omitempty" jsonschema:"description=Author name or email filter"`
}

type gitParams struct {
	Command    string           `json:"command" jsonschema:"required,enum=diff,enum=log,enum=show,enum=status,enum=blame,enum=file-content,description=Git command to execute"`
	Repository string           `json:"repository" jsonschema:"required,description=Repository path"`
	Parameters gitCommandParams `json:"parameters,omitempty" jsonschema:"description=Command-specific parameters"`
}

// GitTool inspects a local git repository: diffs, history, blame and file contents.
type GitTool struct {
	timeout time.Duration
	schema  map[string]any
}

func NewGitTool(timeout time.Duration) *GitTool {
	return &GitTool{timeout: timeout, schema: SchemaFor[gitParams]()}
}

func (t *GitTool) Name() string { return "git" }
func (t *GitTool) Description() string {
	return "Execute Git commands and analyze repository data. Can get diffs, file contents, commit history, and branch information."
}
func (t *GitTool) InputSchema() map[string]any { return t.schema }
func (t *GitTool) RequiredCapabilities() []string { return []string{"filesystem:read", "git:read"} }
func (t *GitTool) Available(ctx context.Context) bool { return true }

func (t *GitTool) Execute(ctx context.Context, params map[string]any) domain.ToolResult {
	command := ArgsString(params, "command")
	repository := ArgsString(params, "repository")
	if repository == "" {
		return domain.ExecutionFailure("repository is required")
	}
	sub := ArgsMap(params, "parameters")

	return runBounded(ctx, t.timeout, "git "+command, func(ctx context.Context) domain.ToolResult {
		repo, err := git.PlainOpenWithOptions(repository, &git.PlainOpenOptions{DetectDotGit: true})
		if err != nil {
			return domain.ExecutionFailure(fmt.Sprintf("cannot open repository %s: %v", repository, err))
		}
		switch command {
		case "diff":
			return gitDiff(ctx, repo, repository, sub)
		case "log":
			return gitLog(ctx, repo, repository, sub)
		case "show":
			return gitShow(ctx, repo, repository, sub)
		case "status":
			return gitStatus(repo, repository)
		case "blame":
			return gitBlame(repo, repository, sub)
		case "file-content":
			return gitFileContent(repo, repository, sub)
		default:
			return domain.ExecutionFailure("Unknown git command: " + command)
		}
	})
}

func gitStatus(repo *git.Repository, repository string) domain.ToolResult {
	wt, err := repo.Worktree()
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git status: " + err.Error())
	}
	status, err := wt.Status()
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git status: " + err.Error())
	}
	paths := make([]string, 0, len(status))
	for p, fs := range status {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	lines := make([]string, 0, len(paths))
	for _, p := range paths {
		fs := status[p]
		lines = append(lines, fmt.Sprintf("%c%c %s", fs.Staging, fs.Worktree, p))
	}
	return domain.Success(lines, map[string]any{
		"command":       "status",
		"repository":    repository,
		"changed_files": len(lines),
	})
}

func gitLog(ctx context.Context, repo *git.Repository, repository string, sub map[string]any) domain.ToolResult {
	from, err := resolveCommit(repo, ArgsString(sub, "branch"))
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git log: " + err.Error())
	}
	opts := &git.LogOptions{From: from.Hash}
	if since := ArgsString(sub, "since"); since != "" {
		ts, err := parseSince(since, time.Now())
		if err != nil {
			return domain.ExecutionFailure(err.Error())
		}
		opts.Since = &ts
	}
	if file := ArgsString(sub, "file"); file != "" {
		opts.FileName = &file
	}
	author := strings.ToLower(ArgsString(sub, "author"))

	iter, err := repo.Log(opts)
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git log: " + err.Error())
	}
	defer iter.Close()

	var commits []string
	err = iter.ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if author != "" &&
			!strings.Contains(strings.ToLower(c.Author.Name), author) &&
			!strings.Contains(strings.ToLower(c.Author.Email), author) {
			return nil
		}
		commits = append(commits, c.Hash.String()[:7]+" "+firstLine(c.Message))
		if len(commits) >= maxLogCommits {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git log: " + err.Error())
	}
	return domain.Success(commits, map[string]any{
		"command":      "log",
		"repository":   repository,
		"commit_count": len(commits),
	})
}

func gitShow(ctx context.Context, repo *git.Repository, repository string, sub map[string]any) domain.ToolResult {
	rev := ArgsString(sub, "commit")
	if rev == "" {
		return domain.ExecutionFailure("Commit hash required for git show")
	}
	c, err := resolveCommit(repo, rev)
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git show: " + err.Error())
	}
	var out strings.Builder
	out.WriteString(c.String())
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return domain.ExecutionFailure("Failed to execute git show: " + err.Error())
		}
		patch, err := parent.PatchContext(ctx, c)
		if err != nil {
			return domain.ExecutionFailure("Failed to execute git show: " + err.Error())
		}
		out.WriteString("\n")
		out.WriteString(patch.String())
	}
	return domain.Success(out.String(), map[string]any{
		"command":    "show",
		"commit":     c.Hash.String(),
		"repository": repository,
	})
}

// gitDiff diffs the given revision (default: HEAD's parent) against HEAD or the branch.
func gitDiff(ctx context.Context, repo *git.Repository, repository string, sub map[string]any) domain.ToolResult {
	to, err := resolveCommit(repo, ArgsString(sub, "branch"))
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git diff: " + err.Error())
	}
	var from *object.Commit
	if rev := ArgsString(sub, "commit"); rev != "" {
		from, err = resolveCommit(repo, rev)
	} else if to.NumParents() > 0 {
		from, err = to.Parent(0)
	} else {
		from = to
	}
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git diff: " + err.Error())
	}

	patch, err := from.PatchContext(ctx, to)
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git diff: " + err.Error())
	}

	text := patch.String()
	if file := ArgsString(sub, "file"); file != "" {
		var buf bytes.Buffer
		fp := filteredPatch{message: patch.Message()}
		for _, p := range patch.FilePatches() {
			if patchTouches(p, file) {
				fp.files = append(fp.files, p)
			}
		}
		if err := fdiff.NewUnifiedEncoder(&buf, fdiff.DefaultContextLines).Encode(fp); err != nil {
			return domain.ExecutionFailure("Failed to execute git diff: " + err.Error())
		}
		text = buf.String()
	}

	meta := map[string]any{
		"command":    "diff",
		"repository": repository,
		"lines":      countLines(text),
	}
	for k, v := range DiffStats(text) {
		meta[k] = v
	}
	return domain.Success(text, meta).WithMimeType("text/x-diff")
}

func gitBlame(repo *git.Repository, repository string, sub map[string]any) domain.ToolResult {
	file := ArgsString(sub, "file")
	if file == "" {
		return domain.ExecutionFailure("File path required for git blame")
	}
	c, err := resolveCommit(repo, ArgsString(sub, "commit"))
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git blame: " + err.Error())
	}
	res, err := git.Blame(c, file)
	if err != nil {
		return domain.ExecutionFailure("Failed to execute git blame: " + err.Error())
	}
	var out strings.Builder
	for i, l := range res.Lines {
		fmt.Fprintf(&out, "%s (%s %s %d) %s\n",
			l.Hash.String()[:8], l.Author, l.Date.Format("2006-01-02"), i+1, l.Text)
	}
	return domain.Success(out.String(), map[string]any{
		"command":    "blame",
		"file":       file,
		"repository": repository,
	})
}

func gitFileContent(repo *git.Repository, repository string, sub map[string]any) domain.ToolResult {
	file := ArgsString(sub, "file")
	if file == "" {
		return domain.ExecutionFailure("File path required")
	}

	var content string
	if rev := ArgsString(sub, "commit"); rev != "" {
		c, err := resolveCommit(repo, rev)
		if err != nil {
			return domain.ExecutionFailure("Failed to read file: " + err.Error())
		}
		f, err := c.File(file)
		if err != nil {
			return domain.ExecutionFailure("Failed to read file: " + err.Error())
		}
		if content, err = f.Contents(); err != nil {
			return domain.ExecutionFailure("Failed to read file: " + err.Error())
		}
	} else {
		wt, err := repo.Worktree()
		if err != nil {
			return domain.ExecutionFailure("Failed to read file: " + err.Error())
		}
		full, err := resolvePath(wt.Filesystem.Root(), file)
		if err != nil {
			return domain.ExecutionFailure("Failed to read file: " + err.Error())
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return domain.ExecutionFailure("Failed to read file: " + err.Error())
		}
		content = string(data)
	}

	return domain.Success(content, map[string]any{
		"file":       file,
		"repository": repository,
		"size":       len(content),
		"lines":      countLines(content),
	})
}

// resolveCommit resolves a revision (hash, branch, tag, HEAD~n); empty means HEAD.
func resolveCommit(repo *git.Repository, rev string) (*object.Commit, error) {
	if rev == "" {
		head, err := repo.Head()
		if err != nil {
			return nil, fmt.Errorf("resolve HEAD: %w", err)
		}
		return repo.CommitObject(head.Hash())
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", rev, err)
	}
	return repo.CommitObject(*hash)
}

type filteredPatch struct {
	files   []fdiff.FilePatch
	message string
}

func (p filteredPatch) FilePatches() []fdiff.FilePatch { return p.files }
func (p filteredPatch) Message() string                { return p.message }

func patchTouches(p fdiff.FilePatch, file string) bool {
	from, to := p.Files()
	file = filepath.ToSlash(filepath.Clean(file))
	return (from != nil && from.Path() == file) || (to != nil && to.Path() == file)
}

// DiffStats summarizes a unified diff: files changed, added and deleted lines.
func DiffStats(text string) map[string]any {
	stats := map[string]any{"files_changed": 0, "additions": 0, "deletions": 0}
	if strings.TrimSpace(text) == "" {
		return stats
	}
	d, err := diffparser.Parse(text)
	if err != nil {
		return stats
	}
	adds, dels := 0, 0
	for _, f := range d.Files {
		for _, h := range f.Hunks {
			for _, l := range h.WholeRange.Lines {
				switch l.Mode {
				case diffparser.ADDED:
					adds++
				case diffparser.REMOVED:
					dels++
				}
			}
		}
	}
	stats["files_changed"] = len(d.Files)
	stats["additions"] = adds
	stats["deletions"] = dels
	return stats
}

var sinceAgo = regexp.MustCompile(`^(\d+)\s+(hour|day|week|month)s?\s+ago$`)

// parseSince accepts "N days ago" style offsets, YYYY-MM-DD and RFC3339.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if m := sinceAgo.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "hour":
			return now.Add(-time.Duration(n) * time.Hour), nil
		case "day":
			return now.AddDate(0, 0, -n), nil
		case "week":
			return now.AddDate(0, 0, -7*n), nil
		case "month":
			return now.AddDate(0, -n, 0), nil
		}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(s)); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("unrecognized since value: " + s)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimRight(s, "\n"), "\n") + 1
}
