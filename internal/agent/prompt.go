package agent

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"mcpreview/internal/domain"
)

// maxContextValueLen caps how much of a single context value is echoed into a prompt.
const maxContextValueLen = 4000

// BuildComprehensivePrompt renders the instructions for a comprehensive review.
func BuildComprehensivePrompt(task domain.ReviewTask, opts domain.ReviewOptions, tools []domain.ToolSchema, known Knowledge) string {
	var b strings.Builder
	b.WriteString("Perform a comprehensive code review for the following pull request:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", task.Title)
	fmt.Fprintf(&b, "Author: %s\n", task.Author)
	fmt.Fprintf(&b, "Description: %s\n\n", task.Description)

	fmt.Fprintf(&b, "Focus Areas: %s\n", strings.Join(opts.FocusAreas, ", "))
	fmt.Fprintf(&b, "Severity Threshold: %s\n\n", opts.SeverityThreshold)

	b.WriteString("Available tools for analysis:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}

	writeSection(&b, "Patterns learned from earlier reviews of this project", known.Patterns)
	writeSection(&b, "Project review metrics", known.Metrics)
	writeSection(&b, "Project preferences", known.Preferences)
	writeSection(&b, "Author preferences", known.UserPreferences)

	b.WriteString("\nPlease use the available tools to:\n")
	b.WriteString("1. Analyze the code changes and their impact\n")
	b.WriteString("2. Check for security vulnerabilities\n")
	b.WriteString("3. Assess code quality and maintainability\n")
	b.WriteString("4. Review test coverage and documentation\n")
	b.WriteString("5. Compare with historical patterns and team standards\n")
	if opts.IncludeSuggestions {
		b.WriteString("6. Provide actionable suggestions for improvement\n")
	}
	return b.String()
}

// writeSection lists m under title in key order; empty maps are skipped.
func writeSection[V any](b *strings.Builder, title string, m map[string]V) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(b, "- %s: %s\n", k, renderValue(m[k]))
	}
}

// RenderContext formats context entries in insertion order, one section per key.
func RenderContext(entries []ContextEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "## %s\n%s\n\n", e.Key, renderValue(e.Value))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderValue(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprint(v)
		} else {
			s = string(data)
		}
	}
	if len(s) > maxContextValueLen {
		s = s[:maxContextValueLen] + "... (truncated)"
	}
	return s
}
