package store

import (
	"fmt"
	"strings"

	"mcpreview/internal/domain"
)

const maxSummaryLen = 2000

// RecordFromResult turns a finished review into a history row. Failed reviews
// are kept with their reason so the database tool can report them.
func RecordFromResult(task domain.ReviewTask, reviewType string, res *domain.ReviewResult) ReviewRecord {
	rec := ReviewRecord{
		PullRequestID: task.ID,
		ProjectID:     task.ProjectID,
		Title:         task.Title,
		Author:        task.Author,
		ReviewType:    strings.ToUpper(reviewType),
	}
	if res == nil {
		rec.Summary = "review failed: no result"
		return rec
	}
	rec.SessionID = res.SessionID
	rec.Success = res.Success
	rec.CreatedAt = res.Timestamp

	if !res.Success {
		rec.Summary = "review failed: " + res.Error
		return rec
	}

	if res.Model != nil {
		rec.Summary = truncate(res.Model.Content, maxSummaryLen)
		rec.Score = scoreOf(res.Model.Metadata)
		rec.Findings = findingsOf(res.Model.Metadata)
	} else {
		rec.Summary = stageSummary(res)
	}
	if res.Critical && !hasCriticalFinding(rec.Findings) {
		rec.Findings = append(rec.Findings, Finding{Severity: "CRITICAL", Category: "security", Message: "critical issue reported by review tools"})
	}
	return rec
}

func scoreOf(meta map[string]any) *float64 {
	for _, key := range []string{"overall_score", "score"} {
		switch v := meta[key].(type) {
		case float64:
			return &v
		case int:
			f := float64(v)
			return &f
		}
	}
	return nil
}

func findingsOf(meta map[string]any) []Finding {
	raw, _ := meta["findings"].([]any)
	var out []Finding
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := Finding{
			FilePath: str(m, "file"),
			Severity: str(m, "severity"),
			Category: str(m, "category"),
			Message:  str(m, "message"),
		}
		if f.FilePath == "" {
			f.FilePath = str(m, "file_path")
		}
		if f.Severity == "" {
			f.Severity = "INFO"
		}
		out = append(out, f)
	}
	return out
}

func hasCriticalFinding(fs []Finding) bool {
	for _, f := range fs {
		if strings.EqualFold(f.Severity, "critical") {
			return true
		}
	}
	return false
}

func stageSummary(res *domain.ReviewResult) string {
	parts := make([]string, 0, len(res.Stages))
	for _, st := range res.Stages {
		failed := 0
		for _, r := range st.Results {
			if !r.Success {
				failed++
			}
		}
		parts = append(parts, fmt.Sprintf("%s: %d/%d ok", st.Name, len(st.Results)-failed, len(st.Results)))
	}
	return strings.Join(parts, "; ")
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
