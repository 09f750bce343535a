package domain

import "time"

// ReviewTask describes the pull request a review runs against.
type ReviewTask struct {
	ID            string `json:"id"`
	ProjectID     string `json:"projectId,omitempty"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Author        string `json:"author,omitempty"`
	RepositoryURL string `json:"repositoryUrl"`
	SourceBranch  string `json:"sourceBranch,omitempty"`
	TargetBranch  string `json:"targetBranch,omitempty"`
}

// Vars exposes task fields for pipeline placeholder substitution.
func (t ReviewTask) Vars() map[string]string {
	return map[string]string{
		"id":            t.ID,
		"project":       t.ProjectID,
		"title":         t.Title,
		"author":        t.Author,
		"repository":    t.RepositoryURL,
		"source_branch": t.SourceBranch,
		"target_branch": t.TargetBranch,
	}
}

// ReviewOptions tunes a review run.
type ReviewOptions struct {
	FocusAreas         []string `json:"focusAreas"`
	SeverityThreshold  string   `json:"severityThreshold"`
	IncludeSuggestions bool     `json:"includeSuggestions"`
	// Pipeline names a loaded pipeline definition; empty means the built-in structured review.
	Pipeline string `json:"pipeline,omitempty"`
}

// DefaultReviewOptions mirrors what reviewers get when they pass nothing.
func DefaultReviewOptions() ReviewOptions {
	return ReviewOptions{
		FocusAreas:         []string{"security", "performance", "maintainability"},
		SeverityThreshold:  "medium",
		IncludeSuggestions: true,
	}
}

// StageResult groups the results of one parallel stage of a pipeline.
type StageResult struct {
	Name    string       `json:"name"`
	Results []ToolResult `json:"results"`
}

// ReviewResult is the outcome of a structured or comprehensive review.
// A failed review is still a value: Success is false and Error explains why.
type ReviewResult struct {
	SessionID   string         `json:"sessionId"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Stages      []StageResult  `json:"stages,omitempty"`
	ToolResults []ToolResult   `json:"toolResults,omitempty"`
	Model       *ModelResponse `json:"model,omitempty"`
	Critical    bool           `json:"critical"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// FailedReview builds a failed ReviewResult.
func FailedReview(sessionID, message string) *ReviewResult {
	return &ReviewResult{
		SessionID: sessionID,
		Success:   false,
		Error:     message,
		Timestamp: time.Now(),
	}
}

// ReviewUpdateStatus is the per-result status in a streamed review.
type ReviewUpdateStatus string

const (
	UpdateCompleted ReviewUpdateStatus = "completed"
	UpdateError     ReviewUpdateStatus = "error"
)

// ReviewUpdate is one incremental item of a streamed review.
type ReviewUpdate struct {
	Stage    string             `json:"stage"`
	Tool     string             `json:"tool"`
	Status   ReviewUpdateStatus `json:"status"`
	Content  any                `json:"content,omitempty"`
	Error    string             `json:"error,omitempty"`
	Metadata map[string]any     `json:"metadata,omitempty"`
}

// UpdateFromResult converts a finished tool result into a stream update.
func UpdateFromResult(stage string, r ToolResult) ReviewUpdate {
	status := UpdateCompleted
	if !r.Success {
		status = UpdateError
	}
	return ReviewUpdate{
		Stage:    stage,
		Tool:     r.ToolName,
		Status:   status,
		Content:  r.Content,
		Error:    r.Error,
		Metadata: r.Metadata,
	}
}

// ReviewFeedback is a reviewer's verdict on a finished review, fed back into learning.
type ReviewFeedback struct {
	ReviewID  string         `json:"reviewId"`
	ProjectID string         `json:"projectId"`
	UserID    string         `json:"userId"`
	Helpful   bool           `json:"helpful"`
	Details   map[string]any `json:"details,omitempty"`
}
