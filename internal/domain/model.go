package domain

import "context"

// ModelMode selects which endpoint route a request is sent to.
type ModelMode string

const (
	ModeChat                ModelMode = "chat"
	ModeComprehensiveReview ModelMode = "comprehensive_review"
)

// ModelClient performs one request/response round trip with the external model endpoint.
type ModelClient interface {
	Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// ModelRequest is the JSON body sent to the model endpoint.
type ModelRequest struct {
	Prompt    string         `json:"prompt"`
	Tools     []ToolSchema   `json:"tools"`
	Context   map[string]any `json:"context"`
	SessionID string         `json:"sessionId"`
	Options   map[string]any `json:"options,omitempty"`

	Mode ModelMode `json:"-"`
}

// ToolCall is a follow-up tool invocation requested by the model.
type ToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ModelResponse is the decoded endpoint reply, plus the results of any follow-up
// tool calls the orchestrator executed on the model's behalf.
//
// A failed round trip (transport error, timeout) is still a ModelResponse:
// Success is false and Error holds a human-readable explanation.
type ModelResponse struct {
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"toolCalls,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ToolResults []ToolResult   `json:"toolResults,omitempty"`

	SessionID string      `json:"sessionId,omitempty"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Kind      FailureKind `json:"kind,omitempty"`
}

// HasToolCalls reports whether the model asked for follow-up tool calls.
// A missing and an empty list are treated the same.
func (r *ModelResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// FailedResponse builds a failed ModelResponse.
func FailedResponse(sessionID string, kind FailureKind, message string) *ModelResponse {
	return &ModelResponse{
		SessionID: sessionID,
		Success:   false,
		Error:     message,
		Kind:      kind,
	}
}
