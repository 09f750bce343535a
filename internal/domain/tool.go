package domain

import (
	"context"
	"maps"
	"time"
)

// Tool is a named unit of external capability the model can ask for (git, filesystem, database, ...).
//
// Execute is the only method allowed to perform I/O. It must never panic and must
// never block indefinitely: every failure mode is reported as a Failure result.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	RequiredCapabilities() []string
	// Available is a cheap probe (e.g. a ping), never the real operation.
	Available(ctx context.Context) bool
	Execute(ctx context.Context, params map[string]any) ToolResult
}

// ToolSchema is the public, schema-only view of a tool sent to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolInvocationRequest asks a session to run one tool.
type ToolInvocationRequest struct {
	ToolName   string         `json:"toolName" yaml:"tool"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"params,omitempty"`
}

// NewRequest is shorthand for building a ToolInvocationRequest.
func NewRequest(toolName string, params map[string]any) ToolInvocationRequest {
	return ToolInvocationRequest{ToolName: toolName, Parameters: params}
}

// ToolResult is the tagged success/failure value returned by every tool invocation.
// Exactly one of Content (Success) or Error (failure) is meaningful; use the
// Success and Failure constructors rather than building it by hand.
type ToolResult struct {
	ToolName  string         `json:"toolName,omitempty"`
	Success   bool           `json:"success"`
	Content   any            `json:"content,omitempty"`
	MimeType  string         `json:"mimeType,omitempty"`
	Error     string         `json:"error,omitempty"`
	Kind      FailureKind    `json:"kind,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Success builds a successful result. Metadata is optional and copied.
func Success(content any, metadata map[string]any) ToolResult {
	return ToolResult{
		Success:   true,
		Content:   content,
		Metadata:  maps.Clone(metadata),
		Timestamp: time.Now(),
	}
}

// Failure builds a failed result of the given kind.
func Failure(kind FailureKind, message string) ToolResult {
	return ToolResult{
		Success:   false,
		Error:     message,
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// ExecutionFailure is the common tool-side failure (bad input, downstream error).
func ExecutionFailure(message string) ToolResult {
	return Failure(FailureToolExecution, message)
}

// WithTool returns a copy of r attributed to the named tool.
func (r ToolResult) WithTool(name string) ToolResult {
	r.ToolName = name
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

// WithMimeType returns a copy of r with the content mime type set.
func (r ToolResult) WithMimeType(mime string) ToolResult {
	r.MimeType = mime
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

// MetadataString returns metadata[key] when it is a string.
func (r ToolResult) MetadataString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	s, _ := r.Metadata[key].(string)
	return s
}
