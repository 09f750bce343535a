package domain

import "errors"

// FailureKind classifies why a tool call or model round trip failed.
// Failures are carried as data; they never cross the orchestration boundary as errors.
type FailureKind string

const (
	FailureToolNotFound     FailureKind = "tool_not_found"
	FailureToolExecution    FailureKind = "tool_execution"
	FailureTransport        FailureKind = "transport"
	FailureTimeout          FailureKind = "timeout"
	FailureCapabilityDenied FailureKind = "capability_denied"
)

var (
	// ErrSessionClosed marks an operation attempted on a closed session.
	// It is raised with panic: it is a caller bug, not a retryable condition.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSessionExists is returned when a caller-supplied session id is already active.
	ErrSessionExists = errors.New("session already exists")
)
