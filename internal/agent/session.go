package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mcpreview/internal/domain"
	"mcpreview/internal/metrics"
	"mcpreview/internal/tool"
)

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	StateActive SessionState = "active"
	StateClosed SessionState = "closed"
)

// sessionConfig carries the orchestrator-wide settings a session needs.
type sessionConfig struct {
	registry    *tool.Registry
	filter      *ToolFilter
	toolTimeout time.Duration
	maxParallel int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Session is an isolated execution context: it owns a ContextStore and runs tool
// requests from the shared registry one at a time, concurrently, or as a stream.
//
// Every operation on a closed session panics with an error wrapping
// domain.ErrSessionClosed: using a closed session is a caller bug.
type Session struct {
	id      string
	cfg     sessionConfig
	values  *ContextStore
	created time.Time

	mu      sync.Mutex // guards state and context writes made by tool results
	state   SessionState
	onClose func(*Session)
}

func newSession(id string, cfg sessionConfig) *Session {
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.maxParallel <= 0 {
		cfg.maxParallel = 5
	}
	return &Session{
		id:      id,
		cfg:     cfg,
		values:  NewContextStore(),
		created: time.Now(),
		state:   StateActive,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.created }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) mustBeActive(op string) {
	if s.State() != StateActive {
		panic(fmt.Errorf("%s on session %s: %w", op, s.id, domain.ErrSessionClosed))
	}
}

// AddContext stores a caller-supplied value for later prompts.
func (s *Session) AddContext(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		panic(fmt.Errorf("add context on session %s: %w", s.id, domain.ErrSessionClosed))
	}
	s.values.Set(key, value)
}

// Context returns an immutable snapshot of the session context.
// A closed session has an empty context.
func (s *Session) Context() map[string]any {
	return s.values.Snapshot()
}

// ContextEntries returns the context in insertion order, for prompt rendering.
func (s *Session) ContextEntries() []ContextEntry {
	return s.values.Entries()
}

// AvailableTools is the catalog this session may expose to the model.
func (s *Session) AvailableTools(ctx context.Context) []domain.ToolSchema {
	return s.cfg.filter.FilterSchemas(s.cfg.registry.Catalog(ctx), s.cfg.registry.Lookup)
}

// Invoke runs a single request. It never panics for tool-side problems: unknown
// tools, denied capabilities, invalid parameters, tool panics and timeouts all
// come back as Failure results.
func (s *Session) Invoke(ctx context.Context, req domain.ToolInvocationRequest) domain.ToolResult {
	s.mustBeActive("invoke")
	return s.invoke(ctx, req)
}

func (s *Session) invoke(ctx context.Context, req domain.ToolInvocationRequest) domain.ToolResult {
	start := time.Now()
	res := s.execute(ctx, req).WithTool(req.ToolName)
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}

	outcome := "success"
	if !res.Success {
		if res.Kind == "" {
			res.Kind = domain.FailureToolExecution
		}
		outcome = string(res.Kind)
		s.cfg.logger.Warn("tool failed", "session", s.id, "tool", req.ToolName, "kind", res.Kind, "err", res.Error)
	} else {
		s.recordResult(req.ToolName, res.Content)
		s.cfg.logger.Debug("tool completed", "session", s.id, "tool", req.ToolName, "duration", time.Since(start))
	}
	s.cfg.metrics.ObserveTool(req.ToolName, outcome, time.Since(start))
	return res
}

func (s *Session) execute(ctx context.Context, req domain.ToolInvocationRequest) (res domain.ToolResult) {
	t, ok := s.cfg.registry.Lookup(req.ToolName)
	if !ok {
		return domain.Failure(domain.FailureToolNotFound, "tool not found: "+req.ToolName)
	}
	if !s.cfg.filter.IsAllowed(req.ToolName) {
		return domain.Failure(domain.FailureCapabilityDenied, "tool not allowed in this session: "+req.ToolName)
	}
	if missing := s.cfg.filter.MissingCapabilities(t.RequiredCapabilities()); len(missing) > 0 {
		return domain.Failure(domain.FailureCapabilityDenied,
			fmt.Sprintf("tool %s requires capabilities not granted: %s", req.ToolName, strings.Join(missing, ", ")))
	}
	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	if err := tool.Validate(t.InputSchema(), params); err != nil {
		return domain.ExecutionFailure(fmt.Sprintf("invalid parameters for %s: %v", req.ToolName, err))
	}

	if s.cfg.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.toolTimeout)
		defer cancel()
	}

	done := make(chan domain.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- domain.ExecutionFailure(fmt.Sprintf("tool %s panicked: %v", req.ToolName, r))
			}
		}()
		done <- t.Execute(ctx, params)
	}()
	select {
	case res = <-done:
		return res
	case <-ctx.Done():
		return domain.Failure(domain.FailureTimeout, fmt.Sprintf("tool %s timed out: %v", req.ToolName, ctx.Err()))
	}
}

// recordResult publishes a successful result as last_<tool>_result. A session
// closed while the tool was running keeps its empty context.
func (s *Session) recordResult(toolName string, content any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		s.values.Set("last_"+toolName+"_result", content)
	}
}

// Chain runs requests one after another in order. A failure does not stop the
// chain: the result slice always has one entry per request, in request order.
// Closing the session mid-chain turns the remaining entries into failures.
func (s *Session) Chain(ctx context.Context, reqs []domain.ToolInvocationRequest) []domain.ToolResult {
	s.mustBeActive("chain")
	results := make([]domain.ToolResult, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, s.step(ctx, req))
	}
	return results
}

// step runs one request of a batch. Once the session is closed the remaining
// requests are answered with failures instead of running.
func (s *Session) step(ctx context.Context, req domain.ToolInvocationRequest) domain.ToolResult {
	if s.State() != StateActive {
		return domain.ExecutionFailure(
			fmt.Sprintf("session %s closed before %s ran", s.id, req.ToolName)).WithTool(req.ToolName)
	}
	return s.invoke(ctx, req)
}

// Parallel runs all requests concurrently, bounded by the configured limit, and
// returns one result per request in completion order.
func (s *Session) Parallel(ctx context.Context, reqs []domain.ToolInvocationRequest) []domain.ToolResult {
	s.mustBeActive("parallel")

	var (
		mu      sync.Mutex
		results = make([]domain.ToolResult, 0, len(reqs))
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.maxParallel)
	for _, req := range reqs {
		g.Go(func() error {
			res := s.step(ctx, req)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// Stream runs requests in order and yields each result as soon as it is ready.
// The sequence is single-use; stopping early leaves later requests unexecuted.
// If the session is closed mid-stream, the sequence ends.
func (s *Session) Stream(ctx context.Context, reqs []domain.ToolInvocationRequest) iter.Seq[domain.ToolResult] {
	s.mustBeActive("stream")
	var once sync.Once
	return func(yield func(domain.ToolResult) bool) {
		consumed := true
		once.Do(func() { consumed = false })
		if consumed {
			return
		}
		for _, req := range reqs {
			if s.State() != StateActive || ctx.Err() != nil {
				return
			}
			if !yield(s.invoke(ctx, req)) {
				return
			}
		}
	}
}

// Close ends the session and discards its context. Closing twice is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.values.Clear()
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose(s)
	}
}
