package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mcpreview/internal/domain"
	"mcpreview/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubTool echoes its name unless fn overrides the behaviour.
type stubTool struct {
	name   string
	caps   []string
	schema map[string]any
	hidden bool
	fn     func(ctx context.Context, params map[string]any) domain.ToolResult
	calls  atomic.Int32
}

func (s *stubTool) Name() string                   { return s.name }
func (s *stubTool) Description() string            { return "stub " + s.name }
func (s *stubTool) RequiredCapabilities() []string { return s.caps }
func (s *stubTool) Available(context.Context) bool { return !s.hidden }
func (s *stubTool) InputSchema() map[string]any {
	if s.schema != nil {
		return s.schema
	}
	return map[string]any{"type": "object"}
}
func (s *stubTool) Execute(ctx context.Context, params map[string]any) domain.ToolResult {
	s.calls.Add(1)
	if s.fn != nil {
		return s.fn(ctx, params)
	}
	return domain.Success(s.name+" ok", nil)
}

func newTestRegistry(tools ...domain.Tool) *tool.Registry {
	r := tool.NewRegistry(testLogger())
	r.MustRegister(tools...)
	return r
}

func newTestSession(reg *tool.Registry, filter *ToolFilter) *Session {
	return newSession("test", sessionConfig{
		registry:    reg,
		filter:      filter,
		toolTimeout: time.Second,
		logger:      testLogger(),
	})
}

func toolNames(results []domain.ToolResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ToolName
	}
	return out
}

// expectClosedPanic asserts that fn panics with an error wrapping ErrSessionClosed.
func expectClosedPanic(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, domain.ErrSessionClosed) {
			t.Errorf("%s: expected ErrSessionClosed panic, got %v", op, r)
		}
	}()
	fn()
}

func TestSession_ChainRecordsContext(t *testing.T) {
	git := &stubTool{name: "git", fn: func(_ context.Context, p map[string]any) domain.ToolResult {
		return domain.Success("clean: "+p["repository"].(string), nil)
	}}
	s := newTestSession(newTestRegistry(git), nil)

	results := s.Chain(context.Background(), []domain.ToolInvocationRequest{
		domain.NewRequest("git", map[string]any{"command": "status", "repository": "/r"}),
		domain.NewRequest("nonexistent", nil),
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Success || results[0].Content != "clean: /r" {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].Success || results[1].Error != "tool not found: nonexistent" || results[1].Kind != domain.FailureToolNotFound {
		t.Errorf("unexpected second result %+v", results[1])
	}
	ctx := s.Context()
	if ctx["last_git_result"] != "clean: /r" {
		t.Errorf("expected last_git_result, got %v", ctx)
	}
	if _, ok := ctx["last_nonexistent_result"]; ok {
		t.Error("failed invocation must not write context")
	}
}

func TestSession_ChainKeepsOrderThroughFailures(t *testing.T) {
	var seq []string
	var mu sync.Mutex
	mk := func(name string, ok bool) *stubTool {
		return &stubTool{name: name, fn: func(context.Context, map[string]any) domain.ToolResult {
			mu.Lock()
			seq = append(seq, name)
			mu.Unlock()
			if !ok {
				return domain.ExecutionFailure(name + " broke")
			}
			return domain.Success(name, nil)
		}}
	}
	s := newTestSession(newTestRegistry(mk("a", true), mk("b", false), mk("c", true)), nil)

	reqs := []domain.ToolInvocationRequest{{ToolName: "c"}, {ToolName: "b"}, {ToolName: "a"}, {ToolName: "b"}}
	results := s.Chain(context.Background(), reqs)

	if diff := cmp.Diff([]string{"c", "b", "a", "b"}, toolNames(results)); diff != "" {
		t.Errorf("result order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c", "b", "a", "b"}, seq); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
	if results[1].Success || results[3].Success || !results[2].Success {
		t.Errorf("unexpected success pattern %+v", results)
	}
}

func TestSession_ParallelBagEquality(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(name string) *stubTool {
		return &stubTool{name: name, fn: func(context.Context, map[string]any) domain.ToolResult {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return domain.Success(name, nil)
		}}
	}
	reg := newTestRegistry(slow("a"), slow("b"), slow("c"), slow("d"))
	s := newSession("p", sessionConfig{registry: reg, maxParallel: 2, logger: testLogger()})

	var reqs []domain.ToolInvocationRequest
	for _, n := range []string{"a", "b", "c", "d", "a", "missing"} {
		reqs = append(reqs, domain.NewRequest(n, nil))
	}
	results := s.Parallel(context.Background(), reqs)

	got := toolNames(results)
	slices.Sort(got)
	if diff := cmp.Diff([]string{"a", "a", "b", "c", "d", "missing"}, got); diff != "" {
		t.Errorf("result bag mismatch (-want +got):\n%s", diff)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("expected at most 2 concurrent tools, saw %d", p)
	}
}

func TestSession_StreamYieldsInOrderAndStopsEarly(t *testing.T) {
	a := &stubTool{name: "a"}
	b := &stubTool{name: "b"}
	c := &stubTool{name: "c"}
	s := newTestSession(newTestRegistry(a, b, c), nil)

	seq := s.Stream(context.Background(), []domain.ToolInvocationRequest{{ToolName: "a"}, {ToolName: "b"}, {ToolName: "c"}})
	var got []string
	for r := range seq {
		got = append(got, r.ToolName)
		if r.ToolName == "b" {
			break
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("streamed mismatch (-want +got):\n%s", diff)
	}
	if c.calls.Load() != 0 {
		t.Error("requests after an early stop must not run")
	}

	for range seq {
		t.Fatal("a stream must not restart")
	}
}

func TestSession_StreamEndsWhenSessionCloses(t *testing.T) {
	s := newTestSession(newTestRegistry(&stubTool{name: "a"}, &stubTool{name: "b"}), nil)
	var got []string
	for r := range s.Stream(context.Background(), []domain.ToolInvocationRequest{{ToolName: "a"}, {ToolName: "b"}}) {
		got = append(got, r.ToolName)
		s.Close()
	}
	if diff := cmp.Diff([]string{"a"}, got); diff != "" {
		t.Errorf("streamed mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_BatchesStopRunningToolsOnceClosed(t *testing.T) {
	later := &stubTool{name: "later"}
	var s *Session
	closer := &stubTool{name: "closer", fn: func(context.Context, map[string]any) domain.ToolResult {
		s.Close()
		return domain.Success("closing", nil)
	}}
	reqs := []domain.ToolInvocationRequest{{ToolName: "closer"}, {ToolName: "later"}, {ToolName: "later"}}

	run := map[string]func() []domain.ToolResult{
		"chain": func() []domain.ToolResult { return s.Chain(context.Background(), reqs) },
		"parallel": func() []domain.ToolResult {
			return s.Parallel(context.Background(), reqs)
		},
	}
	for name, fn := range run {
		t.Run(name, func(t *testing.T) {
			later.calls.Store(0)
			s = newSession("batch-"+name, sessionConfig{
				registry:    newTestRegistry(closer, later),
				toolTimeout: time.Second,
				maxParallel: 1,
				logger:      testLogger(),
			})

			results := fn()
			if len(results) != len(reqs) {
				t.Fatalf("got %d results for %d requests", len(results), len(reqs))
			}
			if n := later.calls.Load(); n != 0 {
				t.Fatalf("%d tool calls ran on a closed session", n)
			}
			if diff := cmp.Diff([]string{"closer", "later", "later"}, toolNames(results)); diff != "" {
				t.Errorf("result order (-want +got):\n%s", diff)
			}
			for _, r := range results[1:] {
				if r.Success || !strings.Contains(r.Error, "closed before later ran") {
					t.Errorf("expected a session-closed failure, got %+v", r)
				}
			}
			if !results[0].Success {
				t.Errorf("closer should succeed: %+v", results[0])
			}
		})
	}
}

func TestSession_ClosedIsPreconditionViolation(t *testing.T) {
	s := newTestSession(newTestRegistry(&stubTool{name: "a"}), nil)
	s.AddContext("k", "v")
	closed := 0
	s.onClose = func(*Session) { closed++ }

	s.Close()
	s.Close()
	if closed != 1 {
		t.Errorf("onClose should run once, ran %d times", closed)
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
	if len(s.Context()) != 0 {
		t.Errorf("closed session should have an empty context, got %v", s.Context())
	}

	reqs := []domain.ToolInvocationRequest{{ToolName: "a"}}
	expectClosedPanic(t, "invoke", func() { s.Invoke(context.Background(), reqs[0]) })
	expectClosedPanic(t, "chain", func() { s.Chain(context.Background(), reqs) })
	expectClosedPanic(t, "parallel", func() { s.Parallel(context.Background(), reqs) })
	expectClosedPanic(t, "stream", func() { s.Stream(context.Background(), reqs) })
	expectClosedPanic(t, "add context", func() { s.AddContext("k", "v") })
}

func TestSession_InvokeFailureKinds(t *testing.T) {
	strict := &stubTool{name: "strict", schema: map[string]any{
		"type":     "object",
		"required": []string{"command"},
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "enum": []any{"status", "log"}},
		},
	}}
	panicky := &stubTool{name: "panicky", fn: func(context.Context, map[string]any) domain.ToolResult {
		panic("kaboom")
	}}
	slow := &stubTool{name: "slow", fn: func(ctx context.Context, _ map[string]any) domain.ToolResult {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return domain.Success("too late", nil)
	}}
	sender := &stubTool{name: "sender", caps: []string{"network:send"}}
	denied := &stubTool{name: "denied"}

	reg := newTestRegistry(strict, panicky, slow, sender, denied)
	s := newSession("kinds", sessionConfig{
		registry:    reg,
		filter:      NewToolFilter(nil, []string{"denied"}, []string{"filesystem:read"}),
		toolTimeout: 30 * time.Millisecond,
		logger:      testLogger(),
	})

	tests := []struct {
		name     string
		req      domain.ToolInvocationRequest
		kind     domain.FailureKind
		contains string
	}{
		{"missing required", domain.NewRequest("strict", nil), domain.FailureToolExecution, `missing required parameter "command"`},
		{"enum violation", domain.NewRequest("strict", map[string]any{"command": "push"}), domain.FailureToolExecution, "must be one of"},
		{"panic", domain.NewRequest("panicky", nil), domain.FailureToolExecution, "panicked: kaboom"},
		{"timeout", domain.NewRequest("slow", nil), domain.FailureTimeout, "timed out"},
		{"capability", domain.NewRequest("sender", nil), domain.FailureCapabilityDenied, "network:send"},
		{"denied by name", domain.NewRequest("denied", nil), domain.FailureCapabilityDenied, "not allowed"},
		{"unknown", domain.NewRequest("ghost", nil), domain.FailureToolNotFound, "ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Invoke(context.Background(), tt.req)
			if res.Success {
				t.Fatalf("expected failure, got %+v", res)
			}
			if res.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, res.Kind)
			}
			if !strings.Contains(res.Error, tt.contains) {
				t.Errorf("expected error containing %q, got %q", tt.contains, res.Error)
			}
			if res.ToolName != tt.req.ToolName {
				t.Errorf("result not attributed to %s: %q", tt.req.ToolName, res.ToolName)
			}
		})
	}

	if res := s.Invoke(context.Background(), domain.NewRequest("strict", map[string]any{"command": "log"})); !res.Success {
		t.Errorf("valid parameters rejected: %s", res.Error)
	}
	if strict.calls.Load() != 1 {
		t.Errorf("invalid requests must not reach the tool, saw %d calls", strict.calls.Load())
	}
}

func TestSession_ResultAfterCloseIsDropped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := &stubTool{name: "blocking", fn: func(context.Context, map[string]any) domain.ToolResult {
		close(started)
		<-release
		return domain.Success("late", nil)
	}}
	s := newTestSession(newTestRegistry(blocking), nil)

	done := make(chan domain.ToolResult)
	go func() { done <- s.Invoke(context.Background(), domain.NewRequest("blocking", nil)) }()
	<-started
	s.Close()
	close(release)

	if res := <-done; !res.Success {
		t.Fatalf("in-flight invocation should complete, got %+v", res)
	}
	if len(s.Context()) != 0 {
		t.Errorf("closed session context must stay empty, got %v", s.Context())
	}
}

func TestSession_AvailableToolsRespectsFilter(t *testing.T) {
	reg := newTestRegistry(
		&stubTool{name: "git", caps: []string{"git:read"}},
		&stubTool{name: "database", hidden: true},
		&stubTool{name: "notification", caps: []string{"network:send"}},
		&stubTool{name: "filesystem", caps: []string{"filesystem:read"}},
	)
	s := newTestSession(reg, NewToolFilter(nil, []string{"filesystem"}, []string{"git:read", "filesystem:read"}))

	var got []string
	for _, sch := range s.AvailableTools(context.Background()) {
		got = append(got, sch.Name)
	}
	if diff := cmp.Diff([]string{"git"}, got); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}
}
