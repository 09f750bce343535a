package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpreview/internal/domain"
	"mcpreview/internal/metrics"
	"mcpreview/internal/pipeline"
	"mcpreview/internal/tool"
)

const (
	defaultModelTimeout     = 30 * time.Second
	defaultMaxFollowUpCalls = 10
	defaultNotifyChannel    = "console"

	criticalMessage = "Critical security vulnerabilities found in code review"
)

// OrchestratorConfig configures the orchestrator.
type OrchestratorConfig struct {
	Registry   *tool.Registry
	Model      domain.ModelClient
	Pipelines  *pipeline.Registry
	Contexts   *ContextManager
	Background *BackgroundExecutor
	Limiter    *RateLimiter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	ModelTimeout time.Duration
	// ComprehensiveMultiplier stretches ModelTimeout for comprehensive reviews.
	ComprehensiveMultiplier float64
	ToolTimeout             time.Duration
	MaxParallel             int
	// MaxFollowUpCalls bounds how many model-requested calls run per round trip;
	// the rest are answered with a failure.
	MaxFollowUpCalls int
	StageDelay       time.Duration

	DeniedTools         []string
	GrantedCapabilities []string
	NotifyChannel       string
}

// Orchestrator owns the active sessions and drives model round trips and
// review pipelines through them.
type Orchestrator struct {
	cfg OrchestratorConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewOrchestrator creates an orchestrator, filling in defaults for anything unset.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = tool.NewRegistry(cfg.Logger)
	}
	if cfg.Pipelines == nil {
		cfg.Pipelines = pipeline.NewRegistry()
	}
	if cfg.Background == nil {
		cfg.Background = NewBackgroundExecutor(cfg.Logger).WithMetrics(cfg.Metrics)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = NewContextManager(ContextManagerConfig{Background: cfg.Background, Logger: cfg.Logger})
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaultModelTimeout
	}
	if cfg.ComprehensiveMultiplier < 1 {
		cfg.ComprehensiveMultiplier = 2
	}
	if cfg.MaxFollowUpCalls <= 0 {
		cfg.MaxFollowUpCalls = defaultMaxFollowUpCalls
	}
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = defaultNotifyChannel
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Background exposes the executor running fire-and-forget work.
func (o *Orchestrator) Background() *BackgroundExecutor { return o.cfg.Background }

// Contexts exposes the project and user context manager.
func (o *Orchestrator) Contexts() *ContextManager { return o.cfg.Contexts }

// CreateSession opens a session. An empty id gets a generated one; an id that is
// already active yields domain.ErrSessionExists.
func (o *Orchestrator) CreateSession(id string) (*Session, error) {
	return o.createSession(id, nil)
}

func (o *Orchestrator) createSession(id string, allowed []string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s := newSession(id, sessionConfig{
		registry:    o.cfg.Registry,
		filter:      NewToolFilter(allowed, o.cfg.DeniedTools, o.cfg.GrantedCapabilities),
		toolTimeout: o.cfg.ToolTimeout,
		maxParallel: o.cfg.MaxParallel,
		metrics:     o.cfg.Metrics,
		logger:      o.cfg.Logger,
	})
	s.onClose = o.forget

	o.mu.Lock()
	if _, exists := o.sessions[id]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("create session %s: %w", id, domain.ErrSessionExists)
	}
	o.sessions[id] = s
	o.mu.Unlock()

	o.cfg.Metrics.SessionOpened()
	o.cfg.Logger.Info("session opened", "session", id)
	return s, nil
}

// forget drops a closed session from the active map.
func (o *Orchestrator) forget(s *Session) {
	o.mu.Lock()
	if cur, ok := o.sessions[s.ID()]; ok && cur == s {
		delete(o.sessions, s.ID())
	}
	o.mu.Unlock()

	o.cfg.Metrics.SessionClosed()
	o.cfg.Logger.Info("session closed", "session", s.ID(), "age", time.Since(s.CreatedAt()))
}

// CloseSession closes and removes a session. Unknown ids are ignored.
func (o *Orchestrator) CloseSession(id string) {
	o.mu.RLock()
	s, ok := o.sessions[id]
	o.mu.RUnlock()
	if ok {
		s.Close()
	}
}

// Session returns an active session by id.
func (o *Orchestrator) Session(id string) (*Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	return s, ok
}

// ActiveSessions returns the ids of all open sessions, sorted.
func (o *Orchestrator) ActiveSessions() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Sorted(maps.Keys(o.sessions))
}

// ExecuteWithToolCatalog sends prompt to the model with the catalog restricted to
// allowed (empty means every tool), runs any follow-up calls the model asks for
// and attaches their results. The session is always closed before returning.
func (o *Orchestrator) ExecuteWithToolCatalog(ctx context.Context, prompt string, allowed []string, initial map[string]any) *domain.ModelResponse {
	s, err := o.createSession("", allowed)
	if err != nil {
		return domain.FailedResponse("", domain.FailureToolExecution, err.Error())
	}
	defer s.Close()

	s.values.Merge(initial)
	resp := o.roundTrip(ctx, domain.ModelRequest{
		Prompt:    prompt,
		Tools:     s.AvailableTools(ctx),
		Context:   s.Context(),
		SessionID: s.ID(),
		Mode:      domain.ModeChat,
	}, o.cfg.ModelTimeout)

	if resp.Success && resp.HasToolCalls() {
		resp.ToolResults = o.runFollowUps(ctx, s, resp.ToolCalls)
	}
	return resp
}

// roundTrip performs one bounded model request. Transport errors and timeouts
// come back as a failed response, never as an error.
func (o *Orchestrator) roundTrip(ctx context.Context, req domain.ModelRequest, timeout time.Duration) *domain.ModelResponse {
	mode := string(req.Mode)
	start := time.Now()
	fail := func(kind domain.FailureKind, msg string) *domain.ModelResponse {
		o.cfg.Metrics.ObserveModel(mode, string(kind), time.Since(start))
		o.cfg.Logger.Warn("model request failed", "session", req.SessionID, "mode", mode, "kind", kind, "err", msg)
		return domain.FailedResponse(req.SessionID, kind, msg)
	}

	if o.cfg.Model == nil {
		return fail(domain.FailureTransport, "no model endpoint configured")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := o.cfg.Limiter.Wait(ctx); err != nil {
		return fail(domain.FailureTimeout, fmt.Sprintf("model request not sent: rate limit wait: %v", err))
	}

	type outcome struct {
		resp *domain.ModelResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("model client panicked: %v", r)}
			}
		}()
		resp, err := o.cfg.Model.Complete(ctx, req)
		done <- outcome{resp, err}
	}()

	select {
	case out := <-done:
		switch {
		case errors.Is(out.err, context.DeadlineExceeded):
			return fail(domain.FailureTimeout, fmt.Sprintf("model request timed out after %s", timeout))
		case out.err != nil:
			return fail(domain.FailureTransport, fmt.Sprintf("model request failed: %v", out.err))
		case out.resp == nil:
			return fail(domain.FailureTransport, "model returned an empty response")
		}
		resp := out.resp
		resp.SessionID = req.SessionID
		resp.Success = true
		resp.Error, resp.Kind = "", ""
		o.cfg.Metrics.ObserveModel(mode, "success", time.Since(start))
		o.cfg.Logger.Debug("model request completed", "session", req.SessionID, "mode", mode,
			"tool_calls", len(resp.ToolCalls), "duration", time.Since(start))
		return resp
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail(domain.FailureTimeout, fmt.Sprintf("model request timed out after %s", timeout))
		}
		return fail(domain.FailureTimeout, fmt.Sprintf("model request abandoned: %v", ctx.Err()))
	}
}

// runFollowUps executes model-requested calls in order. Calls past the
// configured limit are answered with a failure instead of running.
func (o *Orchestrator) runFollowUps(ctx context.Context, s *Session, calls []domain.ToolCall) []domain.ToolResult {
	n := min(len(calls), o.cfg.MaxFollowUpCalls)
	reqs := make([]domain.ToolInvocationRequest, 0, n)
	for _, c := range calls[:n] {
		reqs = append(reqs, domain.NewRequest(c.Name, c.Parameters))
	}
	results := s.Chain(ctx, reqs)
	for _, c := range calls[n:] {
		results = append(results, domain.ExecutionFailure(
			fmt.Sprintf("follow-up call limit of %d exceeded", o.cfg.MaxFollowUpCalls)).WithTool(c.Name))
	}
	if len(calls) > n {
		o.cfg.Logger.Warn("dropped follow-up tool calls", "session", s.ID(), "requested", len(calls), "limit", n)
	}
	return results
}

// PerformStructuredReview runs the review pipeline named by opts (the built-in
// structured review by default) stage by stage. Each stage runs in parallel.
func (o *Orchestrator) PerformStructuredReview(ctx context.Context, task domain.ReviewTask, opts domain.ReviewOptions) *domain.ReviewResult {
	def, ok := o.cfg.Pipelines.Get(opts.Pipeline)
	if !ok {
		return domain.FailedReview("", "unknown pipeline: "+opts.Pipeline)
	}
	s, err := o.CreateSession("")
	if err != nil {
		return domain.FailedReview("", err.Error())
	}
	defer s.Close()
	seedReviewContext(s, task)

	result := &domain.ReviewResult{SessionID: s.ID(), Success: true}
	vars := task.Vars()
	for i, stage := range def.Stages {
		if i > 0 {
			if err := sleepCtx(ctx, o.cfg.StageDelay); err != nil {
				result.Success = false
				result.Error = "structured review cancelled: " + err.Error()
				break
			}
		}
		results := s.Parallel(ctx, stage.Requests(vars))
		result.Stages = append(result.Stages, domain.StageResult{Name: def.StageName(i), Results: results})
		result.ToolResults = append(result.ToolResults, results...)
		if hasCritical(results) && !result.Critical {
			result.Critical = true
			o.notifyCritical(ctx, task, results)
		}
	}

	failed := 0
	for _, r := range result.ToolResults {
		if !r.Success {
			failed++
		}
	}
	result.Metadata = map[string]any{
		"pipeline":     def.Name,
		"tool_count":   len(result.ToolResults),
		"failed_tools": failed,
	}
	result.Timestamp = time.Now()
	o.cfg.Logger.Info("structured review finished", "session", s.ID(), "pipeline", def.Name,
		"tools", len(result.ToolResults), "failed", failed, "critical", result.Critical)
	return result
}

// PerformComprehensiveReview gathers git and review-history context, then asks
// the model for a full review under the stretched deadline.
func (o *Orchestrator) PerformComprehensiveReview(ctx context.Context, task domain.ReviewTask, opts domain.ReviewOptions) *domain.ReviewResult {
	s, err := o.CreateSession("")
	if err != nil {
		return domain.FailedReview("", err.Error())
	}
	defer s.Close()
	seedReviewContext(s, task)

	gathered := s.Chain(ctx, comprehensiveContextChain(task))
	for i, r := range gathered {
		key := fmt.Sprintf("context_%d", i)
		if r.Success {
			s.AddContext(key, r.Content)
		} else {
			s.AddContext(key, "unavailable: "+r.Error)
		}
	}

	catalog := s.AvailableTools(ctx)
	prompt := BuildComprehensivePrompt(task, opts, catalog, o.cfg.Contexts.Knowledge(task.ProjectID, task.Author)) +
		"\nContext gathered for this review:\n\n" + RenderContext(s.ContextEntries())
	timeout := time.Duration(float64(o.cfg.ModelTimeout) * o.cfg.ComprehensiveMultiplier)
	resp := o.roundTrip(ctx, domain.ModelRequest{
		Prompt:    prompt,
		Tools:     catalog,
		Context:   s.Context(),
		SessionID: s.ID(),
		Options: map[string]any{
			"focus_areas":         opts.FocusAreas,
			"severity_threshold":  opts.SeverityThreshold,
			"include_suggestions": opts.IncludeSuggestions,
		},
		Mode: domain.ModeComprehensiveReview,
	}, timeout)

	if !resp.Success {
		failed := domain.FailedReview(s.ID(), "comprehensive review failed: "+resp.Error)
		failed.ToolResults = gathered
		failed.Model = resp
		return failed
	}
	if resp.HasToolCalls() {
		resp.ToolResults = o.runFollowUps(ctx, s, resp.ToolCalls)
	}

	all := append(slices.Clone(gathered), resp.ToolResults...)
	result := &domain.ReviewResult{
		SessionID:   s.ID(),
		Success:     true,
		ToolResults: all,
		Model:       resp,
		Metadata:    resp.Metadata,
		Timestamp:   time.Now(),
	}
	if sev, _ := resp.Metadata["severity"].(string); sev == "critical" || hasCritical(all) {
		result.Critical = true
		o.notifyCritical(ctx, task, all)
	}
	o.cfg.Logger.Info("comprehensive review finished", "session", s.ID(), "tools", len(all), "critical", result.Critical)
	return result
}

// comprehensiveContextChain is the fixed context-gathering prefix of a
// comprehensive review: the change, the author's recent history and their
// recent reviews.
func comprehensiveContextChain(task domain.ReviewTask) []domain.ToolInvocationRequest {
	diffParams := map[string]any{}
	if task.SourceBranch != "" {
		diffParams["commit"] = task.SourceBranch
	}
	logParams := map[string]any{"since": "7 days ago"}
	dbParams := map[string]any{}
	if task.Author != "" {
		logParams["author"] = task.Author
		dbParams["author"] = task.Author
	}
	return []domain.ToolInvocationRequest{
		domain.NewRequest("git", map[string]any{"command": "diff", "repository": task.RepositoryURL, "parameters": diffParams}),
		domain.NewRequest("git", map[string]any{"command": "log", "repository": task.RepositoryURL, "parameters": logParams}),
		domain.NewRequest("database", map[string]any{"query": "recent_reviews", "parameters": dbParams}),
	}
}

// StreamReview runs the review pipeline lazily, yielding one update per tool
// result as each stage finishes. The sequence is single-use. Its session is
// closed when the sequence ends or the consumer stops pulling.
func (o *Orchestrator) StreamReview(ctx context.Context, task domain.ReviewTask, opts domain.ReviewOptions) iter.Seq[domain.ReviewUpdate] {
	var once sync.Once
	return func(yield func(domain.ReviewUpdate) bool) {
		consumed := true
		once.Do(func() { consumed = false })
		if consumed {
			return
		}

		def, ok := o.cfg.Pipelines.Get(opts.Pipeline)
		if !ok {
			yield(domain.ReviewUpdate{Status: domain.UpdateError, Error: "unknown pipeline: " + opts.Pipeline})
			return
		}
		s, err := o.CreateSession("")
		if err != nil {
			yield(domain.ReviewUpdate{Status: domain.UpdateError, Error: err.Error()})
			return
		}
		defer s.Close()
		seedReviewContext(s, task)

		vars := task.Vars()
		notified := false
		for i, stage := range def.Stages {
			if i > 0 && sleepCtx(ctx, o.cfg.StageDelay) != nil {
				return
			}
			results := s.Parallel(ctx, stage.Requests(vars))
			if !notified && hasCritical(results) {
				notified = true
				o.notifyCritical(ctx, task, results)
			}
			for _, r := range results {
				if !yield(domain.UpdateFromResult(def.StageName(i), r)) {
					return
				}
			}
		}
	}
}

// LearnFromFeedback hands feedback to the context manager and returns at once
// with the background task id.
func (o *Orchestrator) LearnFromFeedback(ctx context.Context, fb domain.ReviewFeedback) string {
	return o.cfg.Contexts.LearnFromFeedback(ctx, fb)
}

func seedReviewContext(s *Session, task domain.ReviewTask) {
	s.AddContext("pull_request", task)
	s.AddContext("repository_url", task.RepositoryURL)
	if task.SourceBranch != "" {
		s.AddContext("branch", task.SourceBranch)
	}
}

// hasCritical reports whether any successful result is marked critical.
func hasCritical(results []domain.ToolResult) bool {
	return slices.ContainsFunc(results, func(r domain.ToolResult) bool {
		return r.Success && r.MetadataString("severity") == "critical"
	})
}

// notifyCritical sends the alert on a detached task with its own session. Its
// outcome is logged and never affects the review.
func (o *Orchestrator) notifyCritical(ctx context.Context, task domain.ReviewTask, results []domain.ToolResult) {
	var findings []any
	for _, r := range results {
		if r.Success && r.MetadataString("severity") == "critical" {
			findings = append(findings, map[string]any{"tool": r.ToolName, "content": r.Content})
		}
	}
	opts := map[string]any{
		"title":    "Critical Code Review Alert",
		"findings": findings,
	}
	if id, err := strconv.Atoi(task.ID); err == nil {
		opts["pull_request_id"] = id
	}
	req := domain.NewRequest("notification", map[string]any{
		"channel":    o.cfg.NotifyChannel,
		"message":    criticalMessage,
		"severity":   "critical",
		"parameters": opts,
	})

	o.cfg.Background.Go(ctx, "critical_notification", func(ctx context.Context) error {
		s, err := o.CreateSession("")
		if err != nil {
			return err
		}
		defer s.Close()
		if res := s.Invoke(ctx, req); !res.Success {
			return fmt.Errorf("critical notification via %s: %s", o.cfg.NotifyChannel, res.Error)
		}
		return nil
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
