package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"mcpreview/internal/domain"
)

// ProjectContext accumulates what reviews have learned about one project.
type ProjectContext struct {
	ID string

	mu          sync.RWMutex
	patterns    map[string]any
	metrics     map[string]int
	preferences map[string]any
}

func newProjectContext(id string) *ProjectContext {
	return &ProjectContext{
		ID:          id,
		patterns:    make(map[string]any),
		metrics:     make(map[string]int),
		preferences: make(map[string]any),
	}
}

func (p *ProjectContext) AddPattern(name string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patterns[name] = value
}

// IncrMetric adds delta to a metric and returns the new value.
func (p *ProjectContext) IncrMetric(name string, delta int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics[name] += delta
	return p.metrics[name]
}

func (p *ProjectContext) SetPreference(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferences[key] = value
}

func (p *ProjectContext) Patterns() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.patterns)
}

func (p *ProjectContext) Metrics() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.metrics)
}

func (p *ProjectContext) Preferences() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.preferences)
}

// UserContext holds one reviewer's preferences and feedback history.
type UserContext struct {
	ID string

	mu          sync.RWMutex
	preferences map[string]any
	history     map[string]int
}

func newUserContext(id string) *UserContext {
	return &UserContext{
		ID:          id,
		preferences: make(map[string]any),
		history:     make(map[string]int),
	}
}

func (u *UserContext) SetPreference(key string, value any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.preferences[key] = value
}

func (u *UserContext) Preferences() map[string]any {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return maps.Clone(u.preferences)
}

// ReviewHistory counts feedback given by this user, keyed by verdict.
func (u *UserContext) ReviewHistory() map[string]int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return maps.Clone(u.history)
}

func (u *UserContext) record(key string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.history[key]++
}

// ContextManager owns project and user contexts for the life of the process.
// Contexts are created on first access; there is no explicit creation step.
type ContextManager struct {
	mu       sync.Mutex
	projects map[string]*ProjectContext
	users    map[string]*UserContext

	background *BackgroundExecutor
	logger     *slog.Logger
}

type ContextManagerConfig struct {
	Background *BackgroundExecutor
	Logger     *slog.Logger
}

func NewContextManager(cfg ContextManagerConfig) *ContextManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Background == nil {
		cfg.Background = NewBackgroundExecutor(cfg.Logger)
	}
	return &ContextManager{
		projects:   make(map[string]*ProjectContext),
		users:      make(map[string]*UserContext),
		background: cfg.Background,
		logger:     cfg.Logger,
	}
}

// Project returns the context for projectID, creating it if needed.
func (cm *ContextManager) Project(projectID string) *ProjectContext {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	p, ok := cm.projects[projectID]
	if !ok {
		p = newProjectContext(projectID)
		cm.projects[projectID] = p
	}
	return p
}

// User returns the context for userID, creating it if needed.
func (cm *ContextManager) User(userID string) *UserContext {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	u, ok := cm.users[userID]
	if !ok {
		u = newUserContext(userID)
		cm.users[userID] = u
	}
	return u
}

// LearnedPatterns returns a copy of the patterns learned for a project.
func (cm *ContextManager) LearnedPatterns(projectID string) map[string]any {
	return cm.Project(projectID).Patterns()
}

// Knowledge is what earlier feedback taught about a project and one of its
// authors, as rendered into comprehensive review prompts.
type Knowledge struct {
	Patterns        map[string]any
	Metrics         map[string]int
	Preferences     map[string]any
	UserPreferences map[string]any
}

// Knowledge snapshots the project context and, when userID is set, that
// user's preferences.
func (cm *ContextManager) Knowledge(projectID, userID string) Knowledge {
	p := cm.Project(projectID)
	k := Knowledge{Patterns: p.Patterns(), Metrics: p.Metrics(), Preferences: p.Preferences()}
	if userID != "" {
		k.UserPreferences = cm.User(userID).Preferences()
	}
	return k
}

// LearnFromFeedback schedules learning and returns the background task id at once.
// Learning failures are logged by the executor and never reach the caller.
func (cm *ContextManager) LearnFromFeedback(ctx context.Context, fb domain.ReviewFeedback) string {
	return cm.background.Go(ctx, "learn_from_feedback", func(ctx context.Context) error {
		return cm.learn(fb)
	})
}

func (cm *ContextManager) learn(fb domain.ReviewFeedback) error {
	if fb.ProjectID == "" {
		return fmt.Errorf("feedback for review %q has no project", fb.ReviewID)
	}
	verdict := "unhelpful"
	if fb.Helpful {
		verdict = "helpful"
	}

	project := cm.Project(fb.ProjectID)
	project.IncrMetric("feedback_"+verdict, 1)
	if name, ok := fb.Details["pattern"].(string); ok && name != "" {
		project.AddPattern(name, map[string]any{
			"helpful":   fb.Helpful,
			"review_id": fb.ReviewID,
		})
	}
	if prefs, ok := fb.Details["preferences"].(map[string]any); ok {
		for k, v := range prefs {
			project.SetPreference(k, v)
		}
	}
	if fb.UserID != "" {
		user := cm.User(fb.UserID)
		user.record(verdict)
		if prefs, ok := fb.Details["user_preferences"].(map[string]any); ok {
			for k, v := range prefs {
				user.SetPreference(k, v)
			}
		}
	}
	cm.logger.Info("learned from feedback", "review", fb.ReviewID, "project", fb.ProjectID, "helpful", fb.Helpful)
	return nil
}
