package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpreview/internal/metrics"
)

type TaskStatus string

const (
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
)

// BackgroundTask is the introspection record of one fire-and-forget job.
type BackgroundTask struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	DoneAt    time.Time  `json:"done_at,omitempty"`
}

// BackgroundExecutor runs detached tasks such as critical notifications and
// feedback learning. Tasks outlive the caller's cancellation. Failures and
// panics are logged and recorded, never returned.
type BackgroundExecutor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	pending sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*BackgroundTask
	order []string // ids in submission order
}

func NewBackgroundExecutor(logger *slog.Logger) *BackgroundExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackgroundExecutor{logger: logger, tasks: make(map[string]*BackgroundTask)}
}

// WithMetrics counts finished tasks by name and outcome.
func (be *BackgroundExecutor) WithMetrics(m *metrics.Metrics) *BackgroundExecutor {
	be.metrics = m
	return be
}

// Go starts fn on a context detached from ctx's cancellation and returns the task id.
func (be *BackgroundExecutor) Go(ctx context.Context, name string, fn func(ctx context.Context) error) string {
	task := &BackgroundTask{ID: uuid.NewString(), Name: name, Status: TaskRunning, StartedAt: time.Now()}
	be.mu.Lock()
	be.tasks[task.ID] = task
	be.order = append(be.order, task.ID)
	be.mu.Unlock()

	be.pending.Add(1)
	go func(ctx context.Context) {
		defer be.pending.Done()
		be.finish(task, safeRun(ctx, fn))
	}(context.WithoutCancel(ctx))
	return task.ID
}

func (be *BackgroundExecutor) finish(task *BackgroundTask, err error) {
	be.mu.Lock()
	task.DoneAt = time.Now()
	task.Status = TaskComplete
	if err != nil {
		task.Status = TaskFailed
		task.Error = err.Error()
	}
	status := task.Status
	be.mu.Unlock()

	if err != nil {
		be.logger.Warn("background task failed", "id", task.ID, "name", task.Name, "err", err)
	} else {
		be.logger.Debug("background task completed", "id", task.ID, "name", task.Name)
	}
	be.metrics.ObserveBackground(task.Name, string(status))
}

func safeRun(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Get returns a copy of the task's current state.
func (be *BackgroundExecutor) Get(id string) (BackgroundTask, bool) {
	be.mu.Lock()
	defer be.mu.Unlock()
	if t, ok := be.tasks[id]; ok {
		return *t, true
	}
	return BackgroundTask{}, false
}

// List returns copies of all tracked tasks in submission order.
func (be *BackgroundExecutor) List() []BackgroundTask {
	return be.snapshot(func(BackgroundTask) bool { return true })
}

// ListActive returns tasks that are still running.
func (be *BackgroundExecutor) ListActive() []BackgroundTask {
	return be.snapshot(func(t BackgroundTask) bool { return t.Status == TaskRunning })
}

func (be *BackgroundExecutor) snapshot(keep func(BackgroundTask) bool) []BackgroundTask {
	be.mu.Lock()
	defer be.mu.Unlock()
	out := make([]BackgroundTask, 0, len(be.order))
	for _, id := range be.order {
		if t := *be.tasks[id]; keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// Wait blocks until every submitted task has finished or ctx is done.
func (be *BackgroundExecutor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		be.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clean forgets finished tasks that completed more than maxAge ago and
// reports how many were dropped.
func (be *BackgroundExecutor) Clean(maxAge time.Duration) int {
	be.mu.Lock()
	defer be.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	kept := be.order[:0]
	for _, id := range be.order {
		t := be.tasks[id]
		if t.Status != TaskRunning && !t.DoneAt.After(cutoff) {
			delete(be.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	removed := len(be.order) - len(kept)
	be.order = kept
	return removed
}
