package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mcpreview/internal/metrics"
)

func drain(t *testing.T, be *BackgroundExecutor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := be.Wait(ctx); err != nil {
		t.Fatalf("background tasks still running: %v", err)
	}
}

func TestBackgroundExecutor_RecordsOutcomes(t *testing.T) {
	m := metrics.New()
	be := NewBackgroundExecutor(testLogger()).WithMetrics(m)
	ctx := context.Background()

	ids := map[string]string{
		"learn_feedback":        be.Go(ctx, "learn_feedback", func(context.Context) error { return nil }),
		"critical_notification": be.Go(ctx, "critical_notification", func(context.Context) error { return errors.New("slack webhook returned 500") }),
		"panicky":               be.Go(ctx, "panicky", func(context.Context) error { panic("nil map") }),
	}
	drain(t, be)

	want := map[string]struct {
		status TaskStatus
		err    string
	}{
		"learn_feedback":        {TaskComplete, ""},
		"critical_notification": {TaskFailed, "slack webhook returned 500"},
		"panicky":               {TaskFailed, "panic: nil map"},
	}
	for name, id := range ids {
		task, ok := be.Get(id)
		if !ok {
			t.Fatalf("%s: task %s not tracked", name, id)
		}
		if task.Name != name || task.Status != want[name].status || task.Error != want[name].err {
			t.Errorf("%s: got %+v, want status %s err %q", name, task, want[name].status, want[name].err)
		}
		if task.DoneAt.Before(task.StartedAt) {
			t.Errorf("%s: finished before it started: %+v", name, task)
		}
	}

	expected := `
# HELP mcpreview_background_tasks_total Fire-and-forget tasks by name and outcome
# TYPE mcpreview_background_tasks_total counter
mcpreview_background_tasks_total{name="critical_notification",outcome="failed"} 1
mcpreview_background_tasks_total{name="learn_feedback",outcome="complete"} 1
mcpreview_background_tasks_total{name="panicky",outcome="failed"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "mcpreview_background_tasks_total"); err != nil {
		t.Fatal(err)
	}
}

func TestBackgroundExecutor_OutlivesCallerContext(t *testing.T) {
	be := NewBackgroundExecutor(testLogger())

	reqCtx, cancelRequest := context.WithCancel(context.Background())
	proceed := make(chan struct{})
	var taskErr error
	id := be.Go(reqCtx, "critical_notification", func(ctx context.Context) error {
		<-proceed
		taskErr = ctx.Err()
		return taskErr
	})
	cancelRequest()
	close(proceed)
	drain(t, be)

	if taskErr != nil {
		t.Fatalf("task saw the caller's cancellation: %v", taskErr)
	}
	if task, _ := be.Get(id); task.Status != TaskComplete {
		t.Fatalf("status = %s, want %s", task.Status, TaskComplete)
	}
}

func TestBackgroundExecutor_ListOrderAndActive(t *testing.T) {
	be := NewBackgroundExecutor(testLogger())
	hold := make(chan struct{})
	ctx := context.Background()
	for _, name := range []string{"first", "second", "third"} {
		be.Go(ctx, name, func(context.Context) error {
			if name == "second" {
				<-hold
			}
			return nil
		})
	}

	var names []string
	for _, task := range be.List() {
		names = append(names, task.Name)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, names); diff != "" {
		t.Fatalf("List order (-want +got):\n%s", diff)
	}

	deadline := time.Now().Add(time.Second)
	for len(be.ListActive()) > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if active := be.ListActive(); len(active) != 1 || active[0].Name != "second" {
		t.Fatalf("active = %+v, want only the held task", active)
	}

	close(hold)
	drain(t, be)
	if active := be.ListActive(); len(active) != 0 {
		t.Fatalf("%d tasks still active after drain", len(active))
	}
}

func TestBackgroundExecutor_CleanKeepsRunningTasks(t *testing.T) {
	be := NewBackgroundExecutor(testLogger())
	hold := make(chan struct{})
	ctx := context.Background()
	be.Go(ctx, "done", func(context.Context) error { return nil })
	be.Go(ctx, "done too", func(context.Context) error { return errors.New("x") })
	running := be.Go(ctx, "running", func(context.Context) error { <-hold; return nil })

	deadline := time.Now().Add(time.Second)
	for len(be.ListActive()) > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if removed := be.Clean(time.Hour); removed != 0 {
		t.Fatalf("Clean(1h) removed %d fresh tasks", removed)
	}
	if removed := be.Clean(0); removed != 2 {
		t.Fatalf("Clean(0) removed %d, want 2", removed)
	}
	tasks := be.List()
	if len(tasks) != 1 || tasks[0].ID != running {
		t.Fatalf("remaining = %+v, want only the running task", tasks)
	}
	close(hold)
	drain(t, be)
}

func TestBackgroundExecutor_WaitStopsAtDeadline(t *testing.T) {
	be := NewBackgroundExecutor(testLogger())
	hold := make(chan struct{})
	defer close(hold)
	be.Go(context.Background(), "stuck", func(context.Context) error { <-hold; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := be.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
	if _, ok := be.Get("no-such-task"); ok {
		t.Fatal("unknown id reported as tracked")
	}
}
