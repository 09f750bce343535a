package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mcpreview/internal/domain"
)

type capturedRequest struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *capturedRequest) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("invalid JSON body: %v", err)
		}
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capturedRequest) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		return nil
	}
	return c.bodies[len(c.bodies)-1]
}

func TestNotificationTool_Slack(t *testing.T) {
	var rec capturedRequest
	srv := rec.server(t, http.StatusOK)
	tool := NewNotificationTool(NotificationConfig{SlackWebhookURL: srv.URL, Timeout: 5 * time.Second, Logger: testLogger()})

	res := tool.Execute(context.Background(), map[string]any{
		"channel":  "slack",
		"message":  "SQL injection in auth.go",
		"severity": "critical",
		"parameters": map[string]any{
			"title":           "Critical finding",
			"pull_request_id": float64(42),
		},
	})
	if !res.Success {
		t.Fatalf("slack notification failed: %s", res.Error)
	}
	if res.Metadata["channel"] != "slack" || res.Metadata["severity"] != "critical" {
		t.Errorf("unexpected metadata %v", res.Metadata)
	}

	body := rec.last()
	if !strings.Contains(body["text"].(string), "CRITICAL") {
		t.Errorf("expected severity in text, got %v", body["text"])
	}
	atts := body["attachments"].([]any)
	att := atts[0].(map[string]any)
	if att["text"] != "SQL injection in auth.go" || att["title"] != "Critical finding" {
		t.Errorf("unexpected attachment %v", att)
	}
}

func TestNotificationTool_SlackNotConfigured(t *testing.T) {
	tool := NewNotificationTool(NotificationConfig{Logger: testLogger()})
	res := tool.Execute(context.Background(), map[string]any{"channel": "slack", "message": "hi"})
	if res.Success || !strings.Contains(res.Error, "not configured") {
		t.Fatalf("expected configuration failure, got %+v", res)
	}
}

func TestNotificationTool_Webhook(t *testing.T) {
	var rec capturedRequest
	srv := rec.server(t, http.StatusAccepted)
	tool := NewNotificationTool(NotificationConfig{Logger: testLogger()})

	res := tool.Execute(context.Background(), map[string]any{
		"channel":    "webhook",
		"message":    "review done",
		"parameters": map[string]any{"webhook_url": srv.URL},
	})
	if !res.Success {
		t.Fatalf("webhook failed: %s", res.Error)
	}
	body := rec.last()
	if body["message"] != "review done" || body["severity"] != "info" {
		t.Errorf("unexpected payload %v", body)
	}

	res = tool.Execute(context.Background(), map[string]any{"channel": "webhook", "message": "x"})
	if res.Success || !strings.Contains(res.Error, "webhook URL required") {
		t.Errorf("expected missing URL failure, got %+v", res)
	}
}

func TestNotificationTool_TeamsErrorStatus(t *testing.T) {
	var rec capturedRequest
	srv := rec.server(t, http.StatusBadRequest)
	tool := NewNotificationTool(NotificationConfig{TeamsWebhookURL: srv.URL, Logger: testLogger()})

	res := tool.Execute(context.Background(), map[string]any{"channel": "teams", "message": "x", "severity": "warning"})
	if res.Success || !strings.Contains(res.Error, "400") {
		t.Fatalf("expected status failure, got %+v", res)
	}
	if rec.last()["@type"] != "MessageCard" {
		t.Errorf("expected MessageCard payload, got %v", rec.last())
	}
}

func TestNotificationTool_ConsoleAndEmail(t *testing.T) {
	tool := NewNotificationTool(NotificationConfig{Logger: testLogger()})

	res := tool.Execute(context.Background(), map[string]any{"channel": "console", "message": "hello", "severity": "error"})
	if !res.Success {
		t.Fatalf("console failed: %s", res.Error)
	}

	res = tool.Execute(context.Background(), map[string]any{"channel": "email", "message": "hello"})
	if res.Success || !strings.Contains(res.Error, "recipients required") {
		t.Errorf("expected recipients failure, got %+v", res)
	}
	res = tool.Execute(context.Background(), map[string]any{
		"channel":    "email",
		"message":    "hello",
		"parameters": map[string]any{"recipients": []any{"dev@example.com"}},
	})
	if res.Success || !strings.Contains(res.Error, "smtp host not configured") {
		t.Errorf("expected smtp failure, got %+v", res)
	}

	res = tool.Execute(context.Background(), map[string]any{"channel": "pager", "message": "hello"})
	if res.Success || !strings.Contains(res.Error, "Unknown notification channel") {
		t.Errorf("expected unknown channel failure, got %+v", res)
	}
}

func TestRunBounded_TimeoutAndPanic(t *testing.T) {
	res := runBounded(context.Background(), 20*time.Millisecond, "slow", func(ctx context.Context) domain.ToolResult {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return domain.Success("late", nil)
	})
	if res.Success || res.Kind != domain.FailureTimeout {
		t.Errorf("expected timeout failure, got %+v", res)
	}

	res = runBounded(context.Background(), time.Second, "boom", func(ctx context.Context) domain.ToolResult {
		panic("kaboom")
	})
	if res.Success || !strings.Contains(res.Error, "kaboom") {
		t.Errorf("expected recovered panic, got %+v", res)
	}
}
