package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"mcpreview/internal/domain"
)

type notificationOptions struct {
	WebhookURL    string   `json:"webhook_url,omitempty" jsonschema:"description=Webhook URL for notifications"`
	ChannelID     string   `json:"channel_id,omitempty" jsonschema:"description=Channel or room ID"`
	Recipients    []string `json:"recipients,omitempty" jsonschema:"description=Email recipients"`
	Title         string   `json:"title,omitempty" jsonschema:"description=Notification title"`
	PullRequestID int      `json:"pull_request_id,omitempty" jsonschema:"description=Related PR ID"`
	Findings      []any    `json:"findings,omitempty" jsonschema:"description=Review findings to include"`
}

type notificationParams struct {
	Channel    string              `json:"channel" jsonschema:"required,enum=slack,enum=teams,enum=email,enum=webhook,enum=console,description=Notification channel to use"`
	Message    string              `json:"message" jsonschema:"required,description=Notification message content"`
	Severity   string              `json:"severity,omitempty" jsonschema:"enum=info,enum=warning,enum=error,enum=critical,default=info,description=Notification severity level"`
	Parameters notificationOptions `json:"parameters,omitempty" jsonschema:"description=Channel-specific parameters"`
}

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// NotificationConfig holds channel defaults; per-call webhook_url overrides them.
type NotificationConfig struct {
	SlackWebhookURL string
	TeamsWebhookURL string
	SMTP            SMTPConfig
	HTTPClient      *http.Client
	Timeout         time.Duration
	Logger          *slog.Logger
}

// NotificationTool delivers review notifications to chat, email and webhooks.
type NotificationTool struct {
	cfg    NotificationConfig
	schema map[string]any
}

func NewNotificationTool(cfg NotificationConfig) *NotificationTool {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &NotificationTool{cfg: cfg, schema: SchemaFor[notificationParams]()}
}

func (t *NotificationTool) Name() string { return "notification" }
func (t *NotificationTool) Description() string {
	return "Send notifications about code review results, critical findings, or important updates to various channels like Slack, Teams, or email."
}
func (t *NotificationTool) InputSchema() map[string]any { return t.schema }
func (t *NotificationTool) RequiredCapabilities() []string {
	return []string{"network:send", "notification:send"}
}
func (t *NotificationTool) Available(ctx context.Context) bool { return true }

type notice struct {
	Channel  string
	Message  string
	Severity string
	Opts     map[string]any
}

func (n notice) title() string {
	if s := ArgsString(n.Opts, "title"); s != "" {
		return s
	}
	return "Code Review Notification"
}

func (t *NotificationTool) Execute(ctx context.Context, params map[string]any) domain.ToolResult {
	n := notice{
		Channel:  ArgsString(params, "channel"),
		Message:  ArgsString(params, "message"),
		Severity: ArgsString(params, "severity"),
		Opts:     ArgsMap(params, "parameters"),
	}
	if n.Severity == "" {
		n.Severity = "info"
	}

	return runBounded(ctx, t.cfg.Timeout, "notification "+n.Channel, func(ctx context.Context) domain.ToolResult {
		var (
			meta map[string]any
			err  error
		)
		switch n.Channel {
		case "slack":
			meta, err = t.sendSlack(ctx, n)
		case "teams":
			meta, err = t.sendTeams(ctx, n)
		case "email":
			meta, err = t.sendEmail(n)
		case "webhook":
			meta, err = t.sendWebhook(ctx, n)
		case "console":
			meta = t.sendConsole(n)
		default:
			return domain.ExecutionFailure("Unknown notification channel: " + n.Channel)
		}
		if err != nil {
			return domain.ExecutionFailure(fmt.Sprintf("Failed to send %s notification: %v", n.Channel, err))
		}
		meta["channel"] = n.Channel
		meta["severity"] = n.Severity
		meta["sent_at"] = time.Now().UnixMilli()
		return domain.Success(fmt.Sprintf("Notification sent via %s", n.Channel), meta)
	})
}

func (t *NotificationTool) sendSlack(ctx context.Context, n notice) (map[string]any, error) {
	url := firstNonEmpty(ArgsString(n.Opts, "webhook_url"), t.cfg.SlackWebhookURL)
	if url == "" {
		return nil, fmt.Errorf("slack webhook URL not configured")
	}
	channel := firstNonEmpty(ArgsString(n.Opts, "channel_id"), "general")

	att := slack.Attachment{
		Color: severityColor(n.Severity),
		Title: n.title(),
		Text:  n.Message,
		Fields: []slack.AttachmentField{
			{Title: "Severity", Value: strings.ToUpper(n.Severity), Short: true},
		},
	}
	if pr := ArgsString(n.Opts, "pull_request_id"); pr != "" {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: "Pull Request", Value: "#" + pr, Short: true})
	}
	if findings, ok := n.Opts["findings"].([]any); ok && len(findings) > 0 {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: "Findings", Value: strconv.Itoa(len(findings)), Short: true})
	}
	msg := &slack.WebhookMessage{
		Channel:     channel,
		Text:        severityPrefix(n.Severity) + " " + n.title(),
		Attachments: []slack.Attachment{att},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, url, t.cfg.HTTPClient, msg); err != nil {
		return nil, err
	}
	return map[string]any{"channel_id": channel}, nil
}

func (t *NotificationTool) sendTeams(ctx context.Context, n notice) (map[string]any, error) {
	url := firstNonEmpty(ArgsString(n.Opts, "webhook_url"), t.cfg.TeamsWebhookURL)
	if url == "" {
		return nil, fmt.Errorf("teams webhook URL not configured")
	}
	card := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": strings.TrimPrefix(severityColor(n.Severity), "#"),
		"summary":    n.title(),
		"sections": []map[string]any{{
			"activityTitle": severityPrefix(n.Severity) + " " + n.title(),
			"text":          n.Message,
		}},
	}
	if err := t.postJSON(ctx, url, card); err != nil {
		return nil, err
	}
	return map[string]any{"webhook_url": url}, nil
}

func (t *NotificationTool) sendWebhook(ctx context.Context, n notice) (map[string]any, error) {
	url := ArgsString(n.Opts, "webhook_url")
	if url == "" {
		return nil, fmt.Errorf("webhook URL required")
	}
	payload := map[string]any{
		"message":         n.Message,
		"severity":        n.Severity,
		"timestamp":       time.Now().UnixMilli(),
		"source":          "mcpreview",
		"additional_data": n.Opts,
	}
	if err := t.postJSON(ctx, url, payload); err != nil {
		return nil, err
	}
	return map[string]any{"webhook_url": url}, nil
}

func (t *NotificationTool) sendEmail(n notice) (map[string]any, error) {
	var to []string
	switch rs := n.Opts["recipients"].(type) {
	case []string:
		to = append(to, rs...)
	case []any:
		for _, r := range rs {
			if s, ok := r.(string); ok && s != "" {
				to = append(to, s)
			}
		}
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("email recipients required")
	}
	cfg := t.cfg.SMTP
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host not configured")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&body, "Subject: [%s] %s\r\n", strings.ToUpper(n.Severity), n.title())
	body.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	body.WriteString(n.Message)
	body.WriteString("\r\n")

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	if err := smtp.SendMail(addr, auth, cfg.From, to, body.Bytes()); err != nil {
		return nil, err
	}
	return map[string]any{"recipients": to, "title": n.title()}, nil
}

func (t *NotificationTool) sendConsole(n notice) map[string]any {
	level := slog.LevelInfo
	switch n.Severity {
	case "warning":
		level = slog.LevelWarn
	case "error", "critical":
		level = slog.LevelError
	}
	t.cfg.Logger.Log(context.Background(), level, severityPrefix(n.Severity)+" "+n.title(),
		"message", n.Message,
		"pull_request_id", ArgsString(n.Opts, "pull_request_id"),
	)
	return map[string]any{}
}

func (t *NotificationTool) postJSON(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func severityPrefix(sev string) string {
	switch sev {
	case "critical":
		return "CRITICAL"
	case "error":
		return "ERROR"
	case "warning":
		return "WARNING"
	}
	return "INFO"
}

func severityColor(sev string) string {
	switch sev {
	case "critical":
		return "#d00000"
	case "error":
		return "#ff8c00"
	case "warning":
		return "#ffd700"
	}
	return "#2f80ed"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
