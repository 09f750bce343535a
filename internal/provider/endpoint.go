// Package provider talks to the external model endpoint: one JSON round trip per
// request, with retries, a shared HTTP client and failover across endpoints.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mcpreview/internal/domain"
)

const (
	DefaultChatPath   = "/api/ai/chat-with-tools"
	DefaultReviewPath = "/api/ai/comprehensive-review"
)

// Client is a model endpoint that can also be named and probed.
type Client interface {
	domain.ModelClient
	Name() string
	Healthy(ctx context.Context) error
}

// EndpointConfig configures one model endpoint.
type EndpointConfig struct {
	BaseURL    string
	APIKey     string
	ChatPath   string
	ReviewPath string
	MaxRetries int
	// RetryBackoff is the first backoff interval; later ones grow exponentially.
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Endpoint posts ModelRequests as JSON and decodes ModelResponses.
type Endpoint struct {
	baseURL    string
	apiKey     string
	chatPath   string
	reviewPath string
	retry      retryPolicy
	client     *http.Client
	logger     *slog.Logger
}

func NewEndpoint(cfg EndpointConfig) *Endpoint {
	if cfg.ChatPath == "" {
		cfg.ChatPath = DefaultChatPath
	}
	if cfg.ReviewPath == "" {
		cfg.ReviewPath = DefaultReviewPath
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Endpoint{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		chatPath:   cfg.ChatPath,
		reviewPath: cfg.ReviewPath,
		retry:      retryPolicy{maxRetries: cfg.MaxRetries, unit: cfg.RetryBackoff},
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

func (e *Endpoint) Name() string { return e.baseURL }

// Healthy reports whether the endpoint answers at all. Any non-5xx status counts.
func (e *Endpoint) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL, nil)
	if err != nil {
		return err
	}
	e.authorize(req)
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("model endpoint not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("model endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (e *Endpoint) path(mode domain.ModelMode) string {
	if mode == domain.ModeComprehensiveReview {
		return e.reviewPath
	}
	return e.chatPath
}

// Complete sends one request. Non-2xx replies and undecodable bodies are errors.
func (e *Endpoint) Complete(ctx context.Context, req domain.ModelRequest) (*domain.ModelResponse, error) {
	if req.Tools == nil {
		req.Tools = []domain.ToolSchema{}
	}
	if req.Context == nil {
		req.Context = map[string]any{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal model request: %w", err)
	}

	url := e.baseURL + e.path(req.Mode)
	start := time.Now()
	resp, err := doWithRetry(ctx, e.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		e.authorize(httpReq)
		return httpReq, nil
	}, e.retry, e.logger)
	if err != nil {
		return nil, fmt.Errorf("model endpoint %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model endpoint %s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out domain.ModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	e.logger.Debug("model round trip", "url", url, "session", req.SessionID,
		"status", resp.StatusCode, "tool_calls", len(out.ToolCalls), "duration", time.Since(start))
	return &out, nil
}

func (e *Endpoint) authorize(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
}
