package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"mcpreview/internal/domain"
)

// FailoverClient tries several endpoints in order and returns the first reply.
type FailoverClient struct {
	clients []Client
	logger  *slog.Logger
}

// NewFailoverClient builds a failover chain. At least one client is required.
func NewFailoverClient(clients []Client, logger *slog.Logger) *FailoverClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverClient{clients: clients, logger: logger}
}

func (fc *FailoverClient) Name() string {
	names := make([]string, len(fc.clients))
	for i, c := range fc.clients {
		names[i] = c.Name()
	}
	return "failover(" + strings.Join(names, ", ") + ")"
}

// Healthy succeeds when any endpoint in the chain is healthy.
func (fc *FailoverClient) Healthy(ctx context.Context) error {
	var errs []error
	for _, c := range fc.clients {
		err := c.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no healthy model endpoint: %w", errors.Join(errs...))
}

// Complete tries each endpoint until one answers. Once the caller's context is
// done the chain stops: the deadline covers the whole chain, not each endpoint.
func (fc *FailoverClient) Complete(ctx context.Context, req domain.ModelRequest) (*domain.ModelResponse, error) {
	if len(fc.clients) == 0 {
		return nil, errors.New("no model endpoints configured")
	}
	var lastErr error
	for i, c := range fc.clients {
		resp, err := c.Complete(ctx, req)
		if err == nil {
			if i > 0 {
				fc.logger.Info("failover: used fallback endpoint", "endpoint", c.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		fc.logger.Warn("failover: endpoint failed, trying next", "endpoint", c.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("all model endpoints failed: %w", lastErr)
}

// NewClient builds the primary endpoint plus any fallbacks sharing its settings.
// With no fallbacks the primary endpoint is returned as is.
func NewClient(primary EndpointConfig, fallbackURLs []string) Client {
	first := NewEndpoint(primary)
	if len(fallbackURLs) == 0 {
		return first
	}
	clients := []Client{first}
	for _, u := range fallbackURLs {
		cfg := primary
		cfg.BaseURL = u
		clients = append(clients, NewEndpoint(cfg))
	}
	return NewFailoverClient(clients, primary.Logger)
}
