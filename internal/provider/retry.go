package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryableError is a transient HTTP failure (5xx or 429).
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// retryPolicy bounds doWithRetry. unit is the first backoff interval; later
// ones grow exponentially with jitter.
type retryPolicy struct {
	maxRetries int
	unit       time.Duration
}

func (p retryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.unit
	b.MaxInterval = 30 * p.unit
	return b
}

// doWithRetry sends the request built by buildReq, retrying network failures,
// 5xx and 429. The caller's deadline bounds the whole loop: when it passes
// during a backoff the context error is returned.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), policy retryPolicy, logger *slog.Logger) (*http.Response, error) {
	attempt := func() (*http.Response, error) {
		req, err := buildReq()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if transientStatus(resp.StatusCode) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &retryableError{statusCode: resp.StatusCode, body: string(body)}
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.maxRetries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("retrying model request", "backoff", wait, "err", err)
		}),
	)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	var re *retryableError
	if policy.maxRetries > 0 && (errors.As(err, &re) || isNetworkError(err)) {
		return nil, fmt.Errorf("giving up after %d retries: %w", policy.maxRetries, err)
	}
	return nil, err
}

func isNetworkError(err error) bool {
	var ue interface{ Timeout() bool }
	return errors.As(err, &ue)
}
