package tool

import (
	"context"
	"fmt"
	"time"

	"mcpreview/internal/domain"
)

// runBounded runs fn under a sub-timeout. If the deadline fires first the call is
// abandoned and a timeout failure is returned; fn keeps running in the background
// until it notices its context is done.
func runBounded(ctx context.Context, timeout time.Duration, label string, fn func(ctx context.Context) domain.ToolResult) domain.ToolResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan domain.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- domain.ExecutionFailure(fmt.Sprintf("%s panicked: %v", label, r))
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return domain.Failure(domain.FailureTimeout, fmt.Sprintf("%s timed out: %v", label, ctx.Err()))
	}
}
