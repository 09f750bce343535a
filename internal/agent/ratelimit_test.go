package agent

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(3, 60)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := range 3 {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("request %d inside the burst was throttled: %v", i, err)
		}
	}
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("request past the burst should not fit a 50ms deadline at 1/s")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(1, 1200) // one slot every 50ms
	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("second request should wait for a refill, waited %v", elapsed)
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	for _, perMinute := range []float64{0, -5} {
		if rl := NewRateLimiter(5, perMinute); rl != nil {
			t.Fatalf("rate %v: expected nil limiter", perMinute)
		}
	}
	var rl *RateLimiter
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter should not wait: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("nil limiter should still report a cancelled context")
	}
}

func TestRateLimiter_MinimumBurst(t *testing.T) {
	rl := NewRateLimiter(0, 60)
	if got := rl.lim.Burst(); got != 1 {
		t.Fatalf("expected burst of at least 1, got %d", got)
	}
	if got := float64(rl.lim.Limit()); got != 1 {
		t.Fatalf("expected 1 request per second, got %v", got)
	}
}
