package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	_, client := newClient(t)
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		d, err := limiter.Allow(ctx, "uid-1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should pass: %+v %v", i, d, err)
		}
	}
	d, err := limiter.Allow(ctx, "uid-1")
	if err != nil || d.Allowed || d.Count != 3 {
		t.Fatalf("third request should be blocked: %+v %v", d, err)
	}
	if other, _ := limiter.Allow(ctx, "uid-2"); !other.Allowed {
		t.Fatalf("other keys have their own quota")
	}
}

func TestFixedWindowLimiterResetsNextWindow(t *testing.T) {
	_, client := newClient(t)
	now := time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC)
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 1, time.Minute, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ctx := context.Background()
	if d, _ := limiter.Allow(ctx, "k"); !d.Allowed || !d.ResetAt.Equal(time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first decision %+v", d)
	}
	if d, _ := limiter.Allow(ctx, "k"); d.Allowed {
		t.Fatalf("second event in window should be denied")
	}
	now = now.Add(time.Minute)
	if d, _ := limiter.Allow(ctx, "k"); !d.Allowed {
		t.Fatalf("next window should allow again")
	}
}

func TestFixedWindowLimiterFailClosedByDefault(t *testing.T) {
	mr, client := newClient(t)
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	mr.Close()
	d, err := limiter.Allow(context.Background(), "k")
	if err == nil || d.Allowed {
		t.Fatalf("limiter should fail closed on redis errors, got %+v %v", d, err)
	}
}

func TestFixedWindowLimiterFailOpen(t *testing.T) {
	mr, client := newClient(t)
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 1, time.Second, FailOpen())
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	mr.Close()
	d, err := limiter.Allow(context.Background(), "k")
	if err == nil || !d.Allowed {
		t.Fatalf("fail-open limiter should allow on redis errors, got %+v %v", d, err)
	}
}

func TestFixedWindowLimiterRequiresClient(t *testing.T) {
	limiter, err := NewFixedWindowLimiter(nil, "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error without a client")
	}
}

func TestFixedWindowLimiterRejectsSubMillisecondWindow(t *testing.T) {
	_, client := newClient(t)
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 1, 500*time.Microsecond)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for a sub-millisecond window")
	}
	if _, err := NewFixedWindowLimiter(client, "test:ratelimit", 1, time.Millisecond); err != nil {
		t.Fatalf("1ms window should be accepted: %v", err)
	}
}
