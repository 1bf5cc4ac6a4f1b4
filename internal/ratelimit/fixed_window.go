package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Count   int64
	Limit   int64
	ResetAt time.Time
}

// FixedWindowLimiter counts events per key in fixed, Redis-backed windows so
// every replica shares the same quota.
type FixedWindowLimiter struct {
	limit    int
	window   time.Duration
	failOpen bool
	now      func() time.Time

	client redis.UniversalClient
	prefix string
}

// Option configures a limiter.
type Option func(*FixedWindowLimiter)

// FailOpen allows events when Redis is unreachable. The default is to deny.
func FailOpen() Option {
	return func(l *FixedWindowLimiter) { l.failOpen = true }
}

// WithClock replaces time.Now for window slot calculation.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindowLimiter) { l.now = now }
}

// NewFixedWindowLimiter creates a limiter on an existing client.
func NewFixedWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration, opts ...Option) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	// windows are counted in whole milliseconds
	if window < time.Millisecond {
		return nil, fmt.Errorf("rate limiter window %s is shorter than 1ms", window)
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "wallpapers:ratelimit"
	}
	l := &FixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		client: client,
		prefix: prefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow records one event for key and reports whether it is within quota.
// Redis errors are returned together with the fail-open/closed decision.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true}, nil
	}
	windowMs := l.window.Milliseconds()
	now := l.now().UTC()
	slot := now.UnixMilli() / windowMs
	decision := Decision{
		Limit:   int64(l.limit),
		ResetAt: time.UnixMilli((slot + 1) * windowMs).UTC(),
	}
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, sanitizeSegment(key), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		decision.Allowed = l.failOpen
		return decision, fmt.Errorf("rate limit %s: %w", key, err)
	}
	decision.Count = count
	decision.Allowed = count <= int64(l.limit)
	return decision, nil
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
