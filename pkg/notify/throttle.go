package notify

import (
	"context"
	"log/slog"

	"wallpapers/internal/ratelimit"
	"wallpapers/pkg/metrics"
)

// Throttled caps "retrying" notices per user. Terminal failures always pass
// so a user learns about every action that did not complete.
type Throttled struct {
	next    Notifier
	limiter *ratelimit.FixedWindowLimiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewThrottled wraps next. A nil limiter disables throttling.
func NewThrottled(next Notifier, limiter *ratelimit.FixedWindowLimiter, m *metrics.Metrics, logger *slog.Logger) *Throttled {
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttled{next: next, limiter: limiter, metrics: m, logger: logger}
}

func (t *Throttled) Notify(ctx context.Context, n Notification) error {
	if n.Retrying && t.limiter != nil {
		key := n.UID
		if key == "" {
			key = "anonymous"
		}
		decision, err := t.limiter.Allow(ctx, "notify:"+key)
		if err != nil {
			t.logger.Warn("notification throttle unavailable", "uid", n.UID, "err", err)
		}
		if !decision.Allowed {
			t.metrics.Notification(n.Class, false)
			return nil
		}
	}
	t.metrics.Notification(n.Class, true)
	return t.next.Notify(ctx, n)
}
