// Package notify delivers user-facing failure notices. Notices are a side
// channel: a failed delivery never changes the outcome of the operation that
// produced it.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wallpapers/pkg/fault"
	"wallpapers/pkg/retry"
)

// Notification tells a user that an action failed or is being retried.
type Notification struct {
	UID      string      `json:"uid,omitempty"`
	Class    fault.Class `json:"class"`
	Op       string      `json:"op"`
	Message  string      `json:"message"`
	Retrying bool        `json:"retrying"`
	Attempt  int         `json:"attempt,omitempty"`
	At       time.Time   `json:"at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Discard drops every notification.
var Discard Notifier = Func(func(context.Context, Notification) error { return nil })

// Failure builds the terminal notification for err.
func Failure(uid, op string, err error) Notification {
	class := fault.Classify(err)
	return Notification{
		UID:     uid,
		Class:   class,
		Op:      op,
		Message: MessageFor(class),
		At:      time.Now().UTC(),
	}
}

// MessageFor is the text shown to users for a class.
func MessageFor(class fault.Class) string {
	switch class {
	case fault.Network:
		return "You appear to be offline. Check your connection and try again."
	case fault.Permission:
		return "You do not have permission to do that."
	case fault.IndexMissing:
		return "This view is still being prepared. Please try again in a few minutes."
	case fault.LockTimeout:
		return "The server is busy. Please try again shortly."
	default:
		return "Something went wrong. Please try again."
	}
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier logs to l, or the default logger when l is nil.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{logger: l}
}

// Notify logs n at warn level, or info for retries in progress.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelWarn
	if n.Retrying {
		level = slog.LevelInfo
	}
	l.logger.Log(ctx, level, "user notification",
		"uid", n.UID,
		"class", n.Class.String(),
		"op", n.Op,
		"retrying", n.Retrying,
		"attempt", n.Attempt,
		"message", n.Message,
	)
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, next := range m {
		if next == nil {
			continue
		}
		if err := next.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type uidKey struct{}

// WithUID records the acting user for notices raised deeper in the call.
func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, uidKey{}, uid)
}

// UIDFrom returns the acting user, if any.
func UIDFrom(ctx context.Context) string {
	uid, _ := ctx.Value(uidKey{}).(string)
	return uid
}

// RetryHook turns non-final failed attempts into "retrying" notices for the
// user found in the context. Final failures are reported by the caller.
func RetryHook(n Notifier, logger *slog.Logger) retry.Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, a retry.Attempt) {
		if a.Final {
			return
		}
		uid := UIDFrom(ctx)
		if uid == "" {
			return
		}
		err := n.Notify(ctx, Notification{
			UID:      uid,
			Class:    a.Class,
			Op:       a.Op,
			Message:  MessageFor(a.Class),
			Retrying: true,
			Attempt:  a.N,
			At:       time.Now().UTC(),
		})
		if err != nil {
			logger.Warn("retry notification failed", "op", a.Op, "err", err)
		}
	}
}
