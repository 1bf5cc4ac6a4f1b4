package retry

import (
	"context"
	"time"

	"wallpapers/pkg/fault"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy returns 3 attempts with a one second base delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Delay returns the wait before attempt n+1, i.e. base * 2^(n-1).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseDelay << (n - 1)
}

// Attempt describes one failed try, as reported to an Observer.
type Attempt struct {
	Op    string
	N     int
	Class fault.Class
	Err   error
	Delay time.Duration
	Final bool
}

// Observer receives every failed attempt. It must not block.
type Observer func(Attempt)

// Hook is an Observer that also sees the caller's context.
type Hook func(ctx context.Context, a Attempt)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type options struct {
	policy   Policy
	op       string
	observer Observer
	sleep    Sleeper
}

// Option customises a single Do call.
type Option func(*options)

// WithPolicy overrides attempts and base delay. Zero fields keep the defaults.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		if p.MaxAttempts > 0 {
			o.policy.MaxAttempts = p.MaxAttempts
		}
		if p.BaseDelay > 0 {
			o.policy.BaseDelay = p.BaseDelay
		}
	}
}

// WithOp names the operation in errors and observations.
func WithOp(op string) Option {
	return func(o *options) { o.op = op }
}

// WithObserver installs a side channel for failed attempts.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(fn Sleeper) Option {
	return func(o *options) { o.sleep = fn }
}

// Do runs op until it succeeds, fails with a non-retryable class, or runs out
// of attempts. The returned error is always a *fault.Error.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Value(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{policy: DefaultPolicy(), sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	for n := 1; ; n++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		class := fault.Classify(err)
		final := !class.Retryable() || n >= o.policy.MaxAttempts
		var delay time.Duration
		if !final {
			delay = o.policy.Delay(n)
		}
		if o.observer != nil {
			o.observer(Attempt{Op: o.op, N: n, Class: class, Err: err, Delay: delay, Final: final})
		}
		if final {
			return zero, classified(o.op, n, class, err)
		}
		if serr := o.sleep(ctx, delay); serr != nil {
			return zero, classified(o.op, n, class, err)
		}
	}
}

func classified(op string, attempts int, class fault.Class, err error) error {
	return &fault.Error{Class: class, Op: op, Attempts: attempts, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
