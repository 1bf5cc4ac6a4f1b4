package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallpapers/pkg/fault"
)

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestNetworkErrorUsesAllAttempts(t *testing.T) {
	rec := &recorder{}
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("client is offline")
	}, WithSleeper(rec.sleep), WithPolicy(Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond}))
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Fatalf("delay %d=%s, want %s", i, rec.delays[i], want[i])
		}
		if i > 0 && rec.delays[i] < rec.delays[i-1] {
			t.Fatalf("delays decreased: %v", rec.delays)
		}
	}
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Class != fault.Network || fe.Attempts != 4 {
		t.Fatalf("expected network error after 4 attempts, got %#v", err)
	}
}

func TestDefaultsAreThreeAttemptsFromOneSecond(t *testing.T) {
	rec := &recorder{}
	calls := 0
	_ = Do(context.Background(), func(context.Context) error {
		calls++
		return fault.New(fault.Network, "down")
	}, WithSleeper(rec.sleep))
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(rec.delays) != 2 || rec.delays[0] != time.Second || rec.delays[1] != 2*time.Second {
		t.Fatalf("unexpected delays %v", rec.delays)
	}
}

func TestPermissionErrorIsNotRetried(t *testing.T) {
	rec := &recorder{}
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("Missing or insufficient permissions.")
	}, WithSleeper(rec.sleep))
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("expected no waits, got %v", rec.delays)
	}
	if !errors.Is(err, fault.ErrPermission) {
		t.Fatalf("expected permission class, got %v", err)
	}
}

func TestRetryableClassesRecover(t *testing.T) {
	for _, msg := range []string{"requires an index", "lock timeout", "network down"} {
		rec := &recorder{}
		calls := 0
		got, err := Value(context.Background(), func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New(msg)
			}
			return "ok", nil
		}, WithSleeper(rec.sleep))
		if err != nil || got != "ok" {
			t.Fatalf("%s: expected success, got %q %v", msg, got, err)
		}
		if calls != 3 {
			t.Fatalf("%s: expected 3 calls, got %d", msg, calls)
		}
	}
}

func TestGenericErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("bad input")
	}, WithSleeper((&recorder{}).sleep))
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, fault.ErrGeneric) {
		t.Fatalf("expected generic class, got %v", err)
	}
}

func TestObserverSeesEveryFailure(t *testing.T) {
	var seen []Attempt
	_ = Do(context.Background(), func(context.Context) error {
		return errors.New("offline")
	}, WithSleeper((&recorder{}).sleep), WithOp("read"), WithObserver(func(a Attempt) {
		seen = append(seen, a)
	}))
	if len(seen) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(seen))
	}
	for i, a := range seen {
		if a.N != i+1 || a.Op != "read" || a.Class != fault.Network {
			t.Fatalf("unexpected attempt %#v", a)
		}
		if a.Final != (i == 2) {
			t.Fatalf("attempt %d final=%v", a.N, a.Final)
		}
	}
	if seen[2].Delay != 0 {
		t.Fatalf("final attempt should not schedule a delay")
	}
}

func TestCancelledContextStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("offline")
	}, WithPolicy(Policy{BaseDelay: time.Hour}))
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
	if !errors.Is(err, fault.ErrNetwork) {
		t.Fatalf("expected last error to be returned classified, got %v", err)
	}
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second}
	for n, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 8 * time.Second} {
		if got := p.Delay(n); got != want {
			t.Fatalf("Delay(%d)=%s, want %s", n, got, want)
		}
	}
}
