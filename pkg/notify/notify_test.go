package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"wallpapers/internal/ratelimit"
	"wallpapers/internal/util"
	"wallpapers/pkg/fault"
	"wallpapers/pkg/retry"
)

type recorder struct {
	mu  sync.Mutex
	got []Notification
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func TestFailureUsesClassMessage(t *testing.T) {
	n := Failure("u1", "create", errors.New("client is offline"))
	if n.Class != fault.Network || n.Message != MessageFor(fault.Network) || n.Retrying {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestThrottledCapsRetryNoticesOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "test:notify", 2, time.Minute)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	rec := &recorder{}
	th := NewThrottled(rec, limiter, nil, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = th.Notify(ctx, Notification{UID: "u1", Class: fault.Network, Retrying: true})
	}
	_ = th.Notify(ctx, Notification{UID: "u1", Class: fault.Network})
	_ = th.Notify(ctx, Notification{UID: "u1", Class: fault.Network})
	retrying, terminal := 0, 0
	for _, n := range rec.got {
		if n.Retrying {
			retrying++
		} else {
			terminal++
		}
	}
	if retrying != 2 || terminal != 2 {
		t.Fatalf("expected 2 retry and 2 terminal notices, got %d and %d", retrying, terminal)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	m := Multi{rec, Func(func(context.Context, Notification) error { return boom }), nil}
	err := m.Notify(context.Background(), Notification{UID: "u"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(rec.got) != 1 {
		t.Fatalf("other sinks should still receive the notice")
	}
}

func TestRetryHookSkipsFinalAndAnonymous(t *testing.T) {
	rec := &recorder{}
	hook := RetryHook(rec, nil)
	hook(context.Background(), retry.Attempt{N: 1, Class: fault.Network})
	ctx := WithUID(context.Background(), "u1")
	hook(ctx, retry.Attempt{N: 1, Class: fault.Network, Op: "documents.read"})
	hook(ctx, retry.Attempt{N: 3, Class: fault.Network, Final: true})
	if len(rec.got) != 1 {
		t.Fatalf("expected one notice, got %d", len(rec.got))
	}
	if got := rec.got[0]; got.UID != "u1" || !got.Retrying || got.Attempt != 1 {
		t.Fatalf("unexpected notice %+v", got)
	}
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func TestAMQPNotifierPublishesJSON(t *testing.T) {
	ch := &fakeChannel{}
	a := &AMQPNotifier{ch: ch, exchange: DefaultExchange}
	n := Notification{UID: "u1", Class: fault.Permission, Op: "update", Message: "no"}
	if err := a.Notify(util.ContextWithRequestID(context.Background(), "req-9"), n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if ch.msg.CorrelationId != "req-9" {
		t.Fatalf("expected request id as correlation id, got %q", ch.msg.CorrelationId)
	}
	if ch.exchange != DefaultExchange || ch.key != "notify.permission" {
		t.Fatalf("unexpected routing %s %s", ch.exchange, ch.key)
	}
	var decoded Notification
	if err := json.Unmarshal(ch.msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.UID != "u1" || decoded.Class != fault.Permission {
		t.Fatalf("unexpected body %+v", decoded)
	}
	if ch.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("expected persistent delivery")
	}
}
