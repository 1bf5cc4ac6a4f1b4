package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCleanupQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, jobID, path := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, jobID, path); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != jobID || got.Values["path"] != path {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestCleanupQueueRequeueFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, jobID, path := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, jobID, path); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
}

func TestCleanupQueueHandleMessageOutcomes(t *testing.T) {
	q, ctx, msgID, jobID, path := newPendingQueueMessage(t)

	var seen CleanupJob
	q.handleMessage(ctx, redis.XMessage{ID: msgID, Values: map[string]any{"job_id": jobID, "path": path}},
		func(_ context.Context, job CleanupJob) error {
			seen = job
			return nil
		})
	if seen.Path != path || seen.Attempts != 1 {
		t.Fatalf("unexpected job passed to handler: %+v", seen)
	}
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil || !ok || job.Status != StatusDone {
		t.Fatalf("expected done job, got %+v ok=%v err=%v", job, ok, err)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("expected acknowledged message to be deleted, stream len %d", n)
	}
}

func TestCleanupQueueGivesUpAfterMaxRetries(t *testing.T) {
	q, ctx, msgID, jobID, path := newPendingQueueMessage(t)
	q.maxRetries = 1

	q.handleMessage(ctx, redis.XMessage{ID: msgID, Values: map[string]any{"job_id": jobID, "path": path}},
		func(context.Context, CleanupJob) error { return errors.New("still offline") })
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil || job.Status != StatusFailed || job.ErrorMessage != "still offline" {
		t.Fatalf("expected failed job, got %+v %v", job, err)
	}
}

func TestCleanupQueueRejectsEmptyPath(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := NewRedisCleanupQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), Config{})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), "  ", "x"); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisCleanupQueue, context.Context, string, string, string) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := NewRedisCleanupQueue(client, Config{
		Stream:     "test:cleanup",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, "wallpapers/u1/1_abc.jpg", "compensation failed")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	msg := streams[0].Messages[0]
	return q, ctx, msg.ID, job.ID, job.Path
}
