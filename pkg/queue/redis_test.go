package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newQueueForTest(t *testing.T) (*miniredis.Miniredis, *RedisQueue) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		m.Close()
	})
	return m, NewRedisQueue(client, "test")
}

func TestDrainPreservesEnqueueOrder(t *testing.T) {
	_, q := newQueueForTest(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "checks", "a", "b"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "checks", "c"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ids, err := q.Drain(ctx, "checks", 2)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("expected [a b], got %v", ids)
	}

	ids, err = q.Drain(ctx, "checks", 10)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c" {
		t.Fatalf("expected [c], got %v", ids)
	}

	ids, err = q.Drain(ctx, "checks", 10)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty drain, got %v err=%v", ids, err)
	}
}

func TestQueuesAreIsolatedByName(t *testing.T) {
	m, q := newQueueForTest(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "one", "x"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !m.Exists("test:one") {
		t.Fatal("expected prefixed list key")
	}
	ids, err := q.Drain(ctx, "two", 5)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected nothing on other queue, got %v err=%v", ids, err)
	}
	if n, _ := q.Len(ctx, "one"); n != 1 {
		t.Fatalf("expected one pending id, got %d", n)
	}
}

func TestBackendErrorsSurface(t *testing.T) {
	if err := NewRedisQueue(nil, "").Enqueue(context.Background(), "q", "id"); err == nil {
		t.Fatal("expected nil client error")
	}

	bad := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 20 * time.Millisecond})
	t.Cleanup(func() { _ = bad.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := NewRedisQueue(bad, "").Drain(ctx, "q", 1); err == nil {
		t.Fatal("expected backend error")
	}
}
