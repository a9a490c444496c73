// Package queue carries check ids from the submission path to the worker.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Queue interface {
	Enqueue(ctx context.Context, name string, ids ...string) error
	Drain(ctx context.Context, name string, max int) ([]string, error)
}

// RedisQueue is a FIFO list per queue name: LPUSH on enqueue, RPOP on drain.
// Delivery is at-least-once from the caller's perspective because ids are re-enqueued by
// the stale sweep.
type RedisQueue struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "queue"
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) Enqueue(ctx context.Context, name string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if q.client == nil {
		return errors.New("redis client is nil")
	}
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	if err := q.client.LPush(ctx, q.key(name), values...).Err(); err != nil {
		return fmt.Errorf("enqueue %d ids on %s: %w", len(ids), name, err)
	}
	return nil
}

// Drain pops up to max ids in the order they were enqueued.
func (q *RedisQueue) Drain(ctx context.Context, name string, max int) ([]string, error) {
	if q.client == nil {
		return nil, errors.New("redis client is nil")
	}
	if max <= 0 {
		max = 1
	}
	ids := make([]string, 0, max)
	for len(ids) < max {
		id, err := q.client.RPop(ctx, q.key(name)).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			if len(ids) > 0 {
				// Return what was already popped so those ids are not lost.
				return ids, nil
			}
			return nil, fmt.Errorf("drain %s: %w", name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (q *RedisQueue) Len(ctx context.Context, name string) (int64, error) {
	return q.client.LLen(ctx, q.key(name)).Result()
}

func (q *RedisQueue) key(name string) string {
	return q.prefix + ":" + name
}
