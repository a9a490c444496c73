// Package ratelimit implements sliding-window admission control per organization partition.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Admitter decides whether weight more units fit in partitionKey's window.
type Admitter interface {
	Admit(ctx context.Context, partitionKey string, weight int, window time.Duration, limit int) (bool, error)
}

// Limiter is the event-log limiter: write the event, sum the window, flip the event when over.
//
// The write and the read are separate statements. Against a store that shows committed rows to
// every later read, concurrent callers can only see too much weight, never too little, so the
// race turns into extra rejections rather than extra admissions.
type Limiter struct {
	store   EventStore
	nowFunc func() time.Time
}

func NewLimiter(store EventStore) *Limiter {
	return &Limiter{store: store, nowFunc: time.Now}
}

func (l *Limiter) Admit(ctx context.Context, partitionKey string, weight int, window time.Duration, limit int) (bool, error) {
	now := l.nowFunc().UTC().Truncate(time.Microsecond)
	event := &Event{
		ID:           uuid.New().String(),
		PartitionKey: partitionKey,
		OccurredAt:   now,
		Weight:       weight,
		Accepted:     true,
	}
	if err := l.store.Insert(ctx, event); err != nil {
		return false, fmt.Errorf("record admission event: %w", err)
	}

	currentRate, err := l.store.SumAccepted(ctx, partitionKey, now.Add(-window))
	if err != nil {
		return false, fmt.Errorf("sum admission window: %w", err)
	}

	if weight > limit-(currentRate-weight) {
		if err := l.store.Reject(ctx, event.ID); err != nil {
			return false, fmt.Errorf("reject admission event: %w", err)
		}
		return false, nil
	}
	return true, nil
}
