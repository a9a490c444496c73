package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

const (
	handlerAttempts = 3
	fetchBackoff    = time.Second
)

type EventHandler func(ctx context.Context, event models.Event) error

type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic string, groupID string) *Consumer {
	return &Consumer{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})}
}

// Consume feeds events to handler until ctx ends. A message is committed once handled, or once
// handler has failed handlerAttempts times, so one poisoned event cannot stall the partition.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.WithError(err).Error("Failed to fetch message")
			if !sleep(ctx, fetchBackoff) {
				return ctx.Err()
			}
			continue
		}

		event, err := decode(msg)
		if err != nil {
			logger.Log.WithError(err).WithField("offset", msg.Offset).Error("Failed to unmarshal event")
		} else if err := handle(ctx, handler, event); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
			}).Error("Giving up on event")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Error("Failed to commit message")
		}
	}
}

func decode(msg kafka.Message) (models.Event, error) {
	var event models.Event
	err := json.Unmarshal(msg.Value, &event)
	return event, err
}

func handle(ctx context.Context, handler EventHandler, event models.Event) error {
	var err error
	delay := 200 * time.Millisecond
	for attempt := 1; attempt <= handlerAttempts; attempt++ {
		if err = handler(ctx, event); err == nil {
			return nil
		}
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id": event.ID,
			"attempt":  attempt,
		}).Warn("Failed to process event")
		if attempt < handlerAttempts && !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
