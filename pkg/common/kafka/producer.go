package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	headerEventType = "event-type"
	headerSource    = "source"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}}
}

// PublishEvent wraps data in an event envelope stamped now.
func (p *Producer) PublishEvent(ctx context.Context, eventType, source, subject string, data map[string]interface{}) error {
	return p.Publish(ctx, models.Event{
		Type:    eventType,
		Source:  source,
		Subject: subject,
		Data:    data,
	})
}

// Publish writes one event keyed by its subject, so every event about one check lands on one
// partition in order.
func (p *Producer) Publish(ctx context.Context, event models.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	msg, err := encode(event)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"topic":      p.writer.Topic,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Log.WithError(err).WithFields(fields).Error("Failed to publish event")
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	logger.Log.WithFields(fields).Debug("Event published")
	return nil
}

func encode(event models.Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	key := event.Subject
	if key == "" {
		key = event.ID
	}
	headers := []kafka.Header{
		{Key: headerEventType, Value: []byte(event.Type)},
		{Key: headerSource, Value: []byte(event.Source)},
	}
	for k, v := range event.Metadata {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{Key: []byte(key), Value: value, Headers: headers, Time: event.Timestamp}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
