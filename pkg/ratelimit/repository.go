package ratelimit

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// EventStore is the persistence the two-phase limiter needs.
type EventStore interface {
	Insert(ctx context.Context, event *Event) error
	SumAccepted(ctx context.Context, partitionKey string, since time.Time) (int, error)
	Reject(ctx context.Context, id string) error
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Event{})
}

func (r *Repository) Insert(ctx context.Context, event *Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// SumAccepted totals accepted weight in partitionKey at or after since. Events stamped later
// than the caller's own belong to concurrent admissions and are counted too.
func (r *Repository) SumAccepted(ctx context.Context, partitionKey string, since time.Time) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&Event{}).
		Select("COALESCE(SUM(weight), 0)").
		Where("partition_key = ? AND accepted = ? AND occurred_at >= ?", partitionKey, true, since.UTC()).
		Scan(&total).Error
	return int(total), err
}

func (r *Repository) Reject(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Event{}).
		Where("id = ? AND accepted = ?", id, true).
		Update("accepted", false).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*Event, error) {
	var event Event
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// PurgeBefore deletes events older than cutoff and returns how many were removed.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("occurred_at < ?", cutoff.UTC()).
		Delete(&Event{})
	return result.RowsAffected, result.Error
}
