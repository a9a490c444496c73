package ratelimit

import "time"

// Event is one admission attempt against a partition. Accepted starts true and is flipped at
// most once, by the same request that wrote it.
type Event struct {
	ID           string    `json:"id" gorm:"primaryKey;column:id;size:36"`
	PartitionKey string    `json:"partition_key" gorm:"column:partition_key;size:160;not null;index:idx_rate_limit_window,priority:1"`
	OccurredAt   time.Time `json:"occurred_at" gorm:"column:occurred_at;not null;index:idx_rate_limit_window,priority:2"`
	Weight       int       `json:"weight" gorm:"column:weight;not null"`
	Accepted     bool      `json:"accepted" gorm:"column:accepted;not null"`
}

func (Event) TableName() string {
	return "rate_limit_events"
}
