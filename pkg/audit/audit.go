// Package audit records one entry per check state transition and per admission decision.
package audit

import (
	"context"
	"time"

	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	KindTransition = "transition"
	KindAdmission  = "admission"
)

type Entry struct {
	ID        string            `json:"id" gorm:"primaryKey;column:id;size:36"`
	Kind      string            `json:"kind" gorm:"column:kind;size:16;not null;index"`
	Type      string            `json:"type" gorm:"column:type;size:64"`
	SubjectID string            `json:"subject_id" gorm:"column:subject_id;size:128;index"`
	Outcome   string            `json:"outcome" gorm:"column:outcome;size:32"`
	Detail    datatypes.JSONMap `json:"detail,omitempty" gorm:"column:detail"`
	CreatedAt time.Time         `json:"created_at" gorm:"column:created_at;index"`
}

func (Entry) TableName() string {
	return "audit_entries"
}

type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source, subject string, data map[string]interface{}) error
}

// Recorder persists entries and, when a publisher is configured, forwards them to the bus.
// A publish failure is logged; the stored row stays authoritative.
type Recorder struct {
	db        *gorm.DB
	publisher Publisher
	source    string
}

func NewRecorder(db *gorm.DB, publisher Publisher, source string) *Recorder {
	return &Recorder{db: db, publisher: publisher, source: source}
}

func (r *Recorder) AutoMigrate() error {
	return r.db.AutoMigrate(&Entry{})
}

func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return err
	}

	if r.publisher != nil {
		data := map[string]interface{}{
			"kind":       entry.Kind,
			"type":       entry.Type,
			"subject_id": entry.SubjectID,
			"outcome":    entry.Outcome,
			"detail":     map[string]interface{}(entry.Detail),
		}
		if err := r.publisher.PublishEvent(ctx, "audit."+entry.Kind, r.source, entry.SubjectID, data); err != nil {
			logger.Log.WithError(err).WithField("audit_id", entry.ID).Warn("failed to publish audit entry")
		}
	}
	return nil
}

// List returns the entries recorded for one subject, oldest first.
func (r *Recorder) List(ctx context.Context, subjectID string) ([]Entry, error) {
	var entries []Entry
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at ASC").Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// Transition builds the entry for a check status change.
func Transition(checkType, checkID, status string, detail map[string]interface{}) Entry {
	return Entry{Kind: KindTransition, Type: checkType, SubjectID: checkID, Outcome: status, Detail: detail}
}

// Admission builds the entry for a rate limiter decision.
func Admission(policy, partition string, accepted bool, weight int) Entry {
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	return Entry{
		Kind:      KindAdmission,
		Type:      policy,
		SubjectID: partition,
		Outcome:   outcome,
		Detail:    datatypes.JSONMap{"weight": weight},
	}
}

// Emit records entry and logs instead of failing: the audited change is already committed.
func Emit(ctx context.Context, sink Sink, entry Entry) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, entry); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"kind":       entry.Kind,
			"subject_id": entry.SubjectID,
			"outcome":    entry.Outcome,
		}).Error("failed to record audit entry")
	}
}
