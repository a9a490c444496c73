package checks

import (
	"context"
	"errors"
	"time"

	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const insertBatchSize = 100

// Repository is the check record store. Every status change is a conditional update on the
// current status, so concurrent writers cannot move a record along an illegal edge.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Batch{}, &Record{})
}

func (r *Repository) Create(ctx context.Context, rec *Record) error {
	now := now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return r.db.WithContext(ctx).Omit("Batch").Create(rec).Error
}

// CreateBatch writes the header and all children in one transaction.
func (r *Repository) CreateBatch(ctx context.Context, batch *Batch, records []*Record) error {
	now := now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		for _, rec := range records {
			rec.BatchID = &batch.ID
			rec.CreatedAt = now
			rec.UpdatedAt = now
		}
		return tx.Omit("Batch").CreateInBatches(records, insertBatchSize).Error
	})
}

func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rec, nil
}

// Claim moves a queued record to processing. false means another worker owns it or it is
// no longer queued.
func (r *Repository) Claim(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, []models.CheckStatus{models.StatusQueued}, models.StatusProcessing, nil)
}

// Complete records the terminal outcome of a claimed record.
func (r *Repository) Complete(ctx context.Context, id string, status models.CheckStatus, outcome map[string]interface{}, errMsg string) (bool, error) {
	if !status.IsOutcome() {
		return false, errors.New("complete requires an outcome status, got " + string(status))
	}
	updates := map[string]interface{}{"error": errMsg}
	if outcome != nil {
		updates["outcome"] = datatypes.JSONMap(outcome)
	}
	return r.transition(ctx, id, []models.CheckStatus{models.StatusProcessing}, status, updates)
}

// Release hands a claimed record back to the queue after a worker-side failure.
func (r *Repository) Release(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, []models.CheckStatus{models.StatusProcessing}, models.StatusQueued, nil)
}

// Requeue reopens a record that ended in error so the worker step can run again.
func (r *Repository) Requeue(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, []models.CheckStatus{models.StatusError}, models.StatusQueued,
		map[string]interface{}{"error": "", "outcome": nil})
}

// Delete soft-deletes one record from any non-deleted state.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, notDeleted(), models.StatusDeleted, nil)
}

func (r *Repository) transition(ctx context.Context, id string, from []models.CheckStatus, to models.CheckStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetBatch returns the batch header; deleted batches are reported as not found.
func (r *Repository) GetBatch(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	result := r.db.WithContext(ctx).First(&batch, "id = ? AND deleted_at IS NULL", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &batch, nil
}

// CountComplete counts children of a batch in any terminal state, deleted included.
func (r *Repository) CountComplete(ctx context.Context, batchID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Record{}).
		Where("batch_id = ? AND status IN ?", batchID, models.TerminalStatuses()).
		Count(&n).Error
	return int(n), err
}

// CountCompleteByBatch is CountComplete for many batches in one query.
func (r *Repository) CountCompleteByBatch(ctx context.Context, batchIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(batchIDs))
	if len(batchIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		BatchID string
		N       int
	}
	err := r.db.WithContext(ctx).Model(&Record{}).
		Select("batch_id, COUNT(*) AS n").
		Where("batch_id IN ? AND status IN ?", batchIDs, models.TerminalStatuses()).
		Group("batch_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.BatchID] = row.N
	}
	return counts, nil
}

// BatchRecords lists the non-deleted children of a batch in submission order.
func (r *Repository) BatchRecords(ctx context.Context, batchID string) ([]Record, error) {
	var records []Record
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND status <> ?", batchID, models.StatusDeleted).
		Order("row_num ASC").Order("id ASC").
		Find(&records).Error
	return records, err
}

// DeleteBatch marks the batch deleted and soft-deletes its remaining children, returning
// the ids that actually changed state.
func (r *Repository) DeleteBatch(ctx context.Context, batchID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stamp := now()
		result := tx.Model(&Batch{}).
			Where("id = ? AND deleted_at IS NULL", batchID).
			Update("deleted_at", stamp)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}

		if err := tx.Model(&Record{}).
			Where("batch_id = ? AND status <> ?", batchID, models.StatusDeleted).
			Order("row_num ASC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&Record{}).
			Where("id IN ? AND status <> ?", ids, models.StatusDeleted).
			Updates(map[string]interface{}{"status": models.StatusDeleted, "updated_at": stamp}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListBatches returns live batches newest first. A nil organization lists every batch.
func (r *Repository) ListBatches(ctx context.Context, organizationID *string) ([]Batch, error) {
	q := r.db.WithContext(ctx).Where("deleted_at IS NULL")
	if organizationID != nil {
		q = q.Where("organization_id = ?", *organizationID)
	}
	var batches []Batch
	err := q.Order("submitted_at DESC").Order("id ASC").Find(&batches).Error
	return batches, err
}

// StaleIDs lists records left in status since before cutoff.
func (r *Repository) StaleIDs(ctx context.Context, status models.CheckStatus, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	q := r.db.WithContext(ctx).Model(&Record{}).
		Where("status = ? AND updated_at < ?", status, cutoff.UTC()).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

// Touch refreshes updated_at on records still in status, so a sweep does not pick them up again
// before the next lease expires.
func (r *Repository) Touch(ctx context.Context, status models.CheckStatus, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&Record{}).
		Where("id IN ? AND status = ?", ids, status).
		Update("updated_at", now()).Error
}

func notDeleted() []models.CheckStatus {
	return []models.CheckStatus{
		models.StatusQueued,
		models.StatusProcessing,
		models.StatusEligible,
		models.StatusNotEligible,
		models.StatusParentNotFound,
		models.StatusError,
		models.StatusNotFound,
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
