// Package bulk accepts batches of checks and reports their progress and results.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/checkeligibility/platform/pkg/access"
	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/checks"
	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/fingerprint"
	"github.com/checkeligibility/platform/pkg/observability/metrics"
	"github.com/google/uuid"
)

type SubmitRequest struct {
	Type           models.CheckType
	Records        []models.Subject
	OrganizationID string
	SubmittedBy    string
	Filename       string
}

type Orchestrator struct {
	repo      *checks.Repository
	validator *checks.Validator
	queue     checks.Enqueuer
	queueName string
	admission checks.Admission
	sink      audit.Sink
	links     checks.Links
	nowFunc   func() time.Time
}

func NewOrchestrator(repo *checks.Repository, validator *checks.Validator, queue checks.Enqueuer, queueName string, admission checks.Admission, sink audit.Sink, links checks.Links) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		validator: validator,
		queue:     queue,
		queueName: queueName,
		admission: admission,
		sink:      sink,
		links:     links,
		nowFunc:   time.Now,
	}
}

// Submit creates the batch header and one queued record per row in a single transaction.
// Any invalid row rejects the whole batch. Every call mints a new batch id.
func (o *Orchestrator) Submit(ctx context.Context, scope access.Scope, req SubmitRequest, limit int) (*models.BatchSubmission, error) {
	orgID, ok := scope.Acting(req.OrganizationID)
	if !ok {
		return nil, apperrors.ErrUnauthorized
	}
	switch {
	case len(req.Records) == 0:
		return nil, apperrors.NewValidation("no records submitted")
	case limit > 0 && len(req.Records) > limit:
		return nil, apperrors.NewValidation(fmt.Sprintf("%d records submitted, the limit is %d", len(req.Records), limit))
	}
	if o.admission != nil {
		if err := o.admission.Admit(ctx, scope, orgID, len(req.Records)); err != nil {
			return nil, err
		}
	}

	owner := checks.Optional(orgID)
	records := make([]*checks.Record, 0, len(req.Records))
	var problems []string
	for i, raw := range req.Records {
		row := i + 1
		subject := fingerprint.Normalize(raw)
		for _, p := range o.validator.Validate(req.Type, subject) {
			problems = append(problems, fmt.Sprintf("Row %d: %s", row, p))
		}
		rec := checks.NewQueuedRecord(req.Type, subject, owner)
		rec.RowNumber = row
		records = append(records, rec)
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidation(problems...)
	}

	batch := &checks.Batch{
		ID:             uuid.New().String(),
		Type:           req.Type,
		Filename:       req.Filename,
		SubmittedAt:    o.nowFunc().UTC().Truncate(time.Microsecond),
		SubmittedBy:    req.SubmittedBy,
		OrganizationID: owner,
		RecordCount:    len(records),
	}
	if err := o.repo.CreateBatch(ctx, batch, records); err != nil {
		return nil, apperrors.Internal("create batch", err)
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		audit.Emit(ctx, o.sink, audit.Transition(string(req.Type), rec.ID, string(models.StatusQueued), map[string]interface{}{"batch_id": batch.ID}))
	}
	if o.queue != nil {
		if err := o.queue.Enqueue(ctx, o.queueName, ids...); err != nil {
			logger.Log.WithError(err).WithField("batch_id", batch.ID).Error("failed to enqueue batch records")
		}
	}

	metrics.ObserveSubmitted(len(records), true)

	logger.Log.WithFields(map[string]interface{}{
		"batch_id":     batch.ID,
		"type":         batch.Type,
		"record_count": batch.RecordCount,
	}).Info("bulk check submitted")

	return &models.BatchSubmission{
		ID:          batch.ID,
		RecordCount: batch.RecordCount,
		Links: models.BatchLinks{
			GetProgress: o.links.BatchProgress(batch.ID),
			GetResults:  o.links.BatchResults(batch.ID),
		},
	}, nil
}

// Progress counts children in any terminal state, deleted ones included.
func (o *Orchestrator) Progress(ctx context.Context, batchID string) (*models.BatchProgress, error) {
	batch, err := o.batch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	complete, err := o.repo.CountComplete(ctx, batchID)
	if err != nil {
		return nil, apperrors.Internal("count complete", err)
	}
	if complete > batch.RecordCount {
		complete = batch.RecordCount
	}
	return &models.BatchProgress{Total: batch.RecordCount, Complete: complete}, nil
}

// Results lists the live children in row order.
func (o *Orchestrator) Results(ctx context.Context, batchID string, scope access.Scope) ([]models.CheckOutcome, error) {
	if _, err := o.authorized(ctx, batchID, scope); err != nil {
		return nil, err
	}
	records, err := o.repo.BatchRecords(ctx, batchID)
	if err != nil {
		return nil, apperrors.Internal("load batch records", err)
	}
	out := make([]models.CheckOutcome, 0, len(records))
	for i := range records {
		out = append(out, records[i].OutcomeRow())
	}
	return out, nil
}

// Delete marks the batch and its live children deleted and returns how many children changed.
func (o *Orchestrator) Delete(ctx context.Context, batchID string, scope access.Scope) (int, error) {
	batch, err := o.authorized(ctx, batchID, scope)
	if err != nil {
		return 0, err
	}
	ids, err := o.repo.DeleteBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, err
		}
		return 0, apperrors.Internal("delete batch", err)
	}
	for _, id := range ids {
		audit.Emit(ctx, o.sink, audit.Transition(string(batch.Type), id, string(models.StatusDeleted), map[string]interface{}{"batch_id": batchID}))
	}
	return len(ids), nil
}

// ListForOrganizations merges the batches of every organization in scope, newest first.
func (o *Orchestrator) ListForOrganizations(ctx context.Context, scope access.Scope) ([]models.BatchSummary, error) {
	var batches []checks.Batch
	if scope.All {
		all, err := o.repo.ListBatches(ctx, nil)
		if err != nil {
			return nil, apperrors.Internal("list batches", err)
		}
		batches = all
	} else {
		seen := make(map[string]struct{})
		for _, org := range scope.Organizations {
			org := org
			found, err := o.repo.ListBatches(ctx, &org)
			if err != nil {
				return nil, apperrors.Internal("list batches", err)
			}
			for _, b := range found {
				if _, dup := seen[b.ID]; dup {
					continue
				}
				seen[b.ID] = struct{}{}
				batches = append(batches, b)
			}
		}
	}
	sort.SliceStable(batches, func(i, j int) bool {
		if !batches[i].SubmittedAt.Equal(batches[j].SubmittedAt) {
			return batches[i].SubmittedAt.After(batches[j].SubmittedAt)
		}
		return batches[i].ID < batches[j].ID
	})

	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	counts, err := o.repo.CountCompleteByBatch(ctx, ids)
	if err != nil {
		return nil, apperrors.Internal("count complete", err)
	}

	out := make([]models.BatchSummary, 0, len(batches))
	for _, b := range batches {
		out = append(out, summarize(b, counts[b.ID]))
	}
	return out, nil
}

func summarize(b checks.Batch, complete int) models.BatchSummary {
	s := models.BatchSummary{
		ID:          b.ID,
		Type:        b.Type,
		Filename:    b.Filename,
		SubmittedAt: b.SubmittedAt,
		SubmittedBy: b.SubmittedBy,
		RecordCount: b.RecordCount,
		Complete:    complete,
		Status:      models.BatchInProgress,
	}
	if b.OrganizationID != nil {
		s.OrganizationID = *b.OrganizationID
	}
	if complete >= b.RecordCount {
		s.Complete = b.RecordCount
		s.Status = models.BatchCompleted
	}
	return s
}

func (o *Orchestrator) batch(ctx context.Context, batchID string) (*checks.Batch, error) {
	batch, err := o.repo.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.Internal("load batch", err)
	}
	return batch, nil
}

func (o *Orchestrator) authorized(ctx context.Context, batchID string, scope access.Scope) (*checks.Batch, error) {
	batch, err := o.batch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !scope.Permits(batch.OrganizationID) {
		return nil, apperrors.ErrUnauthorized
	}
	return batch, nil
}
