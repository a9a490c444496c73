package checks

import (
	"context"
	"errors"
	"strings"

	"github.com/checkeligibility/platform/pkg/access"
	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/fingerprint"
	"github.com/checkeligibility/platform/pkg/observability/metrics"
)

// Enqueuer hands record ids to the worker. queue.RedisQueue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, ids ...string) error
}

// Admission charges a submission against its organization. ratelimit.Guard satisfies it.
type Admission interface {
	Admit(ctx context.Context, scope access.Scope, organizationID string, weight int) error
}

// Links renders caller-facing URLs relative to the public base URL.
type Links struct {
	BaseURL string
}

func (l Links) Check(id string) string {
	return strings.TrimRight(l.BaseURL, "/") + "/check/" + id
}

func (l Links) BatchProgress(id string) string {
	return strings.TrimRight(l.BaseURL, "/") + "/bulk-check/" + id + "/progress"
}

func (l Links) BatchResults(id string) string {
	return strings.TrimRight(l.BaseURL, "/") + "/bulk-check/" + id
}

type Service struct {
	repo      *Repository
	validator *Validator
	queue     Enqueuer
	queueName string
	admission Admission
	sink      audit.Sink
	links     Links
}

func NewService(repo *Repository, validator *Validator, queue Enqueuer, queueName string, admission Admission, sink audit.Sink, links Links) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		queue:     queue,
		queueName: queueName,
		admission: admission,
		sink:      sink,
		links:     links,
	}
}

// Submit admits, validates and stores one check, then queues it for the worker.
func (s *Service) Submit(ctx context.Context, checkType models.CheckType, subject models.Subject, scope access.Scope, requestedOrg string) (*models.CheckResponse, error) {
	orgID, ok := scope.Acting(requestedOrg)
	if !ok {
		return nil, apperrors.ErrUnauthorized
	}
	if s.admission != nil {
		if err := s.admission.Admit(ctx, scope, orgID, 1); err != nil {
			return nil, err
		}
	}

	normalized := fingerprint.Normalize(subject)
	if problems := s.validator.Validate(checkType, normalized); len(problems) > 0 {
		return nil, apperrors.NewValidation(problems[0])
	}

	rec := NewQueuedRecord(checkType, normalized, Optional(orgID))

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, apperrors.Internal("create check", err)
	}
	audit.Emit(ctx, s.sink, audit.Transition(string(checkType), rec.ID, string(models.StatusQueued), nil))
	s.enqueue(ctx, rec.ID)
	metrics.ObserveSubmitted(1, false)

	return &models.CheckResponse{
		ID:     rec.ID,
		Type:   rec.Type,
		Status: rec.Status,
		Links:  models.CheckLinks{GetCheck: s.links.Check(rec.ID)},
	}, nil
}

// Get returns the current state of a check the caller may see. Deleted checks are not found.
func (s *Service) Get(ctx context.Context, id string, scope access.Scope) (*models.CheckDetail, error) {
	rec, err := s.visible(ctx, id, scope)
	if err != nil {
		return nil, err
	}
	detail := rec.Detail()
	return &detail, nil
}

func (s *Service) Delete(ctx context.Context, id string, scope access.Scope) error {
	rec, err := s.visible(ctx, id, scope)
	if err != nil {
		return err
	}
	changed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return apperrors.Internal("delete check", err)
	}
	if !changed {
		return apperrors.ErrNotFound
	}
	audit.Emit(ctx, s.sink, audit.Transition(string(rec.Type), id, string(models.StatusDeleted), nil))
	return nil
}

// Requeue reopens a check that ended in error. Only wildcard callers may do this.
func (s *Service) Requeue(ctx context.Context, id string, scope access.Scope) (*models.CheckResponse, error) {
	if !scope.All {
		return nil, apperrors.ErrUnauthorized
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.Internal("load check", err)
	}
	if rec.Status == models.StatusDeleted {
		return nil, apperrors.ErrNotFound
	}

	changed, err := s.repo.Requeue(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("requeue check", err)
	}
	if !changed {
		return nil, apperrors.NewValidation("only checks in status error can be requeued, current status is " + string(rec.Status))
	}
	audit.Emit(ctx, s.sink, audit.Transition(string(rec.Type), id, string(models.StatusQueued), map[string]interface{}{"requeued": true}))
	s.enqueue(ctx, id)

	return &models.CheckResponse{
		ID:     id,
		Type:   rec.Type,
		Status: models.StatusQueued,
		Links:  models.CheckLinks{GetCheck: s.links.Check(id)},
	}, nil
}

func (s *Service) visible(ctx context.Context, id string, scope access.Scope) (*Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.Internal("load check", err)
	}
	if rec.Status == models.StatusDeleted {
		return nil, apperrors.ErrNotFound
	}
	if !scope.Permits(rec.OrganizationID) {
		return nil, apperrors.ErrUnauthorized
	}
	return rec, nil
}

// The record is committed; a lost enqueue is recovered by the worker's stale sweep.
func (s *Service) enqueue(ctx context.Context, ids ...string) {
	if s.queue == nil || len(ids) == 0 {
		return
	}
	if err := s.queue.Enqueue(ctx, s.queueName, ids...); err != nil {
		logger.Log.WithError(err).WithField("count", len(ids)).Error("failed to enqueue checks")
	}
}

// Optional maps the empty organization id to nil, the global owner.
func Optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
