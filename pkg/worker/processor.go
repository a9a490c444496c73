// Package worker drains the check queue and drives each record to a terminal status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/checks"
	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/determination"
	"github.com/checkeligibility/platform/pkg/fingerprint"
	"github.com/checkeligibility/platform/pkg/observability/metrics"
	"github.com/checkeligibility/platform/pkg/queue"
	"gorm.io/datatypes"
)

const staleSweepLimit = 500

type Processor struct {
	repo      *checks.Repository
	cache     *fingerprint.Cache
	resolver  determination.Resolver
	queue     queue.Queue
	drainSize int
	sink      audit.Sink
	nowFunc   func() time.Time
}

func NewProcessor(repo *checks.Repository, cache *fingerprint.Cache, resolver determination.Resolver, q queue.Queue, drainSize int, sink audit.Sink) *Processor {
	if drainSize <= 0 {
		drainSize = 100
	}
	return &Processor{
		repo:      repo,
		cache:     cache,
		resolver:  resolver,
		queue:     q,
		drainSize: drainSize,
		sink:      sink,
		nowFunc:   time.Now,
	}
}

// DrainQueue pops a batch of ids and processes them one at a time in receipt order. Ids left
// unprocessed when ctx ends are pushed back.
func (p *Processor) DrainQueue(ctx context.Context, queueName string) ([]string, error) {
	ids, err := p.queue.Drain(ctx, queueName, p.drainSize)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if ctx.Err() != nil {
			p.pushBack(ctx, queueName, ids[i:])
			return ids[:i], ctx.Err()
		}
		if _, err := p.ProcessOne(ctx, id); err != nil {
			logger.Log.WithError(err).WithField("check_id", id).Error("failed to process check")
		}
	}
	return ids, nil
}

// ProcessOne claims a queued record, resolves it and writes the terminal status. A record that
// is not queued is left untouched.
func (p *Processor) ProcessOne(ctx context.Context, id string) (models.CheckStatus, error) {
	rec, err := p.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.Log.WithField("check_id", id).Warn("queued check no longer exists")
			return "", nil
		}
		return "", apperrors.Internal("load check", err)
	}
	if rec.Status != models.StatusQueued {
		logger.Log.WithFields(map[string]interface{}{
			"check_id": id,
			"status":   rec.Status,
		}).Info("check is not queued, skipping")
		return rec.Status, nil
	}

	claimed, err := p.repo.Claim(ctx, id)
	if err != nil {
		return "", apperrors.Internal("claim check", err)
	}
	if !claimed {
		logger.Log.WithField("check_id", id).Info("check claimed elsewhere, skipping")
		return "", nil
	}
	audit.Emit(ctx, p.sink, audit.Transition(string(rec.Type), id, string(models.StatusProcessing), nil))

	result, fromCache, err := p.determine(ctx, rec)
	if err != nil {
		p.release(ctx, rec)
		return models.StatusQueued, err
	}

	errMsg := ""
	if result.Status == models.StatusError {
		if reason, ok := result.Detail["reason"].(string); ok {
			errMsg = reason
		}
	}
	completed, err := p.repo.Complete(ctx, id, result.Status, result.Detail, errMsg)
	if err != nil {
		p.release(ctx, rec)
		return models.StatusQueued, apperrors.Internal("complete check", err)
	}
	if !completed {
		logger.Log.WithField("check_id", id).Warn("check changed state while processing, result discarded")
		return "", nil
	}

	if !fromCache && result.Status != models.StatusError && p.cache != nil {
		_, err := p.cache.Store(ctx, &fingerprint.CacheEntry{
			Hash:    rec.FingerprintHash,
			Type:    rec.Type,
			Status:  result.Status,
			Outcome: datatypes.JSONMap(result.Detail),
		})
		if err != nil {
			logger.Log.WithError(err).WithField("check_id", id).Warn("failed to cache determination")
		}
	}

	detail := map[string]interface{}{"cached": fromCache}
	audit.Emit(ctx, p.sink, audit.Transition(string(rec.Type), id, string(result.Status), detail))
	metrics.ObserveProcessed(result.Status, fromCache)
	logger.Log.WithFields(map[string]interface{}{
		"check_id": id,
		"type":     rec.Type,
		"status":   result.Status,
		"cached":   fromCache,
	}).Info("check processed")
	return result.Status, nil
}

// determine consults the fingerprint cache before the external source. Only a cancelled
// context is returned as an error; every other failure becomes an error outcome.
func (p *Processor) determine(ctx context.Context, rec *checks.Record) (determination.Result, bool, error) {
	if p.cache != nil {
		entry, hit, err := p.cache.Lookup(ctx, rec.FingerprintHash)
		if err != nil {
			logger.Log.WithError(err).WithField("check_id", rec.ID).Warn("fingerprint cache unavailable")
		}
		if hit && entry.Type == rec.Type {
			return determination.Result{Status: entry.Status, Detail: map[string]interface{}(entry.Outcome)}, true, nil
		}
	}

	res, err := p.resolver.Resolve(ctx, rec.Type, rec.Subject())
	if err == nil {
		return res, false, nil
	}
	if ctx.Err() != nil {
		return determination.Result{}, false, ctx.Err()
	}
	logger.Log.WithError(err).WithField("check_id", rec.ID).Warn("determination failed")
	return determination.Result{
		Status: models.StatusError,
		Detail: map[string]interface{}{"reason": err.Error()},
	}, false, nil
}

func (p *Processor) release(ctx context.Context, rec *checks.Record) {
	ctx = context.WithoutCancel(ctx)
	released, err := p.repo.Release(ctx, rec.ID)
	if err != nil {
		logger.Log.WithError(err).WithField("check_id", rec.ID).Error("failed to release claimed check")
		return
	}
	if released {
		audit.Emit(ctx, p.sink, audit.Transition(string(rec.Type), rec.ID, string(models.StatusQueued), map[string]interface{}{"released": true}))
	}
}

func (p *Processor) pushBack(ctx context.Context, queueName string, ids []string) {
	if err := p.queue.Enqueue(context.WithoutCancel(ctx), queueName, ids...); err != nil {
		logger.Log.WithError(err).WithField("count", len(ids)).Error("failed to return unprocessed ids to the queue")
	}
}

// ReleaseStale returns records stuck in processing longer than lease to the queue, and
// re-enqueues queued records whose queue message was lost.
func (p *Processor) ReleaseStale(ctx context.Context, queueName string, lease time.Duration) (int, error) {
	cutoff := p.nowFunc().Add(-lease)

	// Queued first: records released below are stamped now and must not be listed twice.
	waiting, err := p.repo.StaleIDs(ctx, models.StatusQueued, cutoff, staleSweepLimit)
	if err != nil {
		return 0, apperrors.Internal("list stale queued", err)
	}

	stuck, err := p.repo.StaleIDs(ctx, models.StatusProcessing, cutoff, staleSweepLimit)
	if err != nil {
		return 0, apperrors.Internal("list stale processing", err)
	}
	requeue := append([]string{}, waiting...)
	for _, id := range stuck {
		ok, err := p.repo.Release(ctx, id)
		if err != nil {
			return 0, apperrors.Internal("release stale check", err)
		}
		if ok {
			requeue = append(requeue, id)
		}
	}

	if len(requeue) == 0 {
		return 0, nil
	}
	if err := p.queue.Enqueue(ctx, queueName, requeue...); err != nil {
		return 0, fmt.Errorf("re-enqueue stale checks: %w", err)
	}
	// Only after a successful enqueue, so a failed sweep leaves them stale for the next one.
	if err := p.repo.Touch(ctx, models.StatusQueued, waiting); err != nil {
		return 0, apperrors.Internal("touch stale queued", err)
	}
	metrics.ObserveStaleReleased(len(requeue))
	logger.Log.WithFields(map[string]interface{}{
		"released": len(requeue) - len(waiting),
		"requeued": len(requeue),
	}).Info("stale checks returned to the queue")
	return len(requeue), nil
}
