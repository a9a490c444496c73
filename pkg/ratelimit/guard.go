package ratelimit

import (
	"context"
	"time"

	"github.com/checkeligibility/platform/pkg/access"
	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/observability/metrics"
)

type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// PartitionKey charges one organization under one policy.
func (p Policy) PartitionKey(organizationID string) string {
	return p.Name + ":" + organizationID
}

// Guard applies a policy on behalf of the submission paths.
type Guard struct {
	limiter  Admitter
	policy   Policy
	sink     audit.Sink
	failOpen bool
}

func NewGuard(limiter Admitter, policy Policy, sink audit.Sink, failOpen bool) *Guard {
	return &Guard{limiter: limiter, policy: policy, sink: sink, failOpen: failOpen}
}

func (g *Guard) Policy() Policy {
	return g.policy
}

// Admit charges weight to organizationID. Wildcard callers have no partition and pass straight
// through. A store failure is returned as an internal error unless fail-open was configured.
func (g *Guard) Admit(ctx context.Context, scope access.Scope, organizationID string, weight int) error {
	if scope.All {
		return nil
	}
	partition := g.policy.PartitionKey(organizationID)

	accepted, err := g.limiter.Admit(ctx, partition, weight, g.policy.Window, g.policy.Limit)
	if err != nil {
		if g.failOpen {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"policy":    g.policy.Name,
				"partition": partition,
				"weight":    weight,
			}).Warn("rate limiter unavailable, admitting request (fail-open)")
			entry := audit.Admission(g.policy.Name, partition, true, weight)
			entry.Detail["fail_open"] = true
			audit.Emit(ctx, g.sink, entry)
			metrics.ObserveAdmission(true)
			return nil
		}
		return apperrors.Internal("rate limit", err)
	}

	audit.Emit(ctx, g.sink, audit.Admission(g.policy.Name, partition, accepted, weight))
	metrics.ObserveAdmission(accepted)
	if !accepted {
		logger.Log.WithFields(map[string]interface{}{
			"policy":    g.policy.Name,
			"partition": partition,
			"weight":    weight,
		}).Info("admission rejected")
		return apperrors.RateLimitedError{Partition: partition, RetryAfter: g.policy.Window}
	}
	return nil
}
