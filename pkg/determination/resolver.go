// Package determination resolves one check against the external source for its type.
package determination

import (
	"context"
	"errors"
	"fmt"

	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/models"
)

var ErrNoResolver = errors.New("no resolver registered for check type")

// Result is the outcome of one lookup. Status is always an outcome status.
type Result struct {
	Status models.CheckStatus
	Detail map[string]interface{}
}

// Resolver reports expected negative answers as a Result and returns an error only when the
// source could not be reached.
type Resolver interface {
	Resolve(ctx context.Context, checkType models.CheckType, subject models.Subject) (Result, error)
}

// Registry maps each check type to its resolver. It is built once at startup and read-only after.
type Registry struct {
	resolvers map[models.CheckType]Resolver
}

func NewRegistry(resolvers map[models.CheckType]Resolver) *Registry {
	copied := make(map[models.CheckType]Resolver, len(resolvers))
	for t, r := range resolvers {
		copied[t] = r
	}
	return &Registry{resolvers: copied}
}

func (r *Registry) Lookup(checkType models.CheckType) (Resolver, bool) {
	resolver, ok := r.resolvers[checkType]
	return resolver, ok
}

// Resolve dispatches to the resolver for checkType.
func (r *Registry) Resolve(ctx context.Context, checkType models.CheckType, subject models.Subject) (Result, error) {
	resolver, ok := r.Lookup(checkType)
	if !ok {
		return Result{}, &apperrors.GatewayError{Source: string(checkType), Err: ErrNoResolver}
	}
	res, err := resolver.Resolve(ctx, checkType, subject)
	if err != nil {
		return Result{}, err
	}
	if !res.Status.IsOutcome() {
		return Result{}, &apperrors.GatewayError{
			Source: string(checkType),
			Err:    fmt.Errorf("resolver returned non-outcome status %q", res.Status),
		}
	}
	return res, nil
}

// Static answers every lookup with a fixed status. Used for unconfigured sources and local runs.
type Static struct {
	Status models.CheckStatus
	Reason string
}

func (s Static) Resolve(_ context.Context, _ models.CheckType, _ models.Subject) (Result, error) {
	res := Result{Status: s.Status}
	if s.Reason != "" {
		res.Detail = map[string]interface{}{"reason": s.Reason}
	}
	return res, nil
}
