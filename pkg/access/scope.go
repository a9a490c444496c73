// Package access models the organization scope a caller is allowed to act for.
// Token validation happens upstream; this package only consumes its outcome.
package access

import (
	"context"
	"sort"
	"strings"
)

const Wildcard = "all"

type Scope struct {
	All           bool
	Organizations []string
}

// Parse reads a comma separated organization list; "all" grants the wildcard.
func Parse(raw string) Scope {
	seen := map[string]struct{}{}
	var s Scope
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if strings.EqualFold(id, Wildcard) {
			s.All = true
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s.Organizations = append(s.Organizations, id)
	}
	sort.Strings(s.Organizations)
	return s
}

func (s Scope) Empty() bool {
	return !s.All && len(s.Organizations) == 0
}

func (s Scope) Has(orgID string) bool {
	for _, id := range s.Organizations {
		if id == orgID {
			return true
		}
	}
	return false
}

// Permits applies the ownership rule: resources without an owner are visible to every caller.
func (s Scope) Permits(owner *string) bool {
	if s.All || owner == nil {
		return true
	}
	return s.Has(*owner)
}

// Acting resolves the organization a submission is charged to. The wildcard acts globally
// and returns ok with an empty id unless an explicit, permitted organization is requested.
func (s Scope) Acting(requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		if s.All || s.Has(requested) {
			return requested, true
		}
		return "", false
	}
	if s.All {
		return "", true
	}
	if len(s.Organizations) == 1 {
		return s.Organizations[0], true
	}
	return "", false
}

type contextKey struct{}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) Scope {
	s, _ := ctx.Value(contextKey{}).(Scope)
	return s
}

const (
	ScopeHeader        = "X-Organization-Scope"
	OrganizationHeader = "X-Organization-Id"
)
