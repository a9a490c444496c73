package checks

import (
	"context"
	"sync"
	"testing"

	"github.com/checkeligibility/platform/pkg/access"
	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/common/database/testdb"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
)

func newRepoForTest(t *testing.T) *Repository {
	t.Helper()
	logger.Discard()
	return NewRepository(testdb.Open(t, &Batch{}, &Record{}))
}

func validSubject() models.Subject {
	return models.Subject{
		LastName:                "Simpson",
		DateOfBirth:             "2015-04-01",
		NationalInsuranceNumber: "ab 12 34 56 c",
	}
}

type memoryQueue struct {
	mu  sync.Mutex
	ids map[string][]string
	err error
}

func (q *memoryQueue) Enqueue(_ context.Context, name string, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.ids == nil {
		q.ids = map[string][]string{}
	}
	q.ids[name] = append(q.ids[name], ids...)
	return nil
}

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memorySink) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

type stubAdmission struct {
	err    error
	orgs   []string
	weight int
}

func (s *stubAdmission) Admit(_ context.Context, _ access.Scope, organizationID string, weight int) error {
	s.orgs = append(s.orgs, organizationID)
	s.weight += weight
	return s.err
}
