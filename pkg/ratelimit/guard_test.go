package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/checkeligibility/platform/pkg/access"
	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/logger"
)

type stubAdmitter struct {
	accept bool
	err    error
	calls  []string
}

func (s *stubAdmitter) Admit(_ context.Context, partitionKey string, _ int, _ time.Duration, _ int) (bool, error) {
	s.calls = append(s.calls, partitionKey)
	return s.accept, s.err
}

type memorySink struct {
	entries []audit.Entry
}

func (m *memorySink) Record(_ context.Context, e audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

var bulkPolicy = Policy{Name: "bulk", Limit: 10, Window: time.Hour}

func TestGuardRejectsWithRetryAfterWindow(t *testing.T) {
	logger.Discard()
	sink := &memorySink{}
	guard := NewGuard(&stubAdmitter{accept: false}, bulkPolicy, sink, false)

	err := guard.Admit(context.Background(), access.Parse("101"), "101", 3)
	rl, ok := apperrors.AsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if rl.RetryAfter != time.Hour || rl.Partition != "bulk:101" {
		t.Fatalf("unexpected rejection %+v", rl)
	}
	if len(sink.entries) != 1 || sink.entries[0].Outcome != "rejected" || sink.entries[0].SubjectID != "bulk:101" {
		t.Fatalf("expected one rejected audit entry, got %+v", sink.entries)
	}
}

func TestGuardAuditsAcceptedAdmission(t *testing.T) {
	sink := &memorySink{}
	guard := NewGuard(&stubAdmitter{accept: true}, bulkPolicy, sink, false)

	if err := guard.Admit(context.Background(), access.Parse("101"), "101", 1); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if len(sink.entries) != 1 || sink.entries[0].Outcome != "accepted" {
		t.Fatalf("expected one accepted audit entry, got %+v", sink.entries)
	}
}

func TestGuardBypassesWildcardScope(t *testing.T) {
	admitter := &stubAdmitter{accept: false}
	sink := &memorySink{}
	guard := NewGuard(admitter, bulkPolicy, sink, false)

	if err := guard.Admit(context.Background(), access.Parse("all"), "", 500); err != nil {
		t.Fatalf("wildcard must bypass the limiter: %v", err)
	}
	if len(admitter.calls) != 0 || len(sink.entries) != 0 {
		t.Fatalf("limiter should not be consulted, calls=%v audit=%v", admitter.calls, sink.entries)
	}
}

func TestGuardStoreFailure(t *testing.T) {
	logger.Discard()
	storeErr := errors.New("connection refused")

	closed := NewGuard(&stubAdmitter{err: storeErr}, bulkPolicy, nil, false)
	err := closed.Admit(context.Background(), access.Parse("101"), "101", 1)
	if !apperrors.IsInternal(err) || !errors.Is(err, storeErr) {
		t.Fatalf("expected internal error wrapping store failure, got %v", err)
	}

	sink := &memorySink{}
	open := NewGuard(&stubAdmitter{err: storeErr}, bulkPolicy, sink, true)
	if err := open.Admit(context.Background(), access.Parse("101"), "101", 1); err != nil {
		t.Fatalf("fail-open guard should admit, got %v", err)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("expected one audit entry for the fail-open admission, got %+v", sink.entries)
	}
	entry := sink.entries[0]
	if entry.Outcome != "accepted" || entry.SubjectID != "bulk:101" || entry.Detail["fail_open"] != true {
		t.Fatalf("unexpected fail-open audit entry %+v", entry)
	}
}
