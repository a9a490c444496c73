package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/checkeligibility/platform/pkg/access"
	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/checks"
	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/database/testdb"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/determination"
	"github.com/checkeligibility/platform/pkg/fingerprint"
	"github.com/checkeligibility/platform/pkg/queue"
	"github.com/redis/go-redis/v9"
)

const queueName = "checks"

type fakeResolver struct {
	mu     sync.Mutex
	calls  map[string]int
	result determination.Result
	err    error
	hook   func(ctx context.Context, subject models.Subject)
}

func (f *fakeResolver) Resolve(ctx context.Context, _ models.CheckType, subject models.Subject) (determination.Result, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[subject.LastName]++
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(ctx, subject)
	}
	return f.result, f.err
}

func (f *fakeResolver) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditLog) Record(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

type fixture struct {
	processor *Processor
	repo      *checks.Repository
	cache     *fingerprint.Cache
	queue     *queue.RedisQueue
	resolver  *fakeResolver
	service   *checks.Service
	audit     *auditLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger.Discard()
	db := testdb.Open(t, &checks.Batch{}, &checks.Record{}, &fingerprint.CacheEntry{})
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		repo:     checks.NewRepository(db),
		cache:    fingerprint.NewCache(db, time.Hour),
		queue:    queue.NewRedisQueue(client, "test"),
		resolver: &fakeResolver{result: determination.Result{Status: models.StatusEligible, Detail: map[string]interface{}{"benefit": "UC"}}},
		audit:    &auditLog{},
	}
	f.processor = NewProcessor(f.repo, f.cache, f.resolver, f.queue, 50, f.audit)
	f.service = checks.NewService(f.repo, checks.NewValidator(), f.queue, queueName, nil, f.audit, checks.Links{})
	return f
}

func (f *fixture) submit(t *testing.T, lastName string) string {
	t.Helper()
	resp, err := f.service.Submit(context.Background(), models.FreeSchoolMeals, models.Subject{
		LastName:                lastName,
		DateOfBirth:             "2016-09-01",
		NationalInsuranceNumber: "AB123456C",
	}, access.Parse("all"), "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return resp.ID
}

func (f *fixture) status(t *testing.T, id string) *checks.Record {
	t.Helper()
	rec, err := f.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return rec
}

func TestProcessOneReachesSingleTerminalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "Simpson")

	status, err := f.processor.ProcessOne(ctx, id)
	if err != nil || status != models.StatusEligible {
		t.Fatalf("process: status=%s err=%v", status, err)
	}
	first := f.status(t, id)
	if first.Status != models.StatusEligible || first.Outcome["benefit"] != "UC" {
		t.Fatalf("unexpected record %+v", first)
	}

	status, err = f.processor.ProcessOne(ctx, id)
	if err != nil || status != models.StatusEligible {
		t.Fatalf("reprocess: status=%s err=%v", status, err)
	}
	second := f.status(t, id)
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("terminal record must not be touched: %v != %v", second.UpdatedAt, first.UpdatedAt)
	}
	if f.resolver.total() != 1 {
		t.Fatalf("expected one resolver call, got %d", f.resolver.total())
	}
	if n, _ := f.cache.Count(ctx, first.FingerprintHash); n != 1 {
		t.Fatalf("expected outcome cached, got %d entries", n)
	}
}

func TestCachedOutcomeStillFlowsThroughWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	subject := models.Subject{LastName: "Simpson", DateOfBirth: "2016-09-01", NationalInsuranceNumber: "AB123456C"}
	if _, err := f.cache.Store(ctx, &fingerprint.CacheEntry{
		Hash:   fingerprint.Compute(models.FreeSchoolMeals, subject),
		Type:   models.FreeSchoolMeals,
		Status: models.StatusEligible,
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	id := f.submit(t, " simpson ")
	if rec := f.status(t, id); rec.Status != models.StatusQueued {
		t.Fatalf("new check must start queued, got %s", rec.Status)
	}

	drained, err := f.processor.DrainQueue(ctx, queueName)
	if err != nil || len(drained) != 1 || drained[0] != id {
		t.Fatalf("drain: %v err=%v", drained, err)
	}
	if rec := f.status(t, id); rec.Status != models.StatusEligible {
		t.Fatalf("expected eligible from cache, got %s", rec.Status)
	}
	if f.resolver.total() != 0 {
		t.Fatalf("cache hit must skip the external call")
	}
	if n, _ := f.cache.Count(ctx, f.status(t, id).FingerprintHash); n != 1 {
		t.Fatalf("expected a single cache entry, got %d", n)
	}

	var seen []string
	for _, e := range f.audit.entries {
		if e.SubjectID == id {
			seen = append(seen, e.Outcome)
		}
	}
	want := []string{"queued", "processing", "eligible"}
	if len(seen) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, seen)
		}
	}
}

func TestGatewayFailureEndsInErrorWithoutRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.resolver.err = &apperrors.GatewayError{Source: "fsm", Err: errors.New("connection reset")}
	id := f.submit(t, "Flanders")

	status, err := f.processor.ProcessOne(ctx, id)
	if err != nil || status != models.StatusError {
		t.Fatalf("expected error outcome, status=%s err=%v", status, err)
	}
	rec := f.status(t, id)
	if rec.Status != models.StatusError || rec.Error == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if n, _ := f.cache.Count(ctx, rec.FingerprintHash); n != 0 {
		t.Fatalf("errors must not be cached")
	}
	if n, _ := f.queue.Len(ctx, queueName); n != 1 {
		t.Fatalf("errored check must not be re-enqueued automatically, queue holds %d", n)
	}

	f.resolver.err = nil
	handler := RequeueHandler(f.repo, f.queue, queueName, f.audit)
	if err := handler(ctx, models.Event{ID: "evt-1", Type: EventCheckRequeue, Data: map[string]interface{}{"check_id": id}}); err != nil {
		t.Fatalf("requeue handler: %v", err)
	}
	drained, _ := f.processor.DrainQueue(ctx, queueName)
	if len(drained) != 2 {
		t.Fatalf("expected original and requeued ids, got %v", drained)
	}
	if rec := f.status(t, id); rec.Status != models.StatusEligible {
		t.Fatalf("expected eligible after requeue, got %s", rec.Status)
	}
}

func TestNotFoundOutcomeIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.resolver.result = determination.Result{Status: models.StatusParentNotFound}
	id := f.submit(t, "Lovejoy")

	if status, err := f.processor.ProcessOne(context.Background(), id); err != nil || status != models.StatusParentNotFound {
		t.Fatalf("status=%s err=%v", status, err)
	}
}

func TestCancelledResolveReleasesClaim(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "Skinner")

	ctx, cancel := context.WithCancel(context.Background())
	f.resolver.hook = func(context.Context, models.Subject) { cancel() }
	f.resolver.err = context.Canceled

	if _, err := f.processor.ProcessOne(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if rec := f.status(t, id); rec.Status != models.StatusQueued {
		t.Fatalf("expected claim released to queued, got %s", rec.Status)
	}
}

func TestDeletedDuringProcessingStaysDeleted(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "Krabappel")
	f.resolver.hook = func(ctx context.Context, _ models.Subject) {
		_, _ = f.repo.Delete(ctx, id)
	}

	if _, err := f.processor.ProcessOne(context.Background(), id); err != nil {
		t.Fatalf("process: %v", err)
	}
	if rec := f.status(t, id); rec.Status != models.StatusDeleted {
		t.Fatalf("expected deleted to win, got %s", rec.Status)
	}
}

func TestConcurrentDrainsResolveEachCheckOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	names := []string{"Simpson", "Flanders", "Lovejoy", "Skinner", "Wiggum", "Krabappel"}
	var ids []string
	for _, n := range names {
		ids = append(ids, f.submit(t, n))
	}
	// Duplicate delivery of every id.
	if err := f.queue.Enqueue(ctx, queueName, ids...); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				drained, err := f.processor.DrainQueue(ctx, queueName)
				if err != nil {
					t.Errorf("drain: %v", err)
					return
				}
				if len(drained) == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, n := range names {
		// The resolver sees the normalised subject.
		if c := f.resolver.calls[strings.ToUpper(n)]; c != 1 {
			t.Fatalf("%s resolved %d times", n, c)
		}
	}
	for _, id := range ids {
		if rec := f.status(t, id); rec.Status != models.StatusEligible {
			t.Fatalf("expected eligible, got %s", rec.Status)
		}
	}
}

func TestDrainReturnsUnprocessedIdsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "Simpson")
	f.submit(t, "Flanders")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.processor.DrainQueue(ctx, queueName); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if n, _ := f.queue.Len(context.Background(), queueName); n != 2 {
		t.Fatalf("expected both ids back on the queue, got %d", n)
	}
}

func TestReleaseStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stuck := f.submit(t, "Simpson")
	f.submit(t, "Flanders")
	_, _ = f.queue.Drain(ctx, queueName, 10)
	if ok, _ := f.repo.Claim(ctx, stuck); !ok {
		t.Fatalf("claim failed")
	}

	if n, err := f.processor.ReleaseStale(ctx, queueName, 10*time.Minute); err != nil || n != 0 {
		t.Fatalf("nothing is stale yet, n=%d err=%v", n, err)
	}

	f.processor.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := f.processor.ReleaseStale(ctx, queueName, 10*time.Minute)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 ids returned to the queue, n=%d err=%v", n, err)
	}
	if rec := f.status(t, stuck); rec.Status != models.StatusQueued {
		t.Fatalf("expected stuck check released, got %s", rec.Status)
	}
	drained, _ := f.processor.DrainQueue(ctx, queueName)
	if len(drained) != 2 {
		t.Fatalf("expected both checks drained, got %v", drained)
	}
}

type failingEnqueue struct {
	queue.Queue
}

func (failingEnqueue) Enqueue(context.Context, string, ...string) error {
	return errors.New("redis unavailable")
}

func TestReleaseStaleKeepsQueuedChecksStaleWhenEnqueueFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "Flanders")
	_, _ = f.queue.Drain(ctx, queueName, 10)
	before := f.status(t, id)

	broken := NewProcessor(f.repo, f.cache, f.resolver, failingEnqueue{Queue: f.queue}, 50, f.audit)
	broken.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := broken.ReleaseStale(ctx, queueName, 10*time.Minute); err == nil {
		t.Fatal("expected enqueue failure to surface")
	}
	if after := f.status(t, id); !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("failed sweep must not refresh the check: %v != %v", after.UpdatedAt, before.UpdatedAt)
	}

	f.processor.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	if n, err := f.processor.ReleaseStale(ctx, queueName, 10*time.Minute); err != nil || n != 1 {
		t.Fatalf("expected the check to be swept again, n=%d err=%v", n, err)
	}
	if n, _ := f.queue.Len(ctx, queueName); n != 1 {
		t.Fatalf("expected the check back on the queue, got %d", n)
	}
}
