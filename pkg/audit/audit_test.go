package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/checkeligibility/platform/pkg/common/database/testdb"
	"github.com/checkeligibility/platform/pkg/common/logger"
)

type capturePublisher struct {
	events []string
	fail   bool
}

func (p *capturePublisher) PublishEvent(_ context.Context, eventType, _, subject string, _ map[string]interface{}) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, eventType+":"+subject)
	return nil
}

func TestRecorderPersistsAndPublishes(t *testing.T) {
	logger.Discard()
	db := testdb.Open(t, &Entry{})
	pub := &capturePublisher{}
	rec := NewRecorder(db, pub, "test")
	ctx := context.Background()

	if err := rec.Record(ctx, Transition("FreeSchoolMeals", "check-1", "processing", nil)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := rec.Record(ctx, Transition("FreeSchoolMeals", "check-1", "eligible", map[string]interface{}{"source": "cache"})); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := rec.List(ctx, "check-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[1].Outcome != "eligible" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if len(pub.events) != 2 || pub.events[0] != "audit.transition:check-1" {
		t.Fatalf("unexpected published events %v", pub.events)
	}
}

func TestRecorderToleratesPublishFailure(t *testing.T) {
	logger.Discard()
	db := testdb.Open(t, &Entry{})
	rec := NewRecorder(db, &capturePublisher{fail: true}, "test")

	if err := rec.Record(context.Background(), Admission("bulk", "bulk:201", false, 3)); err != nil {
		t.Fatalf("publish failure must not fail the record: %v", err)
	}
	entries, _ := rec.List(context.Background(), "bulk:201")
	if len(entries) != 1 || entries[0].Outcome != "rejected" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
