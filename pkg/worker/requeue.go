package worker

import (
	"context"
	"fmt"

	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/checks"
	"github.com/checkeligibility/platform/pkg/common/kafka"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/queue"
)

const EventCheckRequeue = "check.requeue"

// RequeueHandler reopens errored checks named by check.requeue events. The check id is read
// from data.check_id, falling back to the event subject.
func RequeueHandler(repo *checks.Repository, q queue.Queue, queueName string, sink audit.Sink) kafka.EventHandler {
	return func(ctx context.Context, event models.Event) error {
		if event.Type != EventCheckRequeue {
			return nil
		}
		id, _ := event.Data["check_id"].(string)
		if id == "" {
			id = event.Subject
		}
		if id == "" {
			logger.Log.WithField("event_id", event.ID).Warn("requeue event without check id")
			return nil
		}

		ok, err := repo.Requeue(ctx, id)
		if err != nil {
			return fmt.Errorf("requeue %s: %w", id, err)
		}
		if !ok {
			logger.Log.WithField("check_id", id).Info("requeue ignored, check is not in error")
			return nil
		}
		rec, err := repo.Get(ctx, id)
		checkType := ""
		if err == nil {
			checkType = string(rec.Type)
		}
		audit.Emit(ctx, sink, audit.Transition(checkType, id, string(models.StatusQueued), map[string]interface{}{
			"requeued": true,
			"event_id": event.ID,
		}))
		return q.Enqueue(ctx, queueName, id)
	}
}
