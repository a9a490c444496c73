package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/checkeligibility/platform/pkg/common/models"
)

var (
	checksSubmitted    atomic.Int64
	batchesSubmitted   atomic.Int64
	admissionsAccepted atomic.Int64
	admissionsRejected atomic.Int64
	cacheHits          atomic.Int64
	queueDepth         atomic.Int64
	staleReleased      atomic.Int64
	processed          = newStatusCounters()
)

type statusCounters map[models.CheckStatus]*atomic.Int64

func newStatusCounters() statusCounters {
	c := statusCounters{}
	for _, s := range models.TerminalStatuses() {
		if s.IsOutcome() {
			c[s] = new(atomic.Int64)
		}
	}
	return c
}

// ObserveSubmitted counts checks accepted onto the queue, batch children included.
func ObserveSubmitted(checks int, batch bool) {
	checksSubmitted.Add(int64(checks))
	if batch {
		batchesSubmitted.Add(1)
	}
}

func ObserveAdmission(accepted bool) {
	if accepted {
		admissionsAccepted.Add(1)
		return
	}
	admissionsRejected.Add(1)
}

func ObserveProcessed(status models.CheckStatus, cached bool) {
	if c, ok := processed[status]; ok {
		c.Add(1)
	}
	if cached {
		cacheHits.Add(1)
	}
}

func ObserveQueueDepth(n int64) {
	queueDepth.Store(n)
}

func ObserveStaleReleased(n int) {
	staleReleased.Add(int64(n))
}

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WritePrometheus(w)
	})
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	write(w)
}

func write(w io.Writer) {
	counter(w, "eligibility_checks_submitted_total", "Checks accepted onto the work queue.", checksSubmitted.Load())
	counter(w, "eligibility_batches_submitted_total", "Bulk submissions accepted.", batchesSubmitted.Load())

	fmt.Fprintf(w, "# HELP eligibility_admissions_total Rate limit decisions by outcome.\n")
	fmt.Fprintf(w, "# TYPE eligibility_admissions_total counter\n")
	fmt.Fprintf(w, "eligibility_admissions_total{outcome=\"accepted\"} %d\n", admissionsAccepted.Load())
	fmt.Fprintf(w, "eligibility_admissions_total{outcome=\"rejected\"} %d\n", admissionsRejected.Load())

	fmt.Fprintf(w, "# HELP eligibility_checks_processed_total Checks driven to a terminal status by the worker.\n")
	fmt.Fprintf(w, "# TYPE eligibility_checks_processed_total counter\n")
	for _, s := range models.TerminalStatuses() {
		if c, ok := processed[s]; ok {
			fmt.Fprintf(w, "eligibility_checks_processed_total{status=%q} %d\n", string(s), c.Load())
		}
	}

	counter(w, "eligibility_fingerprint_cache_hits_total", "Checks answered from the fingerprint cache.", cacheHits.Load())
	counter(w, "eligibility_stale_released_total", "Checks handed back to the queue by the stale sweep.", staleReleased.Load())

	fmt.Fprintf(w, "# HELP eligibility_queue_depth Check ids waiting in the work queue at the last sample.\n")
	fmt.Fprintf(w, "# TYPE eligibility_queue_depth gauge\n")
	fmt.Fprintf(w, "eligibility_queue_depth %d\n", queueDepth.Load())
}

func counter(w io.Writer, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}
