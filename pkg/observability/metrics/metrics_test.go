package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/checkeligibility/platform/pkg/common/models"
)

func TestWritePrometheus(t *testing.T) {
	ObserveSubmitted(1, false)
	ObserveSubmitted(3, true)
	ObserveAdmission(true)
	ObserveAdmission(false)
	ObserveAdmission(false)
	ObserveProcessed(models.StatusEligible, true)
	ObserveProcessed(models.StatusError, false)
	ObserveProcessed(models.StatusQueued, false)
	ObserveQueueDepth(7)
	ObserveStaleReleased(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"eligibility_checks_submitted_total 4\n",
		"eligibility_batches_submitted_total 1\n",
		`eligibility_admissions_total{outcome="accepted"} 1` + "\n",
		`eligibility_admissions_total{outcome="rejected"} 2` + "\n",
		`eligibility_checks_processed_total{status="eligible"} 1` + "\n",
		`eligibility_checks_processed_total{status="error"} 1` + "\n",
		"eligibility_fingerprint_cache_hits_total 1\n",
		"eligibility_stale_released_total 2\n",
		"eligibility_queue_depth 7\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Contains(body, `status="queued"`) {
		t.Error("non-terminal statuses must not be exported")
	}
}
