package bulk

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/checkeligibility/platform/pkg/access"
	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/gorilla/mux"
)

func serve(router http.Handler, method, path, scope string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req = req.WithContext(access.WithScope(req.Context(), access.Parse(scope)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func newRouter(t *testing.T, limit int) (*mux.Router, *fixture) {
	t.Helper()
	f := newFixture(t)
	router := mux.NewRouter()
	NewHTTPHandler(f.orch, limit, 1<<20).Register(router)
	return router, f
}

func TestHTTPBulkFlow(t *testing.T) {
	router, _ := newRouter(t, 10)
	body, _ := json.Marshal(map[string]interface{}{"data": subjects("Simpson", "Flanders"), "filename": "march.csv"})

	rec := serve(router, http.MethodPost, "/bulk-check/free-school-meals", "101", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var sub models.BatchSubmission
	_ = json.Unmarshal(rec.Body.Bytes(), &sub)

	rec = serve(router, http.MethodGet, "/bulk-check/"+sub.ID+"/progress", "101", nil)
	var progress models.BatchProgress
	_ = json.Unmarshal(rec.Body.Bytes(), &progress)
	if rec.Code != http.StatusOK || progress.Total != 2 || progress.Complete != 0 {
		t.Fatalf("unexpected progress %d %+v", rec.Code, progress)
	}

	if rec := serve(router, http.MethodGet, "/bulk-check/"+sub.ID, "202", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign scope, got %d", rec.Code)
	}
	rec = serve(router, http.MethodGet, "/bulk-check/"+sub.ID, "101", nil)
	var results struct {
		Data []models.CheckOutcome `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &results)
	if rec.Code != http.StatusOK || len(results.Data) != 2 {
		t.Fatalf("unexpected results %d %+v", rec.Code, results)
	}

	rec = serve(router, http.MethodGet, "/bulk-check", "101", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("march.csv")) {
		t.Fatalf("unexpected list %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(router, http.MethodDelete, "/bulk-check/"+sub.ID, "101", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"deleted":2`)) {
		t.Fatalf("unexpected delete %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(router, http.MethodGet, "/bulk-check/"+sub.ID+"/progress", "101", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestHTTPBulkValidationAndLimits(t *testing.T) {
	router, f := newRouter(t, 2)

	body, _ := json.Marshal(map[string]interface{}{"data": subjects("Simpson", "")})
	rec := serve(router, http.MethodPost, "/bulk-check/fsm", "101", body)
	var errs models.ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &errs)
	if rec.Code != http.StatusBadRequest || len(errs.Errors) == 0 || errs.Errors[0][:6] != "Row 2:" {
		t.Fatalf("unexpected validation response %d %+v", rec.Code, errs)
	}

	body, _ = json.Marshal(map[string]interface{}{"data": subjects("A", "B", "C")})
	if rec := serve(router, http.MethodPost, "/bulk-check/fsm", "101", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 over limit, got %d", rec.Code)
	}

	f.admission.err = apperrors.RateLimitedError{Partition: "bulk:101", RetryAfter: time.Hour}
	body, _ = json.Marshal(map[string]interface{}{"data": subjects("Simpson")})
	rec = serve(router, http.MethodPost, "/bulk-check/fsm", "101", body)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "3600" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}
