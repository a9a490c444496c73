package bulk

import (
	"encoding/json"
	"net/http"

	"github.com/checkeligibility/platform/pkg/access"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/gateway/respond"
	"github.com/gorilla/mux"
)

type submitPayload struct {
	Data        []models.Subject `json:"data"`
	Filename    string           `json:"filename,omitempty"`
	SubmittedBy string           `json:"submitted_by,omitempty"`
}

type HTTPHandler struct {
	orchestrator *Orchestrator
	recordLimit  int
	maxBody      int64
}

func NewHTTPHandler(orchestrator *Orchestrator, recordLimit int, maxBody int64) *HTTPHandler {
	return &HTTPHandler{orchestrator: orchestrator, recordLimit: recordLimit, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/bulk-check", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/bulk-check/{type}", h.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/bulk-check/{id}/progress", h.handleProgress).Methods(http.MethodGet)
	router.HandleFunc("/bulk-check/{id}", h.handleResults).Methods(http.MethodGet)
	router.HandleFunc("/bulk-check/{id}", h.handleDelete).Methods(http.MethodDelete)
}

func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	checkType, ok := models.ParseCheckType(mux.Vars(r)["type"])
	if !ok {
		respond.Errors(w, http.StatusBadRequest, "unknown check type")
		return
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		logger.Log.WithError(err).Warn("invalid bulk check payload")
		respond.Errors(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.orchestrator.Submit(r.Context(), access.FromContext(r.Context()), SubmitRequest{
		Type:           checkType,
		Records:        payload.Data,
		OrganizationID: r.Header.Get(access.OrganizationHeader),
		SubmittedBy:    payload.SubmittedBy,
		Filename:       payload.Filename,
	}, h.recordLimit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, sub)
}

func (h *HTTPHandler) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.orchestrator.Progress(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, progress)
}

func (h *HTTPHandler) handleResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.orchestrator.Results(r.Context(), mux.Vars(r)["id"], access.FromContext(r.Context()))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"data": results})
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.orchestrator.Delete(r.Context(), mux.Vars(r)["id"], access.FromContext(r.Context()))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.orchestrator.ListForOrganizations(r.Context(), access.FromContext(r.Context()))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"data": summaries})
}
