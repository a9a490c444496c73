package checks

import (
	"encoding/json"
	"net/http"

	"github.com/checkeligibility/platform/pkg/access"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/gateway/respond"
	"github.com/gorilla/mux"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/check/{type}", h.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/check/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/check/{id}", h.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/check/{id}/requeue", h.handleRequeue).Methods(http.MethodPost)
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

	var subject models.Subject
	if err := json.NewDecoder(r.Body).Decode(&subject); err != nil {
		logger.Log.WithError(err).Warn("invalid check payload")
		respond.Errors(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.service.Submit(r.Context(), checkType, subject, access.FromContext(r.Context()), r.Header.Get(access.OrganizationHeader))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, resp)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), mux.Vars(r)["id"], access.FromContext(r.Context()))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, detail)
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.service.Delete(r.Context(), id, access.FromContext(r.Context())); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": models.StatusDeleted})
}

func (h *HTTPHandler) handleRequeue(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Requeue(r.Context(), mux.Vars(r)["id"], access.FromContext(r.Context()))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, resp)
}
