// Package respond writes JSON bodies and maps domain errors onto HTTP statuses.
package respond

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
)

func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}

func Errors(w http.ResponseWriter, status int, messages ...string) {
	JSON(w, status, models.ErrorResponse{Errors: messages})
}

// Error picks the status for err. Unexpected errors are logged and reported without detail.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var ve apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		Errors(w, http.StatusBadRequest, ve.Errors...)
	case errors.Is(err, apperrors.ErrNotFound):
		Errors(w, http.StatusNotFound, "not found")
	case errors.Is(err, apperrors.ErrUnauthorized):
		Errors(w, http.StatusForbidden, apperrors.ErrUnauthorized.Error())
	case isRateLimited(err):
		rl, _ := apperrors.AsRateLimited(err)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		Errors(w, http.StatusTooManyRequests, "too many requests")
	case apperrors.IsGateway(err):
		logger.Log.WithError(err).WithField("path", r.URL.Path).Error("determination gateway failure")
		Errors(w, http.StatusBadGateway, "determination source unavailable")
	default:
		logger.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		Errors(w, http.StatusInternalServerError, "internal error")
	}
}

func isRateLimited(err error) bool {
	_, ok := apperrors.AsRateLimited(err)
	return ok
}
