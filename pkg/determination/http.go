package determination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/checkeligibility/platform/pkg/common/apperrors"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/gateway/httpclient"
	"github.com/google/uuid"
)

const maxErrorBody = 4 << 10

type lookupRequest struct {
	Type    models.CheckType `json:"type"`
	Subject models.Subject   `json:"subject"`
}

type lookupResponse struct {
	Status models.CheckStatus     `json:"status"`
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// HTTPResolver posts the normalised subject to a source. 404 maps to the configured not-found
// outcome and 422 to an error outcome; anything else outside 2xx is a gateway failure.
type HTTPResolver struct {
	source   string
	url      string
	notFound models.CheckStatus
	attempts int
	client   *http.Client
}

func NewHTTPResolver(source, url string, notFound models.CheckStatus, attempts int, client *http.Client) *HTTPResolver {
	if attempts < 1 {
		attempts = 1
	}
	if client == nil {
		client = httpclient.New(10 * time.Second)
	}
	return &HTTPResolver{source: source, url: url, notFound: notFound, attempts: attempts, client: client}
}

func (h *HTTPResolver) Resolve(ctx context.Context, checkType models.CheckType, subject models.Subject) (Result, error) {
	body, err := json.Marshal(lookupRequest{Type: checkType, Subject: subject})
	if err != nil {
		return Result{}, h.fail(err)
	}
	requestID := uuid.New().String()

	var resp *http.Response
	err = httpclient.Retry(ctx, h.attempts, 200*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
		if err != nil {
			return httpclient.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", requestID)

		r, err := h.client.Do(req)
		if err != nil {
			if httpclient.IsRetriable(err) {
				return err
			}
			return httpclient.Permanent(err)
		}
		if r.StatusCode >= http.StatusInternalServerError || r.StatusCode == http.StatusTooManyRequests {
			statusErr := &httpclient.StatusError{Code: r.StatusCode, Body: readReason(r.Body)}
			r.Body.Close()
			if httpclient.IsRetriable(statusErr) {
				return statusErr
			}
			return httpclient.Permanent(statusErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return Result{}, h.fail(err)
	}
	defer resp.Body.Close()

	logger.Log.WithFields(map[string]interface{}{
		"source":     h.source,
		"status":     resp.StatusCode,
		"request_id": requestID,
	}).Debug("determination source responded")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{Status: h.notFound}, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return Result{
			Status: models.StatusError,
			Detail: map[string]interface{}{"reason": readReason(resp.Body)},
		}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{}, h.fail(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, readReason(resp.Body)))
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, h.fail(fmt.Errorf("decode response: %w", err))
	}
	if !out.Status.IsOutcome() {
		return Result{}, h.fail(fmt.Errorf("source returned status %q", out.Status))
	}
	return Result{Status: out.Status, Detail: out.Detail}, nil
}

func (h *HTTPResolver) fail(err error) error {
	return &apperrors.GatewayError{Source: h.source, Err: err}
}

func readReason(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(bytes.TrimSpace(b))
}
