package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWrappedErrorsAreDetected(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", NewValidation("Row 2: last name is required"))
	if !IsValidation(wrapped) {
		t.Fatal("expected wrapped validation error to be detected")
	}

	rl := fmt.Errorf("admit: %w", RateLimitedError{Partition: "bulk:org-1", RetryAfter: time.Minute})
	got, ok := AsRateLimited(rl)
	if !ok || got.RetryAfter != time.Minute {
		t.Fatalf("expected rate limited error with retry hint, got %+v ok=%v", got, ok)
	}

	gw := &GatewayError{Source: "fsm", Err: errors.New("connection refused")}
	if !IsGateway(fmt.Errorf("resolve: %w", gw)) {
		t.Fatal("expected gateway error to be detected")
	}
	if IsInternal(gw) {
		t.Fatal("gateway error is not internal")
	}

	if Internal("insert", nil) != nil {
		t.Fatal("nil error must stay nil")
	}
	in := Internal("insert batch", errors.New("disk full"))
	if !IsInternal(in) || in.Error() != "insert batch: disk full" {
		t.Fatalf("unexpected internal error %v", in)
	}
}
