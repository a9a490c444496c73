// Package apperrors holds the error taxonomy shared by the check, bulk and admission paths.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("organization not permitted for this resource")
)

// ValidationError lists every problem found in the input, bulk rows prefixed by row number.
type ValidationError struct {
	Errors []string
}

func NewValidation(problems ...string) ValidationError {
	return ValidationError{Errors: problems}
}

func (e ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

type RateLimitedError struct {
	Partition  string
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("too many requests for %s, retry after %s", e.Partition, e.RetryAfter)
}

func AsRateLimited(err error) (RateLimitedError, bool) {
	var rl RateLimitedError
	ok := errors.As(err, &rl)
	return rl, ok
}

// GatewayError is a transport failure talking to a determination source.
type GatewayError struct {
	Source string
	Err    error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("determination gateway %s: %v", e.Source, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func IsGateway(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

// InternalError is a persistence failure; the enclosing operation left no partial state.
type InternalError struct {
	Op  string
	Err error
}

func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InternalError{Op: op, Err: err}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func IsInternal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}
