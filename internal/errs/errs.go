// Package errs defines the error taxonomy shared across the import
// pipeline. Only RateLimited and validation failures are ever retried;
// NotFound and NotRetriable are terminal per object and never abort a run.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError marks a structurally absent required parent: the object is
// skipped and logged, not retried.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.What)
}

// NotFound builds a NotFoundError for the given description.
func NotFound(format string, args ...any) error {
	return &NotFoundError{What: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// NotRetriableError marks an unmodeled shape (an unknown access role, an
// unconvertible payload). It aborts just that object's import and surfaces
// to the caller for accounting.
type NotRetriableError struct {
	Reason string
}

func (e *NotRetriableError) Error() string {
	return "not retriable: " + e.Reason
}

func NotRetriable(format string, args ...any) error {
	return &NotRetriableError{Reason: fmt.Sprintf(format, args...)}
}

func IsNotRetriable(err error) bool {
	var nr *NotRetriableError
	return errors.As(err, &nr)
}

// RateLimitedError reports that the source API throttled us. ResetIn is the
// cooldown after which the caller may reschedule the whole object.
type RateLimitedError struct {
	ResetIn time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, reset in %s", e.ResetIn)
}

func RateLimited(resetIn time.Duration) error {
	if resetIn <= 0 {
		resetIn = time.Minute
	}
	return &RateLimitedError{ResetIn: resetIn}
}

// AsRateLimited unwraps err into a RateLimitedError when possible.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
