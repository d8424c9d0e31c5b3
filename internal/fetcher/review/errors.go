package review

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when a page request is rate limited twice in a row.
	ErrRateLimited = errors.New("rate limited twice in a row")
	// ErrFatalStatus is returned for 4xx (other than 429) and other unexpected statuses.
	ErrFatalStatus = errors.New("unretryable upstream status")
	// ErrRetriesExhausted is returned once the transport/5xx retry budget is spent.
	ErrRetriesExhausted = errors.New("retry budget exhausted")
	// ErrMalformedPage is returned when a 200 response cannot be decoded.
	ErrMalformedPage = errors.New("malformed review page")
	// ErrSessionWarmup is returned when session cookies could not be obtained.
	ErrSessionWarmup = errors.New("session warm-up failed")
)

// StatusError carries the status and a body excerpt of a fatal response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Unwrap lets errors.Is match ErrFatalStatus.
func (e *StatusError) Unwrap() error {
	return ErrFatalStatus
}
