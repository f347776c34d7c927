package tfl

import (
	"context"
	"fmt"
)

// TimeoutError reports a call that ran past its deadline.
type TimeoutError struct{ Err error }

func (e *TimeoutError) Error() string { return "request timed out: " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *TimeoutError) Kind() string  { return "Timeout" }

// Is lets callers match timeouts with context.DeadlineExceeded.
func (e *TimeoutError) Is(target error) bool { return target == context.DeadlineExceeded }

// HTTPStatusError reports a non-2xx answer.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}
func (e *HTTPStatusError) Kind() string { return "HTTPStatusError" }

// NetworkError reports a transport level failure (DNS, refused, reset).
type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Kind() string  { return "ConnectionError" }

// ResponseTooLargeError reports a 2xx body longer than Limit bytes. The body
// is discarded rather than stored cut short.
type ResponseTooLargeError struct{ Limit int64 }

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeds %d bytes", e.Limit)
}
func (e *ResponseTooLargeError) Kind() string { return "ResponseTooLarge" }
