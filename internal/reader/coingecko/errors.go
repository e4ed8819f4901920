package coingecko

import (
	"fmt"
	"net/http"
	"time"
)

// FetchError is returned once the attempt budget is spent or a permanent
// failure stops the loop early.
type FetchError struct {
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("coingecko fetch failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError carries a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ShapeError means the body was not a JSON array of objects.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return "malformed response body: " + e.Reason
}
