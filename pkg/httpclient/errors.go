package httpclient

import (
	"fmt"
	"time"
)

// RetryableError is returned when the client gives up after exhausting its
// retry budget. StatusCode is zero for transport-level failures; RetryAfter
// carries the provider's last advertised backoff so callers can surface it.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
