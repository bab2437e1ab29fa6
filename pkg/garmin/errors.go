package garmin

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the Connect API. Callers branch with errors.Is:
// ErrAuth is fatal and never retried, ErrSessionExpired triggers one
// serialized re-authentication, ErrRateLimited requires backing off,
// ErrTransient is retried inside the client and should not normally
// escape it.
var (
	ErrAuth           = errors.New("garmin: authentication rejected")
	ErrSessionExpired = errors.New("garmin: session expired")
	ErrRateLimited    = errors.New("garmin: rate limited")
	ErrTransient      = errors.New("garmin: transient network failure")
)

// RateLimitError carries the server-suggested wait, when one was given.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("garmin: rate limited, retry after %s", e.RetryAfter)
	}
	return "garmin: rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// StatusError reports an unexpected HTTP status from a data endpoint.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("garmin: %s returned status %d", e.Endpoint, e.Code)
}
