package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// APIError is a non-2xx GitHub API response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error: %d %s", e.StatusCode, e.Message)
}

// RateLimitError signals the API rate limit was exhausted.
type RateLimitError struct {
	// ResetAt is when the limit window resets, from X-RateLimit-Reset.
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// NetworkError wraps transport-level failures (DNS, connect, TLS, EOF).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("github network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports a 401 response.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsForbidden reports a 403 response that is not a rate limit.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// IsNotFound reports a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRateLimit reports rate limit exhaustion.
func IsRateLimit(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr)
}

// RateLimitResetAt returns the reset time for a rate limit error.
func RateLimitResetAt(err error) (time.Time, bool) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.ResetAt, true
	}
	return time.Time{}, false
}

// IsRetriable reports whether a retry could plausibly succeed: network
// failures, timeouts, rate limits, server-side errors, and an open circuit
// breaker. Auth failures, other 4xx responses and context cancellation are
// terminal.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	if IsRateLimit(err) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
