package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"bankflow/pkg/resilience"
)

var (
	// ErrUnauthorized means the customer must sign in again. It is never
	// answered with sample data.
	ErrUnauthorized = errors.New("apiclient: unauthorized")

	// ErrTimeout is returned when the upstream call exceeded its deadline.
	ErrTimeout = resilience.ErrTimeout

	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = resilience.ErrCircuitOpen

	// ErrDecode is returned for responses that are not a valid envelope.
	ErrDecode = errors.New("apiclient: malformed response")
)

// APIError is a failure reported by the API, either through a non-2xx
// status or an envelope with success=false.
type APIError struct {
	Status   int
	Message  string
	Endpoint string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("apiclient: %s: %d %s", e.Endpoint, e.Status, msg)
}

// Is makes a 401 APIError match ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Temporary reports whether the failure says anything about upstream
// health. 4xx responses are the caller's problem.
func (e *APIError) Temporary() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// IsUnauthorized reports whether err requires re-authentication.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// isFailure decides what counts against the circuit breaker.
func isFailure(err error) bool {
	if IsUnauthorized(err) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// Classify returns a short label for metrics and logs.
func Classify(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "success"
	case IsUnauthorized(err):
		return "unauthorized"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.As(err, &apiErr):
		if apiErr.Status >= 500 {
			return "server_error"
		}
		return "client_error"
	default:
		return "network"
	}
}
