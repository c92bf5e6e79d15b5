package shield

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors delivered by the engine.
var (
	// ErrBusy is delivered when a key already has MaxQueueSize waiters.
	ErrBusy = errors.New("server is busy")

	// ErrTimeout is delivered when the leader produced no outcome within the wait timeout.
	ErrTimeout = errors.New("timed out waiting for downstream")

	// ErrNoRenderer is the outcome of Render when no Renderer is configured.
	ErrNoRenderer = errors.New("no renderer configured")

	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("invalid shield config")

	// ErrHandlerPanic is the outcome of a downstream handler that panicked.
	ErrHandlerPanic = errors.New("downstream handler panicked")
)

// StatusError is a downstream failure carrying the HTTP status to report.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("status %d: %s: %v", e.Status, msg, e.Err)
	}
	return fmt.Sprintf("status %d: %s", e.Status, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// ErrorStatus maps a delivered error to an HTTP status and response text.
// A StatusError carrying an unusable status code maps to 500.
func ErrorStatus(err error) (int, string) {
	var se *StatusError
	switch {
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable, "Server is busy."
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout, http.StatusText(http.StatusGatewayTimeout)
	case errors.As(err, &se):
		status := se.Status
		if status < 100 || status > 999 {
			status = http.StatusInternalServerError
		}
		msg := se.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return status, msg
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}
