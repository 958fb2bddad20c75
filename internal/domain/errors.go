package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	// ErrConfiguration: the target cannot name a stream. Fatal, never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrResolutionExhausted: every branch of the fallback chain failed.
	ErrResolutionExhausted = errors.New("stream resolution exhausted")
	// ErrTransport: a player's handshake or playback failed.
	ErrTransport = errors.New("transport error")
	// ErrProvisioning: the relay rejected or could not be reached for a create call.
	ErrProvisioning = errors.New("provisioning failure")

	ErrInvalidTransition = errors.New("invalid player state transition")
	ErrUnsupported       = errors.New("operation not supported")
	ErrDestroyed         = errors.New("player destroyed")
	ErrSurfaceBusy       = errors.New("surface already claimed")
	ErrQuotaExceeded     = errors.New("append buffer quota exceeded")
)

// Error carries a kind, the failing operation and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// NewError wraps err with the given kind and operation.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the UI may re-trigger resolution on the next
// visibility cycle.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrConfiguration) {
		return false
	}
	return errors.Is(err, ErrResolutionExhausted) || errors.Is(err, ErrTransport)
}
