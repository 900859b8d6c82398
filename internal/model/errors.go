package model

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrConfig = errors.New("configuration error")

	// client visible classifications
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrUnconfiguredBackend = errors.New("no backend driver configured")
	ErrNotSupported        = errors.New("operation not supported by backend")

	// retryable classifications, these never leave the executor
	ErrSessionExpired = errors.New("backend session expired")
	ErrTransient      = errors.New("transient backend failure")
	ErrAttemptTimeout = errors.New("backend call attempt timed out")
)

// ErrorKind is the classified failure kind surfaced to the protocol layer.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "NotFound"
	KindInvalidRequest      ErrorKind = "InvalidRequest"
	KindBackendUnavailable  ErrorKind = "BackendUnavailable"
	KindUnconfiguredBackend ErrorKind = "UnconfiguredBackend"
	KindNotSupported        ErrorKind = "NotSupported"
	KindInternal            ErrorKind = "Internal"
)

// KindOf classifies an error, nil errors have no kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrNotSupported):
		return KindNotSupported
	case errors.Is(err, ErrUnconfiguredBackend), errors.Is(err, ErrConfig):
		return KindUnconfiguredBackend
	case errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		IsRetryable(err):
		return KindBackendUnavailable
	default:
		return KindInternal
	}
}

// IsRetryable reports whether another attempt of the failed call may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// terminal classifications win over anything wrapped beneath them
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNotSupported) ||
		errors.Is(err, ErrBackendUnavailable) {
		return false
	}

	if errors.Is(err, ErrTransient) || errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrAttemptTimeout) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsSessionExpired reports whether the backend rejected the session credentials.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// UnavailableError is returned once the retry budget of a backend call is spent.
type UnavailableError struct {
	Cause      error
	RetryAfter time.Duration
	Attempts   int
}

func (e *UnavailableError) Error() string {
	return ErrBackendUnavailable.Error() + ": " + e.Cause.Error()
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// PublicError is a classified error whose message is written by the emulator and may
// be returned to clients.
type PublicError struct {
	Kind    error
	Message string
}

// Public returns an error classified as kind carrying a client visible message.
//
// Backend text must not be formatted into the message, wrap the returned error
// instead.
func Public(kind error, format string, args ...any) error {
	return &PublicError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *PublicError) Error() string {
	return e.Message + ": " + e.Kind.Error()
}

func (e *PublicError) Unwrap() error {
	return e.Kind
}
