package backend

import (
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
)

var (
	ErrSessionClosed = errors.New("backend session closed")
)

// connectionLostError marks a transport failure after which the session handle is unusable.
type connectionLostError struct {
	cause error
}

func (e *connectionLostError) Error() string {
	return "connection lost: " + e.cause.Error()
}

func (e *connectionLostError) Unwrap() error {
	return e.cause
}

func (e *connectionLostError) Is(target error) bool {
	return target == model.ErrTransient
}

// ConnectionLost classifies err as a retryable transport failure that requires reconnecting.
func ConnectionLost(err error) error {
	if err == nil {
		return nil
	}

	return &connectionLostError{cause: err}
}

// IsConnectionLost reports whether err was classified with ConnectionLost.
func IsConnectionLost(err error) bool {
	var lost *connectionLostError

	return errors.As(err, &lost)
}

// NotFound returns a NotFound classification naming the missing machine.
func NotFound(id string) error {
	return model.Public(model.ErrNotFound, "system %s not found", id)
}
