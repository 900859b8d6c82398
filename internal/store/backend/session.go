package backend

import (
	"context"
	"sync"
	"time"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/sirupsen/logrus"
)

const (
	DefaultValidateInterval = 5 * time.Minute
)

// ConnectFunc establishes an authenticated handle to a backend.
type ConnectFunc[T any] func(ctx context.Context) (T, error)

// Session is the connection to one backend, owned by exactly one driver.
//
// The handle is established lazily on first use, validated when it has not been
// used successfully for the validation interval and transparently re-established
// after a session expiry or a lost connection.
type Session[T any] struct {
	mu sync.Mutex

	endpoint         string
	connect          ConnectFunc[T]
	validate         func(ctx context.Context, handle T) error
	disconnect       func(ctx context.Context, handle T) error
	validateInterval time.Duration
	logger           *logrus.Entry
	now              func() time.Time

	handle        T
	connected     bool
	closed        bool
	generation    uint64
	lastValidated time.Time
}

// SessionOption configures a Session.
type SessionOption[T any] func(*Session[T])

// WithValidate sets the liveness check run on a handle idle for longer than interval.
func WithValidate[T any](interval time.Duration, fn func(ctx context.Context, handle T) error) SessionOption[T] {
	return func(s *Session[T]) {
		s.validateInterval = interval
		s.validate = fn
	}
}

// WithDisconnect sets the function releasing a dropped handle.
func WithDisconnect[T any](fn func(ctx context.Context, handle T) error) SessionOption[T] {
	return func(s *Session[T]) {
		s.disconnect = fn
	}
}

// WithLogger sets the session logger.
func WithLogger[T any](logger *logrus.Entry) SessionOption[T] {
	return func(s *Session[T]) {
		s.logger = logger
	}
}

// WithClock replaces the session clock.
func WithClock[T any](now func() time.Time) SessionOption[T] {
	return func(s *Session[T]) {
		s.now = now
	}
}

// NewSession returns a Session that connects to endpoint on first use.
func NewSession[T any](endpoint string, connect ConnectFunc[T], opts ...SessionOption[T]) *Session[T] {
	s := &Session[T]{
		endpoint:         endpoint,
		connect:          connect,
		validateInterval: DefaultValidateInterval,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s.logger = s.logger.WithField("endpoint", endpoint)

	return s
}

// Endpoint returns the backend endpoint of the session.
func (s *Session[T]) Endpoint() string {
	return s.endpoint
}

// LastValidated returns when the handle was last known to be good.
func (s *Session[T]) LastValidated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastValidated
}

// Use runs fn with a live handle.
//
// A session expiry or lost connection reported by fn drops the handle so the next
// call reconnects, the error is returned unchanged for the executor to retry.
func (s *Session[T]) Use(ctx context.Context, fn func(handle T) error) error {
	handle, generation, err := s.get(ctx)
	if err != nil {
		return err
	}

	err = fn(handle)

	switch {
	case err == nil:
		s.touch(generation)
	case model.IsSessionExpired(err) || IsConnectionLost(err):
		s.logger.WithError(err).Warn("dropping backend session")
		s.invalidate(ctx, generation)
	}

	return err
}

func (s *Session[T]) get(ctx context.Context) (T, uint64, error) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return zero, 0, ErrSessionClosed
	}

	if s.connected && s.validate != nil && s.now().Sub(s.lastValidated) > s.validateInterval {
		if err := s.validate(ctx, s.handle); err != nil {
			s.logger.WithError(err).Info("backend session failed validation, reconnecting")
			s.dropLocked(ctx)
		} else {
			s.lastValidated = s.now()
		}
	}

	if !s.connected {
		handle, err := s.connect(ctx)
		if err != nil {
			return zero, 0, err
		}

		s.handle = handle
		s.connected = true
		s.generation++
		s.lastValidated = s.now()

		s.logger.WithField("generation", s.generation).Debug("backend session established")
	}

	return s.handle, s.generation, nil
}

func (s *Session[T]) touch(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected && s.generation == generation {
		s.lastValidated = s.now()
	}
}

func (s *Session[T]) invalidate(ctx context.Context, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a concurrent caller may already have replaced the handle
	if s.connected && s.generation == generation {
		s.dropLocked(ctx)
	}
}

func (s *Session[T]) dropLocked(ctx context.Context) {
	if s.disconnect != nil {
		if err := s.disconnect(ctx, s.handle); err != nil {
			s.logger.WithError(err).Debug("backend session disconnect error")
		}
	}

	var zero T

	s.handle = zero
	s.connected = false
}

// Close releases the handle, the session cannot be used afterwards.
func (s *Session[T]) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if !s.connected {
		return nil
	}

	var err error
	if s.disconnect != nil {
		err = s.disconnect(ctx, s.handle)
	}

	var zero T

	s.handle = zero
	s.connected = false

	return err
}
