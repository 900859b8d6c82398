package executor

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/metal-toolbox/vbmc/internal/metrics"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	pkgName = "internal/executor"

	resultSuccess   = "success"
	resultRetryable = "retryable"
	resultTerminal  = "terminal"
)

var (
	errReauthExhausted = errors.New("re-authentication budget exhausted")
	errPanic           = errors.New("backend call panicked")
)

// Policy bounds the retries of a backend call.
// nolint:govet // prefer readability over field alignment optimization for this case.
type Policy struct {
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int `mapstructure:"max_attempts"`

	InitialBackoff      time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`

	// AttemptTimeout bounds a single attempt.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`

	// MediaAttemptTimeout bounds a single virtual media insert, image transfers
	// included. The call budget grows by the same amount.
	MediaAttemptTimeout time.Duration `mapstructure:"media_attempt_timeout"`

	// MaxElapsed bounds the whole call, attempts and waits included.
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`

	// MaxReauthAttempts is how many session expiries are retried within one call.
	MaxReauthAttempts int `mapstructure:"max_reauth_attempts"`

	// RetryAfter is the hint returned to clients once the budget is spent.
	RetryAfter time.Duration `mapstructure:"retry_after"`
}

// DefaultPolicy returns the policy used for unset fields.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         4,
		InitialBackoff:      250 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		AttemptTimeout:      30 * time.Second,
		MediaAttemptTimeout: 30 * time.Minute,
		MaxElapsed:          2 * time.Minute,
		MaxReauthAttempts:   2,
		RetryAfter:          60 * time.Second,
	}
}

// WithDefaults fills unset fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}

	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}

	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}

	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}

	if p.RandomizationFactor <= 0 || p.RandomizationFactor >= 1 {
		p.RandomizationFactor = d.RandomizationFactor
	}

	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}

	if p.MediaAttemptTimeout <= 0 {
		p.MediaAttemptTimeout = d.MediaAttemptTimeout
	}

	if p.MaxElapsed <= 0 {
		p.MaxElapsed = d.MaxElapsed
	}

	if p.MaxReauthAttempts <= 0 {
		p.MaxReauthAttempts = d.MaxReauthAttempts
	}

	if p.RetryAfter <= 0 {
		p.RetryAfter = d.RetryAfter
	}

	return p
}

func (p Policy) AsLogFields() []any {
	return []any{
		"maxAttempts", p.MaxAttempts,
		"initialBackoff", p.InitialBackoff.String(),
		"maxBackoff", p.MaxBackoff.String(),
		"attemptTimeout", p.AttemptTimeout.String(),
		"mediaAttemptTimeout", p.MediaAttemptTimeout.String(),
		"maxElapsed", p.MaxElapsed.String(),
		"maxReauthAttempts", p.MaxReauthAttempts,
	}
}

// Executor runs backend calls under a retry policy.
//
// It is the only place calls are retried, drivers report classified errors and return.
type Executor struct {
	backend string
	policy  Policy
	logger  *logrus.Entry
}

// New returns an Executor for the calls of one backend.
func New(backendName string, policy Policy, logger *logrus.Entry) *Executor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Executor{
		backend: backendName,
		policy:  policy.WithDefaults(),
		logger:  logger.WithField("backend", backendName),
	}
}

// Policy returns the effective retry policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// media returns an executor for virtual media inserts, its attempts may run for the
// media attempt timeout.
func (e *Executor) media() *Executor {
	if e.policy.MediaAttemptTimeout <= e.policy.AttemptTimeout {
		return e
	}

	m := *e
	m.policy.AttemptTimeout = e.policy.MediaAttemptTimeout
	m.policy.MaxElapsed = e.policy.MaxElapsed + e.policy.MediaAttemptTimeout

	return &m
}

// Do runs call until it succeeds, fails terminally or the retry budget is spent.
func (e *Executor) Do(ctx context.Context, operation string, call func(ctx context.Context) error) error {
	_, err := Call(ctx, e, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	})

	return err
}

// Call runs call until it succeeds, fails terminally or the retry budget is spent.
//
// Terminal errors are returned unchanged after a single attempt. A spent budget
// returns a *model.UnavailableError wrapping the last failure. Only the value of
// the successful attempt is returned, results of abandoned attempts are dropped.
func Call[T any](ctx context.Context, e *Executor, operation string, call func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"executor.Call",
		trace.WithAttributes(
			attribute.String("backend", e.backend),
			attribute.String("operation", operation),
		),
	)
	defer span.End()

	parent := ctx

	ctx, cancel := context.WithTimeout(ctx, e.policy.MaxElapsed)
	defer cancel()

	started := time.Now()
	attempts, reauths := 0, 0

	var (
		result T
		last   error
	)

	attempt := func() error {
		attempts++

		v, err := runAttempt(ctx, e, call)
		e.countAttempt(operation, err)

		if err == nil {
			result = v
			return nil
		}

		last = err

		if !model.IsRetryable(err) {
			return backoff.Permanent(err)
		}

		if model.IsSessionExpired(err) {
			reauths++
			if reauths > e.policy.MaxReauthAttempts {
				return backoff.Permanent(errors.Wrap(errReauthExhausted, err.Error()))
			}
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		e.logger.WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempts,
			"wait":      wait.String(),
			"err":       err.Error(),
		}).Warn("backend call failed, retrying")
	}

	err := backoff.RetryNotify(
		attempt,
		backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.policy.MaxAttempts-1)), ctx),
		notify,
	)

	err = e.classify(parent, err, last, attempts)

	status := string(model.OutcomeOf(nil, err).Status)
	metrics.BackendCallDuration.WithLabelValues(e.backend, operation, status).Observe(time.Since(started).Seconds())

	if err != nil {
		span.SetStatus(codes.Error, string(model.KindOf(err)))
		span.SetAttributes(attribute.Int("attempts", attempts))

		var zero T

		return zero, err
	}

	return result, nil
}

// classify turns the retry loop result into the error returned to the caller.
//
// A spent budget is reported as unavailable. When the caller's own context ended
// first its error is returned as is.
func (e *Executor) classify(parent context.Context, err, last error, attempts int) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, errReauthExhausted) || model.IsRetryable(err) || isContextErr(err) {
		if parentErr := parent.Err(); parentErr != nil {
			return parentErr
		}

		cause := last
		if cause == nil {
			cause = err
		}

		return &model.UnavailableError{
			Cause:      cause,
			RetryAfter: e.policy.RetryAfter,
			Attempts:   attempts,
		}
	}

	return err
}

func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.policy.InitialBackoff
	b.MaxInterval = e.policy.MaxBackoff
	b.Multiplier = e.policy.Multiplier
	b.RandomizationFactor = e.policy.RandomizationFactor
	b.MaxElapsedTime = e.policy.MaxElapsed
	b.Reset()

	return b
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt runs call under the per attempt timeout.
//
// An attempt that does not return in time is abandoned, its late result is discarded.
func runAttempt[T any](ctx context.Context, e *Executor, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attemptCtx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.WithFields(logrus.Fields{
					"panic": rec,
					"stack": string(debug.Stack()),
				}).Error("!!panic occurred in backend call")

				done <- attemptResult[T]{err: errors.Wrapf(errPanic, "%v", rec)}
			}
		}()

		v, err := call(attemptCtx)
		done <- attemptResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, errors.Wrap(model.ErrAttemptTimeout, res.err.Error())
		}

		return res.value, res.err
	case <-attemptCtx.Done():
		// prefer a success that raced with the deadline
		select {
		case res := <-done:
			if res.err == nil {
				return res.value, nil
			}
		default:
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		return zero, errors.Wrapf(model.ErrAttemptTimeout, "no response within %s", e.policy.AttemptTimeout)
	}
}

func (e *Executor) countAttempt(operation string, err error) {
	result := resultSuccess

	switch {
	case err == nil:
	case model.IsRetryable(err):
		result = resultRetryable
	default:
		result = resultTerminal
	}

	metrics.BackendAttempts.WithLabelValues(e.backend, operation, result).Inc()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
