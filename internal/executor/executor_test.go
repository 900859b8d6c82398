package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metal-toolbox/vbmc/internal/log"
	"github.com/metal-toolbox/vbmc/internal/mocks"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:       4,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		AttemptTimeout:    100 * time.Millisecond,
		MaxElapsed:        5 * time.Second,
		MaxReauthAttempts: 2,
		RetryAfter:        30 * time.Second,
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	exec := New("test", testPolicy(), log.Discard())

	var calls atomic.Int32

	err := exec.Do(context.Background(), "op", func(context.Context) error {
		if calls.Add(1) <= 2 {
			return errors.Wrap(model.ErrTransient, "connection reset")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	exec := New("test", testPolicy(), log.Discard())

	var calls atomic.Int32

	err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls.Add(1)
		return errors.Wrap(model.ErrNotFound, "vm-1")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoBudgetExhausted(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	exec := New("test", policy, log.Discard())

	var calls atomic.Int32

	err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls.Add(1)
		return errors.Wrap(model.ErrTransient, "503 service unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, int32(policy.MaxAttempts), calls.Load())

	var unavailable *model.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, policy.MaxAttempts, unavailable.Attempts)
	assert.Equal(t, 30*time.Second, unavailable.RetryAfter)

	outcome := model.OutcomeOf(nil, err)
	assert.Equal(t, model.StatusTerminalFailure, outcome.Status)
	assert.Equal(t, model.KindBackendUnavailable, outcome.Kind)
	assert.Equal(t, 503, outcome.HTTPStatus())
	assert.Equal(t, 30, outcome.RetryAfterSeconds())
}

func TestDoAttemptTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.AttemptTimeout = 20 * time.Millisecond
	exec := New("test", policy, log.Discard())

	var calls atomic.Int32

	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			// ignores the deadline like a stuck backend
			time.Sleep(100 * time.Millisecond)
			return nil
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallDropsAbandonedResult(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.AttemptTimeout = 20 * time.Millisecond
	exec := New("test", policy, log.Discard())

	var calls atomic.Int32

	got, err := Call(context.Background(), exec, "op", func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)

			return "stale", nil
		}

		return "fresh", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}

func TestDoAttemptTimeoutExhaustsBudget(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.MaxAttempts = 2
	policy.AttemptTimeout = 10 * time.Millisecond
	exec := New("test", policy, log.Discard())

	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, model.KindBackendUnavailable, model.KindOf(err))
	assert.ErrorIs(t, err, model.ErrAttemptTimeout)
}

func TestDoReauthBudget(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.MaxAttempts = 10
	policy.MaxReauthAttempts = 1
	exec := New("test", policy, log.Discard())

	var calls atomic.Int32

	err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls.Add(1)
		return errors.Wrap(model.ErrSessionExpired, "401")
	})

	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, model.KindBackendUnavailable, model.KindOf(err))
	assert.Equal(t, model.StatusTerminalFailure, model.OutcomeOf(nil, err).Status)
}

func TestDoSessionExpiredRecovers(t *testing.T) {
	t.Parallel()

	exec := New("test", testPolicy(), log.Discard())

	var calls atomic.Int32

	err := exec.Do(context.Background(), "op", func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.Wrap(model.ErrSessionExpired, "token expired")
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoRecoversPanic(t *testing.T) {
	t.Parallel()

	exec := New("test", testPolicy(), log.Discard())

	var calls atomic.Int32

	err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls.Add(1)
		panic("boom")
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, model.KindInternal, model.KindOf(err))
}

func TestDoCanceledContext(t *testing.T) {
	t.Parallel()

	exec := New("test", testPolicy(), log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.Do(ctx, "op", func(ctx context.Context) error {
		return ctx.Err()
	})

	require.ErrorIs(t, err, context.Canceled)

	var unavailable *model.UnavailableError
	assert.False(t, errors.As(err, &unavailable))
	assert.Zero(t, model.OutcomeOf(nil, err).RetryAfter)
}

func TestDoCallerCancelDuringRetries(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.MaxAttempts = 100
	policy.InitialBackoff = 10 * time.Millisecond
	policy.MaxBackoff = 10 * time.Millisecond
	exec := New("test", policy, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32

	err := exec.Do(ctx, "op", func(context.Context) error {
		if calls.Add(1) == 3 {
			cancel()
		}

		return errors.Wrap(model.ErrTransient, "503 service unavailable")
	})

	require.ErrorIs(t, err, context.Canceled)

	var unavailable *model.UnavailableError
	assert.False(t, errors.As(err, &unavailable))
	assert.Less(t, calls.Load(), int32(policy.MaxAttempts))
}

func TestDoOwnBudgetIsUnavailable(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.MaxAttempts = 1000
	policy.AttemptTimeout = 10 * time.Millisecond
	policy.MaxElapsed = 50 * time.Millisecond
	exec := New("test", policy, log.Discard())

	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var unavailable *model.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, policy.RetryAfter, unavailable.RetryAfter)
}

func TestPolicyWithDefaults(t *testing.T) {
	t.Parallel()

	got := Policy{MaxAttempts: 7}.WithDefaults()
	want := DefaultPolicy()
	want.MaxAttempts = 7

	assert.Equal(t, want, got)
}

func TestWrapRetriesDriverCalls(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)

	gomock.InOrder(
		driver.EXPECT().PowerState(gomock.Any(), "vm-1").Return(model.PowerState(""), errors.Wrap(model.ErrTransient, "reset")),
		driver.EXPECT().PowerState(gomock.Any(), "vm-1").Return(model.PowerState(""), errors.Wrap(model.ErrTransient, "reset")),
		driver.EXPECT().PowerState(gomock.Any(), "vm-1").Return(model.PowerStateOn, nil),
	)

	wrapped := Wrap(driver, New("test", testPolicy(), log.Discard()))

	state, err := wrapped.PowerState(context.Background(), "vm-1")
	require.NoError(t, err)
	assert.Equal(t, model.PowerStateOn, state)
}

func TestWrapPassesTerminalErrors(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)

	driver.EXPECT().
		SetBootDevice(gomock.Any(), "vm-1", model.BootTargetPxe).
		Return(errors.Wrap(model.ErrInvalidRequest, "no network interface")).
		Times(1)

	wrapped := Wrap(driver, New("test", testPolicy(), log.Discard()))

	err := wrapped.SetBootDevice(context.Background(), "vm-1", model.BootTargetPxe)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func waitOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestWrapInsertMediaUsesMediaAttemptTimeout(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.MaxAttempts = 1
	policy.AttemptTimeout = 20 * time.Millisecond
	policy.MediaAttemptTimeout = time.Second

	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)

	// a slow image transfer outlives the regular attempt timeout
	driver.EXPECT().
		InsertMedia(gomock.Any(), "vm-1", model.SlotCD, "https://images.example.com/boot.iso").
		DoAndReturn(func(ctx context.Context, _, _, _ string) error {
			return waitOrDone(ctx, 100*time.Millisecond)
		}).
		Times(1)

	driver.EXPECT().
		EjectMedia(gomock.Any(), "vm-1", model.SlotCD).
		DoAndReturn(func(ctx context.Context, _, _ string) error {
			return waitOrDone(ctx, 100*time.Millisecond)
		}).
		Times(1)

	wrapped := Wrap(driver, New("test", policy, log.Discard()))

	require.NoError(t, wrapped.InsertMedia(context.Background(), "vm-1", model.SlotCD, "https://images.example.com/boot.iso"))

	err := wrapped.EjectMedia(context.Background(), "vm-1", model.SlotCD)
	assert.ErrorIs(t, err, model.ErrAttemptTimeout)
}

func TestMediaExecutorPolicy(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.MediaAttemptTimeout = time.Minute
	exec := New("test", policy, log.Discard())

	media := exec.media()
	assert.Equal(t, time.Minute, media.Policy().AttemptTimeout)
	assert.Equal(t, policy.MaxElapsed+time.Minute, media.Policy().MaxElapsed)
	assert.Equal(t, 100*time.Millisecond, exec.Policy().AttemptTimeout)

	policy.MediaAttemptTimeout = time.Millisecond
	short := New("test", policy, log.Discard())
	assert.Same(t, short, short.media())
}
