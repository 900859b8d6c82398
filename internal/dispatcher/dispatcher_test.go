package dispatcher

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/metal-toolbox/vbmc/internal/coordinator"
	"github.com/metal-toolbox/vbmc/internal/executor"
	"github.com/metal-toolbox/vbmc/internal/identity"
	"github.com/metal-toolbox/vbmc/internal/log"
	"github.com/metal-toolbox/vbmc/internal/mocks"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/metal-toolbox/vbmc/internal/store/dryrun"
	"github.com/metal-toolbox/vbmc/internal/store/kind"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"
)

func testPolicy() executor.Policy {
	return executor.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		AttemptTimeout: time.Second,
		MaxElapsed:     5 * time.Second,
		RetryAfter:     30 * time.Second,
	}
}

// newSimDispatcher registers a simulated backend behind the executor under tag "sim".
func newSimDispatcher(t *testing.T, machines ...dryrun.Machine) (*Dispatcher, *dryrun.Driver) {
	t.Helper()

	sim := dryrun.New(&dryrun.Options{Machines: machines})
	driver := executor.Wrap(sim, executor.New("sim", testPolicy(), log.Discard()))

	d := New(coordinator.New(&coordinator.Options{Logger: log.Discard()}), WithLogger(log.Discard()))
	require.NoError(t, d.Register("sim", driver, identity.New(driver, identity.PolicySuffix)))

	return d, sim
}

func TestDispatchWithoutDrivers(t *testing.T) {
	d := New(coordinator.New(nil), WithLogger(log.Discard()))

	outcome := d.Dispatch(context.Background(), GetPowerState(), SystemRef{ID: "node-0"})
	assert.Equal(t, model.StatusTerminalFailure, outcome.Status)
	assert.Equal(t, model.KindUnconfiguredBackend, outcome.Kind)
	assert.Equal(t, http.StatusInternalServerError, outcome.HTTPStatus())

	outcome = d.Systems(context.Background(), "")
	assert.Equal(t, model.KindUnconfiguredBackend, outcome.Kind)
}

func TestDispatchUnknownDriver(t *testing.T) {
	d, _ := newSimDispatcher(t, dryrun.Machine{Name: "node-0"})

	outcome := d.Dispatch(context.Background(), GetPowerState(), SystemRef{Driver: "nova", ID: "node-0"})
	assert.Equal(t, model.KindUnconfiguredBackend, outcome.Kind)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	d, sim := newSimDispatcher(t)

	err := d.Register("sim", sim, identity.New(sim, ""))
	assert.ErrorIs(t, err, ErrDriverRegistered)

	err = d.Register("", sim, identity.New(sim, ""))
	assert.ErrorIs(t, err, model.ErrConfig)

	assert.Equal(t, []string{"sim"}, d.Drivers())
}

func TestSystemsEmptyBackend(t *testing.T) {
	d, _ := newSimDispatcher(t)

	outcome := d.Systems(context.Background(), "sim")
	require.True(t, outcome.OK())
	assert.Equal(t, []model.Identity{}, outcome.Result)
}

func TestPowerOnTwice(t *testing.T) {
	d, sim := newSimDispatcher(t, dryrun.Machine{Name: "node-0"})
	ctx := context.Background()

	for range 2 {
		outcome := d.Dispatch(ctx, SetPowerState("On"), SystemRef{ID: "node-0"})
		require.True(t, outcome.OK(), outcome.Detail)
		assert.Equal(t, model.PowerStateOn, outcome.Result)
	}

	assert.Equal(t, 1, sim.Calls("SetPowerState"))
}

func TestInvalidArgumentsNeverReachBackend(t *testing.T) {
	d, sim := newSimDispatcher(t, dryrun.Machine{Name: "node-0"})
	ctx := context.Background()

	ops := []Operation{
		SetPowerState("Hibernate"),
		SetBoot("Usb", "Once", ""),
		SetBoot("Pxe", "Always", ""),
		SetBoot("Pxe", "Once", "Bios"),
		InsertMedia("usb0", "http://images.example.com/boot.iso"),
		InsertMedia("cd0", "ftp://images.example.com/boot.iso"),
		EjectMedia("dvd"),
	}

	for _, op := range ops {
		outcome := d.Dispatch(ctx, op, SystemRef{ID: "node-0"})
		assert.Equal(t, model.KindInvalidRequest, outcome.Kind, op.Name())
		assert.Equal(t, http.StatusBadRequest, outcome.HTTPStatus())
	}

	assert.Equal(t, 0, sim.Calls("Enumerate"))
}

func TestUnknownSystemIsNotFound(t *testing.T) {
	d, _ := newSimDispatcher(t, dryrun.Machine{Name: "node-0"})

	outcome := d.Dispatch(context.Background(), GetSystem(), SystemRef{ID: "node-9"})
	assert.Equal(t, model.KindNotFound, outcome.Kind)
	assert.Equal(t, model.StatusTerminalFailure, outcome.Status)
	assert.Equal(t, http.StatusNotFound, outcome.HTTPStatus())
}

func TestGetSystem(t *testing.T) {
	d, _ := newSimDispatcher(t, dryrun.Machine{
		Name:       "node-0",
		UUID:       "3f1b7c52-1f7e-4b0a-9f39-8f4f2d7c0a11",
		PowerState: model.PowerStateOn,
		Processors: 4,
		MemoryGiB:  8,
		NICs:       []string{"52:54:00:12:34:56"},
	})

	outcome := d.Dispatch(context.Background(), GetSystem(), SystemRef{Driver: "sim", ID: "node-0"})
	require.True(t, outcome.OK(), outcome.Detail)

	sys, ok := outcome.Result.(*model.System)
	require.True(t, ok)
	assert.Equal(t, "node-0", sys.ExternalID)
	assert.Equal(t, "3f1b7c52-1f7e-4b0a-9f39-8f4f2d7c0a11", sys.BackendID)
	assert.Equal(t, "sim", sys.Driver)
	assert.Equal(t, model.PowerStateOn, sys.PowerState)
	assert.Equal(t, model.BootOverride{Target: model.BootTargetHdd, Enabled: model.BootOverrideDisabled, Mode: model.BootModeLegacy}, sys.Boot)
	assert.Equal(t, 4, sys.Inventory.Processors)
}

func TestBootOverrideLifecycle(t *testing.T) {
	d, _ := newSimDispatcher(t, dryrun.Machine{Name: "node-0"})
	ctx := context.Background()
	ref := SystemRef{ID: "node-0"}

	outcome := d.Dispatch(ctx, SetBoot("Pxe", "Once", ""), ref)
	require.True(t, outcome.OK(), outcome.Detail)

	outcome = d.Dispatch(ctx, SetPowerState("On"), ref)
	require.True(t, outcome.OK(), outcome.Detail)

	outcome = d.Dispatch(ctx, GetBoot(), ref)
	require.True(t, outcome.OK(), outcome.Detail)
	assert.Equal(t, model.BootTargetHdd, outcome.Result.(model.BootOverride).Target)
}

func TestEjectEmptyCD(t *testing.T) {
	d, sim := newSimDispatcher(t, dryrun.Machine{Name: "node-0"})

	outcome := d.Dispatch(context.Background(), EjectMedia("Cd"), SystemRef{ID: "node-0"})
	require.True(t, outcome.OK(), outcome.Detail)
	assert.Equal(t, model.EmptySlot(model.SlotCD), outcome.Result)
	assert.Equal(t, 0, sim.Calls("EjectMedia"))
}

func TestTransientFailuresAreRetried(t *testing.T) {
	d, sim := newSimDispatcher(t, dryrun.Machine{Name: "node-0", PowerState: model.PowerStateOn})

	sim.Fail("PowerState",
		errors.Wrap(model.ErrTransient, "connection reset"),
		errors.Wrap(model.ErrTransient, "connection reset"),
	)

	outcome := d.Dispatch(context.Background(), GetPowerState(), SystemRef{ID: "node-0"})
	require.True(t, outcome.OK(), outcome.Detail)
	assert.Equal(t, model.PowerStateOn, outcome.Result)
	assert.Equal(t, 3, sim.Calls("PowerState"))
}

func TestExhaustedBudgetIsUnavailable(t *testing.T) {
	d, sim := newSimDispatcher(t, dryrun.Machine{Name: "node-0"})

	for range testPolicy().MaxAttempts {
		sim.Fail("Inventory", errors.Wrap(model.ErrTransient, "503"))
	}

	outcome := d.Dispatch(context.Background(), GetInventory(), SystemRef{ID: "node-0"})
	assert.Equal(t, model.KindBackendUnavailable, outcome.Kind)
	assert.Equal(t, model.StatusTerminalFailure, outcome.Status)
	assert.Equal(t, http.StatusServiceUnavailable, outcome.HTTPStatus())
	assert.Equal(t, 30, outcome.RetryAfterSeconds())
}

func TestPanicIsInternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := mocks.NewMockDriver(ctrl)

	driver.EXPECT().Kind().Return(kind.DryRun).AnyTimes()
	driver.EXPECT().Enumerate(gomock.Any()).Return([]backend.Object{{ID: "vm-1", Name: "node-0"}}, nil)
	driver.EXPECT().Inventory(gomock.Any(), "vm-1").DoAndReturn(func(context.Context, string) (model.Inventory, error) {
		panic("nil map")
	})

	d := New(coordinator.New(nil), WithLogger(log.Discard()))
	require.NoError(t, d.Register("mock", driver, identity.New(driver, identity.PolicySuffix)))

	outcome := d.Dispatch(context.Background(), GetInventory(), SystemRef{ID: "node-0"})
	assert.Equal(t, model.KindInternal, outcome.Kind)
	assert.Equal(t, model.StatusTerminalFailure, outcome.Status)
	assert.Equal(t, "internal error", outcome.Detail)
}

func TestSystemsPrunesRemovedMachines(t *testing.T) {
	d, sim := newSimDispatcher(t, dryrun.Machine{Name: "node-0"}, dryrun.Machine{Name: "node-1"})
	ctx := context.Background()

	for _, id := range []string{"node-0", "node-1"} {
		outcome := d.Dispatch(ctx, SetBoot("Pxe", "Continuous", ""), SystemRef{ID: id})
		require.True(t, outcome.OK(), outcome.Detail)
	}

	objects, err := sim.Enumerate(ctx)
	require.NoError(t, err)

	for _, obj := range objects {
		if obj.Name == "node-1" {
			sim.Remove(obj.ID)
		}
	}

	outcome := d.Systems(ctx, "sim")
	require.True(t, outcome.OK(), outcome.Detail)
	assert.Len(t, outcome.Result, 1)

	check := d.Check(ctx)
	require.Contains(t, check, "sim")
	assert.True(t, check["sim"].OK())
}
