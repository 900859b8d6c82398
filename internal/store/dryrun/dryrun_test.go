package dryrun

import (
	"context"
	"testing"
	"time"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsMachines(t *testing.T) {
	d := New(&Options{Machines: []Machine{
		{Name: "node-0", UUID: "b", Processors: 2, MemoryGiB: 4, NICs: []string{"52:54:00:00:00:01"}, DiskGiB: 40},
		{Name: "node-1", UUID: "a", PowerState: model.PowerStateOn, BootMode: model.BootModeUEFI},
	}})

	objects, err := d.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "a", objects[0].ID)
	assert.Equal(t, "node-0", objects[1].Name)

	ctx := context.Background()

	state, err := d.PowerState(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, model.PowerStateOff, state)

	target, err := d.BootDevice(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, model.BootTargetHdd, target)

	mode, err := d.BootMode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.BootModeUEFI, mode)

	inventory, err := d.Inventory(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, inventory.Processors)
	require.Len(t, inventory.Storage, 1)
	assert.Equal(t, int64(40)<<30, inventory.Storage[0].Devices[0].CapacityBytes)

	// the snapshot is a copy
	inventory.NICs[0] = "changed"
	again, err := d.Inventory(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "52:54:00:00:00:01", again.NICs[0])

	noDisk, err := d.Inventory(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, noDisk.Storage)

	anon, err := New(&Options{Machines: []Machine{{Name: "anon"}}}).Enumerate(ctx)
	require.NoError(t, err)
	require.Len(t, anon, 1)
	assert.NotEmpty(t, anon[0].ID)
}

func TestPowerTransitions(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	d := New(&Options{RestartDelay: time.Minute})
	d.now = func() time.Time { return now }
	id := d.Add(Machine{Name: "node-0"})

	ctx := context.Background()

	err := d.SetPowerState(ctx, id, model.ResetGracefulRestart)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	require.NoError(t, d.SetPowerState(ctx, id, model.ResetOn))
	require.NoError(t, d.SetPowerState(ctx, id, model.ResetForceRestart))

	state, err := d.PowerState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PowerStatePoweringOn, state)

	now = now.Add(2 * time.Minute)

	state, err = d.PowerState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PowerStateOn, state)

	require.NoError(t, d.SetPowerState(ctx, id, model.ResetNmi))
	require.NoError(t, d.SetPowerState(ctx, id, model.ResetGracefulShutdown))

	err = d.SetPowerState(ctx, id, model.ResetPowerCycle)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	d.SetPowerStateOutOfBand(id, model.PowerStateOn)
	assert.Equal(t, 6, d.Calls("SetPowerState"))
}

func TestMedia(t *testing.T) {
	d := New(nil)
	id := d.Add(Machine{Name: "node-0"})
	ctx := context.Background()

	require.NoError(t, d.InsertMedia(ctx, id, model.SlotCD, "http://images/boot.iso"))

	media, err := d.Media(ctx, id)
	require.NoError(t, err)
	require.Len(t, media, 2)
	assert.True(t, media[0].Inserted)
	assert.Equal(t, "http://images/boot.iso", media[0].ImageURI)
	assert.False(t, media[1].Inserted)

	require.NoError(t, d.EjectMedia(ctx, id, model.SlotCD))

	media, err = d.Media(ctx, id)
	require.NoError(t, err)
	assert.False(t, media[0].Inserted)
}

func TestFaultsAndRemoval(t *testing.T) {
	d := New(nil)
	id := d.Add(Machine{Name: "node-0"})
	ctx := context.Background()

	d.Fail("PowerState", errors.Wrap(model.ErrTransient, "reset"), errors.Wrap(model.ErrSessionExpired, "token"))

	_, err := d.PowerState(ctx, id)
	assert.ErrorIs(t, err, model.ErrTransient)

	_, err = d.PowerState(ctx, id)
	assert.ErrorIs(t, err, model.ErrSessionExpired)

	_, err = d.PowerState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Calls("PowerState"))

	d.Remove(id)

	_, err = d.PowerState(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.NoError(t, d.Close(ctx))
}
