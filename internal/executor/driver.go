package executor

import (
	"context"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/metal-toolbox/vbmc/internal/store/kind"
)

// resilientDriver runs every call of the wrapped driver through an Executor.
type resilientDriver struct {
	driver backend.Driver
	exec   *Executor
}

// Wrap returns a driver whose calls are retried under the executor policy.
func Wrap(driver backend.Driver, exec *Executor) backend.Driver {
	return &resilientDriver{driver: driver, exec: exec}
}

func (r *resilientDriver) Kind() kind.Backend {
	return r.driver.Kind()
}

func (r *resilientDriver) Enumerate(ctx context.Context) ([]backend.Object, error) {
	return Call(ctx, r.exec, "enumerate", func(ctx context.Context) ([]backend.Object, error) {
		return r.driver.Enumerate(ctx)
	})
}

func (r *resilientDriver) PowerState(ctx context.Context, id string) (model.PowerState, error) {
	return Call(ctx, r.exec, "power_state", func(ctx context.Context) (model.PowerState, error) {
		return r.driver.PowerState(ctx, id)
	})
}

func (r *resilientDriver) SetPowerState(ctx context.Context, id string, reset model.ResetType) error {
	return r.exec.Do(ctx, "set_power_state", func(ctx context.Context) error {
		return r.driver.SetPowerState(ctx, id, reset)
	})
}

func (r *resilientDriver) BootDevice(ctx context.Context, id string) (model.BootTarget, error) {
	return Call(ctx, r.exec, "boot_device", func(ctx context.Context) (model.BootTarget, error) {
		return r.driver.BootDevice(ctx, id)
	})
}

func (r *resilientDriver) SetBootDevice(ctx context.Context, id string, target model.BootTarget) error {
	return r.exec.Do(ctx, "set_boot_device", func(ctx context.Context) error {
		return r.driver.SetBootDevice(ctx, id, target)
	})
}

func (r *resilientDriver) BootMode(ctx context.Context, id string) (model.BootMode, error) {
	return Call(ctx, r.exec, "boot_mode", func(ctx context.Context) (model.BootMode, error) {
		return r.driver.BootMode(ctx, id)
	})
}

func (r *resilientDriver) SetBootMode(ctx context.Context, id string, mode model.BootMode) error {
	return r.exec.Do(ctx, "set_boot_mode", func(ctx context.Context) error {
		return r.driver.SetBootMode(ctx, id, mode)
	})
}

func (r *resilientDriver) Media(ctx context.Context, id string) ([]model.VirtualMedia, error) {
	return Call(ctx, r.exec, "media", func(ctx context.Context) ([]model.VirtualMedia, error) {
		return r.driver.Media(ctx, id)
	})
}

func (r *resilientDriver) InsertMedia(ctx context.Context, id, slot, uri string) error {
	return r.exec.media().Do(ctx, "insert_media", func(ctx context.Context) error {
		return r.driver.InsertMedia(ctx, id, slot, uri)
	})
}

func (r *resilientDriver) EjectMedia(ctx context.Context, id, slot string) error {
	return r.exec.Do(ctx, "eject_media", func(ctx context.Context) error {
		return r.driver.EjectMedia(ctx, id, slot)
	})
}

func (r *resilientDriver) Inventory(ctx context.Context, id string) (model.Inventory, error) {
	return Call(ctx, r.exec, "inventory", func(ctx context.Context) (model.Inventory, error) {
		return r.driver.Inventory(ctx, id)
	})
}

func (r *resilientDriver) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
