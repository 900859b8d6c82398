package backend

import (
	"context"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/kind"
)

//go:generate mockgen -source=interface.go -destination=../../mocks/backend_mocks.go -package=mocks

// Object is one machine as reported by a backend enumeration.
type Object struct {
	// ID is the backend native identifier, domain UUID, server ID or MoRef value.
	ID string
	// Name is the human readable label, empty when the backend has none.
	Name string
	// UUID is the firmware visible UUID when the backend exposes one.
	UUID string
}

// Driver is the capability set every virtualization backend implements.
//
// Implementations classify native failures into the model error taxonomy and never
// retry on their own, retries belong to the executor wrapping the driver.
// Every method must be safe for concurrent use.
type Driver interface {
	// Kind returns the backend platform of the driver.
	Kind() kind.Backend

	// Enumerate lists the machines currently known to the backend.
	Enumerate(ctx context.Context) ([]Object, error)

	// PowerState returns the current power state of a machine.
	PowerState(ctx context.Context, id string) (model.PowerState, error)

	// SetPowerState applies a primitive reset type to a machine.
	SetPowerState(ctx context.Context, id string, reset model.ResetType) error

	// BootDevice returns the native boot device of a machine.
	BootDevice(ctx context.Context, id string) (model.BootTarget, error)

	// SetBootDevice makes target the native boot device of a machine.
	SetBootDevice(ctx context.Context, id string, target model.BootTarget) error

	// BootMode returns the firmware boot mode of a machine.
	BootMode(ctx context.Context, id string) (model.BootMode, error)

	// SetBootMode switches the firmware boot mode of a machine.
	SetBootMode(ctx context.Context, id string, mode model.BootMode) error

	// Media lists the removable media slots of a machine.
	Media(ctx context.Context, id string) ([]model.VirtualMedia, error)

	// InsertMedia attaches the image at uri to a normalized slot.
	InsertMedia(ctx context.Context, id, slot, uri string) error

	// EjectMedia detaches the image of a normalized slot, a no-op on an empty slot.
	EjectMedia(ctx context.Context, id, slot string) error

	// Inventory returns the basic hardware description of a machine.
	Inventory(ctx context.Context, id string) (model.Inventory, error)

	// Close tears down the backend session.
	Close(ctx context.Context) error
}
