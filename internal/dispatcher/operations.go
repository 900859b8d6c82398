package dispatcher

import (
	"context"

	"github.com/metal-toolbox/vbmc/internal/coordinator"
	"github.com/metal-toolbox/vbmc/internal/model"
)

// System is the resolved target of an operation.
type System struct {
	model.Identity
	Name   string
	UUID   string
	Target coordinator.Target
}

// Operation is one Redfish verb applied to a System.
type Operation interface {
	// Name of the operation
	Name() string
	// Mutating reports whether the operation changes the System
	Mutating() bool
	// Validate checks the arguments before the System is resolved
	Validate() error
	// Run performs the operation and returns the result snapshot
	Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error)
}

// op holds what every operation shares.
type op struct {
	name     string
	mutating bool
	err      error
}

func (o *op) Name() string {
	return o.name
}

func (o *op) Mutating() bool {
	return o.mutating
}

func (o *op) Validate() error {
	return o.err
}

type getSystemOp struct {
	op
}

// GetSystem returns the System snapshot: power, boot override and inventory.
func GetSystem() Operation {
	return &getSystemOp{op{name: "GetSystem"}}
}

func (o *getSystemOp) Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error) {
	power, err := coord.PowerState(ctx, sys.Target)
	if err != nil {
		return nil, err
	}

	boot, err := coord.BootOverride(ctx, sys.Target)
	if err != nil {
		return nil, err
	}

	inventory, err := coord.Inventory(ctx, sys.Target)
	if err != nil {
		return nil, err
	}

	return &model.System{
		ExternalID: sys.ExternalID,
		BackendID:  sys.BackendID,
		Name:       sys.Name,
		UUID:       sys.UUID,
		Driver:     sys.Target.Driver,
		PowerState: power,
		Boot:       boot,
		Inventory:  &inventory,
	}, nil
}

type getPowerStateOp struct {
	op
}

// GetPowerState returns the power state of the System.
func GetPowerState() Operation {
	return &getPowerStateOp{op{name: "GetPowerState"}}
}

func (o *getPowerStateOp) Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error) {
	return coord.PowerState(ctx, sys.Target)
}

type setPowerStateOp struct {
	op
	reset model.ResetType
}

// SetPowerState applies a Redfish reset type.
func SetPowerState(reset string) Operation {
	r, err := model.ParseResetType(reset)

	return &setPowerStateOp{
		op:    op{name: "SetPowerState", mutating: true, err: err},
		reset: r,
	}
}

func (o *setPowerStateOp) Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error) {
	return coord.SetPowerState(ctx, sys.Target, o.reset)
}

type getBootOp struct {
	op
}

// GetBoot returns the boot source override of the System.
func GetBoot() Operation {
	return &getBootOp{op{name: "GetBoot"}}
}

func (o *getBootOp) Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error) {
	return coord.BootOverride(ctx, sys.Target)
}

type setBootOp struct {
	op
	target  model.BootTarget
	enabled model.BootOverrideEnabled
	mode    *model.BootMode
}

// SetBoot arms or clears the boot source override, an empty mode keeps the boot mode.
func SetBoot(target, enabled, mode string) Operation {
	o := &setBootOp{op: op{name: "SetBoot", mutating: true}}

	if enabled == "" {
		enabled = string(model.BootOverrideOnce)
	}

	if o.target, o.err = model.ParseBootTarget(target); o.err != nil {
		return o
	}

	if o.enabled, o.err = model.ParseBootOverrideEnabled(enabled); o.err != nil {
		return o
	}

	if mode != "" {
		m, err := model.ParseBootMode(mode)
		if err != nil {
			o.err = err
			return o
		}

		o.mode = &m
	}

	return o
}

func (o *setBootOp) Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error) {
	return coord.SetBootOverride(ctx, sys.Target, o.target, o.enabled, o.mode)
}

type listMediaOp struct {
	op
}

// ListMedia returns every virtual media slot of the System.
func ListMedia() Operation {
	return &listMediaOp{op{name: "ListMedia"}}
}

func (o *listMediaOp) Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error) {
	return coord.Media(ctx, sys.Target)
}

type insertMediaOp struct {
	op
	slot string
	uri  string
}

// InsertMedia attaches the image at uri to a slot.
func InsertMedia(slot, uri string) Operation {
	o := &insertMediaOp{op: op{name: "InsertMedia", mutating: true}, uri: uri}

	if o.slot, o.err = model.ParseSlot(slot); o.err != nil {
		return o
	}

	o.err = coordinator.ValidateImageURI(uri)

	return o
}

func (o *insertMediaOp) Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error) {
	return coord.InsertMedia(ctx, sys.Target, o.slot, o.uri)
}

type ejectMediaOp struct {
	op
	slot string
}

// EjectMedia detaches the image of a slot.
func EjectMedia(slot string) Operation {
	o := &ejectMediaOp{op: op{name: "EjectMedia", mutating: true}}
	o.slot, o.err = model.ParseSlot(slot)

	return o
}

func (o *ejectMediaOp) Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error) {
	return coord.EjectMedia(ctx, sys.Target, o.slot)
}

type getInventoryOp struct {
	op
}

// GetInventory returns the hardware description of the System.
func GetInventory() Operation {
	return &getInventoryOp{op{name: "GetInventory"}}
}

func (o *getInventoryOp) Run(ctx context.Context, coord *coordinator.Coordinator, sys *System) (any, error) {
	return coord.Inventory(ctx, sys.Target)
}
