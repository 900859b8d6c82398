package coordinator

import (
	"time"

	"github.com/metal-toolbox/vbmc/internal/model"
)

// State is the boot override state of one System.
type State uint8

const (
	NoOverride State = iota
	OverrideArmed
	OverrideConsumed
)

func (s State) String() string {
	switch s {
	case NoOverride:
		return "NoOverride"
	case OverrideArmed:
		return "OverrideArmed"
	case OverrideConsumed:
		return "OverrideConsumed"
	default:
		return "unknown"
	}
}

// Event is an input of the boot override state machine.
type Event uint8

const (
	// EventArm records a Once or Continuous override request.
	EventArm Event = iota
	// EventClear records a Disabled override request.
	EventClear
	// EventPowerOn records an observed power on or restart.
	EventPowerOn
	// EventRead records a boot device read.
	EventRead
)

func (e Event) String() string {
	switch e {
	case EventArm:
		return "arm"
	case EventClear:
		return "clear"
	case EventPowerOn:
		return "power_on"
	case EventRead:
		return "read"
	default:
		return "unknown"
	}
}

// Transition returns the state following an event.
//
// A Once override is consumed by the first power on after arming and forgotten on the
// next read, a Continuous override stays armed until cleared.
func Transition(state State, persistent bool, event Event) State {
	switch event {
	case EventArm:
		return OverrideArmed
	case EventClear:
		return NoOverride
	case EventPowerOn:
		if state == OverrideArmed && !persistent {
			return OverrideConsumed
		}
	case EventRead:
		if state == OverrideConsumed {
			return NoOverride
		}
	}

	return state
}

// Key identifies the overlay of one machine of one driver.
type Key struct {
	Driver    string
	BackendID string
}

func (k Key) String() string {
	return k.Driver + "/" + k.BackendID
}

// Overlay is the emulator side boot state of one machine.
// nolint:govet // prefer readability over field alignment optimization for this case.
type Overlay struct {
	State      State
	Target     model.BootTarget
	Persistent bool

	// NativeTarget is the backend boot device before the override was armed.
	NativeTarget model.BootTarget
	// Applied is set when Target was written to the backend.
	Applied bool

	// LastPower is the last power state observed for the machine.
	LastPower model.PowerState

	UpdatedAt time.Time
}

// Enabled returns the Redfish override persistence of the overlay.
func (o Overlay) Enabled() model.BootOverrideEnabled {
	switch {
	case o.State != OverrideArmed:
		return model.BootOverrideDisabled
	case o.Persistent:
		return model.BootOverrideContinuous
	default:
		return model.BootOverrideOnce
	}
}

func isOn(state model.PowerState) bool {
	return state == model.PowerStateOn || state == model.PowerStatePoweringOn
}

// booted reports whether moving from the recorded to the observed power state is a
// power on.
func booted(last, observed model.PowerState) bool {
	return !isOn(last) && last != model.PowerStatePoweringOff && isOn(observed)
}
