package model

// PowerState is the Redfish PowerState of a System.
type PowerState string

const (
	PowerStateOn          PowerState = "On"
	PowerStateOff         PowerState = "Off"
	PowerStatePoweringOn  PowerState = "PoweringOn"
	PowerStatePoweringOff PowerState = "PoweringOff"
	PowerStateUnknown     PowerState = "Unknown"
)

// ResetType is the Redfish ComputerSystem.Reset action parameter.
type ResetType string

const (
	ResetOn               ResetType = "On"
	ResetForceOn          ResetType = "ForceOn"
	ResetForceOff         ResetType = "ForceOff"
	ResetGracefulShutdown ResetType = "GracefulShutdown"
	ResetGracefulRestart  ResetType = "GracefulRestart"
	ResetForceRestart     ResetType = "ForceRestart"
	ResetNmi              ResetType = "Nmi"
	ResetPushPowerButton  ResetType = "PushPowerButton"
	ResetPowerCycle       ResetType = "PowerCycle"
)

var resetTypes = []ResetType{
	ResetOn,
	ResetForceOn,
	ResetForceOff,
	ResetGracefulShutdown,
	ResetGracefulRestart,
	ResetForceRestart,
	ResetNmi,
	ResetPushPowerButton,
	ResetPowerCycle,
}

// ResetTypes returns the reset types accepted by SetPowerState.
func ResetTypes() []ResetType {
	return append([]ResetType(nil), resetTypes...)
}

// ParseResetType validates a reset type received from a client.
func ParseResetType(s string) (ResetType, error) {
	for _, r := range resetTypes {
		if string(r) == s {
			return r, nil
		}
	}

	return "", Public(ErrInvalidRequest, "unsupported reset type %q", s)
}

// Primitive reports whether backend drivers implement the reset type directly.
func (r ResetType) Primitive() bool {
	switch r {
	case ResetOn, ResetForceOff, ResetGracefulShutdown, ResetGracefulRestart, ResetForceRestart, ResetNmi:
		return true
	default:
		return false
	}
}

// PowersOff reports whether the reset type leaves the machine powered off.
func (r ResetType) PowersOff() bool {
	return r == ResetForceOff || r == ResetGracefulShutdown
}

// Restarts reports whether the reset type reboots a running machine.
func (r ResetType) Restarts() bool {
	return r == ResetGracefulRestart || r == ResetForceRestart || r == ResetPowerCycle
}
