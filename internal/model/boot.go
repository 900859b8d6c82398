package model

// BootTarget is the Redfish BootSourceOverrideTarget.
type BootTarget string

const (
	BootTargetNone   BootTarget = "None"
	BootTargetPxe    BootTarget = "Pxe"
	BootTargetHdd    BootTarget = "Hdd"
	BootTargetCd     BootTarget = "Cd"
	BootTargetFloppy BootTarget = "Floppy"
)

// ParseBootTarget validates a boot target received from a client.
func ParseBootTarget(s string) (BootTarget, error) {
	switch t := BootTarget(s); t {
	case BootTargetNone, BootTargetPxe, BootTargetHdd, BootTargetCd, BootTargetFloppy:
		return t, nil
	default:
		return "", Public(ErrInvalidRequest, "unsupported boot source %q", s)
	}
}

// BootOverrideEnabled is the Redfish BootSourceOverrideEnabled.
type BootOverrideEnabled string

const (
	BootOverrideDisabled   BootOverrideEnabled = "Disabled"
	BootOverrideOnce       BootOverrideEnabled = "Once"
	BootOverrideContinuous BootOverrideEnabled = "Continuous"
)

// ParseBootOverrideEnabled validates the override persistence received from a client.
func ParseBootOverrideEnabled(s string) (BootOverrideEnabled, error) {
	switch e := BootOverrideEnabled(s); e {
	case BootOverrideDisabled, BootOverrideOnce, BootOverrideContinuous:
		return e, nil
	default:
		return "", Public(ErrInvalidRequest, "unsupported boot override mode %q", s)
	}
}

// BootMode is the Redfish BootSourceOverrideMode.
type BootMode string

const (
	BootModeUEFI   BootMode = "UEFI"
	BootModeLegacy BootMode = "Legacy"
)

// ParseBootMode validates a boot mode received from a client.
func ParseBootMode(s string) (BootMode, error) {
	switch m := BootMode(s); m {
	case BootModeUEFI, BootModeLegacy:
		return m, nil
	default:
		return "", Public(ErrInvalidRequest, "unknown boot mode %q", s)
	}
}

// BootOverride is the boot source override reported for a System.
type BootOverride struct {
	Target  BootTarget          `json:"target" yaml:"target"`
	Enabled BootOverrideEnabled `json:"enabled" yaml:"enabled"`
	Mode    BootMode            `json:"mode,omitempty" yaml:"mode,omitempty"`
}
