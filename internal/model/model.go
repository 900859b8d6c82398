package model

const (
	AppName = "vbmc"

	// DefaultDriverTag is used when configuration names a single backend without a tag.
	DefaultDriverTag = "default"
)

// Args holds the command line arguments shared by all commands.
type Args struct {
	LogLevel        string
	ConfigFile      string
	Driver          string
	Output          string
	MetricsAddress  string
	EnableProfiling bool
}

// Identity pairs the Redfish visible System identifier with the backend native one.
type Identity struct {
	ExternalID string `json:"id" yaml:"id"`
	BackendID  string `json:"backend_id" yaml:"backend_id"`
}

func (i Identity) AsLogFields() []any {
	return []any{
		"system", i.ExternalID,
		"backendID", i.BackendID,
	}
}

// System is a point in time snapshot of one emulated machine.
// nolint:govet // prefer readability over field alignment optimization for this case.
type System struct {
	ExternalID string       `json:"id" yaml:"id"`
	BackendID  string       `json:"backend_id" yaml:"backend_id"`
	Name       string       `json:"name" yaml:"name"`
	UUID       string       `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Driver     string       `json:"driver" yaml:"driver"`
	PowerState PowerState   `json:"power_state" yaml:"power_state"`
	Boot       BootOverride `json:"boot" yaml:"boot"`
	Inventory  *Inventory   `json:"inventory,omitempty" yaml:"inventory,omitempty"`
}

// Inventory is the basic hardware description of a System.
type Inventory struct {
	Processors int      `json:"processors" yaml:"processors"`
	MemoryGiB  float64  `json:"memory_gib" yaml:"memory_gib"`
	Arch       string   `json:"arch,omitempty" yaml:"arch,omitempty"`
	NICs       []string `json:"nics" yaml:"nics"`

	Storage []StorageController `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// StorageController is a disk controller with the disks attached to it.
type StorageController struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Devices []Disk `json:"devices" yaml:"devices"`
}

// Disk is a virtual disk, CapacityBytes is zero when the backend does not report a size.
type Disk struct {
	Name          string `json:"name" yaml:"name"`
	CapacityBytes int64  `json:"capacity_bytes" yaml:"capacity_bytes"`
}
