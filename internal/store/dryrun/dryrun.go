package dryrun

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/metal-toolbox/vbmc/internal/store/kind"
	"github.com/mitchellh/copystructure"
	"github.com/pkg/errors"
)

var (
	errNotRunning = model.Public(model.ErrInvalidRequest, "machine is not running")
)

// Machine seeds one simulated machine.
type Machine struct {
	Name       string           `mapstructure:"name"`
	UUID       string           `mapstructure:"uuid"`
	PowerState model.PowerState `mapstructure:"power_state"`
	BootDevice model.BootTarget `mapstructure:"boot_device"`
	BootMode   model.BootMode   `mapstructure:"boot_mode"`
	Processors int              `mapstructure:"processors"`
	MemoryGiB  float64          `mapstructure:"memory_gib"`
	NICs       []string         `mapstructure:"nics"`
	// DiskGiB sizes the single simulated disk, zero leaves the machine diskless.
	DiskGiB int64 `mapstructure:"disk_gib"`
}

// Options configures the simulated backend.
type Options struct {
	Machines []Machine `mapstructure:"machines"`
	// RestartDelay is how long a restarted machine reports PoweringOn.
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

type machine struct {
	name       string
	uuid       string
	powerState model.PowerState
	bootTime   time.Time
	bootDevice model.BootTarget
	bootMode   model.BootMode
	media      map[string]model.VirtualMedia
	inventory  model.Inventory
}

// Driver is an in-memory backend simulating virtual machines.
//
// Every instance owns its machines, instances never share state.
type Driver struct {
	mu           sync.Mutex
	machines     map[string]*machine
	restartDelay time.Duration
	calls        map[string]int
	faults       map[string][]error
	now          func() time.Time
}

// New returns a simulated backend seeded from opts.
func New(opts *Options) *Driver {
	d := &Driver{
		machines: map[string]*machine{},
		calls:    map[string]int{},
		faults:   map[string][]error{},
		now:      time.Now,
	}

	if opts == nil {
		return d
	}

	d.restartDelay = opts.RestartDelay

	for _, m := range opts.Machines {
		d.Add(m)
	}

	return d
}

// Add creates a machine and returns its backend id.
func (d *Driver) Add(m Machine) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := m.UUID
	if id == "" {
		id = uuid.NewString()
	}

	state := &machine{
		name:       m.Name,
		uuid:       id,
		powerState: m.PowerState,
		bootDevice: m.BootDevice,
		bootMode:   m.BootMode,
		media:      map[string]model.VirtualMedia{},
		inventory: model.Inventory{
			Processors: m.Processors,
			MemoryGiB:  m.MemoryGiB,
			Arch:       "x86_64",
			NICs:       append([]string{}, m.NICs...),
		},
	}

	if m.DiskGiB > 0 {
		state.inventory.Storage = []model.StorageController{
			{ID: "sata0", Name: "SATA controller 0", Devices: []model.Disk{{Name: "disk0", CapacityBytes: m.DiskGiB << 30}}},
		}
	}

	if state.powerState == "" {
		state.powerState = model.PowerStateOff
	}

	if state.bootDevice == "" {
		state.bootDevice = model.BootTargetHdd
	}

	if state.bootMode == "" {
		state.bootMode = model.BootModeLegacy
	}

	d.machines[id] = state

	return id
}

// Remove deletes a machine, as if it was destroyed out of band.
func (d *Driver) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.machines, id)
}

// SetPowerStateOutOfBand changes the power state without counting a call.
func (d *Driver) SetPowerStateOutOfBand(id string, state model.PowerState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if m, ok := d.machines[id]; ok {
		m.powerState = state
	}
}

// Fail queues errors returned by the next calls of the named method.
func (d *Driver) Fail(method string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.faults[method] = append(d.faults[method], errs...)
}

// Calls returns how many times the named method reached the simulated backend.
func (d *Driver) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls[method]
}

func (d *Driver) Kind() kind.Backend {
	return kind.DryRun
}

func (d *Driver) Enumerate(_ context.Context) ([]backend.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter("Enumerate"); err != nil {
		return nil, err
	}

	objects := make([]backend.Object, 0, len(d.machines))
	for id, m := range d.machines {
		objects = append(objects, backend.Object{ID: id, Name: m.name, UUID: m.uuid})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })

	return objects, nil
}

func (d *Driver) PowerState(_ context.Context, id string) (model.PowerState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("PowerState", id)
	if err != nil {
		return "", err
	}

	return m.powerState, nil
}

func (d *Driver) SetPowerState(_ context.Context, id string, reset model.ResetType) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("SetPowerState", id)
	if err != nil {
		return err
	}

	switch reset {
	case model.ResetOn:
		m.powerState = model.PowerStateOn
	case model.ResetForceOff, model.ResetGracefulShutdown:
		m.powerState = model.PowerStateOff
	case model.ResetGracefulRestart, model.ResetForceRestart:
		if m.powerState != model.PowerStateOn {
			return errNotRunning
		}

		m.bootTime = d.now().Add(d.restartDelay)
		m.powerState = model.PowerStatePoweringOn
		d.settle(m)
	case model.ResetNmi:
		if m.powerState != model.PowerStateOn {
			return errNotRunning
		}
	default:
		return model.Public(model.ErrInvalidRequest, "unsupported reset type %q", reset)
	}

	return nil
}

func (d *Driver) BootDevice(_ context.Context, id string) (model.BootTarget, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("BootDevice", id)
	if err != nil {
		return "", err
	}

	return m.bootDevice, nil
}

func (d *Driver) SetBootDevice(_ context.Context, id string, target model.BootTarget) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("SetBootDevice", id)
	if err != nil {
		return err
	}

	m.bootDevice = target

	return nil
}

func (d *Driver) BootMode(_ context.Context, id string) (model.BootMode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("BootMode", id)
	if err != nil {
		return "", err
	}

	return m.bootMode, nil
}

func (d *Driver) SetBootMode(_ context.Context, id string, mode model.BootMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("SetBootMode", id)
	if err != nil {
		return err
	}

	m.bootMode = mode

	return nil
}

func (d *Driver) Media(_ context.Context, id string) ([]model.VirtualMedia, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("Media", id)
	if err != nil {
		return nil, err
	}

	media := make([]model.VirtualMedia, 0, len(model.Slots()))
	for _, slot := range model.Slots() {
		if vm, ok := m.media[slot]; ok {
			media = append(media, vm)
			continue
		}

		media = append(media, model.EmptySlot(slot))
	}

	return media, nil
}

func (d *Driver) InsertMedia(_ context.Context, id, slot, uri string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("InsertMedia", id)
	if err != nil {
		return err
	}

	vm := model.EmptySlot(slot)
	vm.ImageURI = uri
	vm.Inserted = true
	m.media[slot] = vm

	return nil
}

func (d *Driver) EjectMedia(_ context.Context, id, slot string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("EjectMedia", id)
	if err != nil {
		return err
	}

	delete(m.media, slot)

	return nil
}

func (d *Driver) Inventory(_ context.Context, id string) (model.Inventory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.machine("Inventory", id)
	if err != nil {
		return model.Inventory{}, err
	}

	inventory, err := copystructure.Copy(m.inventory)
	if err != nil {
		return model.Inventory{}, errors.Wrap(err, "copy inventory")
	}

	return inventory.(model.Inventory), nil
}

func (d *Driver) Close(_ context.Context) error {
	return nil
}

// enter counts a call and pops an injected fault, the caller holds d.mu.
func (d *Driver) enter(method string) error {
	d.calls[method]++

	queue := d.faults[method]
	if len(queue) == 0 {
		return nil
	}

	d.faults[method] = queue[1:]

	return queue[0]
}

// machine returns the settled state of a machine, the caller holds d.mu.
func (d *Driver) machine(method, id string) (*machine, error) {
	if err := d.enter(method); err != nil {
		return nil, err
	}

	m, ok := d.machines[id]
	if !ok {
		return nil, backend.NotFound(id)
	}

	d.settle(m)

	return m, nil
}

// settle completes a restart whose boot time has passed.
func (d *Driver) settle(m *machine) {
	if m.powerState == model.PowerStatePoweringOn && !d.now().Before(m.bootTime) {
		m.powerState = model.PowerStateOn
	}
}
