// Package vmware drives vSphere virtual machines through vCenter or a standalone ESXi host.
package vmware

import (
	"context"
	"net/http"
	"time"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/metal-toolbox/vbmc/internal/store/kind"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmware/govmomi/vim25/types"
)

// Options configures the VMware driver.
type Options struct {
	// URL of the SDK endpoint, https://vcenter.example/sdk.
	URL              string        `mapstructure:"url"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	PasswordSecret   string        `mapstructure:"password_secret"`
	Insecure         bool          `mapstructure:"insecure"`
	ValidateInterval time.Duration `mapstructure:"validate_interval"`
	// Datastore receives http(s) images in its vmedia folder, remote images are
	// rejected when unset.
	Datastore     string        `mapstructure:"datastore"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

const DefaultUploadTimeout = 30 * time.Minute

// Driver implements backend.Driver for vSphere.
type Driver struct {
	session   *backend.Session[client]
	datastore string
	images    *http.Client
	logger    *logrus.Entry
}

// New returns a driver logging into vSphere on first use.
func New(opts *Options, logger *logrus.Entry) (*Driver, error) {
	if opts == nil || opts.URL == "" {
		return nil, errors.Wrap(model.ErrConfig, "vmware url not set")
	}

	return newDriver(opts, func(ctx context.Context) (client, error) {
		return connect(ctx, opts)
	}, logger), nil
}

func newDriver(opts *Options, connect backend.ConnectFunc[client], logger *logrus.Entry) *Driver {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	logger = logger.WithField("kind", kind.VMware.String())

	interval := opts.ValidateInterval
	if interval <= 0 {
		interval = backend.DefaultValidateInterval
	}

	session := backend.NewSession(
		opts.URL,
		connect,
		backend.WithValidate(interval, func(ctx context.Context, c client) error {
			return c.Active(ctx)
		}),
		backend.WithDisconnect(func(ctx context.Context, c client) error {
			return c.Logout(ctx)
		}),
		backend.WithLogger[client](logger),
	)

	timeout := opts.UploadTimeout
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}

	return &Driver{
		session:   session,
		datastore: opts.Datastore,
		images:    backend.NewHTTPClient(timeout, opts.Insecure),
		logger:    logger,
	}
}

func (d *Driver) Kind() kind.Backend {
	return kind.VMware
}

func (d *Driver) machine(ctx context.Context, id string) (*machine, error) {
	var m *machine

	err := d.session.Use(ctx, func(c client) error {
		var err error

		m, err = c.Machine(ctx, id)

		return classify(err)
	})

	return m, err
}

func (d *Driver) Enumerate(ctx context.Context) ([]backend.Object, error) {
	objects := []backend.Object{}

	err := d.session.Use(ctx, func(c client) error {
		list, err := c.Machines(ctx)
		if err != nil {
			return classify(err)
		}

		for i := range list {
			if list[i].Template {
				continue
			}

			objects = append(objects, backend.Object{ID: list[i].ID, Name: list[i].Name, UUID: list[i].UUID})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

func powerState(state types.VirtualMachinePowerState) model.PowerState {
	switch state {
	case types.VirtualMachinePowerStatePoweredOn:
		return model.PowerStateOn
	case types.VirtualMachinePowerStatePoweredOff, types.VirtualMachinePowerStateSuspended:
		return model.PowerStateOff
	default:
		return model.PowerStateUnknown
	}
}

func (d *Driver) PowerState(ctx context.Context, id string) (model.PowerState, error) {
	m, err := d.machine(ctx, id)
	if err != nil {
		return "", err
	}

	return powerState(m.Power), nil
}

func (d *Driver) SetPowerState(ctx context.Context, id string, reset model.ResetType) error {
	return d.session.Use(ctx, func(c client) error {
		var err error

		switch reset {
		case model.ResetOn:
			err = c.PowerOn(ctx, id)
		case model.ResetForceOff:
			err = c.PowerOff(ctx, id)
		case model.ResetGracefulShutdown:
			err = c.ShutdownGuest(ctx, id)
		case model.ResetGracefulRestart:
			err = c.RebootGuest(ctx, id)
		case model.ResetForceRestart:
			err = c.Reset(ctx, id)
		case model.ResetNmi:
			err = errNmi
		default:
			err = model.Public(model.ErrInvalidRequest, "unsupported reset type %q", reset)
		}

		return classify(err)
	})
}

func (d *Driver) BootDevice(ctx context.Context, id string) (model.BootTarget, error) {
	m, err := d.machine(ctx, id)
	if err != nil {
		return "", err
	}

	return bootDevice(m.BootOrder), nil
}

func (d *Driver) SetBootDevice(ctx context.Context, id string, target model.BootTarget) error {
	return d.session.Use(ctx, func(c client) error {
		m, err := c.Machine(ctx, id)
		if err != nil {
			return classify(err)
		}

		order, err := bootOrder(m.Devices, target)
		if err != nil {
			return err
		}

		spec := types.VirtualMachineConfigSpec{
			BootOptions: &types.VirtualMachineBootOptions{BootOrder: order},
		}

		return classify(c.Reconfigure(ctx, id, spec))
	})
}

func (d *Driver) BootMode(ctx context.Context, id string) (model.BootMode, error) {
	m, err := d.machine(ctx, id)
	if err != nil {
		return "", err
	}

	return bootMode(m.Firmware), nil
}

func (d *Driver) SetBootMode(ctx context.Context, id string, mode model.BootMode) error {
	return d.session.Use(ctx, func(c client) error {
		m, err := c.Machine(ctx, id)
		if err != nil {
			return classify(err)
		}

		if bootMode(m.Firmware) == mode {
			return nil
		}

		return classify(c.Reconfigure(ctx, id, types.VirtualMachineConfigSpec{Firmware: firmware(mode)}))
	})
}

func (d *Driver) Media(ctx context.Context, id string) ([]model.VirtualMedia, error) {
	m, err := d.machine(ctx, id)
	if err != nil {
		return nil, err
	}

	return media(m.Devices), nil
}

func (d *Driver) InsertMedia(ctx context.Context, id, slot, uri string) error {
	file, err := datastorePath(uri)
	if remote(uri) {
		file, err = d.upload(ctx, uri)
	}

	if err != nil {
		return err
	}

	return d.changeMedia(ctx, id, slot, file)
}

func (d *Driver) EjectMedia(ctx context.Context, id, slot string) error {
	return d.changeMedia(ctx, id, slot, "")
}

func (d *Driver) changeMedia(ctx context.Context, id, slot, file string) error {
	return d.session.Use(ctx, func(c client) error {
		m, err := c.Machine(ctx, id)
		if err != nil {
			return classify(err)
		}

		change, err := mediaChange(m.Devices, slot, file, m.Power == types.VirtualMachinePowerStatePoweredOn)
		if err != nil || len(change) == 0 {
			return err
		}

		d.logger.WithFields(logrus.Fields{
			"system": id,
			"slot":   slot,
			"image":  file,
		}).Debug("reconfiguring removable drive")

		return classify(c.Reconfigure(ctx, id, types.VirtualMachineConfigSpec{DeviceChange: change}))
	})
}

func (d *Driver) Inventory(ctx context.Context, id string) (model.Inventory, error) {
	m, err := d.machine(ctx, id)
	if err != nil {
		return model.Inventory{}, err
	}

	return model.Inventory{
		Processors: int(m.NumCPU),
		MemoryGiB:  float64(m.MemoryMB) / 1024,
		NICs:       nics(m.Devices),
		Arch:       "x86_64",
		Storage:    storage(m.Devices),
	}, nil
}

func (d *Driver) Close(ctx context.Context) error {
	return d.session.Close(ctx)
}
