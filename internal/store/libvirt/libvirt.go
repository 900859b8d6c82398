// Package libvirt drives libvirt domains over the libvirt RPC protocol.
//
// A domain is addressed by its UUID, boot and media changes rewrite the persistent
// domain definition.
package libvirt

import (
	"context"
	"net"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/metal-toolbox/vbmc/internal/store/kind"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"
)

const (
	DefaultURI         = "qemu:///system"
	DefaultSocket      = "/var/run/libvirt/libvirt-sock"
	DefaultDialTimeout = 10 * time.Second
)

// Options configures the libvirt driver.
type Options struct {
	// URI is the hypervisor connection URI, qemu:///system by default.
	URI string `mapstructure:"uri"`

	// Network is unix or tcp, Address the socket path or host:port of libvirtd.
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`

	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	ValidateInterval time.Duration `mapstructure:"validate_interval"`

	// Loaders maps a boot mode and an architecture onto a firmware loader path.
	Loaders map[string]map[string]string `mapstructure:"-"`
}

func (o *Options) withDefaults() *Options {
	opts := *o

	if opts.URI == "" {
		opts.URI = DefaultURI
	}

	if opts.Network == "" {
		opts.Network = "unix"
	}

	if opts.Address == "" && opts.Network == "unix" {
		opts.Address = DefaultSocket
	}

	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}

	if opts.ValidateInterval <= 0 {
		opts.ValidateInterval = backend.DefaultValidateInterval
	}

	return &opts
}

// client is the part of the libvirt RPC API the driver uses.
type client interface {
	ConnectListAllDomains(needResults int32, flags golibvirt.ConnectListAllDomainsFlags) ([]golibvirt.Domain, uint32, error)
	DomainLookupByUUID(id golibvirt.UUID) (golibvirt.Domain, error)
	DomainGetState(dom golibvirt.Domain, flags uint32) (int32, int32, error)
	DomainCreate(dom golibvirt.Domain) error
	DomainDestroy(dom golibvirt.Domain) error
	DomainShutdown(dom golibvirt.Domain) error
	DomainReboot(dom golibvirt.Domain, flags golibvirt.DomainRebootFlagValues) error
	DomainReset(dom golibvirt.Domain, flags uint32) error
	DomainInjectNmi(dom golibvirt.Domain, flags uint32) error
	DomainGetXMLDesc(dom golibvirt.Domain, flags golibvirt.DomainXMLFlags) (string, error)
	DomainDefineXML(xml string) (golibvirt.Domain, error)
	DomainUpdateDeviceFlags(dom golibvirt.Domain, xml string, flags golibvirt.DomainDeviceModifyFlags) error
	DomainGetBlockInfo(dom golibvirt.Domain, path string, flags uint32) (uint64, uint64, uint64, error)
	ConnectGetLibVersion() (uint64, error)
	Disconnect() error
}

// Driver implements backend.Driver for libvirt.
type Driver struct {
	session *backend.Session[client]
	loaders map[string]map[string]string
	logger  *logrus.Entry
}

// New returns a driver connecting to libvirtd on first use.
func New(opts *Options, logger *logrus.Entry) (*Driver, error) {
	if opts == nil {
		return nil, errors.Wrap(model.ErrConfig, "libvirt options not set")
	}

	opts = opts.withDefaults()
	if opts.Address == "" {
		return nil, errors.Wrap(model.ErrConfig, "libvirt address not set")
	}

	connect := func(ctx context.Context) (client, error) {
		dialer := net.Dialer{Timeout: opts.DialTimeout}

		conn, err := dialer.DialContext(ctx, opts.Network, opts.Address)
		if err != nil {
			return nil, errors.Wrapf(model.ErrTransient, "dial libvirtd: %s", err)
		}

		l := golibvirt.New(conn)
		if err := l.ConnectToURI(golibvirt.ConnectURI(opts.URI)); err != nil {
			conn.Close()
			return nil, classify(err)
		}

		return l, nil
	}

	return newDriver(opts, connect, logger), nil
}

func newDriver(opts *Options, connect backend.ConnectFunc[client], logger *logrus.Entry) *Driver {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	logger = logger.WithField("kind", kind.Libvirt.String())

	session := backend.NewSession(
		opts.URI,
		connect,
		backend.WithValidate(opts.ValidateInterval, func(_ context.Context, c client) error {
			_, err := c.ConnectGetLibVersion()
			return classify(err)
		}),
		backend.WithDisconnect(func(_ context.Context, c client) error {
			return c.Disconnect()
		}),
		backend.WithLogger[client](logger),
	)

	return &Driver{
		session: session,
		loaders: opts.Loaders,
		logger:  logger,
	}
}

func (d *Driver) Kind() kind.Backend {
	return kind.Libvirt
}

// domain runs fn against the domain with the given UUID.
func (d *Driver) domain(ctx context.Context, id string, fn func(c client, dom golibvirt.Domain) error) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return backend.NotFound(id)
	}

	return d.session.Use(ctx, func(c client) error {
		dom, err := c.DomainLookupByUUID(golibvirt.UUID(parsed))
		if err != nil {
			return classify(err)
		}

		return classify(fn(c, dom))
	})
}

// definition runs fn against the parsed persistent definition of a domain.
func (d *Driver) definition(ctx context.Context, id string, fn func(c client, dom golibvirt.Domain, domain *libvirtxml.Domain) error) error {
	return d.domain(ctx, id, func(c client, dom golibvirt.Domain) error {
		doc, err := c.DomainGetXMLDesc(dom, golibvirt.DomainXMLInactive)
		if err != nil {
			return classify(err)
		}

		domain, err := parseDomain(doc)
		if err != nil {
			return err
		}

		return fn(c, dom, domain)
	})
}

func define(c client, domain *libvirtxml.Domain) error {
	doc, err := marshalDomain(domain)
	if err != nil {
		return err
	}

	_, err = c.DomainDefineXML(doc)

	return classify(err)
}

func (d *Driver) Enumerate(ctx context.Context) ([]backend.Object, error) {
	objects := []backend.Object{}

	err := d.session.Use(ctx, func(c client) error {
		domains, _, err := c.ConnectListAllDomains(1, golibvirt.ConnectListDomainsActive|golibvirt.ConnectListDomainsInactive)
		if err != nil {
			return classify(err)
		}

		for _, dom := range domains {
			id := uuid.UUID(dom.UUID).String()
			objects = append(objects, backend.Object{ID: id, Name: dom.Name, UUID: id})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

func powerState(state golibvirt.DomainState) model.PowerState {
	switch state {
	case golibvirt.DomainRunning, golibvirt.DomainBlocked, golibvirt.DomainPaused, golibvirt.DomainPmsuspended:
		return model.PowerStateOn
	case golibvirt.DomainShutdown:
		return model.PowerStatePoweringOff
	case golibvirt.DomainShutoff, golibvirt.DomainCrashed:
		return model.PowerStateOff
	default:
		return model.PowerStateUnknown
	}
}

func currentPower(c client, dom golibvirt.Domain) (model.PowerState, error) {
	state, _, err := c.DomainGetState(dom, 0)
	if err != nil {
		return "", classify(err)
	}

	return powerState(golibvirt.DomainState(state)), nil
}

func (d *Driver) PowerState(ctx context.Context, id string) (model.PowerState, error) {
	var state model.PowerState

	err := d.domain(ctx, id, func(c client, dom golibvirt.Domain) error {
		var err error

		state, err = currentPower(c, dom)

		return err
	})

	return state, err
}

func (d *Driver) SetPowerState(ctx context.Context, id string, reset model.ResetType) error {
	return d.domain(ctx, id, func(c client, dom golibvirt.Domain) error {
		switch reset {
		case model.ResetOn:
			return c.DomainCreate(dom)
		case model.ResetForceOff:
			return c.DomainDestroy(dom)
		case model.ResetGracefulShutdown:
			return c.DomainShutdown(dom)
		case model.ResetGracefulRestart:
			return c.DomainReboot(dom, 0)
		case model.ResetForceRestart:
			return c.DomainReset(dom, 0)
		case model.ResetNmi:
			return c.DomainInjectNmi(dom, 0)
		default:
			return model.Public(model.ErrInvalidRequest, "unsupported reset type %q", reset)
		}
	})
}

func (d *Driver) BootDevice(ctx context.Context, id string) (model.BootTarget, error) {
	var target model.BootTarget

	err := d.definition(ctx, id, func(_ client, _ golibvirt.Domain, domain *libvirtxml.Domain) error {
		target = bootDevice(domain)
		return nil
	})

	return target, err
}

func (d *Driver) SetBootDevice(ctx context.Context, id string, target model.BootTarget) error {
	return d.definition(ctx, id, func(c client, _ golibvirt.Domain, domain *libvirtxml.Domain) error {
		setBootDevice(domain, target)

		d.logger.WithFields(logrus.Fields{
			"system": id,
			"target": target,
		}).Debug("redefining domain boot device")

		return define(c, domain)
	})
}

func (d *Driver) BootMode(ctx context.Context, id string) (model.BootMode, error) {
	var mode model.BootMode

	err := d.definition(ctx, id, func(_ client, _ golibvirt.Domain, domain *libvirtxml.Domain) error {
		mode = bootMode(domain)
		return nil
	})

	return mode, err
}

func (d *Driver) SetBootMode(ctx context.Context, id string, mode model.BootMode) error {
	return d.definition(ctx, id, func(c client, _ golibvirt.Domain, domain *libvirtxml.Domain) error {
		if bootMode(domain) == mode {
			return nil
		}

		setBootMode(domain, mode, d.loaders)

		return define(c, domain)
	})
}

func (d *Driver) Media(ctx context.Context, id string) ([]model.VirtualMedia, error) {
	var out []model.VirtualMedia

	err := d.definition(ctx, id, func(_ client, _ golibvirt.Domain, domain *libvirtxml.Domain) error {
		out = media(domain)
		return nil
	})

	return out, err
}

func (d *Driver) InsertMedia(ctx context.Context, id, slot, uri string) error {
	source, err := diskSource(uri)
	if err != nil {
		return err
	}

	return d.changeMedia(ctx, id, slot, source)
}

func (d *Driver) EjectMedia(ctx context.Context, id, slot string) error {
	return d.changeMedia(ctx, id, slot, nil)
}

// changeMedia sets the source of a removable drive in the persistent definition and,
// for a running domain with an existing drive, in the live one.
func (d *Driver) changeMedia(ctx context.Context, id, slot string, source *libvirtxml.DomainDiskSource) error {
	return d.definition(ctx, id, func(c client, dom golibvirt.Domain, domain *libvirtxml.Domain) error {
		disk := findDisk(domain, slotDevice(slot))
		existed := disk != nil

		if !existed {
			if source == nil {
				return nil
			}

			disk = addDisk(domain, slot)
		}

		disk.Source = source

		if err := define(c, domain); err != nil {
			return err
		}

		power, err := currentPower(c, dom)
		if err != nil || power != model.PowerStateOn || !existed {
			return err
		}

		doc, err := disk.Marshal()
		if err != nil {
			return errors.Wrap(ErrDomainXML, err.Error())
		}

		return classify(c.DomainUpdateDeviceFlags(dom, doc, golibvirt.DomainDeviceModifyLive))
	})
}

func (d *Driver) Inventory(ctx context.Context, id string) (model.Inventory, error) {
	var inv model.Inventory

	err := d.definition(ctx, id, func(c client, dom golibvirt.Domain, domain *libvirtxml.Domain) error {
		inv = inventory(domain)

		for _, sc := range inv.Storage {
			for i := range sc.Devices {
				// network and missing volumes report no size
				_, capacity, _, err := c.DomainGetBlockInfo(dom, sc.Devices[i].Name, 0)
				if err != nil {
					d.logger.WithError(err).WithField("disk", sc.Devices[i].Name).Debug("disk capacity unavailable")
					continue
				}

				sc.Devices[i].CapacityBytes = int64(capacity)
			}
		}

		return nil
	})

	return inv, err
}

func (d *Driver) Close(ctx context.Context) error {
	return d.session.Close(ctx)
}
