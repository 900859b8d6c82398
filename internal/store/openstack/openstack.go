// Package openstack drives Nova servers.
//
// Nova has no boot device or removable media model, both are recorded in server
// metadata where provisioning tooling can act on them.
package openstack

import (
	"context"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/metal-toolbox/vbmc/internal/store/kind"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultFlavorCacheTTL = 10 * time.Minute

	metadataBootDevice  = "vbmc:boot-device"
	metadataMediaPrefix = "vbmc:media-"

	firmwareProperty = "hw_firmware_type"
)

// Options configures the OpenStack driver.
// nolint:govet // prefer readability over field alignment optimization for this case.
type Options struct {
	AuthURL     string `mapstructure:"auth_url"`
	Region      string `mapstructure:"region"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	DomainName  string `mapstructure:"domain_name"`
	ProjectName string `mapstructure:"project_name"`
	ProjectID   string `mapstructure:"project_id"`

	ApplicationCredentialID     string `mapstructure:"application_credential_id"`
	ApplicationCredentialSecret string `mapstructure:"application_credential_secret"`

	// PasswordSecret names the secret holding Password.
	PasswordSecret string `mapstructure:"password_secret"`

	Insecure       bool          `mapstructure:"insecure"`
	Timeout        time.Duration `mapstructure:"timeout"`
	FlavorCacheTTL time.Duration `mapstructure:"flavor_cache_ttl"`
}

// Driver implements backend.Driver for OpenStack.
type Driver struct {
	session *backend.Session[api]
	flavors *cache.Cache
	logger  *logrus.Entry
}

// New returns a driver authenticating against Keystone on first use.
func New(opts *Options, logger *logrus.Entry) (*Driver, error) {
	if opts == nil || opts.AuthURL == "" {
		return nil, errors.Wrap(model.ErrConfig, "openstack auth_url not set")
	}

	httpClient := backend.NewHTTPClient(opts.Timeout, opts.Insecure)

	return newDriver(opts, func(ctx context.Context) (api, error) {
		return connect(ctx, opts, httpClient)
	}, logger), nil
}

func newDriver(opts *Options, connect backend.ConnectFunc[api], logger *logrus.Entry) *Driver {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	logger = logger.WithField("kind", kind.OpenStack.String())

	ttl := opts.FlavorCacheTTL
	if ttl <= 0 {
		ttl = DefaultFlavorCacheTTL
	}

	return &Driver{
		session: backend.NewSession(opts.AuthURL, connect, backend.WithLogger[api](logger)),
		flavors: cache.New(ttl, 2*ttl),
		logger:  logger,
	}
}

func (d *Driver) Kind() kind.Backend {
	return kind.OpenStack
}

func (d *Driver) server(ctx context.Context, id string) (*server, error) {
	var s *server

	err := d.session.Use(ctx, func(c api) error {
		var err error

		s, err = c.GetServer(ctx, id)

		return err
	})

	return s, err
}

func (d *Driver) Enumerate(ctx context.Context) ([]backend.Object, error) {
	objects := []backend.Object{}

	err := d.session.Use(ctx, func(c api) error {
		list, err := c.ListServers(ctx)
		if err != nil {
			return err
		}

		for _, s := range list {
			objects = append(objects, backend.Object{ID: s.ID, Name: s.Name, UUID: s.ID})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

// powerState derives the power state from the server status, a pending task wins.
func powerState(s *server) model.PowerState {
	switch strings.ToLower(s.TaskState) {
	case "powering-on", "rebooting", "reboot_pending", "reboot_started",
		"rebooting_hard", "reboot_pending_hard", "reboot_started_hard", "spawning":
		return model.PowerStatePoweringOn
	case "powering-off", "deleting":
		return model.PowerStatePoweringOff
	}

	switch strings.ToUpper(s.Status) {
	case "ACTIVE", "REBOOT", "HARD_REBOOT":
		return model.PowerStateOn
	case "BUILD":
		return model.PowerStatePoweringOn
	case "SHUTOFF", "STOPPED", "SUSPENDED", "PAUSED", "SHELVED", "SHELVED_OFFLOADED":
		return model.PowerStateOff
	default:
		return model.PowerStateUnknown
	}
}

func (d *Driver) PowerState(ctx context.Context, id string) (model.PowerState, error) {
	s, err := d.server(ctx, id)
	if err != nil {
		return "", err
	}

	return powerState(s), nil
}

func (d *Driver) SetPowerState(ctx context.Context, id string, reset model.ResetType) error {
	return d.session.Use(ctx, func(c api) error {
		switch reset {
		case model.ResetOn:
			return c.Start(ctx, id)
		case model.ResetForceOff, model.ResetGracefulShutdown:
			return c.Stop(ctx, id)
		case model.ResetGracefulRestart:
			return c.Reboot(ctx, id, false)
		case model.ResetForceRestart:
			return c.Reboot(ctx, id, true)
		case model.ResetNmi:
			return errNmi
		default:
			return model.Public(model.ErrInvalidRequest, "unsupported reset type %q", reset)
		}
	})
}

func (d *Driver) BootDevice(ctx context.Context, id string) (model.BootTarget, error) {
	s, err := d.server(ctx, id)
	if err != nil {
		return "", err
	}

	if target, err := model.ParseBootTarget(s.Metadata[metadataBootDevice]); err == nil && target != model.BootTargetNone {
		return target, nil
	}

	return model.BootTargetHdd, nil
}

func (d *Driver) SetBootDevice(ctx context.Context, id string, target model.BootTarget) error {
	return d.session.Use(ctx, func(c api) error {
		return c.UpdateMetadata(ctx, id, map[string]string{metadataBootDevice: string(target)})
	})
}

func (d *Driver) BootMode(ctx context.Context, id string) (model.BootMode, error) {
	s, err := d.server(ctx, id)
	if err != nil {
		return "", err
	}

	imageID := s.imageID()
	if imageID == "" {
		return model.BootModeLegacy, nil
	}

	mode := model.BootModeLegacy

	err = d.session.Use(ctx, func(c api) error {
		image, err := c.GetImage(ctx, imageID)

		switch {
		case errors.Is(err, model.ErrNotFound):
			// the image may have been deleted after the server was built
			return nil
		case err != nil:
			return err
		}

		if firmware, ok := image.Properties[firmwareProperty].(string); ok && strings.EqualFold(firmware, "uefi") {
			mode = model.BootModeUEFI
		}

		return nil
	})

	return mode, err
}

func (d *Driver) SetBootMode(context.Context, string, model.BootMode) error {
	return errBootMode
}

func (d *Driver) Media(ctx context.Context, id string) ([]model.VirtualMedia, error) {
	s, err := d.server(ctx, id)
	if err != nil {
		return nil, err
	}

	media := make([]model.VirtualMedia, 0, len(model.Slots()))

	for _, slot := range model.Slots() {
		vm := model.EmptySlot(slot)

		if uri := s.Metadata[metadataMediaPrefix+slot]; uri != "" {
			vm.ImageURI = uri
			vm.Inserted = true
		}

		media = append(media, vm)
	}

	return media, nil
}

func (d *Driver) InsertMedia(ctx context.Context, id, slot, uri string) error {
	return d.session.Use(ctx, func(c api) error {
		return c.UpdateMetadata(ctx, id, map[string]string{metadataMediaPrefix + slot: uri})
	})
}

func (d *Driver) EjectMedia(ctx context.Context, id, slot string) error {
	return d.session.Use(ctx, func(c api) error {
		return c.DeleteMetadata(ctx, id, metadataMediaPrefix+slot)
	})
}

func (d *Driver) Inventory(ctx context.Context, id string) (model.Inventory, error) {
	s, err := d.server(ctx, id)
	if err != nil {
		return model.Inventory{}, err
	}

	inv := model.Inventory{Arch: "x86_64", NICs: []string{}}

	seen := map[string]bool{}
	for _, network := range s.Addresses {
		for _, addr := range network {
			if addr.MAC != "" && !seen[addr.MAC] {
				seen[addr.MAC] = true
				inv.NICs = append(inv.NICs, addr.MAC)
			}
		}
	}

	// recent compute API versions embed the flavor instead of referencing it
	if vcpus, ok := s.Flavor["vcpus"].(float64); ok {
		inv.Processors = int(vcpus)

		if ram, ok := s.Flavor["ram"].(float64); ok {
			inv.MemoryGiB = ram / 1024
		}

		if disk, ok := s.Flavor["disk"].(float64); ok {
			inv.Storage = rootDisk(int(disk))
		}

		return inv, nil
	}

	flavorID, _ := s.Flavor["id"].(string)
	if flavorID == "" {
		return inv, nil
	}

	flavor, err := d.flavor(ctx, flavorID)
	if err != nil {
		return model.Inventory{}, err
	}

	inv.Processors = flavor.VCPUs
	inv.MemoryGiB = float64(flavor.RAM) / 1024
	inv.Storage = rootDisk(flavor.Disk)

	return inv, nil
}

// rootDisk describes the local root disk of a flavor, servers booted from a volume
// have none.
func rootDisk(gib int) []model.StorageController {
	if gib <= 0 {
		return nil
	}

	return []model.StorageController{
		{
			ID:      "local",
			Name:    "Local storage",
			Devices: []model.Disk{{Name: "root", CapacityBytes: int64(gib) << 30}},
		},
	}
}

// flavor returns a flavor from the cache, flavors rarely change.
func (d *Driver) flavor(ctx context.Context, id string) (*flavors.Flavor, error) {
	if cached, ok := d.flavors.Get(id); ok {
		return cached.(*flavors.Flavor), nil
	}

	var flavor *flavors.Flavor

	err := d.session.Use(ctx, func(c api) error {
		var err error

		flavor, err = c.GetFlavor(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	d.flavors.Set(id, flavor, cache.DefaultExpiration)

	return flavor, nil
}

func (d *Driver) Close(ctx context.Context) error {
	return d.session.Close(ctx)
}
