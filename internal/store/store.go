// Package store builds the backend drivers and the overlay store named by configuration.
package store

import (
	"context"

	"github.com/metal-toolbox/vbmc/internal/configuration"
	"github.com/metal-toolbox/vbmc/internal/coordinator"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/metal-toolbox/vbmc/internal/store/dryrun"
	"github.com/metal-toolbox/vbmc/internal/store/kind"
	"github.com/metal-toolbox/vbmc/internal/store/libvirt"
	"github.com/metal-toolbox/vbmc/internal/store/openstack"
	"github.com/metal-toolbox/vbmc/internal/store/vmware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewDriver returns the driver configured under tag.
func NewDriver(tag string, config *configuration.Configuration, logger *logrus.Entry) (backend.Driver, error) {
	d, ok := config.Drivers[tag]
	if !ok || d == nil {
		return nil, model.Public(model.ErrUnconfiguredBackend, "no backend driver configured for tag %q", tag)
	}

	k, err := kind.FromString(d.Kind)
	if err != nil {
		return nil, errors.Wrapf(model.ErrConfig, "driver %s: %s", tag, err)
	}

	logger = logger.WithField("backend", tag)

	switch k {
	case kind.Libvirt:
		opts := libvirt.Options{}
		if d.Libvirt != nil {
			opts = *d.Libvirt
		}

		if config.Boot != nil {
			opts.Loaders = config.Boot.Loaders
		}

		return libvirt.New(&opts, logger)
	case kind.OpenStack:
		return openstack.New(d.OpenStack, logger)
	case kind.VMware:
		return vmware.New(d.VMware, logger)
	case kind.DryRun:
		return dryrun.New(d.DryRun), nil
	default:
		return nil, errors.Wrapf(model.ErrConfig, "driver %s: unsupported kind %s", tag, k)
	}
}

// NewOverlayStore returns the boot override overlay store selected by configuration.
func NewOverlayStore(ctx context.Context, config *configuration.Configuration) (coordinator.Store, error) {
	if config.State == nil {
		return coordinator.NewMemoryStore(), nil
	}

	switch config.State.Store {
	case "", configuration.StateStoreMemory:
		return coordinator.NewMemoryStore(), nil
	case configuration.StateStoreSQLite:
		return coordinator.NewSQLiteStore(ctx, config.State.Path)
	default:
		return nil, errors.Wrapf(model.ErrConfig, "unknown state store %q", config.State.Store)
	}
}
