package vmware

import (
	"net"
	"net/url"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/pkg/errors"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/task"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
)

var (
	errNmi        = model.Public(model.ErrNotSupported, "vSphere exposes no NMI action")
	errRemoteISO  = model.Public(model.ErrNotSupported, "no datastore configured for remote images")
	errImage      = model.Public(model.ErrInvalidRequest, "image cannot be fetched")
	errDatastore  = model.Public(model.ErrInvalidRequest, "image is not on a datastore")
	errNoDevice   = model.Public(model.ErrInvalidRequest, "no bootable device")
	errNoSession  = errors.Wrap(model.ErrSessionExpired, "vCenter session is no longer active")
	errBadSession = errors.Wrap(model.ErrBackendUnavailable, "vCenter rejected the credentials")
	errInventory  = errors.Wrap(model.ErrConfig, "vSphere inventory object not found")
)

// classify maps a vSphere fault into the model error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if model.KindOf(err) != model.KindInternal {
		return err
	}

	switch {
	case soap.IsSoapFault(err):
		return classifyFault(soap.ToSoapFault(err).VimFault(), err)
	case soap.IsVimFault(err):
		return classifyFault(soap.ToVimFault(err), err)
	}

	var notFound *find.NotFoundError
	if errors.As(err, &notFound) {
		return errors.Wrap(errInventory, err.Error())
	}

	var taskErr task.Error
	if errors.As(err, &taskErr) && taskErr.LocalizedMethodFault != nil {
		return classifyFault(taskErr.Fault(), err)
	}

	var (
		urlErr *url.Error
		netErr net.Error
	)

	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return backend.ConnectionLost(err)
	}

	return err
}

// classifyFault maps a fault, soap faults carry values while task faults carry pointers.
func classifyFault(fault any, err error) error {
	switch fault.(type) {
	case types.ManagedObjectNotFound, *types.ManagedObjectNotFound:
		return errors.Wrap(model.ErrNotFound, err.Error())
	case types.NotAuthenticated, *types.NotAuthenticated:
		return errors.Wrap(model.ErrSessionExpired, err.Error())
	case types.InvalidLogin, *types.InvalidLogin:
		return errors.Wrap(errBadSession, err.Error())
	case types.InvalidPowerState, *types.InvalidPowerState,
		types.InvalidArgument, *types.InvalidArgument,
		types.InvalidDeviceSpec, *types.InvalidDeviceSpec,
		types.FileNotFound, *types.FileNotFound:
		return errors.Wrap(model.ErrInvalidRequest, err.Error())
	case types.NotSupported, *types.NotSupported,
		types.ToolsUnavailable, *types.ToolsUnavailable:
		return errors.Wrap(model.ErrNotSupported, err.Error())
	case types.TaskInProgress, *types.TaskInProgress,
		types.InvalidState, *types.InvalidState:
		return errors.Wrap(model.ErrTransient, err.Error())
	default:
		return err
	}
}

func alreadyExists(err error) bool {
	if !soap.IsSoapFault(err) {
		return false
	}

	switch soap.ToSoapFault(err).VimFault().(type) {
	case types.FileAlreadyExists, *types.FileAlreadyExists:
		return true
	default:
		return false
	}
}
