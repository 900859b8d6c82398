package libvirt

import (
	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/pkg/errors"
)

var (
	ErrDomainXML = errors.New("libvirt domain XML error")
	errBadImage  = model.Public(model.ErrInvalidRequest, "unsupported image location")
)

// rpcError extracts the error reported by the libvirt daemon.
func rpcError(err error) (golibvirt.Error, bool) {
	var value golibvirt.Error
	if errors.As(err, &value) {
		return value, true
	}

	var ptr *golibvirt.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}

	return golibvirt.Error{}, false
}

func classified(err error) bool {
	for _, sentinel := range []error{
		model.ErrNotFound,
		model.ErrInvalidRequest,
		model.ErrNotSupported,
		model.ErrSessionExpired,
		model.ErrTransient,
		ErrDomainXML,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}

// classify maps a libvirt failure into the model error taxonomy.
//
// Errors not reported by the daemon are transport failures after which the
// connection is reestablished.
func classify(err error) error {
	if err == nil || classified(err) {
		return err
	}

	rerr, ok := rpcError(err)
	if !ok {
		return backend.ConnectionLost(err)
	}

	switch rerr.Code {
	case uint32(golibvirt.ErrNoDomain):
		return errors.Wrap(model.ErrNotFound, rerr.Message)
	case uint32(golibvirt.ErrOperationInvalid), uint32(golibvirt.ErrInvalidArg):
		return errors.Wrap(model.ErrInvalidRequest, rerr.Message)
	case uint32(golibvirt.ErrNoSupport), uint32(golibvirt.ErrArgumentUnsupported):
		return errors.Wrap(model.ErrNotSupported, rerr.Message)
	case uint32(golibvirt.ErrAuthFailed):
		return errors.Wrap(model.ErrSessionExpired, rerr.Message)
	case uint32(golibvirt.ErrOperationTimeout),
		uint32(golibvirt.ErrAgentUnresponsive),
		uint32(golibvirt.ErrOperationAborted):
		return errors.Wrap(model.ErrTransient, rerr.Message)
	default:
		return errors.Wrapf(err, "libvirt error %d", rerr.Code)
	}
}
