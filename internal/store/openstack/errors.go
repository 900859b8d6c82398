package openstack

import (
	"net"
	"net/http"
	"net/url"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
)

var (
	errNmi      = model.Public(model.ErrNotSupported, "nova has no NMI action")
	errBootMode = model.Public(model.ErrNotSupported, "boot mode is defined by the server image")
)

// classify maps a gophercloud failure into the model error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case gophercloud.ResponseCodeIs(err, http.StatusNotFound):
		return errors.Wrap(model.ErrNotFound, err.Error())
	case gophercloud.ResponseCodeIs(err, http.StatusUnauthorized):
		return errors.Wrap(model.ErrSessionExpired, err.Error())
	case gophercloud.ResponseCodeIs(err, http.StatusBadRequest):
		return errors.Wrap(model.ErrInvalidRequest, err.Error())
	case gophercloud.ResponseCodeIs(err, http.StatusNotImplemented):
		return errors.Wrap(model.ErrNotSupported, err.Error())
	case gophercloud.ResponseCodeIs(err, http.StatusConflict),
		gophercloud.ResponseCodeIs(err, http.StatusTooManyRequests),
		gophercloud.ResponseCodeIs(err, http.StatusInternalServerError),
		gophercloud.ResponseCodeIs(err, http.StatusBadGateway),
		gophercloud.ResponseCodeIs(err, http.StatusServiceUnavailable),
		gophercloud.ResponseCodeIs(err, http.StatusGatewayTimeout):
		return errors.Wrap(model.ErrTransient, err.Error())
	}

	var (
		urlErr *url.Error
		netErr net.Error
	)

	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return errors.Wrap(model.ErrTransient, err.Error())
	}

	return err
}
