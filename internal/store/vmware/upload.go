package vmware

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const mediaFolder = "vmedia"

func remote(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// upload copies a remote image into the media folder of the configured datastore.
func (d *Driver) upload(ctx context.Context, uri string) (string, error) {
	if d.datastore == "" {
		return "", errRemoteISO
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(errImage, "%q: %s", uri, err)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "", errors.Wrapf(errImage, "%q has no file name", uri)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return "", errors.Wrapf(errImage, "%q: %s", uri, err)
	}

	resp, err := d.images.Do(req)
	if err != nil {
		return "", errors.Wrap(model.ErrTransient, err.Error())
	}

	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return "", errors.Wrapf(model.ErrTransient, "image server returned %d for %q", resp.StatusCode, uri)
	default:
		return "", errors.Wrapf(errImage, "image server returned %d for %q", resp.StatusCode, uri)
	}

	d.logger.WithFields(logrus.Fields{
		"image":     uri,
		"datastore": d.datastore,
		"size":      resp.ContentLength,
	}).Info("uploading image")

	var file string

	err = d.session.Use(ctx, func(c client) error {
		var err error

		file, err = c.Upload(ctx, d.datastore, name, resp.Body, resp.ContentLength)

		return classify(err)
	})

	return file, err
}
