package backend

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultHTTPTimeout = 60 * time.Second
)

// NewHTTPClient returns the traced HTTP client backend drivers talk to their APIs with.
//
// The client never retries on its own, failed requests and responses are handed back
// unchanged for the driver to classify.
func NewHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	transport := rc.HTTPClient.Transport
	if insecure {
		if t, ok := transport.(*http.Transport); ok {
			t = t.Clone()
			// nolint:gosec // explicitly requested for lab endpoints with self signed certificates
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
			transport = t
		}
	}

	rc.HTTPClient.Transport = otelhttp.NewTransport(transport)
	rc.HTTPClient.Timeout = timeout

	return rc.StandardClient()
}
