package profiling

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // nolint:gosec // profiling endpoint listens on localhost.
	"time"
)

const (
	DefaultEndpoint   = "localhost:9091"
	ReadHeaderTimeout = 2 * time.Second
)

// Enable serves the pprof handlers registered on the default mux.
// An empty endpoint selects DefaultEndpoint.
func Enable(endpoint string) *http.Server {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	server := &http.Server{
		Addr:              endpoint,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start profiling server", "error", err, "endpoint", endpoint)
		}
	}()

	slog.Info("profiling enabled", "endpoint", endpoint+"/debug/pprof")

	return server
}
