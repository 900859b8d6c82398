package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/vbmc/internal/configuration"
	"github.com/metal-toolbox/vbmc/internal/coordinator"
	"github.com/metal-toolbox/vbmc/internal/dispatcher"
	"github.com/metal-toolbox/vbmc/internal/executor"
	"github.com/metal-toolbox/vbmc/internal/identity"
	"github.com/metal-toolbox/vbmc/internal/log"
	"github.com/metal-toolbox/vbmc/internal/metrics"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/profiling"
	"github.com/metal-toolbox/vbmc/internal/secrets"
	"github.com/metal-toolbox/vbmc/internal/store"
	"github.com/metal-toolbox/vbmc/internal/version"
	"github.com/sirupsen/logrus"
)

// emulator is the core built from configuration.
type emulator struct {
	dispatcher *dispatcher.Dispatcher
	coord      *coordinator.Coordinator
	shutdown   func(ctx context.Context)
}

func (e *emulator) Close(ctx context.Context) {
	if err := e.dispatcher.Close(ctx); err != nil {
		slog.Warn("Failed to close drivers", "error", err)
	}

	if err := e.coord.Close(); err != nil {
		slog.Warn("Failed to close overlay store", "error", err)
	}

	e.shutdown(ctx)
}

// withSignals returns a context cancelled on the first termination signal.
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(ctx)

	// Cancel the context when we receive a termination signal.
	go func() {
		select {
		case s := <-termChan:
			slog.Info("Received signal for termination, exiting...", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(termChan)
	}()

	return ctx, cancel
}

func bootstrap(ctx context.Context, args *model.Args) (context.Context, *emulator, error) {
	config, err := configuration.Load(args)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return ctx, nil, err
	}

	log.SetLevel(config.LogLevel)

	slog.Debug("Configuration loaded", config.AsLogFields()...)

	if config.MetricsAddress != "" {
		metrics.ListenAndServe(config.MetricsAddress)
		version.ExportBuildInfoMetric()
	}

	if config.EnableProfiling {
		profiling.Enable("")
	}

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)

	logger := log.NewLogrusLogger(config.LogLevel)
	log.RouteOtelLogs(logger)

	if config.SecretRefs() {
		vault, err := secrets.NewVault(config.Secrets)
		if err != nil {
			slog.Error("Failed to create secret store client", "error", err)
			otelShutdown(ctx)

			return ctx, nil, err
		}

		if err := config.ResolveSecrets(ctx, vault); err != nil {
			slog.Error("Failed to resolve backend secrets", "error", err)
			otelShutdown(ctx)

			return ctx, nil, err
		}
	}

	e, err := newEmulator(ctx, config, logrus.NewEntry(logger))
	if err != nil {
		slog.Error("Failed to build the emulator", "error", err)
		otelShutdown(ctx)

		return ctx, nil, err
	}

	e.shutdown = otelShutdown

	slog.Debug("vbmc core ready", version.Current().AsLogFields()...)

	return ctx, e, nil
}

// newEmulator registers every configured driver behind its executor and identity mapper.
func newEmulator(ctx context.Context, config *configuration.Configuration, logger *logrus.Entry) (*emulator, error) {
	overlays, err := store.NewOverlayStore(ctx, config)
	if err != nil {
		return nil, err
	}

	coord := coordinator.New(&coordinator.Options{
		Store:            overlays,
		IgnoreBootDevice: config.Boot.IgnoreBootDevice,
		Logger:           logger.WithField("component", "coordinator"),
	})

	policy, err := identity.ParseCollisionPolicy(config.Identity.CollisionPolicy)
	if err != nil {
		coord.Close()
		return nil, err
	}

	d := dispatcher.New(
		coord,
		dispatcher.WithDefaultDriver(config.DefaultDriver),
		dispatcher.WithLogger(logger.WithField("component", "dispatcher")),
	)

	tags := make([]string, 0, len(config.Drivers))
	for tag := range config.Drivers {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	for _, tag := range tags {
		driver, err := store.NewDriver(tag, config, logger)
		if err != nil {
			d.Close(ctx) // nolint:errcheck // the registration error is returned
			coord.Close()

			return nil, err
		}

		exec := executor.New(tag, config.Executor, logger.WithField("component", "executor"))
		resilient := executor.Wrap(driver, exec)

		if err := d.Register(tag, resilient, identity.New(resilient, policy)); err != nil {
			d.Close(ctx) // nolint:errcheck // the registration error is returned
			coord.Close()

			return nil, err
		}
	}

	return &emulator{dispatcher: d, coord: coord, shutdown: func(context.Context) {}}, nil
}
