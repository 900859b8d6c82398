// Package dispatcher routes operations to the backend driver a System belongs to.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/metal-toolbox/vbmc/internal/coordinator"
	"github.com/metal-toolbox/vbmc/internal/identity"
	"github.com/metal-toolbox/vbmc/internal/metrics"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	pkgName = "internal/dispatcher"
)

var (
	ErrDriverRegistered = errors.New("driver tag already registered")

	errPanic = errors.New("operation panicked")
)

type registration struct {
	driver backend.Driver
	mapper *identity.Mapper
}

// SystemRef names a System as seen by a client.
type SystemRef struct {
	// Driver is the tag of the backend, empty selects the default driver.
	Driver string
	ID     string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDefaultDriver sets the tag used when a reference names no driver.
func WithDefaultDriver(tag string) Option {
	return func(d *Dispatcher) {
		d.defaultTag = tag
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher holds the registered drivers and runs operations against them.
type Dispatcher struct {
	coord      *coordinator.Coordinator
	mu         sync.RWMutex
	drivers    map[string]*registration
	defaultTag string
	logger     *logrus.Entry
}

// New returns a Dispatcher without drivers.
func New(coord *coordinator.Coordinator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		coord:   coord,
		drivers: map[string]*registration{},
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Register adds a driver under tag, the first registered tag is the default unless
// one was configured.
func (d *Dispatcher) Register(tag string, driver backend.Driver, mapper *identity.Mapper) error {
	if tag == "" {
		return errors.Wrap(model.ErrConfig, "empty driver tag")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.drivers[tag]; ok {
		return errors.Wrap(ErrDriverRegistered, tag)
	}

	d.drivers[tag] = &registration{driver: driver, mapper: mapper}

	if d.defaultTag == "" {
		d.defaultTag = tag
	}

	d.logger.WithFields(logrus.Fields{
		"backend": tag,
		"kind":    driver.Kind().String(),
	}).Info("driver registered")

	return nil
}

// Drivers lists the registered tags.
func (d *Dispatcher) Drivers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tags := make([]string, 0, len(d.drivers))
	for tag := range d.drivers {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags
}

func (d *Dispatcher) registration(tag string) (string, *registration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if tag == "" {
		tag = d.defaultTag
	}

	if len(d.drivers) == 0 {
		return tag, nil, model.ErrUnconfiguredBackend
	}

	reg, ok := d.drivers[tag]
	if !ok {
		return tag, nil, model.Public(model.ErrUnconfiguredBackend, "no backend driver configured for tag %q", tag)
	}

	return tag, reg, nil
}

// Dispatch runs op against the System named by ref.
//
// Arguments are validated before the System is resolved so malformed requests never
// reach a backend. The returned outcome is never nil.
func (d *Dispatcher) Dispatch(ctx context.Context, op Operation, ref SystemRef) (outcome *model.Outcome) {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Dispatch."+op.Name(),
		trace.WithAttributes(
			attribute.String("driver", ref.Driver),
			attribute.String("system", ref.ID),
			attribute.Bool("mutating", op.Mutating()),
		),
	)
	defer span.End()

	started := time.Now()
	tag := ref.Driver

	defer func() {
		if rec := recover(); rec != nil {
			outcome = d.handlePanic(op, ref, rec)
		}

		d.record(op, tag, ref, outcome, time.Since(started))

		if !outcome.OK() {
			span.SetStatus(codes.Error, string(outcome.Kind))
		}
	}()

	if err := op.Validate(); err != nil {
		return model.OutcomeOf(nil, err)
	}

	tag, reg, err := d.registration(ref.Driver)
	if err != nil {
		return model.OutcomeOf(nil, err)
	}

	obj, err := reg.mapper.Lookup(ctx, ref.ID)
	if err != nil {
		return model.OutcomeOf(nil, err)
	}

	sys := &System{
		Identity: model.Identity{ExternalID: ref.ID, BackendID: obj.ID},
		Name:     obj.Name,
		UUID:     obj.UUID,
		Target: coordinator.Target{
			Driver:    tag,
			BackendID: obj.ID,
			Backend:   reg.driver,
		},
	}

	return model.OutcomeOf(op.Run(ctx, d.coord, sys))
}

// Systems lists the identities published by a driver and drops the overlays of
// machines the backend no longer reports.
func (d *Dispatcher) Systems(ctx context.Context, tag string) *model.Outcome {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Dispatch.Systems", trace.WithAttributes(attribute.String("driver", tag)))
	defer span.End()

	tag, reg, err := d.registration(tag)
	if err != nil {
		return d.failed("Systems", tag, "", err)
	}

	identities, err := reg.mapper.List(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return d.failed("Systems", tag, "", err)
	}

	present := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		present[id.BackendID] = struct{}{}
	}

	if err := d.coord.Prune(ctx, tag, present); err != nil {
		d.logger.WithField("backend", tag).WithError(err).Warn("overlay prune failed")
	}

	metrics.Operations.WithLabelValues(tag, "Systems", string(model.StatusSuccess), "").Inc()

	return model.Succeeded(identities)
}

// Check enumerates every registered driver and returns the outcome per tag.
func (d *Dispatcher) Check(ctx context.Context) map[string]*model.Outcome {
	outcomes := map[string]*model.Outcome{}

	for _, tag := range d.Drivers() {
		outcomes[tag] = d.Systems(ctx, tag)
	}

	if len(outcomes) == 0 {
		outcomes[d.defaultTag] = model.OutcomeOf(nil, model.ErrUnconfiguredBackend)
	}

	return outcomes
}

// Close closes every registered driver.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error

	for tag, reg := range d.drivers {
		if err := reg.driver.Close(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, tag))
		}
	}

	d.drivers = map[string]*registration{}

	if len(errs) > 0 {
		return errs[0]
	}

	return nil
}

func (d *Dispatcher) failed(operation, tag, system string, err error) *model.Outcome {
	outcome := model.OutcomeOf(nil, err)

	d.logger.WithFields(logrus.Fields{
		"operation": operation,
		"kind":      outcome.Kind,
		"backend":   tag,
		"system":    system,
	}).WithError(err).Warn("operation failed")

	metrics.Operations.WithLabelValues(tag, operation, string(outcome.Status), string(outcome.Kind)).Inc()

	return outcome
}

func (d *Dispatcher) record(op Operation, tag string, ref SystemRef, outcome *model.Outcome, elapsed time.Duration) {
	metrics.Operations.WithLabelValues(tag, op.Name(), string(outcome.Status), string(outcome.Kind)).Inc()

	entry := d.logger.WithFields(logrus.Fields{
		"operation": op.Name(),
		"backend":   tag,
		"system":    ref.ID,
		"elapsed":   elapsed.String(),
	})

	if outcome.OK() {
		entry.Debug("operation done")
		return
	}

	entry.WithFields(logrus.Fields{
		"kind":   outcome.Kind,
		"status": outcome.Status,
	}).WithError(outcome.Err()).Warn("operation failed")
}

func (d *Dispatcher) handlePanic(op Operation, ref SystemRef, rec any) *model.Outcome {
	d.logger.WithFields(logrus.Fields{
		"operation": op.Name(),
		"system":    ref.ID,
		"panic":     fmt.Sprint(rec),
		"stack":     string(debug.Stack()),
	}).Error("!!panic occurred")

	return model.OutcomeOf(nil, errors.Wrap(errPanic, op.Name()))
}
