// Package coordinator reconciles the Redfish power and boot override model with the
// coarser primitives of the backends.
//
// Boot overrides are tracked in an overlay per machine. A Once override is consumed by
// the first power on observed after arming, consumption is detected lazily when power
// or boot state is read and never by polling.
package coordinator

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/metal-toolbox/vbmc/internal/metrics"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/store/backend"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	errNotRunning = model.Public(model.ErrInvalidRequest, "system is powered off")
	errMediaURI   = model.Public(model.ErrInvalidRequest, "invalid virtual media image")
)

// Options configures a Coordinator.
type Options struct {
	// Store holds the overlays, a MemoryStore when nil.
	Store Store

	// IgnoreBootDevice keeps boot overrides in the overlay only, the backend boot
	// device is never changed.
	IgnoreBootDevice bool

	Logger *logrus.Entry
	Now    func() time.Time
}

// Target is one machine of one registered driver.
type Target struct {
	// Driver is the tag the backend driver is registered under.
	Driver    string
	BackendID string
	Backend   backend.Driver
}

func (t Target) key() Key {
	return Key{Driver: t.Driver, BackendID: t.BackendID}
}

func (t Target) fields() logrus.Fields {
	return logrus.Fields{
		"backend": t.Driver,
		"system":  t.BackendID,
	}
}

// Coordinator serializes state changes per machine and keeps boot overlays.
type Coordinator struct {
	store            Store
	locks            *keyedLock
	ignoreBootDevice bool
	logger           *logrus.Entry
	now              func() time.Time
}

// New returns a Coordinator.
func New(opts *Options) *Coordinator {
	if opts == nil {
		opts = &Options{}
	}

	c := &Coordinator{
		store:            opts.Store,
		locks:            newKeyedLock(),
		ignoreBootDevice: opts.IgnoreBootDevice,
		logger:           opts.Logger,
		now:              opts.Now,
	}

	if c.store == nil {
		c.store = NewMemoryStore()
	}

	if c.logger == nil {
		c.logger = logrus.NewEntry(logrus.StandardLogger())
	}

	if c.now == nil {
		c.now = time.Now
	}

	return c
}

// Close releases the overlay store.
func (c *Coordinator) Close() error {
	return c.store.Close()
}

// PowerState reads the power state of a machine, observing a power on for its overlay.
func (c *Coordinator) PowerState(ctx context.Context, t Target) (model.PowerState, error) {
	state, err := t.Backend.PowerState(ctx, t.BackendID)
	if err != nil {
		return "", c.failed(ctx, t, err)
	}

	c.observe(ctx, t, state)

	return state, nil
}

// SetPowerState applies a reset type, returning the power state it leads to.
//
// Requests the machine already satisfies succeed without a backend call.
func (c *Coordinator) SetPowerState(ctx context.Context, t Target, reset model.ResetType) (model.PowerState, error) {
	unlock, err := c.locks.Lock(ctx, t.key())
	if err != nil {
		return "", errors.Wrap(model.ErrBackendUnavailable, err.Error())
	}
	defer unlock()

	current, err := t.Backend.PowerState(ctx, t.BackendID)
	if err != nil {
		return "", c.failed(ctx, t, err)
	}

	primitive, err := planReset(reset, current)
	if err != nil {
		return "", err
	}

	if primitive == "" {
		c.logger.WithFields(t.fields()).WithFields(logrus.Fields{
			"reset": reset,
			"power": current,
		}).Debug("power state already satisfied")

		return current, nil
	}

	if err := t.Backend.SetPowerState(ctx, t.BackendID, primitive); err != nil {
		return "", c.failed(ctx, t, err)
	}

	next := expectedPower(primitive, current)

	switch {
	case primitive == model.ResetOn || primitive.Restarts():
		c.poweredOn(ctx, t)
	case primitive.PowersOff():
		next = c.poweringOff(ctx, t)
	}

	return next, nil
}

// poweringOff records the power state following an accepted off-type reset, the
// caller holds the machine lock.
//
// Guest shutdowns complete after the backend call returns, so a machine the backend
// still reports running is recorded as PoweringOff and not as Off.
func (c *Coordinator) poweringOff(ctx context.Context, t Target) model.PowerState {
	observed, err := t.Backend.PowerState(ctx, t.BackendID)
	if err != nil || observed != model.PowerStateOff {
		observed = model.PowerStatePoweringOff
	}

	c.update(ctx, t, func(o *Overlay) bool {
		o.LastPower = observed
		return true
	})

	return observed
}

// planReset translates a reset type into the primitive sent to the backend,
// an empty primitive means the machine already is in the requested state.
func planReset(reset model.ResetType, current model.PowerState) (model.ResetType, error) {
	switch reset {
	case model.ResetOn, model.ResetForceOn:
		if isOn(current) {
			return "", nil
		}

		return model.ResetOn, nil
	case model.ResetForceOff, model.ResetGracefulShutdown:
		if current == model.PowerStateOff {
			return "", nil
		}

		return reset, nil
	case model.ResetGracefulRestart, model.ResetForceRestart:
		if current == model.PowerStateOff {
			return model.ResetOn, nil
		}

		return reset, nil
	case model.ResetPowerCycle:
		if current == model.PowerStateOff {
			return model.ResetOn, nil
		}

		return model.ResetForceRestart, nil
	case model.ResetPushPowerButton:
		if isOn(current) {
			return model.ResetGracefulShutdown, nil
		}

		return model.ResetOn, nil
	case model.ResetNmi:
		if current != model.PowerStateOn {
			return "", errNotRunning
		}

		return model.ResetNmi, nil
	default:
		return "", model.Public(model.ErrInvalidRequest, "unsupported reset type %q", reset)
	}
}

func expectedPower(primitive model.ResetType, current model.PowerState) model.PowerState {
	switch {
	case primitive == model.ResetOn || primitive.Restarts():
		return model.PowerStateOn
	case primitive.PowersOff():
		return model.PowerStateOff
	default:
		return current
	}
}

// BootOverride returns the boot source override reported for a machine.
func (c *Coordinator) BootOverride(ctx context.Context, t Target) (model.BootOverride, error) {
	if _, err := c.PowerState(ctx, t); err != nil {
		return model.BootOverride{}, err
	}

	o, ok, err := c.store.Get(ctx, t.key())
	if err != nil {
		return model.BootOverride{}, err
	}

	if ok && o.State == OverrideConsumed {
		if o, ok, err = c.forgetConsumed(ctx, t); err != nil {
			return model.BootOverride{}, err
		}
	}

	return c.report(ctx, t, o, ok)
}

// forgetConsumed moves a consumed override to NoOverride, restoring the native
// boot device when the override was applied to the backend.
func (c *Coordinator) forgetConsumed(ctx context.Context, t Target) (Overlay, bool, error) {
	unlock, err := c.locks.Lock(ctx, t.key())
	if err != nil {
		return Overlay{}, false, errors.Wrap(model.ErrBackendUnavailable, err.Error())
	}
	defer unlock()

	// state may have changed while waiting for the lock
	o, ok, err := c.store.Get(ctx, t.key())
	if err != nil || !ok || o.State != OverrideConsumed {
		return o, ok, err
	}

	if err := c.restore(ctx, t, &o); err != nil {
		return Overlay{}, false, c.failed(ctx, t, err)
	}

	c.transition(&o, EventRead)

	if err := c.store.Delete(ctx, t.key()); err != nil {
		return Overlay{}, false, err
	}

	return Overlay{}, false, nil
}

func (c *Coordinator) report(ctx context.Context, t Target, o Overlay, ok bool) (model.BootOverride, error) {
	override := model.BootOverride{
		Target:  o.Target,
		Enabled: o.Enabled(),
	}

	if !ok || o.State != OverrideArmed {
		native, err := t.Backend.BootDevice(ctx, t.BackendID)
		if err != nil {
			return model.BootOverride{}, c.failed(ctx, t, err)
		}

		override.Target = native
		override.Enabled = model.BootOverrideDisabled
	}

	mode, err := t.Backend.BootMode(ctx, t.BackendID)

	switch {
	case err == nil:
		override.Mode = mode
	case errors.Is(err, model.ErrNotSupported):
	default:
		return model.BootOverride{}, c.failed(ctx, t, err)
	}

	return override, nil
}

// SetBootOverride arms or clears the boot source override of a machine.
//
// A Disabled request or a None target clears the override. Mode, when set, switches
// the firmware boot mode first.
func (c *Coordinator) SetBootOverride(
	ctx context.Context,
	t Target,
	target model.BootTarget,
	enabled model.BootOverrideEnabled,
	mode *model.BootMode,
) (model.BootOverride, error) {
	unlock, err := c.locks.Lock(ctx, t.key())
	if err != nil {
		return model.BootOverride{}, errors.Wrap(model.ErrBackendUnavailable, err.Error())
	}
	defer unlock()

	if mode != nil {
		if err := t.Backend.SetBootMode(ctx, t.BackendID, *mode); err != nil {
			return model.BootOverride{}, c.failed(ctx, t, err)
		}
	}

	o, ok, err := c.store.Get(ctx, t.key())
	if err != nil {
		return model.BootOverride{}, err
	}

	if enabled == model.BootOverrideDisabled || target == model.BootTargetNone {
		if ok {
			if err := c.restore(ctx, t, &o); err != nil {
				return model.BootOverride{}, c.failed(ctx, t, err)
			}

			c.transition(&o, EventClear)

			if err := c.store.Delete(ctx, t.key()); err != nil {
				return model.BootOverride{}, err
			}
		}

		return c.report(ctx, t, Overlay{}, false)
	}

	native := o.NativeTarget
	if !ok || !o.Applied {
		if native, err = t.Backend.BootDevice(ctx, t.BackendID); err != nil {
			return model.BootOverride{}, c.failed(ctx, t, err)
		}
	}

	power, err := t.Backend.PowerState(ctx, t.BackendID)
	if err != nil {
		return model.BootOverride{}, c.failed(ctx, t, err)
	}

	applied := o.Applied
	if !c.ignoreBootDevice {
		if err := t.Backend.SetBootDevice(ctx, t.BackendID, target); err != nil {
			return model.BootOverride{}, c.failed(ctx, t, err)
		}

		applied = true
	}

	next := Overlay{
		State:        o.State,
		Target:       target,
		Persistent:   enabled == model.BootOverrideContinuous,
		NativeTarget: native,
		Applied:      applied,
		LastPower:    power,
	}

	c.transition(&next, EventArm)

	if err := c.store.Put(ctx, t.key(), next); err != nil {
		return model.BootOverride{}, err
	}

	c.logger.WithFields(t.fields()).WithFields(logrus.Fields{
		"target":  target,
		"enabled": enabled,
		"native":  native,
	}).Info("boot override armed")

	return c.report(ctx, t, next, true)
}

// restore writes the native boot device back when the override reached the backend.
func (c *Coordinator) restore(ctx context.Context, t Target, o *Overlay) error {
	if !o.Applied {
		return nil
	}

	native := o.NativeTarget
	if native == "" || native == model.BootTargetNone {
		native = model.BootTargetHdd
	}

	if err := t.Backend.SetBootDevice(ctx, t.BackendID, native); err != nil {
		return err
	}

	o.Applied = false

	return nil
}

// observe feeds an observed power state to the overlay of a machine.
//
// Observation is best effort, it is skipped while a change holds the machine.
func (c *Coordinator) observe(ctx context.Context, t Target, power model.PowerState) {
	unlock, ok := c.locks.TryLock(t.key())
	if !ok {
		return
	}
	defer unlock()

	o, ok, err := c.store.Get(ctx, t.key())
	if err != nil {
		c.logger.WithFields(t.fields()).WithError(err).Warn("overlay lookup failed")
		return
	}

	if !ok || o.LastPower == power {
		return
	}

	// a shutdown still in progress reads as running, that is not a boot
	if booted(o.LastPower, power) {
		c.powerOnEvent(ctx, t, &o)
	}

	o.LastPower = power
	c.put(ctx, t, o)
}

// poweredOn records a power on or restart driven through the coordinator, the caller
// holds the machine lock.
func (c *Coordinator) poweredOn(ctx context.Context, t Target) {
	c.update(ctx, t, func(o *Overlay) bool {
		c.powerOnEvent(ctx, t, o)
		o.LastPower = model.PowerStateOn

		return true
	})
}

// powerOnEvent consumes a Once override and puts the native boot device back so a
// later boot does not repeat the override.
func (c *Coordinator) powerOnEvent(ctx context.Context, t Target, o *Overlay) {
	c.transition(o, EventPowerOn)

	if o.State != OverrideConsumed {
		return
	}

	if err := c.restore(ctx, t, o); err != nil {
		// retried by the next boot override read
		c.logger.WithFields(t.fields()).WithFields(logrus.Fields{
			"kind": model.KindOf(err),
		}).WithError(err).Warn("native boot device restore failed")
	}
}

// update applies fn to an existing overlay and stores it when fn reports a change.
func (c *Coordinator) update(ctx context.Context, t Target, fn func(o *Overlay) bool) {
	o, ok, err := c.store.Get(ctx, t.key())
	if err != nil {
		c.logger.WithFields(t.fields()).WithError(err).Warn("overlay lookup failed")
		return
	}

	if !ok || !fn(&o) {
		return
	}

	c.put(ctx, t, o)
}

func (c *Coordinator) put(ctx context.Context, t Target, o Overlay) {
	o.UpdatedAt = c.now()

	if err := c.store.Put(ctx, t.key(), o); err != nil {
		c.logger.WithFields(t.fields()).WithError(err).Warn("overlay store failed")
	}
}

func (c *Coordinator) transition(o *Overlay, event Event) {
	from := o.State
	o.State = Transition(from, o.Persistent, event)
	o.UpdatedAt = c.now()

	if from != o.State {
		metrics.OverrideTransitions.WithLabelValues(from.String(), event.String(), o.State.String()).Inc()
	}
}

// Media lists the virtual media slots of a machine.
func (c *Coordinator) Media(ctx context.Context, t Target) ([]model.VirtualMedia, error) {
	media, err := t.Backend.Media(ctx, t.BackendID)
	if err != nil {
		return nil, c.failed(ctx, t, err)
	}

	return media, nil
}

// InsertMedia attaches an image to a normalized slot and returns the slot snapshot.
func (c *Coordinator) InsertMedia(ctx context.Context, t Target, slot, uri string) (model.VirtualMedia, error) {
	if err := ValidateImageURI(uri); err != nil {
		return model.VirtualMedia{}, err
	}

	unlock, err := c.locks.Lock(ctx, t.key())
	if err != nil {
		return model.VirtualMedia{}, errors.Wrap(model.ErrBackendUnavailable, err.Error())
	}
	defer unlock()

	if err := t.Backend.InsertMedia(ctx, t.BackendID, slot, uri); err != nil {
		return model.VirtualMedia{}, c.failed(ctx, t, err)
	}

	return c.slot(ctx, t, slot)
}

// EjectMedia detaches the image of a normalized slot, an empty slot is left untouched.
func (c *Coordinator) EjectMedia(ctx context.Context, t Target, slot string) (model.VirtualMedia, error) {
	unlock, err := c.locks.Lock(ctx, t.key())
	if err != nil {
		return model.VirtualMedia{}, errors.Wrap(model.ErrBackendUnavailable, err.Error())
	}
	defer unlock()

	current, err := c.slot(ctx, t, slot)
	if err != nil {
		return model.VirtualMedia{}, err
	}

	if !current.Inserted {
		return current, nil
	}

	if err := t.Backend.EjectMedia(ctx, t.BackendID, slot); err != nil {
		return model.VirtualMedia{}, c.failed(ctx, t, err)
	}

	return model.EmptySlot(slot), nil
}

func (c *Coordinator) slot(ctx context.Context, t Target, slot string) (model.VirtualMedia, error) {
	media, err := c.Media(ctx, t)
	if err != nil {
		return model.VirtualMedia{}, err
	}

	for _, vm := range media {
		if vm.SlotID == slot {
			return vm, nil
		}
	}

	return model.EmptySlot(slot), nil
}

// ValidateImageURI accepts http, https and file URLs or absolute paths.
func ValidateImageURI(uri string) error {
	if uri == "" {
		return model.Public(model.ErrInvalidRequest, "virtual media image not set")
	}

	if strings.HasPrefix(uri, "/") {
		return nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return errors.Wrap(errMediaURI, err.Error())
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return model.Public(model.ErrInvalidRequest, "virtual media image %q has no host", uri)
		}
	case "file":
		if u.Path == "" {
			return model.Public(model.ErrInvalidRequest, "virtual media image %q has no path", uri)
		}
	default:
		return model.Public(model.ErrInvalidRequest, "unsupported virtual media image scheme %q", u.Scheme)
	}

	return nil
}

// Inventory returns the hardware description of a machine.
func (c *Coordinator) Inventory(ctx context.Context, t Target) (model.Inventory, error) {
	inventory, err := t.Backend.Inventory(ctx, t.BackendID)
	if err != nil {
		return model.Inventory{}, c.failed(ctx, t, err)
	}

	return inventory, nil
}

// Forget drops the overlay of a machine.
func (c *Coordinator) Forget(ctx context.Context, key Key) error {
	return c.store.Delete(ctx, key)
}

// Prune drops the overlays of a driver whose machines are not in present.
func (c *Coordinator) Prune(ctx context.Context, driver string, present map[string]struct{}) error {
	keys, err := c.store.Keys(ctx, driver)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if _, ok := present[key.BackendID]; ok {
			continue
		}

		if err := c.store.Delete(ctx, key); err != nil {
			return err
		}

		c.logger.WithFields(logrus.Fields{
			"backend": key.Driver,
			"system":  key.BackendID,
		}).Info("dropped overlay of removed system")
	}

	return nil
}

// failed drops the overlay of a machine the backend no longer knows.
func (c *Coordinator) failed(ctx context.Context, t Target, err error) error {
	if model.KindOf(err) != model.KindNotFound {
		return err
	}

	if derr := c.store.Delete(ctx, t.key()); derr != nil {
		c.logger.WithFields(t.fields()).WithError(derr).Warn("overlay delete failed")
	}

	return err
}
