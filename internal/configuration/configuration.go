package configuration

import (
	"context"
	"os"
	"strings"

	"github.com/jeremywohl/flatten"
	"github.com/metal-toolbox/vbmc/internal/executor"
	"github.com/metal-toolbox/vbmc/internal/identity"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/secrets"
	"github.com/metal-toolbox/vbmc/internal/store/dryrun"
	"github.com/metal-toolbox/vbmc/internal/store/kind"
	"github.com/metal-toolbox/vbmc/internal/store/libvirt"
	"github.com/metal-toolbox/vbmc/internal/store/openstack"
	"github.com/metal-toolbox/vbmc/internal/store/vmware"
	"github.com/mitchellh/copystructure"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	StateStoreMemory = "memory"
	StateStoreSQLite = "sqlite"

	redacted = "<redacted>"
)

// Configuration holds application configuration read from a YAML or set by env variables.
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	EnableProfiling bool `mapstructure:"enable_profiling"`

	// MetricsAddress is the listen address of the prometheus endpoint, metrics are
	// not served when empty.
	MetricsAddress string `mapstructure:"metrics_address"`

	// DefaultDriver is the tag used by requests naming no driver.
	DefaultDriver string `mapstructure:"default_driver"`

	// Driver is the shorthand for a single backend, registered as model.DefaultDriverTag.
	Driver *Driver `mapstructure:"driver"`

	// Drivers are the backends keyed by tag.
	Drivers map[string]*Driver `mapstructure:"drivers"`

	Executor executor.Policy `mapstructure:"executor"`

	Boot *Boot `mapstructure:"boot"`

	Identity *Identity `mapstructure:"identity"`

	State *State `mapstructure:"state"`

	Secrets *secrets.Config `mapstructure:"secrets"`
}

// Driver configures one backend, only the section matching Kind is read.
type Driver struct {
	Kind      string             `mapstructure:"kind"`
	Libvirt   *libvirt.Options   `mapstructure:"libvirt"`
	OpenStack *openstack.Options `mapstructure:"openstack"`
	VMware    *vmware.Options    `mapstructure:"vmware"`
	DryRun    *dryrun.Options    `mapstructure:"dryrun"`
}

// Boot configures boot override handling.
type Boot struct {
	// IgnoreBootDevice keeps overrides in the emulator, backends are never reconfigured.
	IgnoreBootDevice bool `mapstructure:"ignore_boot_device"`

	// Loaders maps a boot mode and an architecture onto a firmware loader path.
	Loaders map[string]map[string]string `mapstructure:"loaders"`
}

type Identity struct {
	CollisionPolicy string `mapstructure:"collision_policy"`
}

// State selects where boot override overlays are kept.
type State struct {
	Store string `mapstructure:"store"`
	Path  string `mapstructure:"path"`
}

// New creates an empty configuration struct.
func New() *Configuration {
	config := &Configuration{
		Executor: executor.DefaultPolicy(),
	}

	// these are initialized here so viper can read in configuration from env vars
	// once https://github.com/spf13/viper/pull/1429 is merged, this can go.
	config.Boot = &Boot{}
	config.Identity = &Identity{}
	config.State = &State{}
	config.Secrets = &secrets.Config{}

	return config
}

// AsLogFields returns the configuration as slog attributes with credentials redacted.
func (c *Configuration) AsLogFields() []any {
	copied, err := copystructure.Copy(c)
	if err != nil {
		return []any{"error", err.Error()}
	}

	redact := copied.(*Configuration)

	for _, d := range redact.Drivers {
		d.redact()
	}

	if redact.Secrets != nil && redact.Secrets.Token != "" {
		redact.Secrets.Token = redacted
	}

	return []any{
		"logLevel", redact.LogLevel,
		"enableProfiling", redact.EnableProfiling,
		"metricsAddress", redact.MetricsAddress,
		"defaultDriver", redact.DefaultDriver,
		"drivers", redact.Drivers,
		"executor", redact.Executor,
		"boot", redact.Boot,
		"identity", redact.Identity,
		"state", redact.State,
		"secrets", redact.Secrets,
	}
}

func (d *Driver) redact() {
	if d.OpenStack != nil {
		if d.OpenStack.Password != "" {
			d.OpenStack.Password = redacted
		}

		if d.OpenStack.ApplicationCredentialSecret != "" {
			d.OpenStack.ApplicationCredentialSecret = redacted
		}
	}

	if d.VMware != nil && d.VMware.Password != "" {
		d.VMware.Password = redacted
	}
}

func (c *Configuration) LoadArgs(args *model.Args) {
	c.LogLevel = args.LogLevel
	c.EnableProfiling = args.EnableProfiling
}

// Load the application configuration
// Reads in the configFile when available and overrides from environment variables.
func Load(args *model.Args) (*Configuration, error) {
	viperConfig := viper.New()
	viperConfig.SetConfigType("yaml")
	viperConfig.SetEnvPrefix(model.AppName)
	viperConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperConfig.AutomaticEnv()

	if args.ConfigFile != "" {
		fh, err := os.Open(args.ConfigFile)
		if err != nil {
			return nil, errors.Wrap(model.ErrConfig, err.Error())
		}

		defer fh.Close()

		if err = viperConfig.ReadConfig(fh); err != nil {
			return nil, errors.Wrap(model.ErrConfig, "ReadConfig error: "+err.Error())
		}
	}

	config := New()
	config.LoadArgs(args)

	if err := config.envBindVars(viperConfig); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "env var bind error: "+err.Error())
	}

	if err := viperConfig.Unmarshal(config); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "Unmarshal error: "+err.Error())
	}

	config.envVarAppOverrides(viperConfig)
	config.envVarDriverOverrides(viperConfig)

	if args.Driver != "" {
		config.DefaultDriver = args.Driver
	}

	if args.MetricsAddress != "" {
		config.MetricsAddress = args.MetricsAddress
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Configuration) envVarAppOverrides(viperConfig *viper.Viper) {
	logLevel := viperConfig.GetString("log.level")
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// envVarDriverOverrides reads backend passwords from VBMC_DRIVERS_<TAG>_PASSWORD.
func (c *Configuration) envVarDriverOverrides(viperConfig *viper.Viper) {
	for tag, d := range c.Drivers {
		if d == nil {
			continue
		}

		password := viperConfig.GetString("drivers." + tag + ".password")
		if password == "" {
			continue
		}

		if d.OpenStack != nil {
			d.OpenStack.Password = password
		}

		if d.VMware != nil {
			d.VMware.Password = password
		}
	}
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (c *Configuration) envBindVars(viperConfig *viper.Viper) error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(c, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten configuration")
	}

	for k := range flat {
		if err := viperConfig.BindEnv(k); err != nil {
			return errors.Wrap(model.ErrConfig, "env var bind error: "+err.Error())
		}
	}

	return nil
}

// normalize folds the single driver shorthand into Drivers and restores the boot mode
// spelling of loader keys, viper lowercases map keys.
func (c *Configuration) normalize() error {
	if c.Drivers == nil {
		c.Drivers = map[string]*Driver{}
	}

	if c.Driver != nil {
		if _, exists := c.Drivers[model.DefaultDriverTag]; exists {
			return errors.Wrapf(model.ErrConfig, "driver and drivers.%s are both set", model.DefaultDriverTag)
		}

		c.Drivers[model.DefaultDriverTag] = c.Driver
		c.Driver = nil
	}

	if c.Boot == nil {
		c.Boot = &Boot{}
	}

	loaders := map[string]map[string]string{}

	for mode, arches := range c.Boot.Loaders {
		parsed, err := parseBootMode(mode)
		if err != nil {
			return errors.Wrap(model.ErrConfig, err.Error())
		}

		loaders[string(parsed)] = arches
	}

	c.Boot.Loaders = loaders

	if c.Identity == nil {
		c.Identity = &Identity{}
	}

	if c.State == nil {
		c.State = &State{}
	}

	if c.State.Store == "" {
		c.State.Store = StateStoreMemory
	}

	return nil
}

func parseBootMode(s string) (model.BootMode, error) {
	for _, mode := range []model.BootMode{model.BootModeUEFI, model.BootModeLegacy} {
		if strings.EqualFold(s, string(mode)) {
			return mode, nil
		}
	}

	return model.ParseBootMode(s)
}

// Validate checks the backends can be built, a configuration without any usable
// driver is an UnconfiguredBackend error.
func (c *Configuration) Validate() error {
	if len(c.Drivers) == 0 {
		return errors.Wrap(model.ErrUnconfiguredBackend, "no drivers configured")
	}

	for tag, d := range c.Drivers {
		if d == nil {
			return errors.Wrapf(model.ErrConfig, "driver %s: empty configuration", tag)
		}

		k, err := kind.FromString(d.Kind)
		if err != nil {
			return errors.Wrapf(model.ErrConfig, "driver %s: %s %q", tag, err, d.Kind)
		}

		if err := d.validate(k); err != nil {
			return errors.Wrapf(err, "driver %s", tag)
		}
	}

	if c.DefaultDriver != "" {
		if _, ok := c.Drivers[c.DefaultDriver]; !ok {
			return errors.Wrapf(model.ErrUnconfiguredBackend, "default driver %q is not configured", c.DefaultDriver)
		}
	}

	if _, err := identity.ParseCollisionPolicy(c.Identity.CollisionPolicy); err != nil {
		return errors.Wrap(model.ErrConfig, err.Error())
	}

	switch c.State.Store {
	case StateStoreMemory:
	case StateStoreSQLite:
		if c.State.Path == "" {
			return errors.Wrap(model.ErrConfig, "state.path is required by the sqlite store")
		}
	default:
		return errors.Wrapf(model.ErrConfig, "unknown state store %q", c.State.Store)
	}

	return nil
}

func (d *Driver) validate(k kind.Backend) error {
	switch k {
	case kind.Libvirt:
		if d.Libvirt == nil {
			d.Libvirt = &libvirt.Options{}
		}
	case kind.OpenStack:
		if d.OpenStack == nil || d.OpenStack.AuthURL == "" {
			return errors.Wrap(model.ErrConfig, "openstack.auth_url is required")
		}
	case kind.VMware:
		if d.VMware == nil || d.VMware.URL == "" {
			return errors.Wrap(model.ErrConfig, "vmware.url is required")
		}
	case kind.DryRun:
		if d.DryRun == nil {
			d.DryRun = &dryrun.Options{}
		}
	}

	return nil
}

// SecretRefs reports whether any driver reads its password from the secret store.
func (c *Configuration) SecretRefs() bool {
	for _, d := range c.Drivers {
		if d.passwordSecret() != "" {
			return true
		}
	}

	return false
}

func (d *Driver) passwordSecret() string {
	switch {
	case d.OpenStack != nil && d.OpenStack.PasswordSecret != "":
		return d.OpenStack.PasswordSecret
	case d.VMware != nil && d.VMware.PasswordSecret != "":
		return d.VMware.PasswordSecret
	default:
		return ""
	}
}

// ResolveSecrets replaces password_secret references with the stored values.
func (c *Configuration) ResolveSecrets(ctx context.Context, resolver secrets.Resolver) error {
	for tag, d := range c.Drivers {
		key := d.passwordSecret()
		if key == "" {
			continue
		}

		if resolver == nil {
			return errors.Wrapf(model.ErrConfig, "driver %s: password_secret set without a secret store", tag)
		}

		password, err := resolver.Get(ctx, key)
		if err != nil {
			return errors.Wrapf(err, "driver %s", tag)
		}

		if d.OpenStack != nil {
			d.OpenStack.Password = password
		}

		if d.VMware != nil {
			d.VMware.Password = password
		}
	}

	return nil
}
