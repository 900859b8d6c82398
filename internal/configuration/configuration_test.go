package configuration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/metal-toolbox/vbmc/internal/secrets"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log_level: debug
default_driver: lab
executor:
  max_attempts: 6
  attempt_timeout: 10s
  media_attempt_timeout: 20m
  retry_after: 45s
boot:
  ignore_boot_device: true
  loaders:
    uefi:
      x86_64: /usr/share/OVMF/OVMF_CODE.fd
identity:
  collision_policy: uuid
state:
  store: sqlite
  path: /var/lib/vbmc/overlays.db
drivers:
  lab:
    kind: libvirt
    libvirt:
      uri: qemu+tcp://hv1/system
      network: tcp
      address: hv1:16509
  cloud:
    kind: openstack
    openstack:
      auth_url: https://keystone.example:5000/v3
      username: vbmc
      password: plain
      project_name: metal
      region: RegionOne
  vsphere:
    kind: vmware
    vmware:
      url: https://vcenter.example/sdk
      username: administrator@vsphere.local
      password_secret: vcenter
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vbmc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(&model.Args{ConfigFile: writeConfig(t, testConfig), LogLevel: "info"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "lab", cfg.DefaultDriver)
	assert.Len(t, cfg.Drivers, 3)

	assert.Equal(t, 6, cfg.Executor.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Executor.AttemptTimeout)
	assert.Equal(t, 20*time.Minute, cfg.Executor.MediaAttemptTimeout)
	assert.Equal(t, 45*time.Second, cfg.Executor.RetryAfter)
	// unset keys keep their defaults
	assert.Equal(t, 2.0, cfg.Executor.Multiplier)

	assert.True(t, cfg.Boot.IgnoreBootDevice)
	assert.Equal(t, "/usr/share/OVMF/OVMF_CODE.fd", cfg.Boot.Loaders["UEFI"]["x86_64"])

	assert.Equal(t, "uuid", cfg.Identity.CollisionPolicy)
	assert.Equal(t, StateStoreSQLite, cfg.State.Store)

	lab := cfg.Drivers["lab"]
	require.NotNil(t, lab.Libvirt)
	assert.Equal(t, "tcp", lab.Libvirt.Network)
	assert.Equal(t, "hv1:16509", lab.Libvirt.Address)

	cloud := cfg.Drivers["cloud"]
	require.NotNil(t, cloud.OpenStack)
	assert.Equal(t, "RegionOne", cloud.OpenStack.Region)

	assert.True(t, cfg.SecretRefs())
}

func TestLoadArgsOverride(t *testing.T) {
	cfg, err := Load(&model.Args{
		ConfigFile:     writeConfig(t, testConfig),
		Driver:         "cloud",
		MetricsAddress: "127.0.0.1:9100",
	})
	require.NoError(t, err)

	assert.Equal(t, "cloud", cfg.DefaultDriver)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddress)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VBMC_LOG_LEVEL", "trace")
	t.Setenv("VBMC_DRIVERS_CLOUD_PASSWORD", "from-env")

	cfg, err := Load(&model.Args{ConfigFile: writeConfig(t, testConfig)})
	require.NoError(t, err)

	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, "from-env", cfg.Drivers["cloud"].OpenStack.Password)
}

func TestLoadSingleDriverShorthand(t *testing.T) {
	cfg, err := Load(&model.Args{ConfigFile: writeConfig(t, `
driver:
  kind: dryrun
  dryrun:
    machines:
      - name: node-0
`)})
	require.NoError(t, err)

	require.Contains(t, cfg.Drivers, model.DefaultDriverTag)
	assert.Equal(t, "dryrun", cfg.Drivers[model.DefaultDriverTag].Kind)
	require.Len(t, cfg.Drivers[model.DefaultDriverTag].DryRun.Machines, 1)
	assert.Equal(t, StateStoreMemory, cfg.State.Store)
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{
			"no drivers",
			"log_level: info\n",
			model.ErrUnconfiguredBackend,
		},
		{
			"unknown kind",
			"drivers:\n  x:\n    kind: xen\n",
			model.ErrConfig,
		},
		{
			"openstack without auth url",
			"drivers:\n  x:\n    kind: openstack\n",
			model.ErrConfig,
		},
		{
			"unknown default driver",
			"default_driver: nope\ndrivers:\n  x:\n    kind: dryrun\n",
			model.ErrUnconfiguredBackend,
		},
		{
			"sqlite without path",
			"state:\n  store: sqlite\ndrivers:\n  x:\n    kind: dryrun\n",
			model.ErrConfig,
		},
		{
			"bad collision policy",
			"identity:\n  collision_policy: random\ndrivers:\n  x:\n    kind: dryrun\n",
			model.ErrConfig,
		},
		{
			"bad loader mode",
			"boot:\n  loaders:\n    coreboot:\n      x86_64: /fw\ndrivers:\n  x:\n    kind: dryrun\n",
			model.ErrConfig,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(&model.Args{ConfigFile: writeConfig(t, tc.body)})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := Load(&model.Args{ConfigFile: "/nonexistent/vbmc.yaml"})
	assert.ErrorIs(t, err, model.ErrConfig)
}

func TestAsLogFieldsRedacts(t *testing.T) {
	cfg, err := Load(&model.Args{ConfigFile: writeConfig(t, testConfig)})
	require.NoError(t, err)

	cfg.Secrets.Token = "s.token"

	b, err := json.Marshal(cfg.AsLogFields())
	require.NoError(t, err)

	fields := string(b)
	assert.Contains(t, fields, "keystone.example")
	assert.NotContains(t, fields, "plain")
	assert.NotContains(t, fields, "s.token")

	// the configuration itself is untouched
	assert.Equal(t, "plain", cfg.Drivers["cloud"].OpenStack.Password)
	assert.Equal(t, "s.token", cfg.Secrets.Token)
}

type fakeResolver map[string]string

func (f fakeResolver) Get(_ context.Context, key string) (string, error) {
	value, ok := f[key]
	if !ok {
		return "", errors.Wrap(secrets.ErrSecret, key)
	}

	return value, nil
}

func TestResolveSecrets(t *testing.T) {
	cfg, err := Load(&model.Args{ConfigFile: writeConfig(t, testConfig)})
	require.NoError(t, err)

	require.NoError(t, cfg.ResolveSecrets(context.Background(), fakeResolver{"vcenter": "from-vault"}))
	assert.Equal(t, "from-vault", cfg.Drivers["vsphere"].VMware.Password)
	assert.Equal(t, "plain", cfg.Drivers["cloud"].OpenStack.Password)

	err = cfg.ResolveSecrets(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrConfig)

	err = cfg.ResolveSecrets(context.Background(), fakeResolver{})
	assert.ErrorIs(t, err, model.ErrConfig)
}
