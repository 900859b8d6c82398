// Package secrets resolves backend credentials stored in HashiCorp Vault.
package secrets

import (
	"context"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
)

// DefaultPath is the KV v2 data path used when none is configured.
const DefaultPath = "secret/data/vbmc"

var (
	ErrSecret = errors.Wrap(model.ErrConfig, "backend secret")
)

// Config locates the Vault server and the secrets of the emulator.
type Config struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

// Resolver returns the secret value stored under key.
type Resolver interface {
	Get(ctx context.Context, key string) (string, error)
}

type reader interface {
	ReadWithContext(ctx context.Context, path string) (*api.Secret, error)
}

// Vault reads secrets from a KV v2 engine.
type Vault struct {
	client  *api.Client
	logical reader
	path    string
}

// Option configures a Vault resolver.
type Option func(*Vault)

// WithPath sets the KV v2 data path secrets are read from.
func WithPath(path string) Option {
	return func(v *Vault) {
		if path != "" {
			v.path = path
		}
	}
}

// WithClient sets a preconfigured Vault API client.
func WithClient(client *api.Client) Option {
	return func(v *Vault) {
		v.client = client
	}
}

// NewVault returns a resolver for the Vault server in cfg.
func NewVault(cfg *Config, opts ...Option) (*Vault, error) {
	v := &Vault{path: DefaultPath}

	for _, opt := range opts {
		opt(v)
	}

	if v.client == nil {
		if cfg == nil || cfg.Address == "" {
			return nil, errors.Wrap(ErrSecret, "vault address not set")
		}

		vaultConfig := api.DefaultConfig()
		vaultConfig.Address = cfg.Address

		client, err := api.NewClient(vaultConfig)
		if err != nil {
			return nil, errors.Wrap(ErrSecret, err.Error())
		}

		client.SetToken(cfg.Token)
		v.client = client
	}

	if cfg != nil && cfg.Path != "" && v.path == DefaultPath {
		v.path = cfg.Path
	}

	v.logical = v.client.Logical()

	return v, nil
}

// Get reads a secret.
//
// A key containing a slash names its own secret under the base path holding the value
// in a "value" field, any other key is a field of the "keys" secret.
func (v *Vault) Get(ctx context.Context, key string) (string, error) {
	path, field := v.path+"/keys", key
	if strings.Contains(key, "/") {
		path, field = v.path+"/"+key, "value"
	}

	secret, err := v.logical.ReadWithContext(ctx, path)
	if err != nil {
		return "", errors.Wrapf(ErrSecret, "read %s: %s", path, err)
	}

	if secret == nil {
		return "", errors.Wrapf(ErrSecret, "no secret at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return "", errors.Wrapf(ErrSecret, "unexpected data layout at %s", path)
	}

	value, ok := data[field].(string)
	if !ok || value == "" {
		return "", errors.Wrapf(ErrSecret, "field %s not set at %s", field, path)
	}

	return value, nil
}
