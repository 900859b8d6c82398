package secrets

import (
	"context"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogical struct {
	secrets map[string]*api.Secret
	paths   []string
	err     error
}

func (f *fakeLogical) ReadWithContext(_ context.Context, path string) (*api.Secret, error) {
	f.paths = append(f.paths, path)

	if f.err != nil {
		return nil, f.err
	}

	return f.secrets[path], nil
}

func kv(data map[string]any) *api.Secret {
	return &api.Secret{Data: map[string]any{"data": data}}
}

func TestNewVaultWithInjectedClient(t *testing.T) {
	client := &api.Client{}

	v, err := NewVault(nil, WithClient(client))
	require.NoError(t, err)
	assert.Equal(t, client, v.client)
	assert.Equal(t, DefaultPath, v.path)

	v, err = NewVault(&Config{Path: "secret/data/lab"}, WithClient(client))
	require.NoError(t, err)
	assert.Equal(t, "secret/data/lab", v.path)

	v, err = NewVault(&Config{Path: "secret/data/lab"}, WithClient(client), WithPath("secret/data/other"))
	require.NoError(t, err)
	assert.Equal(t, "secret/data/other", v.path)
}

func TestNewVaultRequiresAddress(t *testing.T) {
	_, err := NewVault(&Config{Token: "t"})
	assert.ErrorIs(t, err, model.ErrConfig)
}

func TestNewVaultFromConfig(t *testing.T) {
	v, err := NewVault(&Config{Address: "http://127.0.0.1:8200", Token: "t"})
	require.NoError(t, err)
	assert.NotNil(t, v.client)
	assert.Equal(t, "t", v.client.Token())
}

func TestGet(t *testing.T) {
	logical := &fakeLogical{
		secrets: map[string]*api.Secret{
			DefaultPath + "/keys":          kv(map[string]any{"vcenter": "s3cret"}),
			DefaultPath + "/openstack/lab": kv(map[string]any{"value": "hunter2"}),
			DefaultPath + "/broken/layout": {Data: map[string]any{"value": "v1 layout"}},
		},
	}

	v := &Vault{logical: logical, path: DefaultPath}
	ctx := context.Background()

	value, err := v.Get(ctx, "vcenter")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", value)

	value, err = v.Get(ctx, "openstack/lab")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", value)

	_, err = v.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSecret)

	_, err = v.Get(ctx, "nope/nothing")
	assert.ErrorIs(t, err, model.ErrConfig)

	_, err = v.Get(ctx, "broken/layout")
	assert.ErrorIs(t, err, ErrSecret)
}

func TestGetReadError(t *testing.T) {
	v := &Vault{logical: &fakeLogical{err: errors.New("permission denied")}, path: DefaultPath}

	_, err := v.Get(context.Background(), "vcenter")
	assert.ErrorIs(t, err, model.ErrConfig)
}
