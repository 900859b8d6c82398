package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "overlays.db")

	store, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)

	key := Key{Driver: "kvm", BackendID: "0d1c2b3a-0000-4000-8000-000000000001"}
	overlay := Overlay{
		State:        OverrideArmed,
		Target:       model.BootTargetPxe,
		Persistent:   true,
		NativeTarget: model.BootTargetHdd,
		Applied:      true,
		LastPower:    model.PowerStateOff,
		UpdatedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, key, overlay))

	overlay.State = OverrideConsumed
	overlay.Applied = false
	require.NoError(t, store.Put(ctx, key, overlay))
	require.NoError(t, store.Put(ctx, Key{Driver: "nova", BackendID: "srv-1"}, Overlay{}))

	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, overlay, got)

	keys, err := store.Keys(ctx, "kvm")
	require.NoError(t, err)
	assert.Equal(t, []Key{key}, keys)

	require.NoError(t, store.Close())

	// overlays survive a restart
	store, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	got, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, overlay, got)

	require.NoError(t, store.Delete(ctx, key))

	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(context.Background(), "")
	assert.ErrorIs(t, err, ErrOverlayStore)
}
