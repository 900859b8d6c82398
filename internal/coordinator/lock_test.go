package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLockExcludes(t *testing.T) {
	l := newKeyedLock()
	key := Key{Driver: "kvm", BackendID: "a"}

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	_, ok := l.TryLock(key)
	assert.False(t, ok)

	// other keys are independent
	other, ok := l.TryLock(Key{Driver: "kvm", BackendID: "b"})
	require.True(t, ok)
	other()

	unlock()
	unlock()

	again, ok := l.TryLock(key)
	require.True(t, ok)
	again()

	assert.Equal(t, 0, l.size())
}

func TestKeyedLockHonorsContext(t *testing.T) {
	l := newKeyedLock()
	key := Key{Driver: "kvm", BackendID: "a"}

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedLockSerializes(t *testing.T) {
	l := newKeyedLock()
	key := Key{Driver: "kvm", BackendID: "a"}

	var (
		wg      sync.WaitGroup
		counter int
	)

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock, err := l.Lock(context.Background(), key)
			if err != nil {
				return
			}

			counter++
			unlock()
		}()
	}

	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.size())
}
