package coordinator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// keyedLock serializes state changes per machine.
//
// Waiting honors context cancellation and entries are released once unused.
type keyedLock struct {
	mu      sync.Mutex
	entries map[Key]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: map[Key]*lockEntry{}}
}

func (l *keyedLock) acquire(key Key) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}

	e.refs++

	return e
}

func (l *keyedLock) release(key Key, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *keyedLock) unlocker(key Key, e *lockEntry) func() {
	var once sync.Once

	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}
}

// Lock blocks until the key is held or ctx is done.
func (l *keyedLock) Lock(ctx context.Context, key Key) (func(), error) {
	e := l.acquire(key)

	select {
	case e.ch <- struct{}{}:
		return l.unlocker(key, e), nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, errors.Wrapf(ctx.Err(), "waiting for system %s", key)
	}
}

// TryLock holds the key only when it is free.
func (l *keyedLock) TryLock(key Key) (func(), bool) {
	e := l.acquire(key)

	select {
	case e.ch <- struct{}{}:
		return l.unlocker(key, e), true
	default:
		l.release(key, e)
		return nil, false
	}
}

// size returns the number of tracked keys.
func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}
