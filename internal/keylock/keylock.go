// Package keylock serializes work per string key.
//
// Local writes, sync engine status transitions and remote change application
// all lock the same "collection/entityId" key, so a drain and an arriving
// snapshot can never interleave on one entity. Different keys never contend.
package keylock

import (
	"context"
	"sync"
)

// Map is a set of lazily created per-key locks. The zero value is ready to
// use. Entries are reference counted and removed once no goroutine holds or
// waits for them, so the map does not grow with the number of keys ever
// seen.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // buffered(1); holding the token means holding the lock
	refs int
}

func (m *Map) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*entry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Lock blocks until key is held and returns the function that releases it.
func (m *Map) Lock(key string) (unlock func()) {
	e := m.acquire(key)
	e.ch <- struct{}{}
	return m.unlocker(key, e)
}

// LockContext is like Lock but gives up when ctx is done.
func (m *Map) LockContext(ctx context.Context, key string) (unlock func(), err error) {
	e := m.acquire(key)
	select {
	case e.ch <- struct{}{}:
		return m.unlocker(key, e), nil
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}
}

// TryLock acquires key only if it is free.
func (m *Map) TryLock(key string) (unlock func(), ok bool) {
	e := m.acquire(key)
	select {
	case e.ch <- struct{}{}:
		return m.unlocker(key, e), true
	default:
		m.release(key, e)
		return nil, false
	}
}

// With runs fn while holding key.
func (m *Map) With(ctx context.Context, key string, fn func() error) error {
	unlock, err := m.LockContext(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Len returns the number of keys currently held or waited on.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map) unlocker(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.release(key, e)
		})
	}
}
