// Package lock provides keyed locks used to serialise work per user and
// per city. KeyedLock is in-process; RedisLock spans instances.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locker runs fn while holding the lock for key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// UserKey returns the lock key for a user.
func UserKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// CityKey returns the lock key for a normalised city.
func CityKey(cityKey string) string {
	return "city:" + cityKey
}

// keyMutex is a one-slot semaphore so waiters can give up on ctx.
type keyMutex struct {
	sem  chan struct{}
	refs int
}

// KeyedLock holds one mutex per key and drops it once nobody references it.
type KeyedLock struct {
	mu      sync.Mutex
	locks   map[string]*keyMutex
	timeout time.Duration
}

// NewKeyedLock creates a KeyedLock. WithLock gives up after timeout;
// zero means wait for as long as ctx allows.
func NewKeyedLock(timeout time.Duration) *KeyedLock {
	return &KeyedLock{
		locks:   make(map[string]*keyMutex),
		timeout: timeout,
	}
}

func (l *KeyedLock) acquireRef(key string) *keyMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[key]
	if !ok {
		m = &keyMutex{sem: make(chan struct{}, 1)}
		l.locks[key] = m
	}
	m.refs++
	return m
}

func (l *KeyedLock) releaseRef(key string, m *keyMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
}

// Lock blocks until the lock for key is held.
func (l *KeyedLock) Lock(key string) {
	m := l.acquireRef(key)
	m.sem <- struct{}{}
}

// Unlock releases the lock for key. Unlocking a key that is not held is a no-op.
func (l *KeyedLock) Unlock(key string) {
	l.mu.Lock()
	m, ok := l.locks[key]
	l.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-m.sem:
		l.releaseRef(key, m)
	default:
	}
}

// TryLock acquires the lock for key without blocking.
func (l *KeyedLock) TryLock(key string) bool {
	m := l.acquireRef(key)
	select {
	case m.sem <- struct{}{}:
		return true
	default:
		l.releaseRef(key, m)
		return false
	}
}

// LockContext waits for the lock until ctx is done.
func (l *KeyedLock) LockContext(ctx context.Context, key string) error {
	m := l.acquireRef(key)
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.releaseRef(key, m)
		if ctx.Err() == context.DeadlineExceeded {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
}

// WithLock executes fn while holding the lock for key.
func (l *KeyedLock) WithLock(ctx context.Context, key string, fn func() error) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.LockContext(ctx, key); err != nil {
		return err
	}
	defer l.Unlock(key)
	return fn()
}

// IsLocked reports whether key is currently held.
// This is a point-in-time check and may change immediately after.
func (l *KeyedLock) IsLocked(key string) bool {
	l.mu.Lock()
	m, ok := l.locks[key]
	l.mu.Unlock()
	return ok && len(m.sem) == 1
}

// Len returns the number of keys with live references.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
