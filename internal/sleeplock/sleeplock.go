// Package sleeplock provides a blocking exclusive lock that remembers who holds it.
//
// Unlike sync.Mutex, ownership is tied to an explicit token, so callers can
// check "do I hold this lock?" before touching guarded state and fail loudly
// on a lock-discipline violation.
package sleeplock

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Mutex is a sleeping lock. Waiters park instead of spinning, so it is the
// only primitive that may be held across device I/O.
//
// The zero value is not usable; call Init or New.
type Mutex struct {
	sem    *semaphore.Weighted
	holder atomic.Uint64 // 0 when unlocked
}

// New returns an unlocked Mutex.
func New() *Mutex {
	m := &Mutex{}
	m.Init()
	return m
}

// Init prepares an embedded Mutex for use.
func (m *Mutex) Init() {
	m.sem = semaphore.NewWeighted(1)
}

// Lock blocks until the lock is free and records token as the holder.
// token must be non-zero and unique per acquisition.
// There is no timeout: a holder that never unlocks stalls every waiter.
func (m *Mutex) Lock(token uint64) {
	if token == 0 {
		panic("sleeplock: zero token")
	}
	// Background never cancels, so Acquire only returns once the lock is ours.
	_ = m.sem.Acquire(context.Background(), 1)
	m.holder.Store(token)
}

// Unlock releases the lock. It reports false, and leaves the lock untouched,
// when token is not the current holder.
func (m *Mutex) Unlock(token uint64) bool {
	if token == 0 || !m.holder.CompareAndSwap(token, 0) {
		return false
	}
	m.sem.Release(1)
	return true
}

// Holding reports whether token currently holds the lock.
func (m *Mutex) Holding(token uint64) bool {
	return token != 0 && m.holder.Load() == token
}

// Locked reports whether anyone holds the lock.
func (m *Mutex) Locked() bool { return m.holder.Load() != 0 }
