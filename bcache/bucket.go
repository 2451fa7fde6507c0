package bcache

import (
	"sync"

	"github.com/IvanBrykalov/kcore/internal/util"
)

// bucket is one hash partition of the cache: an index-linked list of entries
// threaded through entry.next, plus the lock guarding it and the refcounts of
// its members. Critical sections are short and never block.
type bucket struct {
	// ---- guarded by mu ----
	mu   sync.Mutex
	head int32
	n    int

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
}

// lookup returns the entry caching (dev, blockno) with its refcount already
// incremented, or nil.
func (b *bucket) lookup(entries []entry, dev, blockno uint32) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := b.head; i != nilEntry; i = entries[i].next {
		if e := &entries[i]; e.is(dev, blockno) {
			e.refcnt++
			return e
		}
	}
	return nil
}

// takeUnreferenced unlinks and returns the first entry in list order whose
// refcount is zero, or nil if every member is referenced.
func (b *bucket) takeUnreferenced(entries []entry) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := nilEntry
	for i := b.head; i != nilEntry; prev, i = i, entries[i].next {
		e := &entries[i]
		if e.refcnt != 0 {
			continue
		}
		if prev == nilEntry {
			b.head = e.next
		} else {
			entries[prev].next = e.next
		}
		e.next = nilEntry
		b.n--
		return e
	}
	return nil
}

// push links e at the head of the list.
func (b *bucket) push(e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e.next = b.head
	b.head = e.idx
	b.n++
}

// adjust adds delta to e's refcount and returns the new value.
// It refuses, returning ok=false, to drive the count below zero.
func (b *bucket) adjust(e *entry, delta int32) (n int32, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.refcnt+delta < 0 {
		return e.refcnt, false
	}
	e.refcnt += delta
	return e.refcnt, true
}

// refcount reads e's refcount.
func (b *bucket) refcount(e *entry) int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return e.refcnt
}

// referenced counts members with a non-zero refcount.
func (b *bucket) referenced(entries []entry) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := b.head; i != nilEntry; i = entries[i].next {
		if entries[i].refcnt > 0 {
			n++
		}
	}
	return n
}
