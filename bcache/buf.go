package bcache

import "sync/atomic"

// Buf is a handle on a cached block, returned locked by Acquire and Read.
// It carries the token of that acquisition, so once released it can no longer
// be used for WriteBack or Release. Pins taken through a Buf are counted on
// it; a released Buf stays usable for Pin/Unpin only while it has one.
type Buf struct {
	c     *Cache
	e     *entry
	token uint64
	pins  atomic.Int32
}

// Dev returns the device id of the cached block.
func (b *Buf) Dev() uint32 { return b.e.dev }

// BlockNo returns the block number of the cached block.
func (b *Buf) BlockNo() uint32 { return b.e.blockno }

// Valid reports whether the content was loaded from the device.
// Only meaningful while b is held.
func (b *Buf) Valid() bool { return b.e.valid }

// Data returns the block content. It may be read or written only while b is
// held, and must not be retained after Release.
func (b *Buf) Data() []byte { return b.e.data }

// Held reports whether b still holds its entry's lock.
func (b *Buf) Held() bool { return b.e.lock.Holding(b.token) }

// RefCount returns the entry's current reference count.
func (b *Buf) RefCount() int {
	return int(b.c.bucketFor(b.e.blockno).refcount(b.e))
}

// unpin consumes one of b's pins. Reports false if it has none.
func (b *Buf) unpin() bool {
	for {
		n := b.pins.Load()
		if n <= 0 {
			return false
		}
		if b.pins.CompareAndSwap(n, n-1) {
			return true
		}
	}
}
