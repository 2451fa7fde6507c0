// Package bcache is a fixed-capacity cache of device blocks with at most one
// live entry per (device, block) identity.
//
// Design
//
//   - Entries: Options.Entries buffers are allocated once, each with a
//     BlockSize content slice, an exclusive sleeping lock and a reference
//     count. Entries are never created or destroyed afterwards; a miss
//     relabels an unreferenced one.
//
//   - Buckets: entries are partitioned by blockno across Options.Buckets hash
//     buckets, each an index-linked list with its own mutex. A hit touches
//     exactly one bucket lock, so lookups on different buckets never contend.
//
//   - Misses: all miss resolution is serialized by a single arbiter mutex.
//     Under it the target bucket is re-scanned (another goroutine may have
//     inserted the block meanwhile), then the buckets are visited in index
//     order and the first entry with refcount 0 is moved to the target
//     bucket. At most one bucket lock is held at a time, always after the
//     arbiter, so the lock order is arbiter < bucket and cannot cycle.
//     There is no recency policy: any unreferenced entry may be recycled.
//
//   - Content: Data may only be read or written by the goroutine holding the
//     Buf returned from Acquire. Bucket mutexes are never held while blocking
//     on an entry's lock or on the device.
//
//   - Failure modes: running out of unreferenced entries is a configuration
//     error and panics with ErrNoBuffers. WriteBack or Release through a Buf
//     that does not hold its entry's lock panics with ErrNotHeld.
//
// Basic usage
//
//	c := bcache.New(bcache.Options{Device: device.NewMemDisk(1024)})
//	b, err := c.Read(dev, blockno)
//	if err != nil { ... }
//	b.Data()[0] = 42
//	if err := c.WriteBack(b); err != nil { ... }
//	c.Release(b)
package bcache
