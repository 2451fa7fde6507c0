package bcache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/kcore/internal/util"
)

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries    int
	Buckets    int
	Hits       int64
	Misses     int64
	Recycles   int64
	Referenced int
	Locked     int
}

// Cache is a fixed pool of block buffers partitioned into hash buckets.
// All methods are safe for concurrent use by multiple goroutines.
type Cache struct {
	// arbiter serializes miss resolution. Lock order: arbiter, then at most
	// one bucket.
	arbiter sync.Mutex

	entries []entry
	buckets []*bucket

	// tokens issues the per-acquisition ownership proofs carried by Buf.
	tokens atomic.Uint64

	_        util.CacheLinePad
	recycles util.PaddedAtomicInt64

	opt Options
	log *slog.Logger
}

// New constructs a cache with the provided Options.
// All entries start unreferenced and invalid, listed in bucket 0.
// Panics if opt.Device is nil.
func New(opt Options) *Cache {
	if opt.Device == nil {
		panic("bcache: Device must be set")
	}
	if opt.Entries <= 0 {
		opt.Entries = DefaultEntries
	}
	if opt.Buckets <= 0 {
		opt.Buckets = DefaultBuckets
	}
	if opt.BlockSize <= 0 {
		opt.BlockSize = DefaultBlockSize
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	c := &Cache{
		entries: make([]entry, opt.Entries),
		buckets: make([]*bucket, opt.Buckets),
		opt:     opt,
		log:     opt.Logger.With("component", "bcache"),
	}
	for i := range c.buckets {
		c.buckets[i] = &bucket{head: nilEntry}
	}

	// One slab for all content keeps the blocks contiguous.
	slab := make([]byte, opt.Entries*opt.BlockSize)
	for i := range c.entries {
		e := &c.entries[i]
		e.idx = int32(i)
		e.next = nilEntry
		e.lock.Init()
		e.data = slab[i*opt.BlockSize : (i+1)*opt.BlockSize : (i+1)*opt.BlockSize]
		c.buckets[0].push(e)
	}
	return c
}

// Acquire returns a locked Buf for (dev, blockno), reusing the live entry for
// that identity if there is one and recycling an unreferenced entry otherwise.
// It blocks while another holder has the entry locked; there is no timeout.
// The content is not read; see ReadThrough and Read.
// Panics with ErrNoBuffers if a miss finds every entry referenced.
func (c *Cache) Acquire(dev, blockno uint32) *Buf {
	bk := c.bucketFor(blockno)

	// Fast path: one bucket lock, no global coordination.
	e := bk.lookup(c.entries, dev, blockno)
	if e != nil {
		bk.hits.Add(1)
		c.opt.Metrics.Hit()
	} else {
		e = c.resolveMiss(bk, dev, blockno)
	}
	return c.lockEntry(e)
}

// resolveMiss runs under the arbiter. It either finds that another goroutine
// inserted (dev, blockno) since the fast path looked, or relabels the first
// unreferenced entry and links it into bk. Returns with refcount taken.
func (c *Cache) resolveMiss(bk *bucket, dev, blockno uint32) *entry {
	c.arbiter.Lock()
	defer c.arbiter.Unlock()

	if e := bk.lookup(c.entries, dev, blockno); e != nil {
		bk.hits.Add(1)
		c.opt.Metrics.Hit()
		return e
	}
	bk.misses.Add(1)
	c.opt.Metrics.Miss()

	e, from, ok := c.findVictim()
	if !ok {
		c.fatal(fmt.Errorf("%w: all %d entries referenced (dev %d block %d)",
			ErrNoBuffers, len(c.entries), dev, blockno))
	}

	// e is unlinked and unreferenced: no other goroutine can reach it.
	oldDev, oldBlock, wasAssigned := e.dev, e.blockno, e.assigned
	e.dev, e.blockno, e.assigned = dev, blockno, true
	e.valid = false
	e.refcnt = 1
	bk.push(e)

	c.recycles.Add(1)
	c.opt.Metrics.Recycle()
	if wasAssigned {
		c.log.Debug("recycle", "entry", e.idx, "from_bucket", from,
			"old_dev", oldDev, "old_block", oldBlock, "dev", dev, "block", blockno)
	}
	return e
}

// findVictim visits buckets in index order and unlinks the first entry with
// refcount zero. Each bucket lock is released before the next is taken.
func (c *Cache) findVictim() (*entry, int, bool) {
	for i, bk := range c.buckets {
		if e := bk.takeUnreferenced(c.entries); e != nil {
			return e, i, true
		}
	}
	return nil, -1, false
}

// lockEntry blocks on e's exclusive lock. No bucket lock is held here.
func (c *Cache) lockEntry(e *entry) *Buf {
	token := c.tokens.Add(1)
	e.lock.Lock(token)
	return &Buf{c: c, e: e, token: token}
}

// ReadThrough fills b from the device unless its content is already valid.
// Content is fetched at most once per identity. A device error is returned
// as is and leaves the content invalid.
func (c *Cache) ReadThrough(b *Buf) error {
	c.mustHold(b, "read")
	e := b.e
	if e.valid {
		return nil
	}
	if err := c.opt.Device.ReadWrite(e.dev, e.blockno, e.data, false); err != nil {
		return fmt.Errorf("bcache: read dev %d block %d: %w", e.dev, e.blockno, err)
	}
	c.opt.Metrics.DeviceRead()
	e.valid = true
	return nil
}

// Read is Acquire followed by ReadThrough. On a device error the buffer is
// released before returning.
func (c *Cache) Read(dev, blockno uint32) (*Buf, error) {
	b := c.Acquire(dev, blockno)
	if err := c.ReadThrough(b); err != nil {
		c.Release(b)
		return nil, err
	}
	return b, nil
}

// WriteBack persists b's content to the device. b must hold its lock.
func (c *Cache) WriteBack(b *Buf) error {
	c.mustHold(b, "write")
	e := b.e
	if err := c.opt.Device.ReadWrite(e.dev, e.blockno, e.data, true); err != nil {
		return fmt.Errorf("bcache: write dev %d block %d: %w", e.dev, e.blockno, err)
	}
	c.opt.Metrics.DeviceWrite()
	return nil
}

// Release unlocks b and drops its reference. The entry stays cached and
// becomes recyclable once its refcount reaches zero. b is dead afterwards.
func (c *Cache) Release(b *Buf) {
	c.mustHold(b, "release")
	e := b.e
	bk := c.bucketFor(e.blockno)
	if !e.lock.Unlock(b.token) {
		c.fatal(fmt.Errorf("%w: release dev %d block %d", ErrNotHeld, e.dev, e.blockno))
	}
	if _, ok := bk.adjust(e, -1); !ok {
		c.fatal(fmt.Errorf("%w: release dev %d block %d", ErrRefcount, e.dev, e.blockno))
	}
}

// Pin takes an extra reference on b's entry so it stays resident across
// Release/Acquire cycles. b must hold its lock or already carry a pin of its
// own; otherwise it panics with ErrNotHeld.
func (c *Cache) Pin(b *Buf) {
	if b == nil || b.e == nil {
		c.fatal(fmt.Errorf("%w: pin on nil buffer", ErrNotHeld))
	}
	// Either condition keeps the entry referenced, so its identity is stable.
	if !b.e.lock.Holding(b.token) && b.pins.Load() == 0 {
		c.fatal(fmt.Errorf("%w: pin on a released, unpinned buffer", ErrNotHeld))
	}
	e := b.e
	c.bucketFor(e.blockno).adjust(e, 1)
	b.pins.Add(1)
}

// Unpin drops a reference taken by Pin through the same handle.
// Panics with ErrRefcount when b has no outstanding pin.
func (c *Cache) Unpin(b *Buf) {
	if b == nil || b.e == nil || !b.unpin() {
		c.fatal(fmt.Errorf("%w: unpin without an outstanding pin", ErrRefcount))
	}
	e := b.e
	if _, ok := c.bucketFor(e.blockno).adjust(e, -1); !ok {
		c.fatal(fmt.Errorf("%w: unpin dev %d block %d", ErrRefcount, e.dev, e.blockno))
	}
}

// Len returns the number of entries currently referenced.
func (c *Cache) Len() int {
	total := 0
	for _, bk := range c.buckets {
		total += bk.referenced(c.entries)
	}
	return total
}

// Stats returns counters summed across buckets.
func (c *Cache) Stats() Stats {
	st := Stats{
		Entries:  len(c.entries),
		Buckets:  len(c.buckets),
		Recycles: c.recycles.Load(),
	}
	for _, bk := range c.buckets {
		st.Hits += bk.hits.Load()
		st.Misses += bk.misses.Load()
		st.Referenced += bk.referenced(c.entries)
	}
	for i := range c.entries {
		if c.entries[i].lock.Locked() {
			st.Locked++
		}
	}
	return st
}

// BlockSize returns the content size of every entry.
func (c *Cache) BlockSize() int { return c.opt.BlockSize }

// ---- helpers ----

func (c *Cache) bucketFor(blockno uint32) *bucket {
	return c.buckets[util.BucketIndex(uint64(blockno), len(c.buckets))]
}

func (c *Cache) mustHold(b *Buf, op string) {
	if b == nil || b.e == nil {
		c.fatal(fmt.Errorf("%w: %s on nil buffer", ErrNotHeld, op))
	}
	if !b.e.lock.Holding(b.token) {
		c.fatal(fmt.Errorf("%w: %s dev %d block %d", ErrNotHeld, op, b.e.dev, b.e.blockno))
	}
}

func (c *Cache) fatal(err error) {
	c.log.Error("fatal", "err", err)
	panic(err)
}
