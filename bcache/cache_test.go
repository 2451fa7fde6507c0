package bcache

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IvanBrykalov/kcore/device"
	"github.com/IvanBrykalov/kcore/internal/util"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 64

var (
	_ Device = (*device.MemDisk)(nil)
	_ Device = (*device.FileDisk)(nil)
)

func newTestCache(t testing.TB, entries, buckets int, dev Device) *Cache {
	t.Helper()
	return New(Options{
		Entries:   entries,
		Buckets:   buckets,
		BlockSize: testBlockSize,
		Device:    dev,
		Logger:    slog.New(slog.DiscardHandler),
	})
}

// requireFatal runs fn and asserts it panics with an error wrapping target.
func requireFatal(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a fatal panic")
		err, ok := r.(error)
		require.Truef(t, ok, "panic value %v is not an error", r)
		require.ErrorIs(t, err, target)
	}()
	fn()
}

func pattern(b byte) []byte { return bytes.Repeat([]byte{b}, testBlockSize) }

// audit checks the structural invariants with every lock taken: each entry
// listed exactly once, in the bucket its block number hashes to, no locked
// entry without a reference, and no two referenced entries sharing an identity.
func (c *Cache) audit() error {
	c.arbiter.Lock()
	defer c.arbiter.Unlock()
	for _, bk := range c.buckets {
		bk.mu.Lock()
	}
	defer func() {
		for _, bk := range c.buckets {
			bk.mu.Unlock()
		}
	}()

	seen := make([]bool, len(c.entries))
	live := make(map[[2]uint32]int32)
	for bi, bk := range c.buckets {
		n := 0
		for i := bk.head; i != nilEntry; i = c.entries[i].next {
			e := &c.entries[i]
			if seen[i] {
				return fmt.Errorf("entry %d listed twice", i)
			}
			seen[i] = true
			n++
			if want := util.BucketIndex(uint64(e.blockno), len(c.buckets)); e.assigned && want != bi {
				return fmt.Errorf("entry %d (block %d) in bucket %d, want %d", i, e.blockno, bi, want)
			}
			if e.refcnt < 0 {
				return fmt.Errorf("entry %d refcount %d", i, e.refcnt)
			}
			if e.lock.Locked() && e.refcnt == 0 {
				return fmt.Errorf("entry %d locked with no reference", i)
			}
			if e.refcnt > 0 {
				id := [2]uint32{e.dev, e.blockno}
				if other, dup := live[id]; dup {
					return fmt.Errorf("entries %d and %d both live for dev %d block %d", other, i, id[0], id[1])
				}
				live[id] = i
			}
		}
		if n != bk.n {
			return fmt.Errorf("bucket %d lists %d entries, counts %d", bi, n, bk.n)
		}
	}
	for i, ok := range seen {
		if !ok {
			return fmt.Errorf("entry %d unreachable", i)
		}
	}
	return nil
}

// resident reports whether some entry carries (dev, blockno).
func (c *Cache) resident(dev, blockno uint32) bool {
	bk := c.bucketFor(blockno)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	for i := bk.head; i != nilEntry; i = c.entries[i].next {
		if c.entries[i].is(dev, blockno) {
			return true
		}
	}
	return false
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c := New(Options{Device: device.NewMemDisk(DefaultBlockSize), Logger: slog.New(slog.DiscardHandler)})
	st := c.Stats()
	require.Equal(t, DefaultEntries, st.Entries)
	require.Equal(t, DefaultBuckets, st.Buckets)
	require.Equal(t, DefaultBlockSize, c.BlockSize())
	require.Zero(t, c.Len())
	require.Equal(t, DefaultEntries, c.buckets[0].n, "all entries start in bucket 0")
	require.NoError(t, c.audit())

	require.Panics(t, func() { New(Options{}) })
}

func TestAcquire_MissThenHit(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 4, 13, device.NewMemDisk(testBlockSize))

	b := c.Acquire(0, 5)
	require.True(t, b.Held())
	require.Equal(t, uint32(0), b.Dev())
	require.Equal(t, uint32(5), b.BlockNo())
	require.False(t, b.Valid(), "Acquire does not read")
	require.Equal(t, 1, b.RefCount())
	require.Len(t, b.Data(), testBlockSize)
	require.Equal(t, 1, c.Len())
	c.Release(b)
	require.False(t, b.Held())
	require.Zero(t, c.Len())

	b2 := c.Acquire(0, 5)
	require.Same(t, b.e, b2.e, "released entry is reused for the same identity")
	c.Release(b2)

	// Same block number on another device is another identity.
	b3 := c.Acquire(1, 5)
	require.NotSame(t, b.e, b3.e)
	c.Release(b3)

	st := c.Stats()
	require.Equal(t, int64(1), st.Hits)
	require.Equal(t, int64(2), st.Misses)
	require.Equal(t, int64(2), st.Recycles)
	require.NoError(t, c.audit())
}

func TestRead_FetchesOnce(t *testing.T) {
	t.Parallel()

	disk := device.NewMemDisk(testBlockSize)
	disk.Store(0, 9, pattern(0x42))
	c := newTestCache(t, 4, 13, disk)

	for i := 0; i < 3; i++ {
		b, err := c.Read(0, 9)
		require.NoError(t, err)
		require.True(t, b.Valid())
		require.Equal(t, pattern(0x42), b.Data())
		c.Release(b)
	}
	require.Equal(t, int64(1), disk.Reads(), "valid content is never re-fetched")
}

type flakyDisk struct {
	*device.MemDisk
	failures atomic.Int32
}

var errIO = errors.New("io error")

func (d *flakyDisk) ReadWrite(dev, blockno uint32, data []byte, write bool) error {
	if d.failures.Add(-1) >= 0 {
		return errIO
	}
	return d.MemDisk.ReadWrite(dev, blockno, data, write)
}

func TestRead_DeviceErrorLeavesInvalid(t *testing.T) {
	t.Parallel()

	disk := &flakyDisk{MemDisk: device.NewMemDisk(testBlockSize)}
	disk.Store(0, 1, pattern(9))
	disk.failures.Store(1)
	c := newTestCache(t, 2, 13, disk)

	b, err := c.Read(0, 1)
	require.ErrorIs(t, err, errIO)
	require.Nil(t, b)
	require.Zero(t, c.Len(), "failed read releases the buffer")

	b, err = c.Read(0, 1)
	require.NoError(t, err)
	require.Equal(t, pattern(9), b.Data())

	disk.failures.Store(1)
	b.Data()[0] = 1
	require.ErrorIs(t, c.WriteBack(b), errIO)
	require.True(t, b.Held(), "a failed write leaves the buffer held")
	c.Release(b)
}

func TestLockDiscipline_Fatal(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 2, 13, device.NewMemDisk(testBlockSize))

	b := c.Acquire(0, 1)
	c.Release(b)

	requireFatal(t, ErrNotHeld, func() { _ = c.WriteBack(b) })
	requireFatal(t, ErrNotHeld, func() { c.Release(b) })
	requireFatal(t, ErrNotHeld, func() { _ = c.ReadThrough(b) })
	requireFatal(t, ErrNotHeld, func() { c.Release(nil) })

	// A stale handle does not hold the lock of a later acquisition.
	b2 := c.Acquire(0, 1)
	require.Same(t, b.e, b2.e)
	requireFatal(t, ErrNotHeld, func() { c.Release(b) })
	require.True(t, b2.Held())
	c.Release(b2)

	require.NoError(t, c.audit())
}

// Two workers acquire the same block without an intervening release: the
// second waits, then proceeds holding the only reference, on valid content.
func TestAcquire_SameBlockBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	disk := device.NewMemDisk(testBlockSize)
	disk.Store(0, 5, pattern(0x11))
	c := newTestCache(t, 4, 13, disk)

	b1, err := c.Read(0, 5)
	require.NoError(t, err)

	acquired := make(chan *Buf, 1)
	go func() { acquired <- c.Acquire(0, 5) }()

	require.Eventually(t, func() bool { return b1.RefCount() == 2 },
		time.Second, time.Millisecond, "second acquirer must take a reference")
	select {
	case <-acquired:
		t.Fatal("second acquirer must block while the first holds the lock")
	case <-time.After(20 * time.Millisecond):
	}

	c.Release(b1)
	b2 := <-acquired

	require.Same(t, b1.e, b2.e)
	require.True(t, b2.Held())
	require.Equal(t, 1, b2.RefCount())
	require.True(t, b2.Valid())
	require.NoError(t, c.ReadThrough(b2))
	require.Equal(t, int64(1), disk.Reads())
	require.Equal(t, pattern(0x11), b2.Data())
	c.Release(b2)
}

// Capacity 3 with 3 blocks pinned: a 4th identity cannot be served.
func TestAcquire_ExhaustionIsFatal(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 3, 8, device.NewMemDisk(testBlockSize))

	pinned := make([]*Buf, 0, 3)
	for blk := uint32(1); blk <= 3; blk++ {
		b := c.Acquire(0, blk)
		c.Pin(b)
		c.Release(b)
		pinned = append(pinned, b)
	}
	require.Equal(t, 3, c.Len())

	requireFatal(t, ErrNoBuffers, func() { c.Acquire(0, 4) })

	// The arbiter was released on the way out: the cache is still usable.
	b := c.Acquire(0, 2) // hit on a pinned entry
	require.Equal(t, 2, b.RefCount())
	c.Release(b)

	c.Unpin(pinned[0])
	b = c.Acquire(0, 4)
	require.Same(t, pinned[0].e, b.e, "the only unreferenced entry is recycled")
	c.Release(b)
	require.NoError(t, c.audit())
}

func TestPin_KeepsEntryResident(t *testing.T) {
	t.Parallel()

	disk := device.NewMemDisk(testBlockSize)
	disk.Store(0, 1, pattern(0x77))
	c := newTestCache(t, 2, 13, disk)

	b, err := c.Read(0, 1)
	require.NoError(t, err)
	c.Pin(b)
	c.Release(b)
	require.Equal(t, 1, b.RefCount())

	// Churn through many other blocks; only the unpinned entry recycles.
	for blk := uint32(10); blk < 30; blk++ {
		o := c.Acquire(0, blk)
		c.Release(o)
	}
	require.True(t, c.resident(0, 1))

	b2, err := c.Read(0, 1)
	require.NoError(t, err)
	require.Same(t, b.e, b2.e)
	require.Equal(t, pattern(0x77), b2.Data())
	require.Equal(t, int64(1), disk.Reads(), "pinned block was not re-read")
	c.Release(b2)

	c.Unpin(b)
	require.Equal(t, 0, b.RefCount())
	requireFatal(t, ErrRefcount, func() { c.Unpin(b) })
	require.NoError(t, c.audit())
}

// A handle that was released and fully unpinned must not touch the refcount
// of whatever identity its entry carries next.
func TestPin_StaleHandleIsFatal(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 1, 13, device.NewMemDisk(testBlockSize))

	old := c.Acquire(0, 1)
	c.Pin(old)
	c.Release(old)
	c.Unpin(old)

	holder := c.Acquire(0, 2)
	require.Same(t, old.e, holder.e, "single entry is recycled")

	requireFatal(t, ErrRefcount, func() { c.Unpin(old) })
	requireFatal(t, ErrNotHeld, func() { c.Pin(old) })
	requireFatal(t, ErrNotHeld, func() { c.Pin(nil) })
	requireFatal(t, ErrRefcount, func() { c.Unpin(nil) })

	require.True(t, holder.Held())
	require.Equal(t, 1, holder.RefCount())
	st := c.Stats()
	require.Equal(t, 1, st.Referenced)
	require.Equal(t, 1, st.Locked)
	require.NoError(t, c.audit())

	c.Release(holder)
	require.Equal(t, 0, c.Stats().Locked)
	require.NoError(t, c.audit())
}

// Pins are counted per handle: a released handle may pin again while it has
// a pin outstanding, and may unpin exactly as many times as it pinned.
func TestPin_CountsPerHandle(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 2, 13, device.NewMemDisk(testBlockSize))

	b := c.Acquire(0, 5)
	c.Pin(b)
	c.Release(b)
	c.Pin(b)
	require.Equal(t, 2, b.RefCount())

	// Another acquisition of the same block pins through its own handle only.
	o := c.Acquire(0, 5)
	require.Same(t, b.e, o.e)
	requireFatal(t, ErrRefcount, func() { c.Unpin(o) })
	c.Release(o)

	c.Unpin(b)
	c.Unpin(b)
	require.Equal(t, 0, b.RefCount())
	requireFatal(t, ErrRefcount, func() { c.Unpin(b) })
	require.NoError(t, c.audit())
}

// Victims are chosen by bucket order, then list order, with no regard to use.
func TestAcquire_VictimIsFirstUnreferenced(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 3, 4, device.NewMemDisk(testBlockSize))
	// Bucket 0 initially lists entries 2, 1, 0.

	b1 := c.Acquire(0, 1)
	require.Equal(t, int32(2), b1.e.idx)
	b2 := c.Acquire(0, 2)
	require.Equal(t, int32(1), b2.e.idx)
	c.Release(b1)
	c.Release(b2)

	// Bucket 0 still holds entry 0, which is scanned first.
	b3 := c.Acquire(0, 3)
	require.Equal(t, int32(0), b3.e.idx)
	c.Release(b3)

	// Bucket 0 is now empty; bucket 1 (block 1, entry 2) comes next even
	// though block 2 was used no more recently.
	b4 := c.Acquire(0, 4)
	require.Equal(t, int32(2), b4.e.idx)
	require.False(t, c.resident(0, 1))
	c.Release(b4)
	require.NoError(t, c.audit())
}

// Written-back content survives eviction; unwritten modifications do not,
// and a recycled entry never aliases the old identity.
func TestWriteBack_RoundTripThroughEviction(t *testing.T) {
	t.Parallel()

	disk := device.NewMemDisk(testBlockSize)
	disk.Store(0, 1, pattern(0xA0))
	disk.Store(0, 2, pattern(0xB0))
	c := newTestCache(t, 3, 8, disk)

	evictAll := func() {
		for blk := uint32(100); blk < 106; blk++ {
			o := c.Acquire(1, blk)
			c.Release(o)
		}
		require.False(t, c.resident(0, 1))
		require.False(t, c.resident(0, 2))
	}

	b, err := c.Read(0, 1)
	require.NoError(t, err)
	copy(b.Data(), pattern(0xA1))
	require.NoError(t, c.WriteBack(b))
	c.Release(b)

	b, err = c.Read(0, 2)
	require.NoError(t, err)
	copy(b.Data(), pattern(0xB1)) // never written back
	c.Release(b)

	evictAll()

	b, err = c.Read(0, 1)
	require.NoError(t, err)
	require.Equal(t, pattern(0xA1), b.Data())
	c.Release(b)

	b, err = c.Read(0, 2)
	require.NoError(t, err)
	require.Equal(t, pattern(0xB0), b.Data(), "unwritten change must be gone")
	c.Release(b)

	require.Equal(t, int64(1), disk.Writes())
	require.Equal(t, pattern(0xA1), disk.Load(0, 1))
	require.NoError(t, c.audit())
}
