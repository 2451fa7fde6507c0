package bcache

import "github.com/IvanBrykalov/kcore/internal/sleeplock"

// nilEntry terminates index-linked bucket lists.
const nilEntry int32 = -1

// entry is one cache slot. It lives in the cache's entries arena for the
// cache's lifetime and is linked into exactly one bucket at a time.
type entry struct {
	idx int32

	// Identity. Rewritten only on the miss path, under the arbiter, while the
	// entry is unreferenced and unlinked from every bucket. Stable while
	// refcnt > 0.
	dev      uint32
	blockno  uint32
	assigned bool // false until the entry first receives an identity

	// ---- guarded by the lock of the bucket listing this entry ----
	next   int32
	refcnt int32

	// ---- guarded by lock ----
	lock  sleeplock.Mutex
	valid bool
	data  []byte
}

func (e *entry) is(dev, blockno uint32) bool {
	return e.assigned && e.dev == dev && e.blockno == blockno
}
