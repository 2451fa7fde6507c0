// Package kalloc is a physical page-frame allocator with one free pool per
// worker and work-stealing between pools.
//
// Design
//
//   - Frames: the managed range [RangeStart, RangeEnd) is cut into PageSize
//     frames. A Frame is the physical address of its first byte. Frames are
//     addressed internally by index, and every free list is an index-linked
//     list threaded through a single next[] array, so list surgery never
//     aliases pointers.
//
//   - Pools: each worker owns a pool (a LIFO free list plus a mutex). Free
//     pushes onto the caller's pool, Allocate pops from it. In the common
//     case a worker only ever touches its own lock.
//
//   - Stealing: when the local pool is empty, Allocate visits the other
//     pools in increasing index order. The first non-empty victim is split
//     with a tortoise/hare walk: the thief takes the head half up to and
//     including the slow pointer, the victim keeps the rest. The victim's
//     lock is released before the thief's own lock is taken, so at most one
//     pool lock is ever held and no lock cycle can form.
//
//   - Poisoning: freed frames are filled with PoisonFree, allocated frames
//     with PoisonAlloc. Nothing is zeroed; callers that need zeroed memory
//     clear it themselves.
//
//   - Failure modes: Allocate returns ErrNoMemory when every pool is empty.
//     Freeing a misaligned, out-of-range or already free frame is a
//     programming error and panics.
//
// Basic usage
//
//	a, err := kalloc.New(kalloc.Options{
//	    RangeStart: 0x8000_0000,
//	    RangeEnd:   0x8000_0000 + 64*kalloc.PageSize,
//	    Workers:    4,
//	})
//	if err != nil { ... }
//	defer a.Close()
//
//	f, err := a.Allocate(cpu)
//	if errors.Is(err, kalloc.ErrNoMemory) { ... }
//	page := a.Page(f) // PageSize bytes, filled with PoisonAlloc
//	a.Free(cpu, f)
package kalloc
