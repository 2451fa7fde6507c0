package kalloc

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/IvanBrykalov/kcore/internal/util"
)

// Frame is the physical address of a PageSize frame.
type Frame uint64

// MaxFrames bounds the frames one Allocator manages; frame indexes are int32.
const MaxFrames = math.MaxInt32

// Stats is a point-in-time view of the allocator.
// Under concurrent use the fields are individually, not jointly, consistent.
type Stats struct {
	Total     int
	Free      int
	Allocated int
	Allocs    int64
	Frees     int64
	Steals    int64
}

// Allocator owns every frame of the managed range. All methods are safe for
// concurrent use; worker indexes select the local pool and may be shared by
// several goroutines.
type Allocator struct {
	start, end uint64
	nframes    int

	mem     []byte
	release func() error

	// next links free lists; see pool.
	next []int32
	// free marks frames currently listed in some pool.
	free []atomic.Bool

	pools []*pool

	poisonFree  []byte
	poisonAlloc []byte

	opt Options
	log *slog.Logger
}

// New maps the range described by opt and registers every frame in it into
// the seed pool, poison-filled. Defaults:
//   - Workers <= 0 -> util.ReasonableWorkerCount()
//   - nil Metrics  -> NoopMetrics
//   - nil Logger   -> slog.Default()
func New(opt Options) (*Allocator, error) {
	if !util.IsAligned(opt.RangeStart, PageSize) || !util.IsAligned(opt.RangeEnd, PageSize) {
		return nil, fmt.Errorf("%w: [%#x, %#x)", ErrMisaligned, opt.RangeStart, opt.RangeEnd)
	}
	if opt.RangeEnd <= opt.RangeStart {
		return nil, fmt.Errorf("%w: [%#x, %#x)", ErrEmptyRange, opt.RangeStart, opt.RangeEnd)
	}
	if frames := (opt.RangeEnd - opt.RangeStart) / PageSize; frames > MaxFrames {
		return nil, fmt.Errorf("%w: %d frames, at most %d", ErrRangeTooLarge, frames, MaxFrames)
	}
	if opt.Workers <= 0 {
		opt.Workers = util.ReasonableWorkerCount()
	}
	if opt.SeedWorker < 0 || opt.SeedWorker >= opt.Workers {
		return nil, fmt.Errorf("%w: seed %d of %d", ErrBadWorker, opt.SeedWorker, opt.Workers)
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	size := opt.RangeEnd - opt.RangeStart
	nframes := int(size / PageSize)
	mem, release, err := mapArena(int(size))
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		start:       opt.RangeStart,
		end:         opt.RangeEnd,
		nframes:     nframes,
		mem:         mem,
		release:     release,
		next:        make([]int32, nframes),
		free:        make([]atomic.Bool, nframes),
		pools:       make([]*pool, opt.Workers),
		poisonFree:  bytes.Repeat([]byte{PoisonFree}, PageSize),
		poisonAlloc: bytes.Repeat([]byte{PoisonAlloc}, PageSize),
		opt:         opt,
		log:         opt.Logger.With("component", "kalloc"),
	}
	for i := range a.pools {
		a.pools[i] = &pool{head: nilFrame}
	}

	// Register in increasing address order; each push goes to the head, so
	// the highest frame ends up first in the seed list.
	seed := a.pools[opt.SeedWorker]
	for i := 0; i < nframes; i++ {
		copy(a.page(int32(i)), a.poisonFree)
		a.free[i].Store(true)
		seed.push(a.next, int32(i))
	}

	a.log.Debug("initialized",
		"start", fmt.Sprintf("%#x", a.start),
		"end", fmt.Sprintf("%#x", a.end),
		"frames", nframes,
		"workers", opt.Workers)
	return a, nil
}

// Allocate returns a frame from worker's pool, stealing from other pools when
// it is empty. The frame's content is PoisonAlloc, not zero.
// Returns ErrNoMemory when every pool is empty; the caller decides policy.
func (a *Allocator) Allocate(worker int) (Frame, error) {
	local := a.pool(worker)

	idx := local.pop(a.next)
	if idx == nilFrame {
		idx = a.steal(worker)
	}
	if idx == nilFrame {
		a.opt.Metrics.Exhausted(worker)
		return 0, ErrNoMemory
	}

	a.free[idx].Store(false)
	copy(a.page(idx), a.poisonAlloc)
	local.allocs.Add(1)
	a.opt.Metrics.Alloc(worker)
	return a.frame(idx), nil
}

// steal scans the other pools in increasing index order and takes the head
// half of the first non-empty one. Only one pool lock is held at any moment:
// the victim's lock is dropped inside split before adopt takes the local one.
// There is no fairness between victims.
func (a *Allocator) steal(worker int) int32 {
	for i, victim := range a.pools {
		if i == worker {
			continue
		}
		head, tail, n := victim.split(a.next)
		if n == 0 {
			continue
		}
		local := a.pools[worker]
		local.steals.Add(1)
		a.opt.Metrics.Steal(worker, i, n)
		a.log.Debug("steal", "thief", worker, "victim", i, "frames", n)
		return local.adopt(a.next, head, tail, n)
	}
	return nilFrame
}

// Free poisons f and returns it to worker's pool.
// Panics (wrapping ErrBadFrame / ErrDoubleFree) on a misaligned, out-of-range
// or already free frame: those are programming errors, not runtime conditions.
func (a *Allocator) Free(worker int, f Frame) {
	local := a.pool(worker)
	idx := a.index(f)
	if a.free[idx].Swap(true) {
		a.fatal(fmt.Errorf("%w: %#x", ErrDoubleFree, uint64(f)))
	}
	copy(a.page(idx), a.poisonFree)
	local.push(a.next, idx)
	local.frees.Add(1)
	a.opt.Metrics.Free(worker)
}

// Page returns the PageSize bytes backing f. The slice aliases the frame;
// it must not be used after f is freed.
func (a *Allocator) Page(f Frame) []byte {
	return a.page(a.index(f))
}

// PoolLen returns the number of free frames in worker's pool.
func (a *Allocator) PoolLen(worker int) int {
	return a.pool(worker).len()
}

// Workers returns the number of pools.
func (a *Allocator) Workers() int { return len(a.pools) }

// Range returns the managed range [start, end).
func (a *Allocator) Range() (start, end uint64) { return a.start, a.end }

// Stats returns counters summed across pools.
func (a *Allocator) Stats() Stats {
	st := Stats{Total: a.nframes}
	for _, p := range a.pools {
		st.Free += p.len()
		st.Allocs += p.allocs.Load()
		st.Frees += p.frees.Load()
		st.Steals += p.steals.Load()
	}
	st.Allocated = st.Total - st.Free
	return st
}

// Close unmaps the backing memory. The allocator must not be used afterwards.
func (a *Allocator) Close() error {
	return a.release()
}

// ---- helpers ----

func (a *Allocator) pool(worker int) *pool {
	if worker < 0 || worker >= len(a.pools) {
		a.fatal(fmt.Errorf("%w: %d of %d", ErrBadWorker, worker, len(a.pools)))
	}
	return a.pools[worker]
}

// index validates f and converts it to a frame index.
func (a *Allocator) index(f Frame) int32 {
	addr := uint64(f)
	if !util.IsAligned(addr, PageSize) || addr < a.start || addr >= a.end {
		a.fatal(fmt.Errorf("%w: %#x outside [%#x, %#x)", ErrBadFrame, addr, a.start, a.end))
	}
	return int32((addr - a.start) / PageSize)
}

func (a *Allocator) frame(idx int32) Frame {
	return Frame(a.start + uint64(idx)*PageSize)
}

func (a *Allocator) page(idx int32) []byte {
	off := int(idx) * PageSize
	return a.mem[off : off+PageSize : off+PageSize]
}

func (a *Allocator) fatal(err error) {
	a.log.Error("fatal", "err", err)
	panic(err)
}
