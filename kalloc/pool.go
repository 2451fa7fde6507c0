package kalloc

import (
	"sync"

	"github.com/IvanBrykalov/kcore/internal/util"
)

// nilFrame terminates index-linked free lists.
const nilFrame int32 = -1

// pool is one worker's free list. The list is threaded through the
// allocator-wide next[] array; a link is owned by whichever pool currently
// lists that frame, so next[i] is only touched under that pool's lock (or by
// a thief holding a detached run that nobody else can see).
type pool struct {
	// ---- guarded by mu ----
	mu   sync.Mutex
	head int32
	n    int

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	allocs util.PaddedAtomicInt64
	frees  util.PaddedAtomicInt64
	steals util.PaddedAtomicInt64
}

// push adds frame idx to the head of the list.
func (p *pool) push(next []int32, idx int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next[idx] = p.head
	p.head = idx
	p.n++
}

// pop removes the head frame, or returns nilFrame if the pool is empty.
func (p *pool) pop(next []int32) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popLocked(next)
}

func (p *pool) popLocked(next []int32) int32 {
	idx := p.head
	if idx == nilFrame {
		return nilFrame
	}
	p.head = next[idx]
	next[idx] = nilFrame
	p.n--
	return idx
}

// split detaches the head half of the list for a thief using a slow/fast
// walk. The detached run is head..slow inclusive; the pool keeps slow's
// successor onward. For k frames the thief gets ceil(k/2).
// Returns (nilFrame, nilFrame, 0) when the pool is empty.
func (p *pool) split(next []int32) (head, tail int32, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	head = p.head
	if head == nilFrame {
		return nilFrame, nilFrame, 0
	}
	slow, fast := head, head
	n = 1
	for next[fast] != nilFrame && next[next[fast]] != nilFrame {
		slow = next[slow]
		fast = next[next[fast]]
		n++
	}
	p.head = next[slow]
	next[slow] = nilFrame
	p.n -= n
	return head, slow, n
}

// adopt splices the detached run head..tail onto the front of the list and
// pops one frame from the result.
func (p *pool) adopt(next []int32, head, tail int32, n int) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	next[tail] = p.head
	p.head = head
	p.n += n
	return p.popLocked(next)
}

// len returns the number of free frames in this pool.
func (p *pool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// snapshot returns the frame indexes in list order (head first). Test aid.
func (p *pool) snapshot(next []int32) []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int32, 0, p.n)
	for i := p.head; i != nilFrame; i = next[i] {
		out = append(out, i)
	}
	return out
}
