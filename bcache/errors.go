package bcache

import "errors"

var (
	// ErrNoBuffers indicates a miss with every entry referenced (fatal).
	ErrNoBuffers = errors.New("bcache: no buffers")

	// ErrNotHeld indicates use of a Buf that does not hold its entry's lock (fatal).
	ErrNotHeld = errors.New("bcache: buffer lock not held")

	// ErrRefcount indicates a reference count dropping below zero (fatal).
	ErrRefcount = errors.New("bcache: refcount underflow")
)
