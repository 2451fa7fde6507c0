package kalloc

import "errors"

var (
	// ErrNoMemory is returned by Allocate when every pool is empty.
	ErrNoMemory = errors.New("kalloc: out of memory")

	// ErrMisaligned indicates a range bound that is not page-aligned.
	ErrMisaligned = errors.New("kalloc: range not page-aligned")

	// ErrEmptyRange indicates a range with no frames in it.
	ErrEmptyRange = errors.New("kalloc: empty range")

	// ErrRangeTooLarge indicates a range with more frames than MaxFrames.
	ErrRangeTooLarge = errors.New("kalloc: range too large")

	// ErrBadFrame indicates a misaligned or out-of-range frame address (fatal).
	ErrBadFrame = errors.New("kalloc: bad frame")

	// ErrDoubleFree indicates Free of a frame that is already free (fatal).
	ErrDoubleFree = errors.New("kalloc: double free")

	// ErrBadWorker indicates a worker index outside [0, Workers) (fatal).
	ErrBadWorker = errors.New("kalloc: bad worker index")
)
