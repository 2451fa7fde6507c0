package kalloc

import "log/slog"

const (
	// PageSize is the size of one frame in bytes.
	PageSize = 4096

	// PoisonFree fills every freed frame.
	PoisonFree byte = 0x01
	// PoisonAlloc fills every frame handed out by Allocate.
	PoisonAlloc byte = 0x05
)

// Metrics exposes allocator observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Alloc(worker int)
	Free(worker int)
	// Steal reports that thief moved frames out of victim's pool.
	Steal(thief, victim, frames int)
	// Exhausted reports an Allocate that found every pool empty.
	Exhausted(worker int)
}

// Options configures an Allocator. Zero values are safe except for the range;
// defaults are applied in New():
//   - Workers <= 0 => one pool per GOMAXPROCS
//   - nil Metrics  => NoopMetrics
//   - nil Logger   => slog.Default()
type Options struct {
	// RangeStart and RangeEnd delimit the managed physical range [start, end).
	// Both must be page-aligned.
	RangeStart uint64
	RangeEnd   uint64

	// Workers is the number of per-worker pools.
	Workers int

	// SeedWorker is the pool that receives every frame at startup.
	// Stealing spreads frames to the other pools over time.
	SeedWorker int

	Metrics Metrics
	Logger  *slog.Logger
}
