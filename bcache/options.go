package bcache

import "log/slog"

const (
	// DefaultEntries is the default number of cached blocks.
	DefaultEntries = 30
	// DefaultBuckets is the default number of hash buckets (a prime).
	DefaultBuckets = 13
	// DefaultBlockSize is the default content size of an entry in bytes.
	DefaultBlockSize = 1024
)

// Device performs synchronous block I/O for the cache. ReadWrite fills data
// from block blockno of device dev, or persists data to it when write is
// true, and returns once the transfer completed.
type Device interface {
	ReadWrite(dev, blockno uint32, data []byte, write bool) error
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	// Recycle reports an unreferenced entry relabelled for a new block.
	Recycle()
	DeviceRead()
	DeviceWrite()
}

// Options configures the cache. Zero values are safe except for Device;
// defaults are applied in New():
//   - Entries <= 0   => DefaultEntries
//   - Buckets <= 0   => DefaultBuckets
//   - BlockSize <= 0 => DefaultBlockSize
//   - nil Metrics    => NoopMetrics
//   - nil Logger     => slog.Default()
type Options struct {
	Entries   int
	Buckets   int
	BlockSize int

	// Device is the block I/O collaborator; required.
	Device Device

	Metrics Metrics
	Logger  *slog.Logger
}
