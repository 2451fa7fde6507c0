// Package prom exports kalloc and bcache metrics to Prometheus.
package prom

import (
	"strconv"

	"github.com/IvanBrykalov/kcore/bcache"
	"github.com/IvanBrykalov/kcore/kalloc"
	"github.com/prometheus/client_golang/prometheus"
)

// CacheAdapter implements bcache.Metrics and exports Prometheus counters.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type CacheAdapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	recycles prometheus.Counter
	io       *prometheus.CounterVec
}

// NewCache constructs a block cache metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func NewCache(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *CacheAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &CacheAdapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Block lookups served by a resident entry",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Block lookups that required recycling an entry",
			ConstLabels: constLabels,
		}),
		recycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "recycles_total",
			Help:        "Unreferenced entries relabelled for a new block",
			ConstLabels: constLabels,
		}),
		io: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "device_io_total",
				Help:        "Synchronous device transfers by direction",
				ConstLabels: constLabels,
			},
			[]string{"op"},
		),
	}
	reg.MustRegister(a.hits, a.misses, a.recycles, a.io)
	return a
}

// Hit increments the hit counter.
func (a *CacheAdapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *CacheAdapter) Miss() { a.misses.Inc() }

// Recycle increments the recycle counter.
func (a *CacheAdapter) Recycle() { a.recycles.Inc() }

// DeviceRead counts a block read.
func (a *CacheAdapter) DeviceRead() { a.io.WithLabelValues("read").Inc() }

// DeviceWrite counts a block write.
func (a *CacheAdapter) DeviceWrite() { a.io.WithLabelValues("write").Inc() }

// AllocAdapter implements kalloc.Metrics with per-worker labels.
type AllocAdapter struct {
	allocs    *prometheus.CounterVec
	frees     *prometheus.CounterVec
	steals    *prometheus.CounterVec
	stolen    prometheus.Counter
	exhausted prometheus.Counter
}

// NewAlloc constructs a page allocator metrics adapter. Arguments as in NewCache.
func NewAlloc(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *AllocAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &AllocAdapter{
		allocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "allocs_total",
			Help:        "Frames allocated, by worker",
			ConstLabels: constLabels,
		}, []string{"worker"}),
		frees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "frees_total",
			Help:        "Frames freed, by worker",
			ConstLabels: constLabels,
		}, []string{"worker"}),
		steals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "steals_total",
			Help:        "Successful steals, by thief worker",
			ConstLabels: constLabels,
		}, []string{"worker"}),
		stolen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "stolen_frames_total",
			Help:        "Frames moved between pools by stealing",
			ConstLabels: constLabels,
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "exhausted_total",
			Help:        "Allocations that found every pool empty",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.allocs, a.frees, a.steals, a.stolen, a.exhausted)
	return a
}

// Alloc counts a frame handed out by worker.
func (a *AllocAdapter) Alloc(worker int) { a.allocs.WithLabelValues(strconv.Itoa(worker)).Inc() }

// Free counts a frame returned to worker's pool.
func (a *AllocAdapter) Free(worker int) { a.frees.WithLabelValues(strconv.Itoa(worker)).Inc() }

// Steal counts a steal by thief and the frames it moved.
func (a *AllocAdapter) Steal(thief, _ int, frames int) {
	a.steals.WithLabelValues(strconv.Itoa(thief)).Inc()
	a.stolen.Add(float64(frames))
}

// Exhausted counts a failed allocation.
func (a *AllocAdapter) Exhausted(int) { a.exhausted.Inc() }

// Compile-time checks: ensure the adapters implement the Metrics interfaces.
var (
	_ bcache.Metrics = (*CacheAdapter)(nil)
	_ kalloc.Metrics = (*AllocAdapter)(nil)
)
