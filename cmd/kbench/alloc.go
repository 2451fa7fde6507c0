package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/kcore/kalloc"
	"github.com/IvanBrykalov/kcore/metrics/prom"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// allocBase is where the simulated physical range starts.
const allocBase = 0x8000_0000

func newAllocCmd(a *app) *cobra.Command {
	a.cfg.Alloc = allocConfig{Pages: 4096, Batch: 16}
	cmd := &cobra.Command{
		Use:   "alloc",
		Short: "Allocate and free frames from every worker, stealing across pools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAlloc(cmd.Context(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.IntVar(&a.cfg.Alloc.Pages, "pages", a.cfg.Alloc.Pages, "frames in the managed range")
	f.IntVar(&a.cfg.Alloc.Batch, "batch", a.cfg.Alloc.Batch, "max frames a worker holds per round")
	return cmd
}

func (a *app) runAlloc(ctx context.Context, out io.Writer) error {
	cfg := a.cfg
	if cfg.Workers <= 0 || cfg.Alloc.Pages <= 0 || cfg.Alloc.Batch <= 0 {
		return fmt.Errorf("workers, pages and batch must be positive")
	}

	al, err := kalloc.New(kalloc.Options{
		RangeStart: allocBase,
		RangeEnd:   allocBase + uint64(cfg.Alloc.Pages)*kalloc.PageSize,
		Workers:    cfg.Workers,
		Metrics:    prom.NewAlloc(a.reg, "kcore", "kalloc", nil),
		Logger:     a.log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = al.Close() }()

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration.Duration)
	defer cancel()

	var ops, exhausted atomic.Int64
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Workers {
		g.Go(func() error {
			r := rand.New(rand.NewSource(cfg.Seed + int64(w)*9973))
			held := make([]kalloc.Frame, 0, cfg.Alloc.Batch)
			for ctx.Err() == nil {
				target := 1 + r.Intn(cfg.Alloc.Batch)
				for len(held) < target {
					f, err := al.Allocate(w)
					if errors.Is(err, kalloc.ErrNoMemory) {
						exhausted.Add(1)
						break
					}
					if err != nil {
						return err
					}
					al.Page(f)[0] = byte(w)
					held = append(held, f)
					ops.Add(1)
				}
				// Return a random share to a random pool to keep stealing busy.
				keep := r.Intn(len(held) + 1)
				for _, f := range held[keep:] {
					al.Free(r.Intn(cfg.Workers), f)
				}
				held = held[:keep]
			}
			for _, f := range held {
				al.Free(w, f)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	st := al.Stats()
	fmt.Fprintf(out, "workers=%d pages=%d dur=%v seed=%d\n", cfg.Workers, cfg.Alloc.Pages, elapsed, cfg.Seed)
	fmt.Fprintf(out, "allocs=%d (%.0f ops/s)  frees=%d  steals=%d  exhausted=%d\n",
		st.Allocs, float64(ops.Load())/elapsed.Seconds(), st.Frees, st.Steals, exhausted.Load())
	if st.Free != st.Total {
		return fmt.Errorf("leak: %d of %d frames free after drain", st.Free, st.Total)
	}
	a.log.Info("alloc run complete", "frames", st.Total)
	return nil
}
