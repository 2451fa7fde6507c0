package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/IvanBrykalov/kcore/bcache"
	"github.com/IvanBrykalov/kcore/device"
	"github.com/IvanBrykalov/kcore/metrics/prom"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newCacheCmd(a *app) *cobra.Command {
	a.cfg.Cache = cacheConfig{
		Entries:   bcache.DefaultEntries,
		Buckets:   bcache.DefaultBuckets,
		BlockSize: bcache.DefaultBlockSize,
		Devices:   2,
		Blocks:    200,
		WritePct:  20,
	}
	cmd := &cobra.Command{
		Use:   "bcache",
		Short: "Read, modify and write back random blocks through the block cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runCache(cmd.Context(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	c := &a.cfg.Cache
	f.IntVar(&c.Entries, "entries", c.Entries, "cache entries")
	f.IntVar(&c.Buckets, "buckets", c.Buckets, "hash buckets")
	f.IntVar(&c.BlockSize, "block-size", c.BlockSize, "block size in bytes")
	f.IntVar(&c.Devices, "devices", c.Devices, "number of device ids")
	f.IntVar(&c.Blocks, "blocks", c.Blocks, "blocks per device")
	f.IntVar(&c.WritePct, "writes", c.WritePct, "write-back percentage [0..100]")
	f.StringVar(&c.Dir, "dir", "", "store device images in dir (default: in-memory disk)")
	return cmd
}

func (a *app) runCache(ctx context.Context, out io.Writer) error {
	cfg := a.cfg
	cc := cfg.Cache
	if cfg.Workers <= 0 || cc.Devices <= 0 || cc.Blocks <= 0 {
		return fmt.Errorf("workers, devices and blocks must be positive")
	}
	// Resolve the cache defaults here so the worker bound and the disk see
	// the same sizes as the cache.
	if cc.Entries <= 0 {
		cc.Entries = bcache.DefaultEntries
	}
	if cc.Buckets <= 0 {
		cc.Buckets = bcache.DefaultBuckets
	}
	if cc.BlockSize <= 0 {
		cc.BlockSize = bcache.DefaultBlockSize
	}
	// Each worker references one block at a time; more workers than entries
	// could leave a miss with nothing to recycle.
	if cfg.Workers > cc.Entries {
		return fmt.Errorf("workers (%d) must not exceed entries (%d)", cfg.Workers, cc.Entries)
	}

	var dev bcache.Device
	if cc.Dir != "" {
		fd, err := device.OpenFileDisk(cc.Dir, cc.BlockSize)
		if err != nil {
			return err
		}
		defer func() { _ = fd.Close() }()
		dev = fd
	} else {
		dev = device.NewMemDisk(cc.BlockSize)
	}

	c := bcache.New(bcache.Options{
		Entries:   cc.Entries,
		Buckets:   cc.Buckets,
		BlockSize: cc.BlockSize,
		Device:    dev,
		Metrics:   prom.NewCache(a.reg, "kcore", "bcache", nil),
		Logger:    a.log,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration.Duration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Workers {
		g.Go(func() error {
			r := rand.New(rand.NewSource(cfg.Seed + int64(w)*9973))
			for ctx.Err() == nil {
				b, err := c.Read(uint32(r.Intn(cc.Devices)), uint32(r.Intn(cc.Blocks)))
				if err != nil {
					return err
				}
				if r.Intn(100) < cc.WritePct {
					b.Data()[r.Intn(len(b.Data()))]++
					if err := c.WriteBack(b); err != nil {
						c.Release(b)
						return err
					}
				}
				c.Release(b)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	st := c.Stats()
	lookups := st.Hits + st.Misses
	hitRate := 0.0
	if lookups > 0 {
		hitRate = float64(st.Hits) / float64(lookups) * 100
	}
	fmt.Fprintf(out, "workers=%d entries=%d buckets=%d devices=%d blocks=%d dur=%v seed=%d\n",
		cfg.Workers, st.Entries, st.Buckets, cc.Devices, cc.Blocks, elapsed, cfg.Seed)
	fmt.Fprintf(out, "lookups=%d (%.0f ops/s)  hits=%d  misses=%d  recycles=%d  hit-rate=%.2f%%\n",
		lookups, float64(lookups)/elapsed.Seconds(), st.Hits, st.Misses, st.Recycles, hitRate)
	if st.Referenced != 0 {
		return fmt.Errorf("%d entries still referenced after drain", st.Referenced)
	}
	if st.Locked != 0 {
		return fmt.Errorf("%d entries still locked after drain", st.Locked)
	}
	return nil
}
