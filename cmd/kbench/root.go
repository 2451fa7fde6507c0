package main

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"time"

	"github.com/IvanBrykalov/kcore/internal/config"
	"github.com/IvanBrykalov/kcore/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type app struct {
	cfgPath string
	cfg     benchConfig
	log     *slog.Logger
	reg     *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{
		cfg: benchConfig{Duration: duration{10 * time.Second}},
		reg: prometheus.NewRegistry(),
	}
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	root := &cobra.Command{
		Use:           "kbench",
		Short:         "Stress the per-worker page allocator and the block cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "JSON config file; explicit flags take precedence")
	pf.StringVar(&a.cfg.LogLevel, "log-level", "INFO", "log level: DEBUG | INFO | WARN | ERROR")
	pf.StringVar(&a.cfg.HTTP, "http", "", "serve Prometheus metrics at addr (e.g. :8080); empty = disabled")
	pf.StringVar(&a.cfg.Pprof, "pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	pf.Var(&a.cfg.Duration, "duration", "workload duration")
	pf.IntVar(&a.cfg.Workers, "workers", runtime.GOMAXPROCS(0), "number of worker goroutines")
	pf.Int64Var(&a.cfg.Seed, "seed", time.Now().UnixNano(), "random seed")

	root.AddCommand(newAllocCmd(a), newCacheCmd(a))
	return root
}

// setup merges the config file under explicit flags, builds the logger and
// starts the optional HTTP endpoints.
func (a *app) setup(cmd *cobra.Command) error {
	if a.cfgPath != "" {
		explicit := map[string]string{}
		cmd.Flags().Visit(func(f *pflag.Flag) { explicit[f.Name] = f.Value.String() })
		if err := config.Load(a.cfgPath, &a.cfg); err != nil {
			return err
		}
		for name, v := range explicit {
			if err := cmd.Flags().Set(name, v); err != nil {
				return err
			}
		}
	}

	a.log = logging.New(os.Stderr, a.cfg.LogLevel)
	slog.SetDefault(a.log)

	if a.cfg.Pprof != "" {
		go func() {
			a.log.Info("pprof: serving", "addr", a.cfg.Pprof)
			a.log.Error("pprof server stopped", "err", http.ListenAndServe(a.cfg.Pprof, nil))
		}()
	}
	if a.cfg.HTTP != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
		go func() {
			a.log.Info("metrics: serving", "addr", a.cfg.HTTP)
			a.log.Error("metrics server stopped", "err", http.ListenAndServe(a.cfg.HTTP, mux))
		}()
	}
	return nil
}
