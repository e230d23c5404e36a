package serverrun

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/trustchain/internal/chain"
	cfgpkg "github.com/rzbill/trustchain/internal/config"
	"github.com/rzbill/trustchain/internal/runtime"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

type Options struct {
	Config cfgpkg.Config
	// HTTPAddr serves /metrics and /healthz. Empty disables the listener.
	HTTPAddr string
	// Chains are opened at start and held open so their compaction timers
	// run for the life of the process.
	Chains []string
	Logger logpkg.Logger
	// Ready, when set, receives the bound listener address once serving.
	Ready func(addr string)
}

// Run opens the runtime, holds the configured chains open and serves
// metrics until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&opts.Config.Log)
		if err != nil {
			return err
		}
		logger = l
	}
	logpkg.RedirectStdLog(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt, err := runtime.Open(runtime.Options{Config: opts.Config, Logger: logger, Registerer: reg})
	if err != nil {
		return err
	}
	defer rt.Close()

	held := make([]*chain.Chain, 0, len(opts.Chains))
	defer func() {
		for _, c := range held {
			_ = c.Close()
		}
	}()
	for _, key := range opts.Chains {
		c, err := rt.OpenChain(sctx, key)
		if err != nil {
			return fmt.Errorf("open chain %s: %w", key, err)
		}
		held = append(held, c)
		st := c.Stats()
		logger.Info("chain open",
			logpkg.Str("chain", st.Key),
			logpkg.Int("live", st.Live),
			logpkg.Int64("size", st.Size))
	}

	logger.Info("Starting trustchain",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.Config.DataDir),
		logpkg.Int("chains", len(held)))

	if opts.HTTPAddr == "" {
		<-sctx.Done()
		return nil
	}
	return serve(sctx, opts, newMux(rt, reg), logger)
}

func newMux(rt *runtime.Runtime, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.CheckHealth(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func serve(ctx context.Context, opts Options, h http.Handler, logger logpkg.Logger) error {
	l, err := net.Listen("tcp", opts.HTTPAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	if opts.Ready != nil {
		opts.Ready(l.Addr().String())
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(cctx)
		logger.Info("trustchain stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
