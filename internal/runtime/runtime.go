package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/trustchain/internal/chain"
	cfgpkg "github.com/rzbill/trustchain/internal/config"
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/metrics"
	"github.com/rzbill/trustchain/internal/namespace"
	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	// Logger defaults to one built from Config.Log.
	Logger logpkg.Logger
	// Registerer receives the process metrics. Nil keeps them private.
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
}

// Runtime wires storage, config and the chain registry for a single node.
type Runtime struct {
	db      *pebblestore.DB
	reg     *chain.Registry
	config  cfgpkg.Config
	logger  logpkg.Logger
	metrics *metrics.Metrics
}

// Open validates the configuration, selects the hash routine, opens the
// metadata store and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	routine, _ := cfg.Routine()
	crypto.SetHashRoutine(routine)
	fsync, _ := cfg.FsyncMode()
	metaFormat, dataFormat, _ := cfg.Formats()
	mode, _ := cfg.CompactionMode()
	roots, _ := cfg.Roots.Parse()

	m := metrics.New(opts.Registerer)
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfgpkg.MetaDir(cfg.DataDir),
		Fsync:         fsync,
		FsyncInterval: cfg.FsyncInterval(),
		Metrics:       m.StoreHook(),
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: open store: %w", err)
	}
	reg, err := chain.NewRegistry(chain.RegistryOptions{
		DataDir:     cfg.DataDir,
		DB:          db,
		Roots:       roots,
		MetaFormat:  metaFormat,
		DataFormat:  dataFormat,
		RotateBytes: cfg.RotateBytes,
		Sync:        cfg.SyncArchives,
		Compaction:  mode,
		CacheSize:   cfg.CacheSize,
		Logger:      logger,
		Metrics:     m,
		Tracer:      opts.Tracer,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("runtime opened",
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Stringer("hash_routine", routine),
		logpkg.Stringer("compaction", mode))
	return &Runtime{db: db, reg: reg, config: cfg, logger: logger, metrics: m}, nil
}

// Close closes every open chain, then the store.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	err := errors.Join(r.reg.Close(), r.db.Close())
	r.db = nil
	return err
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// EnsureNamespace creates a namespace record if absent.
func (r *Runtime) EnsureNamespace(name string) (namespace.Meta, error) {
	return namespace.EnsureNamespace(r.db, name, namespace.Defaults())
}

// OpenChain opens (or creates) the chain named key. Close the returned chain
// when done; the registry shares it between callers.
func (r *Runtime) OpenChain(ctx context.Context, key string, opts ...chain.OpenOption) (*chain.Chain, error) {
	return r.reg.Open(ctx, key, opts...)
}

func (r *Runtime) Registry() *chain.Registry { return r.reg }
func (r *Runtime) DB() *pebblestore.DB       { return r.db }
func (r *Runtime) Config() cfgpkg.Config     { return r.config }
func (r *Runtime) Logger() logpkg.Logger     { return r.logger }
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }
