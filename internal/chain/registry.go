package chain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/rzbill/trustchain/internal/compact"
	"github.com/rzbill/trustchain/internal/config"
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/manifest"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/metrics"
	"github.com/rzbill/trustchain/internal/namespace"
	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// DataDir is the root under which chains/<namespace>/<name>/ live.
	DataDir string
	// DB holds chain configs, manifests and namespace records.
	DB *pebblestore.DB

	// Roots are the root options of newly created chains.
	Roots meta.Roots
	// MetaFormat and DataFormat override the namespace defaults for newly
	// created chains when set.
	MetaFormat meta.Format
	DataFormat meta.Format

	RotateBytes int64
	Sync        bool
	Compaction  compact.Mode
	CacheSize   int

	Logger  logpkg.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// OpenOption adjusts the configuration of a chain created by Open. It has no
// effect on a chain that already exists.
type OpenOption func(*manifest.Config)

// WithRoots sets the root write and read options of a new chain.
func WithRoots(r meta.Roots) OpenOption {
	return func(c *manifest.Config) { c.Roots = r }
}

// WithFormats sets the metadata and data formats of a new chain.
func WithFormats(metaFormat, dataFormat meta.Format) OpenOption {
	return func(c *manifest.Config) {
		c.MetaFormat, c.DataFormat = metaFormat, dataFormat
	}
}

type entry struct {
	chain *Chain
	refs  int
}

// Registry opens chains by key. Opening a key that is already open returns
// the same *Chain; concurrent first opens are collapsed into one.
type Registry struct {
	opts   RegistryOptions
	store  *manifest.Store
	logger logpkg.Logger
	group  singleflight.Group

	mu     sync.Mutex
	chains map[string]*entry
}

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.DB == nil || opts.DataDir == "" {
		return nil, errors.New("chain: RegistryOptions.DB and DataDir are required")
	}
	if opts.Roots.Write.IsInherit() {
		opts.Roots.Write = meta.WriteEveryone()
	}
	if opts.Roots.Read.IsInherit() {
		opts.Roots.Read = meta.ReadEveryone(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &Registry{
		opts:   opts,
		store:  manifest.NewStore(opts.DB),
		logger: logger.WithComponent("registry"),
		chains: make(map[string]*entry),
	}, nil
}

// Canonical returns the "namespace/name" form of key.
func Canonical(key string) (string, error) {
	ns, name, err := namespace.SplitKey(key)
	if err != nil {
		return "", err
	}
	return ns + "/" + name, nil
}

// Open returns the chain for key, creating it on first use. Every Open must
// be paired with a Chain.Close.
func (r *Registry) Open(ctx context.Context, key string, opts ...OpenOption) (*Chain, error) {
	canonical, err := Canonical(key)
	if err != nil {
		return nil, err
	}
	for {
		if c := r.acquire(canonical); c != nil {
			return c, nil
		}
		_, err, _ := r.group.Do(canonical, func() (any, error) {
			r.mu.Lock()
			_, ok := r.chains[canonical]
			r.mu.Unlock()
			if ok {
				return nil, nil
			}
			c, err := r.open(ctx, canonical, opts)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.chains[canonical] = &entry{chain: c}
			r.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
	}
}

func (r *Registry) acquire(key string) *Chain {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.chains[key]
	if !ok {
		return nil
	}
	e.refs++
	return e.chain
}

func (r *Registry) open(ctx context.Context, key string, opts []OpenOption) (*Chain, error) {
	ns, name, err := namespace.SplitKey(key)
	if err != nil {
		return nil, err
	}
	nsMeta, err := namespace.EnsureNamespace(r.opts.DB, ns, namespace.Defaults())
	if err != nil {
		return nil, err
	}
	want := manifest.Config{
		MetaFormat:  r.opts.MetaFormat,
		DataFormat:  r.opts.DataFormat,
		HashRoutine: crypto.CurrentHashRoutine(),
		Roots:       r.opts.Roots,
	}
	if !want.MetaFormat.Valid() {
		if want.MetaFormat, err = meta.ParseFormat(nsMeta.MetaFormat); err != nil {
			return nil, err
		}
	}
	if !want.DataFormat.Valid() {
		if want.DataFormat, err = meta.ParseFormat(nsMeta.DataFormat); err != nil {
			return nil, err
		}
	}
	for _, o := range opts {
		o(&want)
	}
	cfg, created, err := r.store.EnsureConfig(key, want)
	if err != nil {
		return nil, err
	}
	if created {
		r.logger.Info("created chain",
			logpkg.Str(logpkg.ChainKey, key),
			logpkg.Stringer("meta_format", cfg.MetaFormat),
			logpkg.Stringer("data_format", cfg.DataFormat),
			logpkg.Stringer("hash", cfg.HashRoutine))
	}
	c, err := Open(ctx, Options{
		Dir:         r.dir(ns, name),
		Key:         key,
		Config:      cfg,
		Store:       r.store,
		RotateBytes: r.opts.RotateBytes,
		Sync:        r.opts.Sync,
		Compaction:  r.opts.Compaction,
		CacheSize:   r.opts.CacheSize,
		Logger:      r.opts.Logger,
		Metrics:     r.opts.Metrics,
		Tracer:      r.opts.Tracer,
	})
	if err != nil {
		return nil, err
	}
	c.release = func() error { return r.release(key, c) }
	return c, nil
}

func (r *Registry) dir(ns, name string) string {
	return config.ChainDir(r.opts.DataDir, ns, name)
}

func (r *Registry) release(key string, c *Chain) error {
	r.mu.Lock()
	e, ok := r.chains[key]
	if !ok || e.chain != c {
		r.mu.Unlock()
		return c.shutdown()
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.chains, key)
	r.mu.Unlock()
	return c.shutdown()
}

// Chains lists the keys of every chain ever created in this registry.
func (r *Registry) Chains() ([]string, error) { return r.store.Chains() }

// Exists reports whether key has been created.
func (r *Registry) Exists(key string) (bool, error) {
	canonical, err := Canonical(key)
	if err != nil {
		return false, err
	}
	_, err = r.store.Config(canonical)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Drop deletes a chain that is not open: its archives and durable records.
func (r *Registry) Drop(ctx context.Context, key string) error {
	canonical, err := Canonical(key)
	if err != nil {
		return err
	}
	r.mu.Lock()
	_, open := r.chains[canonical]
	r.mu.Unlock()
	if open {
		return fmt.Errorf("chain: %s is open", canonical)
	}
	ns, name, _ := namespace.SplitKey(canonical)
	if err := os.RemoveAll(r.dir(ns, name)); err != nil {
		return err
	}
	return r.store.Drop(ctx, canonical)
}

// Close shuts down every open chain regardless of outstanding references.
func (r *Registry) Close() error {
	r.mu.Lock()
	open := make([]*Chain, 0, len(r.chains))
	for _, e := range r.chains {
		open = append(open, e.chain)
	}
	r.chains = make(map[string]*entry)
	r.mu.Unlock()
	var errsOut []error
	for _, c := range open {
		if err := c.shutdown(); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errors.Join(errsOut...)
}
