package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/trustchain/internal/compact"
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/index"
	"github.com/rzbill/trustchain/internal/manifest"
	"github.com/rzbill/trustchain/internal/metrics"
	"github.com/rzbill/trustchain/internal/pipeline"
	"github.com/rzbill/trustchain/internal/redo"
	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
	"github.com/rzbill/trustchain/pkg/id"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

// LogName is the base name of every chain's archives.
const LogName = "chain"

const defaultCacheSize = 1024

// Options configures one chain.
type Options struct {
	// Dir holds the chain's archives.
	Dir string
	// Key is the canonical "namespace/name" key.
	Key string
	// Config is the chain's durable configuration, already stored.
	Config manifest.Config
	// Store persists the archive manifest.
	Store *manifest.Store

	RotateBytes int64
	Sync        bool
	Compaction  compact.Mode
	// CacheSize bounds the decoded-payload cache. Zero picks a default.
	CacheSize int

	Logger  logpkg.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Chain is one open chain of trust.
type Chain struct {
	opts    Options
	key     string
	cfg     manifest.Config
	logger  logpkg.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	log    *redo.Log
	ix     *index.Index
	plugin *pipeline.Plugin
	store  *manifest.Store
	cache  *lru.Cache[crypto.Hash, []byte]

	// commitMu serializes commits, ingests and compaction passes.
	commitMu sync.Mutex
	// swapMu keeps loads off archives a compaction pass is retiring.
	swapMu sync.RWMutex

	mfMu     sync.Mutex
	manifest manifest.Manifest
	modified atomic.Bool

	locksMu sync.Mutex
	locks   map[id.PrimaryKey]uuid.UUID

	listenersMu sync.Mutex
	listeners   map[uuid.UUID]*Listener

	compacting atomic.Bool
	bg         context.Context
	stop       context.CancelFunc
	bgMu       sync.Mutex // orders wg.Add against shutdown
	wg         sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	release   func() error
}

// Open opens the chain described by opts, removing archives left behind by
// an interrupted compaction and rebuilding the index by replay.
func Open(ctx context.Context, opts Options) (*Chain, error) {
	if opts.Store == nil || opts.Dir == "" || opts.Key == "" {
		return nil, errors.New("chain: Options.Store, Dir and Key are required")
	}
	cfg := opts.Config
	if cfg.HashRoutine != crypto.CurrentHashRoutine() {
		return nil, fmt.Errorf("%w: chain %s uses %s, process uses %s",
			ErrHashRoutineMismatch, opts.Key, cfg.HashRoutine, crypto.CurrentHashRoutine())
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	logger = logger.With(logpkg.Component("chain"), logpkg.Str(logpkg.ChainKey, opts.Key))
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/rzbill/trustchain/internal/chain")
	}

	mf, err := opts.Store.Manifest(opts.Key)
	fresh := errors.Is(err, pebblestore.ErrNotFound)
	if err != nil && !fresh {
		return nil, err
	}
	if err := removeStrays(opts.Dir, mf.Archives, logger); err != nil {
		return nil, err
	}
	var archives []uint32
	if !fresh {
		archives = mf.Archives
	}
	l, err := redo.Open(redo.Options{
		Dir:         opts.Dir,
		Name:        LogName,
		Header:      redo.Header{MetaFormat: uint8(cfg.MetaFormat), DataFormat: uint8(cfg.DataFormat)},
		RotateBytes: opts.RotateBytes,
		Sync:        opts.Sync,
		Archives:    archives,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if fresh {
		mf = manifest.Manifest{
			Archives:       l.Archives(),
			Generation:     1,
			LastCompaction: time.Now().UnixMilli(),
			BaseSize:       l.Size(),
		}
		if err := opts.Store.Swap(ctx, opts.Key, mf); err != nil {
			l.Close()
			return nil, err
		}
	}

	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[crypto.Hash, []byte](size)
	if err != nil {
		l.Close()
		return nil, err
	}

	ix := index.New()
	c := &Chain{
		opts:      opts,
		key:       opts.Key,
		cfg:       cfg,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    tracer,
		log:       l,
		ix:        ix,
		plugin:    pipeline.New(cfg.Roots, pipeline.NewIndexFeeder(ix)),
		store:     opts.Store,
		cache:     cache,
		manifest:  mf,
		locks:     make(map[id.PrimaryKey]uuid.UUID),
		listeners: make(map[uuid.UUID]*Listener),
	}
	st, err := c.plugin.Rebuild(ctx, l, cfg.MetaFormat, logger)
	if err != nil {
		l.Close()
		return nil, err
	}
	c.metrics.ObserveRejected(st.Rejected + st.Corrupt)
	logger.Info("chain opened",
		logpkg.Int("events", st.Events),
		logpkg.Int("rejected", st.Rejected),
		logpkg.Int("corrupt", st.Corrupt),
		logpkg.Int("live", ix.Live()),
		logpkg.Bool("fresh", fresh))

	c.bg, c.stop = context.WithCancel(context.Background())
	if d := opts.Compaction.Interval(); d > 0 {
		c.wg.Add(1)
		go c.timerLoop(d)
	}
	return c, nil
}

// removeStrays deletes archives on disk that the manifest does not list.
func removeStrays(dir string, keep []uint32, logger logpkg.Logger) error {
	found, err := redo.ListArchives(dir, LogName)
	if err != nil {
		return err
	}
	listed := make(map[uint32]struct{}, len(keep))
	for _, n := range keep {
		listed[n] = struct{}{}
	}
	for _, n := range found {
		if _, ok := listed[n]; ok {
			continue
		}
		logger.Warn("removing archive missing from manifest", logpkg.Int64("archive", int64(n)))
		if err := redo.RemoveArchive(dir, LogName, n); err != nil {
			return err
		}
	}
	return nil
}

// Key returns the chain's canonical key.
func (c *Chain) Key() string { return c.key }

// Config returns the chain's durable configuration.
func (c *Chain) Config() manifest.Config { return c.cfg }

// Children returns the live members of (parent, collection) in key order.
func (c *Chain) Children(parent id.PrimaryKey, collection uint64) []id.PrimaryKey {
	return c.ix.Children(parent, collection)
}

// Stats describes the chain's log.
type Stats struct {
	Key            string
	Archives       []uint32
	Size           int64
	Keys           int
	Live           int
	LiveSize       int64
	Generation     uint64
	LastCompaction time.Time
	BaseSize       int64
	Modified       bool
}

// Stats returns a snapshot of the chain's size and state.
func (c *Chain) Stats() Stats {
	c.mfMu.Lock()
	mf := c.manifest
	c.mfMu.Unlock()
	return Stats{
		Key:            c.key,
		Archives:       c.log.Archives(),
		Size:           c.log.Size(),
		Keys:           c.ix.Len(),
		Live:           c.ix.Live(),
		LiveSize:       c.ix.LiveSize(),
		Generation:     mf.Generation,
		LastCompaction: time.UnixMilli(mf.LastCompaction),
		BaseSize:       mf.BaseSize,
		Modified:       c.modified.Load(),
	}
}

func (s Stats) policy(now time.Time) compact.Stats {
	return compact.Stats{
		Size:           s.Size,
		BaseSize:       s.BaseSize,
		LastCompaction: s.LastCompaction,
		Modified:       s.Modified,
		Now:            now,
	}
}

// syncManifest records archives created by rotation. Caller holds commitMu.
func (c *Chain) syncManifest(ctx context.Context) error {
	archives := c.log.Archives()
	c.mfMu.Lock()
	same := equalArchives(archives, c.manifest.Archives)
	next := c.manifest
	c.mfMu.Unlock()
	if same {
		return nil
	}
	next.Archives = archives
	if err := c.store.Swap(ctx, c.key, next); err != nil {
		return err
	}
	c.mfMu.Lock()
	c.manifest = next
	c.mfMu.Unlock()
	return nil
}

func equalArchives(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Close releases the caller's reference. The chain shuts down when the last
// reference is released.
func (c *Chain) Close() error {
	if c.release != nil {
		return c.release()
	}
	return c.shutdown()
}

func (c *Chain) shutdown() error {
	c.closeOnce.Do(func() {
		c.bgMu.Lock()
		c.closed.Store(true)
		c.bgMu.Unlock()
		c.stop()
		c.wg.Wait()

		c.listenersMu.Lock()
		ls := make([]*Listener, 0, len(c.listeners))
		for _, l := range c.listeners {
			ls = append(ls, l)
		}
		c.listeners = map[uuid.UUID]*Listener{}
		c.listenersMu.Unlock()
		for _, l := range ls {
			l.shut()
		}

		c.commitMu.Lock()
		c.closeErr = c.log.Close()
		c.commitMu.Unlock()
		c.logger.Info("chain closed")
	})
	return c.closeErr
}
