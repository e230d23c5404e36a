package chain

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/pipeline"
	"github.com/rzbill/trustchain/internal/redo"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

const (
	compactBatchEntries = 4096
	compactBatchBytes   = 16 << 20
)

// CompactResult summarizes one pass.
type CompactResult struct {
	Kept       int
	Dropped    int
	Corrupt    int
	SizeBefore int64
	SizeAfter  int64
	Archives   []uint32
}

type scanned struct {
	loc   redo.Location
	entry redo.Entry
	ev    *pipeline.Event
}

// Compact rewrites the events the compactors keep into fresh archives,
// swaps the manifest, deletes the old archives and rebuilds the index.
// Commits wait for the pass; loads continue until the swap.
func (c *Chain) Compact(ctx context.Context) (CompactResult, error) {
	ctx, span := c.tracer.Start(ctx, "chain.Compact")
	defer span.End()
	start := time.Now()

	res, err := c.compact(ctx)
	c.metrics.ObserveCompaction(err, res.Dropped, time.Since(start))
	span.SetAttributes(attribute.Int("kept", res.Kept), attribute.Int("dropped", res.Dropped))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("compaction failed", logpkg.Err(err))
		return res, err
	}
	c.logger.Info("compacted",
		logpkg.Int("kept", res.Kept),
		logpkg.Int("dropped", res.Dropped),
		logpkg.Int64("size_before", res.SizeBefore),
		logpkg.Int64("size_after", res.SizeAfter),
		logpkg.Duration("took", time.Since(start)))
	return res, nil
}

func (c *Chain) compact(ctx context.Context) (CompactResult, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if c.closed.Load() {
		return CompactResult{}, ErrClosed
	}
	res := CompactResult{SizeBefore: c.log.Size()}
	old := c.log.Archives()

	var all []scanned
	for _, n := range old {
		cur := c.log.Replay(n)
		for loc, e, ok := cur.Next(); ok; loc, e, ok = cur.Next() {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			m, err := meta.UnmarshalMeta(c.cfg.MetaFormat, e.Meta)
			if err != nil {
				res.Corrupt++
				continue
			}
			ev := &pipeline.Event{Meta: m, Data: e.Data}
			if c.plugin.ValidateEvent(ev, c.ix, pipeline.ModeReplay) != nil {
				res.Corrupt++
				continue
			}
			all = append(all, scanned{loc: loc, entry: e, ev: ev})
		}
		res.Corrupt += cur.Corrupt()
		if err := cur.Err(); err != nil {
			return res, err
		}
	}

	// Compactors see events newest first; log order breaks ties.
	keep := make([]bool, len(all))
	comps := c.plugin.Compactors()
	votes := make([]pipeline.Relevance, len(comps))
	for i := len(all) - 1; i >= 0; i-- {
		for j, cp := range comps {
			votes[j] = cp.Relevance(all[i].ev)
		}
		keep[i] = pipeline.Decide(votes...)
		if keep[i] {
			res.Kept++
		} else {
			res.Dropped++
		}
	}

	// Past this point a cancelled ctx must not leave half a pass behind.
	wctx := context.WithoutCancel(ctx)
	first, err := c.log.Rotate()
	if err != nil {
		return res, err
	}
	fresh, err := c.rewrite(wctx, all, keep, first)
	if err != nil {
		c.abandon(wctx, first)
		return res, err
	}
	var base int64
	for _, n := range fresh {
		sz, err := c.log.ArchiveSize(n)
		if err != nil {
			c.abandon(wctx, first)
			return res, err
		}
		base += sz
	}

	c.mfMu.Lock()
	next := c.manifest
	c.mfMu.Unlock()
	next.Archives = fresh
	next.Generation++
	next.LastCompaction = time.Now().UnixMilli()
	next.BaseSize = base
	// A crash before this swap leaves the old manifest authoritative; the
	// new archives are then strays removed on the next open.
	if err := c.store.Swap(wctx, c.key, next); err != nil {
		c.abandon(wctx, first)
		return res, err
	}
	c.mfMu.Lock()
	c.manifest = next
	c.mfMu.Unlock()
	c.modified.Store(false)

	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	if err := c.log.Retire(old...); err != nil {
		// The manifest no longer lists them; the next open removes them.
		c.logger.Warn("retiring compacted archives", logpkg.Err(err))
	}
	if _, err := c.plugin.Rebuild(wctx, c.log, c.cfg.MetaFormat, c.logger); err != nil {
		return res, err
	}
	c.cache.Purge()
	res.SizeAfter = c.log.Size()
	res.Archives = fresh
	return res, nil
}

// rewrite appends the kept entries in log order starting at archive first
// and returns the archives written.
func (c *Chain) rewrite(ctx context.Context, all []scanned, keep []bool, first uint32) ([]uint32, error) {
	var batch []redo.Entry
	batchBytes := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := c.log.Append(ctx, batch)
		batch, batchBytes = batch[:0], 0
		return err
	}
	for i, s := range all {
		if !keep[i] {
			continue
		}
		batch = append(batch, s.entry)
		batchBytes += s.entry.Size()
		if len(batch) >= compactBatchEntries || batchBytes >= compactBatchBytes {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	var fresh []uint32
	for _, n := range c.log.Archives() {
		if n >= first {
			fresh = append(fresh, n)
		}
	}
	return fresh, nil
}

// abandon discards the archives a failed pass wrote from first on, so later
// commits never land behind rewritten copies of older events.
func (c *Chain) abandon(ctx context.Context, first uint32) {
	var partial []uint32
	for _, n := range c.log.Archives() {
		if n >= first {
			partial = append(partial, n)
		}
	}
	if _, err := c.log.Rotate(); err != nil {
		c.logger.Error("abandoning compaction output", logpkg.Err(err))
		return
	}
	if err := c.log.Retire(partial...); err != nil {
		c.logger.Error("abandoning compaction output", logpkg.Err(err))
	}
	if err := c.syncManifest(ctx); err != nil {
		c.logger.Error("abandoning compaction output", logpkg.Err(err))
	}
}

// maybeCompact starts a background pass when the policy asks for one.
func (c *Chain) maybeCompact() {
	if c.closed.Load() || !c.opts.Compaction.ShouldCompact(c.Stats().policy(time.Now())) {
		return
	}
	if !c.compacting.CompareAndSwap(false, true) {
		return
	}
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.closed.Load() {
		c.compacting.Store(false)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.compacting.Store(false)
		_, _ = c.Compact(c.bg)
	}()
}

func (c *Chain) timerLoop(d time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-c.bg.Done():
			return
		case <-t.C:
			if !c.opts.Compaction.ShouldCompact(c.Stats().policy(time.Now())) {
				continue
			}
			if c.compacting.CompareAndSwap(false, true) {
				_, _ = c.Compact(c.bg)
				c.compacting.Store(false)
			}
		}
	}
}
