package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/errs"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/metrics"
	"github.com/rzbill/trustchain/internal/pipeline"
	"github.com/rzbill/trustchain/internal/redo"
	"github.com/rzbill/trustchain/pkg/id"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

// Commit applies tx all-or-nothing. Every operation is version-checked,
// linted, transformed and validated before any byte is appended; on error
// nothing is visible.
func (c *Chain) Commit(ctx context.Context, tx *Transaction) (*Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "chain.Commit", trace.WithAttributes(
		attribute.String("chain", c.key),
		attribute.Int("ops", len(tx.Ops)),
		attribute.String("tx", tx.ID.String()),
	))
	defer span.End()
	start := time.Now()

	rcpt, size, err := c.commit(ctx, tx)
	c.metrics.ObserveCommit(commitResult(err), len(tx.Ops), size, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errs.IsRetryable(err) || errs.IsAuthorization(err) || errs.IsNotFound(err) {
			c.logger.Debug("commit rejected", logpkg.Str("tx", tx.ID.String()), logpkg.Err(err))
		} else {
			c.logger.Error("commit failed", logpkg.Str("tx", tx.ID.String()), logpkg.Err(err))
		}
		return nil, err
	}
	c.maybeCompact()
	return rcpt, nil
}

func commitResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errs.IsRetryable(err):
		return metrics.ResultConflict
	case errs.IsAuthorization(err):
		return metrics.ResultUnauthorized
	default:
		return metrics.ResultError
	}
}

func (c *Chain) commit(ctx context.Context, tx *Transaction) (*Receipt, int, error) {
	if len(tx.Ops) == 0 {
		return nil, 0, ErrEmptyTransaction
	}
	if tx.Session == nil {
		return nil, 0, errors.New("chain: transaction has no session")
	}
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if c.closed.Load() {
		return nil, 0, ErrClosed
	}

	seen := make(map[id.PrimaryKey]struct{}, len(tx.Ops))
	for _, op := range tx.Ops {
		if _, dup := seen[op.Key]; dup {
			return nil, 0, fmt.Errorf("%w: %s", ErrDuplicateKey, op.Key)
		}
		seen[op.Key] = struct{}{}
		if err := c.checkOp(tx, op); err != nil {
			return nil, 0, err
		}
	}

	ov := newOverlay(c.ix)
	now := time.Now().UnixMilli()
	events := make([]*pipeline.Event, 0, len(tx.Ops))
	for _, op := range tx.Ops {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		committed, _ := ov.LatestMetadata(op.Key)
		m := buildMeta(op, committed, tx.Session.Identity, now)
		cores, err := c.plugin.LintEvent(ctx, &pipeline.LintRequest{
			Key: op.Key, Meta: m, Committed: committed, Session: tx.Session, Tree: ov,
		})
		if err != nil {
			return nil, 0, err
		}
		m.Add(cores...)
		var data []byte
		if op.Kind == OpStore {
			if data, err = c.plugin.DataAsUnderlay(m, op.Data, tx.Session); err != nil {
				return nil, 0, err
			}
		}
		ev := &pipeline.Event{Meta: m, Data: data}
		if err := c.plugin.ValidateEvent(ev, ov, pipeline.ModeIngest); err != nil {
			return nil, 0, err
		}
		ov.put(op.Key, m)
		events = append(events, ev)
	}

	locs, size, err := c.appendLocked(ctx, events)
	if err != nil {
		return nil, 0, err
	}
	rcpt := &Receipt{Versions: make(map[id.PrimaryKey]crypto.Hash, len(events)), Locations: locs}
	for _, ev := range events {
		key, _ := ev.Key()
		rcpt.Versions[key] = ev.Hash()
	}
	return rcpt, size, nil
}

// checkOp compares op's expectations with the index and the lock table.
func (c *Chain) checkOp(tx *Transaction, op Op) error {
	if owner, locked := c.lockOwner(op.Key); locked && owner != tx.ID {
		return fmt.Errorf("%w: %s", ErrObjectStillLocked, op.Key)
	}
	leaf, ok := c.ix.Get(op.Key)
	live := ok && !leaf.Tombstone
	switch {
	case op.Kind == OpStore && op.Version.IsZero():
		if live {
			return fmt.Errorf("%w: %s already exists", ErrVersionConflict, op.Key)
		}
	case op.Kind == OpDelete && op.Version.IsZero():
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, op.Key)
		}
		if leaf.Tombstone {
			return fmt.Errorf("%w: %s", ErrAlreadyDeleted, op.Key)
		}
	default:
		if !live {
			return fmt.Errorf("%w: %s", ErrAlreadyDeleted, op.Key)
		}
		if leaf.Hash != op.Version {
			return fmt.Errorf("%w: %s is at %s, not %s", ErrVersionConflict, op.Key, leaf.Hash.Short(), op.Version.Short())
		}
	}
	return nil
}

// appendLocked encodes events as one record, appends it, then indexes and
// announces each event. Caller holds commitMu.
func (c *Chain) appendLocked(ctx context.Context, events []*pipeline.Event) ([]redo.Location, int, error) {
	entries := make([]redo.Entry, len(events))
	size := 0
	for i, ev := range events {
		mb, err := meta.MarshalMeta(c.cfg.MetaFormat, ev.Meta)
		if err != nil {
			return nil, 0, err
		}
		entries[i] = redo.Entry{Meta: mb, Data: ev.Data}
		size += entries[i].Size()
	}
	locs, err := c.log.Append(ctx, entries)
	if err != nil {
		return nil, 0, err
	}
	if err := c.syncManifest(ctx); err != nil {
		return nil, 0, err
	}
	c.modified.Store(true)
	for i, ev := range events {
		c.plugin.IndexEvent(ev, locs[i])
		if ev.Data != nil {
			c.cache.Add(ev.Hash(), ev.Data)
		}
		c.notify(ev, locs[i])
	}
	return locs, size, nil
}
