package chain

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/index"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/pipeline"
	"github.com/rzbill/trustchain/internal/session"
	"github.com/rzbill/trustchain/pkg/id"
)

// Object is the readable newest version of a key.
type Object struct {
	Key     id.PrimaryKey
	Version crypto.Hash
	Meta    *meta.Metadata
	// Data is the decrypted, serialized payload.
	Data []byte
}

// Load returns the newest live version of key, verified and decrypted with
// s. A tombstoned or unknown key is ErrNotFound.
func (c *Chain) Load(ctx context.Context, s *session.Session, key id.PrimaryKey) (*Object, error) {
	_, span := c.tracer.Start(ctx, "chain.Load", trace.WithAttributes(
		attribute.String("chain", c.key),
		attribute.String("key", key.String()),
	))
	defer span.End()

	ev, leaf, err := c.LoadEvent(ctx, key)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if leaf.Tombstone {
		c.metrics.ObserveLoad("notfound")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	plain, err := c.plugin.DataAsOverlay(ev.Meta, ev.Data, s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &Object{Key: key, Version: leaf.Hash, Meta: ev.Meta, Data: plain}, nil
}

// LoadEvent returns the newest event of key as stored, tombstones included,
// without decrypting it.
func (c *Chain) LoadEvent(ctx context.Context, key id.PrimaryKey) (*pipeline.Event, index.Leaf, error) {
	if err := ctx.Err(); err != nil {
		return nil, index.Leaf{}, err
	}
	if c.closed.Load() {
		return nil, index.Leaf{}, ErrClosed
	}
	c.swapMu.RLock()
	defer c.swapMu.RUnlock()

	leaf, ok := c.ix.Get(key)
	if !ok {
		c.metrics.ObserveLoad("notfound")
		return nil, index.Leaf{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if leaf.Tombstone {
		return &pipeline.Event{Meta: leaf.Meta}, leaf, nil
	}
	if data, ok := c.cache.Get(leaf.Hash); ok {
		c.metrics.ObserveLoad("hit")
		return &pipeline.Event{Meta: leaf.Meta, Data: data}, leaf, nil
	}
	entry, err := c.log.ReadAt(leaf.Loc)
	if err != nil {
		return nil, index.Leaf{}, err
	}
	c.metrics.ObserveLoad("miss")
	c.cache.Add(leaf.Hash, entry.Data)
	return &pipeline.Event{Meta: leaf.Meta, Data: entry.Data}, leaf, nil
}

// Version returns the newest version of key and whether it is live.
func (c *Chain) Version(key id.PrimaryKey) (crypto.Hash, bool) {
	leaf, ok := c.ix.Get(key)
	if !ok || leaf.Tombstone {
		return crypto.Hash{}, false
	}
	return leaf.Hash, true
}

// Range calls fn for the newest leaf of every key until fn returns false.
func (c *Chain) Range(fn func(index.Leaf) bool) { c.ix.Range(fn) }
