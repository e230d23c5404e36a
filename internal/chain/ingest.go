package chain

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/pipeline"
	"github.com/rzbill/trustchain/pkg/id"
)

// Ingest accepts events produced elsewhere, such as by a replicating peer.
// Each event must pass full ingest validation against the chain as it stands
// plus the events before it in the batch; one rejection rejects the batch.
func (c *Chain) Ingest(ctx context.Context, events []*pipeline.Event) (*Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "chain.Ingest", trace.WithAttributes(
		attribute.String("chain", c.key),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	rcpt, err := c.ingest(ctx, events)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.maybeCompact()
	return rcpt, nil
}

func (c *Chain) ingest(ctx context.Context, events []*pipeline.Event) (*Receipt, error) {
	if len(events) == 0 {
		return nil, ErrEmptyTransaction
	}
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if c.closed.Load() {
		return nil, ErrClosed
	}

	ov := newOverlay(c.ix)
	for i, ev := range events {
		if ev == nil || ev.Meta == nil {
			return nil, fmt.Errorf("chain: ingest event %d has no metadata", i)
		}
		if err := c.plugin.ValidateEvent(ev, ov, pipeline.ModeIngest); err != nil {
			c.metrics.ObserveRejected(1)
			return nil, fmt.Errorf("chain: ingest event %d: %w", i, err)
		}
		key, _ := ev.Key()
		if owner, locked := c.lockOwner(key); locked {
			return nil, fmt.Errorf("%w: %s held by %s", ErrObjectStillLocked, key, owner)
		}
		ov.put(key, ev.Meta)
	}
	locs, _, err := c.appendLocked(ctx, events)
	if err != nil {
		return nil, err
	}
	rcpt := &Receipt{Versions: make(map[id.PrimaryKey]crypto.Hash, len(events)), Locations: locs}
	for _, ev := range events {
		key, _ := ev.Key()
		rcpt.Versions[key] = ev.Hash()
	}
	return rcpt, nil
}
