package pipeline

import (
	"context"
	"errors"

	"github.com/rzbill/trustchain/internal/index"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/redo"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

// IndexFeeder applies committed events to an index.
type IndexFeeder struct {
	ix *index.Index
}

func NewIndexFeeder(ix *index.Index) *IndexFeeder { return &IndexFeeder{ix: ix} }

// IndexEvent records ev at loc as the newest event of its key.
func (f *IndexFeeder) IndexEvent(ev *Event, loc redo.Location) {
	key, ok := ev.Key()
	if !ok {
		return
	}
	f.ix.Apply(index.Leaf{
		Key:       key,
		Hash:      ev.Hash(),
		Loc:       loc,
		Tombstone: ev.Meta.IsTombstone(),
		Meta:      ev.Meta,
		Size:      len(ev.Data),
	})
}

// RebuildStats summarizes a replay.
type RebuildStats struct {
	Events   int
	Rejected int
	Corrupt  int
}

// Rebuild resets the index and replays every archive of l in order,
// validating each event in ModeReplay. Undecodable or invalid events are
// skipped and counted, not fatal.
func (p *Plugin) Rebuild(ctx context.Context, l *redo.Log, format meta.Format, logger logpkg.Logger) (RebuildStats, error) {
	var st RebuildStats
	if p.indexer == nil {
		return st, errors.New("pipeline: plugin has no index")
	}
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	p.indexer.ix.Reset()
	for _, n := range l.Archives() {
		c := l.Replay(n)
		for loc, e, ok := c.Next(); ok; loc, e, ok = c.Next() {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			m, err := meta.UnmarshalMeta(format, e.Meta)
			if err != nil {
				st.Corrupt++
				logger.Warn("skipping undecodable event", logpkg.Str("loc", loc.String()), logpkg.Err(err))
				continue
			}
			ev := &Event{Meta: m, Data: e.Data}
			if err := p.ValidateEvent(ev, p.indexer.ix, ModeReplay); err != nil {
				st.Rejected++
				logger.Warn("skipping invalid event", logpkg.Str("loc", loc.String()), logpkg.Err(err))
				continue
			}
			p.IndexEvent(ev, loc)
			st.Events++
		}
		st.Corrupt += c.Corrupt()
		if err := c.Err(); err != nil {
			return st, err
		}
	}
	return st, nil
}
