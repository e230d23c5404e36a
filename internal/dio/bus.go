package dio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rzbill/trustchain/internal/chain"
	"github.com/rzbill/trustchain/internal/errs"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/session"
	"github.com/rzbill/trustchain/pkg/id"
)

// BusOptions configures a Bus.
type BusOptions struct {
	// Filter is a CEL expression every delivered item must satisfy. Empty
	// accepts everything.
	Filter string
}

// Bus streams the items pushed to one collection after the bus was created.
type Bus[T any] struct {
	chain    *chain.Chain
	sess     *session.Session
	parent   id.PrimaryKey
	vec      DaoVec[T]
	filter   filter
	listener *chain.Listener

	mu    sync.Mutex
	retry []chain.Notification // claims that failed with other changes staged
}

// NewBus subscribes to pushes into vec under parent. Items are read with s.
func NewBus[T any](c *chain.Chain, s *session.Session, parent id.PrimaryKey, vec DaoVec[T], opts BusOptions) (*Bus[T], error) {
	f, err := newFilter(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("dio: bus filter: %w", err)
	}
	l, err := c.Subscribe(chain.ChildrenOf(parent, vec.Collection()))
	if err != nil {
		return nil, err
	}
	return &Bus[T]{chain: c, sess: s, parent: parent, vec: vec, filter: f, listener: l}, nil
}

// Recv returns the next item. Every bus on the collection sees every item.
func (b *Bus[T]) Recv(ctx context.Context) (*Dao[T], error) {
	for {
		n, err := b.next(ctx)
		if err != nil {
			return nil, err
		}
		dao, ok, err := b.load(ctx, n.Key)
		if err != nil {
			return nil, err
		}
		if ok {
			return dao, nil
		}
	}
}

// Process claims the next item for this consumer alone: it locks the item
// through d, deletes it and commits d. Among competing consumers exactly one
// wins each item; losers move on to the next. Anything else staged on d
// commits with the claim. If that commit fails, d keeps its other staged
// changes (its locks are released), the item is offered again on the next
// call and the error is returned.
func (b *Bus[T]) Process(ctx context.Context, d *Dio) (*Dao[T], error) {
	for {
		n, err := b.next(ctx)
		if err != nil {
			return nil, err
		}
		saved := d.save()
		if !d.TryLock(n.Key) {
			continue
		}
		dao, ok, err := b.load(ctx, n.Key)
		if err != nil {
			d.Unlock(n.Key)
			b.requeue(n)
			return nil, err
		}
		if !ok {
			d.Unlock(n.Key)
			continue
		}
		dao.Delete(d)
		if _, err := d.Commit(ctx); err != nil {
			if saved.empty() && (errs.IsRetryable(err) || errors.Is(err, chain.ErrNotFound)) {
				continue
			}
			d.restore(saved)
			b.requeue(n)
			return nil, err
		}
		return dao, nil
	}
}

func (b *Bus[T]) requeue(n chain.Notification) {
	b.mu.Lock()
	b.retry = append(b.retry, n)
	b.mu.Unlock()
}

// next returns requeued claims first and skips tombstones.
func (b *Bus[T]) next(ctx context.Context) (chain.Notification, error) {
	b.mu.Lock()
	if len(b.retry) > 0 {
		n := b.retry[0]
		b.retry = b.retry[1:]
		b.mu.Unlock()
		return n, nil
	}
	b.mu.Unlock()
	for {
		n, err := b.listener.Next(ctx)
		if err != nil {
			return chain.Notification{}, err
		}
		if !n.Tombstone {
			return n, nil
		}
	}
}

// load reads key and applies the filter. Items deleted since they were
// announced, or rejected by the filter, report ok=false.
func (b *Bus[T]) load(ctx context.Context, key id.PrimaryKey) (*Dao[T], bool, error) {
	obj, err := b.chain.Load(ctx, b.sess, key)
	if errors.Is(err, chain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	format := b.chain.Config().DataFormat
	if !b.filter.eval(key, obj.Meta, format, obj.Data) {
		return nil, false, nil
	}
	var v T
	if err := meta.UnmarshalData(format, obj.Data, &v); err != nil {
		return nil, false, fmt.Errorf("dio: decode %s as %T: %w", key, v, err)
	}
	return &Dao[T]{key: key, version: obj.Version, meta: obj.Meta, Value: v}, true, nil
}

// Pending counts announcements not yet consumed.
func (b *Bus[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.retry) + b.listener.Pending()
}

// Close deregisters the bus and wakes blocked receivers.
func (b *Bus[T]) Close() { b.listener.Close() }
