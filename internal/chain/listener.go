package chain

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/pipeline"
	"github.com/rzbill/trustchain/internal/redo"
	"github.com/rzbill/trustchain/pkg/id"
)

// Notification announces one committed event.
type Notification struct {
	Key       id.PrimaryKey
	Version   crypto.Hash
	Meta      *meta.Metadata
	Loc       redo.Location
	Tombstone bool
}

// Listener receives notifications matching its filter, in commit order. Its
// queue is unbounded so a slow listener never stalls commits.
type Listener struct {
	id    uuid.UUID
	chain *Chain
	match func(Notification) bool

	mu     sync.Mutex
	queue  []Notification
	wake   chan struct{}
	closed bool
}

// Subscribe registers a listener for notifications match accepts. A nil
// match accepts everything.
func (c *Chain) Subscribe(match func(Notification) bool) (*Listener, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	l := &Listener{id: uuid.New(), chain: c, match: match, wake: make(chan struct{})}
	c.listenersMu.Lock()
	c.listeners[l.id] = l
	c.listenersMu.Unlock()
	return l, nil
}

// ChildrenOf matches events placed in (parent, collection).
func ChildrenOf(parent id.PrimaryKey, collection uint64) func(Notification) bool {
	want := meta.Tree{Parent: parent, Collection: collection}
	return func(n Notification) bool {
		t := n.Meta.TreeLink()
		return t != nil && *t == want
	}
}

// notify fans ev out to matching listeners. The table lock is only held
// while copying it.
func (c *Chain) notify(ev *pipeline.Event, loc redo.Location) {
	key, _ := ev.Key()
	n := Notification{Key: key, Version: ev.Hash(), Meta: ev.Meta, Loc: loc, Tombstone: ev.Meta.IsTombstone()}
	c.listenersMu.Lock()
	ls := make([]*Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.listenersMu.Unlock()
	for _, l := range ls {
		if l.match == nil || l.match(n) {
			l.push(n)
			c.metrics.ObserveDelivery()
		}
	}
}

func (l *Listener) push(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue = append(l.queue, n)
	close(l.wake)
	l.wake = make(chan struct{})
}

// Next blocks until a notification is queued, ctx ends or the listener is
// closed.
func (l *Listener) Next(ctx context.Context) (Notification, error) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			n := l.queue[0]
			l.queue[0] = Notification{}
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return n, nil
		}
		if l.closed {
			l.mu.Unlock()
			return Notification{}, ErrClosed
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		case <-wake:
		}
	}
}

// Pending counts queued notifications.
func (l *Listener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Listener) ID() uuid.UUID { return l.id }

// Close deregisters the listener and wakes any blocked Next.
func (l *Listener) Close() {
	l.chain.listenersMu.Lock()
	delete(l.chain.listeners, l.id)
	l.chain.listenersMu.Unlock()
	l.shut()
}

func (l *Listener) shut() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.wake)
}
