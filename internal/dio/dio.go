package dio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rzbill/trustchain/internal/chain"
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/session"
	"github.com/rzbill/trustchain/pkg/id"
)

// ErrNothingStaged is returned by Commit on an empty transaction.
var ErrNothingStaged = errors.New("dio: nothing staged")

// StoreOptions places and protects a stored object. Zero values inherit.
type StoreOptions struct {
	Write meta.WriteOption
	Read  meta.ReadOption
	// Parent and Collection place the object in a collection when Parent is
	// set.
	Parent     *id.PrimaryKey
	Collection uint64
}

func (o StoreOptions) cores() []meta.CoreMetadata {
	var out []meta.CoreMetadata
	if o.Parent != nil {
		out = append(out, meta.TreeCore(*o.Parent, o.Collection))
	}
	if !o.Write.IsInherit() || !o.Read.IsInherit() {
		out = append(out, meta.AuthorizationCore(o.Write, o.Read))
	}
	return out
}

// Dio stages changes for one session and commits them atomically.
type Dio struct {
	id    uuid.UUID
	chain *chain.Chain
	sess  *session.Session

	mu     sync.Mutex
	ops    []chain.Op
	pos    map[id.PrimaryKey]int
	hooks  []func(*chain.Receipt)
	locked map[id.PrimaryKey]struct{}
}

// New starts a transaction on c for s.
func New(c *chain.Chain, s *session.Session) *Dio {
	return &Dio{
		id:     uuid.New(),
		chain:  c,
		sess:   s,
		pos:    make(map[id.PrimaryKey]int),
		locked: make(map[id.PrimaryKey]struct{}),
	}
}

func (d *Dio) ID() uuid.UUID             { return d.id }
func (d *Dio) Chain() *chain.Chain       { return d.chain }
func (d *Dio) Session() *session.Session { return d.sess }

func (d *Dio) encode(v any) ([]byte, error) {
	b, err := meta.MarshalData(d.chain.Config().DataFormat, v)
	if err != nil {
		return nil, fmt.Errorf("dio: encode %T: %w", v, err)
	}
	return b, nil
}

// stage records op, replacing any earlier op on the same key. A delete of an
// object created in this transaction cancels the create.
func (d *Dio) stage(op chain.Op, hook func(*chain.Receipt)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.pos[op.Key]; ok {
		prev := d.ops[i]
		if op.Kind == chain.OpDelete && prev.Kind == chain.OpStore && prev.Version.IsZero() {
			d.ops = append(d.ops[:i], d.ops[i+1:]...)
			delete(d.pos, op.Key)
			for k, j := range d.pos {
				if j > i {
					d.pos[k] = j - 1
				}
			}
			return
		}
		if op.Version.IsZero() {
			op.Version = prev.Version
		}
		d.ops[i] = op
	} else {
		d.pos[op.Key] = len(d.ops)
		d.ops = append(d.ops, op)
	}
	if hook != nil {
		d.hooks = append(d.hooks, hook)
	}
}

// Store stages value as a new object under a random key.
func (d *Dio) Store(value any) (id.PrimaryKey, error) {
	return d.StoreWithOptions(id.Generate(), value, StoreOptions{})
}

// StoreWithKey stages value as a new object under key. Committing fails with
// a version conflict if key is already live.
func (d *Dio) StoreWithKey(key id.PrimaryKey, value any) error {
	_, err := d.StoreWithOptions(key, value, StoreOptions{})
	return err
}

// StoreWithOptions stages value as a new object under key with explicit
// placement and authorization.
func (d *Dio) StoreWithOptions(key id.PrimaryKey, value any, opts StoreOptions) (id.PrimaryKey, error) {
	data, err := d.encode(value)
	if err != nil {
		return 0, err
	}
	d.stage(chain.Op{Kind: chain.OpStore, Key: key, Data: data, Cores: opts.cores()}, nil)
	return key, nil
}

// Delete stages a tombstone for key at whatever version is live at commit.
func (d *Dio) Delete(key id.PrimaryKey) {
	d.stage(chain.Op{Kind: chain.OpDelete, Key: key}, nil)
}

// TryLock takes the chain's local lock on key for this transaction. Other
// transactions touching key fail with chain.ErrObjectStillLocked until this
// one commits or is discarded.
func (d *Dio) TryLock(key id.PrimaryKey) bool {
	if !d.chain.TryLock(key, d.id) {
		return false
	}
	d.mu.Lock()
	d.locked[key] = struct{}{}
	d.mu.Unlock()
	return true
}

// Unlock releases a lock taken with TryLock.
func (d *Dio) Unlock(key id.PrimaryKey) {
	d.mu.Lock()
	_, ok := d.locked[key]
	delete(d.locked, key)
	d.mu.Unlock()
	if ok {
		d.chain.Unlock(key, d.id)
	}
}

// Staged counts staged operations.
func (d *Dio) Staged() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ops)
}

// Commit applies every staged change or none. Locks are released and the
// Dio is emptied either way, so it can be reused.
func (d *Dio) Commit(ctx context.Context) (*chain.Receipt, error) {
	d.mu.Lock()
	ops, hooks := d.ops, d.hooks
	d.mu.Unlock()
	defer d.reset()
	if len(ops) == 0 {
		return nil, ErrNothingStaged
	}
	rcpt, err := d.chain.Commit(ctx, &chain.Transaction{ID: d.id, Session: d.sess, Ops: ops})
	if err != nil {
		return nil, err
	}
	for _, h := range hooks {
		h(rcpt)
	}
	return rcpt, nil
}

// Discard drops staged changes and releases locks.
func (d *Dio) Discard() { d.reset() }

func (d *Dio) reset() {
	d.mu.Lock()
	locked := d.locked
	d.ops, d.hooks = nil, nil
	d.pos = make(map[id.PrimaryKey]int)
	d.locked = make(map[id.PrimaryKey]struct{})
	d.mu.Unlock()
	for key := range locked {
		d.chain.Unlock(key, d.id)
	}
}

// staged is a copy of a Dio's pending changes.
type staged struct {
	ops   []chain.Op
	pos   map[id.PrimaryKey]int
	hooks []func(*chain.Receipt)
	locks int
}

func (s staged) empty() bool { return len(s.ops) == 0 && s.locks == 0 }

func (d *Dio) save() staged {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := staged{
		ops:   append([]chain.Op(nil), d.ops...),
		pos:   make(map[id.PrimaryKey]int, len(d.pos)),
		hooks: append(([]func(*chain.Receipt))(nil), d.hooks...),
		locks: len(d.locked),
	}
	for k, i := range d.pos {
		s.pos[k] = i
	}
	return s
}

// restore puts back changes taken with save. Locks released since are not
// retaken.
func (d *Dio) restore(s staged) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops, d.pos, d.hooks = s.ops, s.pos, s.hooks
}

// Load reads the newest version of key as a T.
func Load[T any](ctx context.Context, d *Dio, key id.PrimaryKey) (*Dao[T], error) {
	obj, err := d.chain.Load(ctx, d.sess, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := meta.UnmarshalData(d.chain.Config().DataFormat, obj.Data, &v); err != nil {
		return nil, fmt.Errorf("dio: decode %s as %T: %w", key, v, err)
	}
	return &Dao[T]{key: key, version: obj.Version, meta: obj.Meta, Value: v}, nil
}

// Dao is a loaded object. Value may be mutated and saved back.
type Dao[T any] struct {
	key     id.PrimaryKey
	version crypto.Hash
	meta    *meta.Metadata
	Value   T
}

func (o *Dao[T]) Key() id.PrimaryKey       { return o.key }
func (o *Dao[T]) Version() crypto.Hash     { return o.version }
func (o *Dao[T]) Metadata() *meta.Metadata { return o.meta }

// Parent returns the object's collection placement, if any.
func (o *Dao[T]) Parent() (parent id.PrimaryKey, collection uint64, ok bool) {
	if t := o.meta.TreeLink(); t != nil {
		return t.Parent, t.Collection, true
	}
	return 0, 0, false
}

// Save stages the current Value at the version this Dao was read at. After
// the transaction commits, the Dao tracks the new version.
func (o *Dao[T]) Save(d *Dio) error {
	data, err := d.encode(o.Value)
	if err != nil {
		return err
	}
	d.stage(chain.Op{Kind: chain.OpStore, Key: o.key, Version: o.version, Data: data}, o.track)
	return nil
}

// SaveWithOptions is Save with new authorization. The change must be
// permitted by the current policy.
func (o *Dao[T]) SaveWithOptions(d *Dio, opts StoreOptions) error {
	data, err := d.encode(o.Value)
	if err != nil {
		return err
	}
	d.stage(chain.Op{Kind: chain.OpStore, Key: o.key, Version: o.version, Data: data, Cores: opts.cores()}, o.track)
	return nil
}

// Delete stages a tombstone at the version this Dao was read at.
func (o *Dao[T]) Delete(d *Dio) {
	d.stage(chain.Op{Kind: chain.OpDelete, Key: o.key, Version: o.version}, nil)
}

func (o *Dao[T]) track(r *chain.Receipt) {
	if v, ok := r.Versions[o.key]; ok {
		o.version = v
	}
}
