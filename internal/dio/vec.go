package dio

import (
	"context"
	"errors"

	"github.com/rzbill/trustchain/internal/chain"
	"github.com/rzbill/trustchain/pkg/id"
)

// DaoVec names a collection of T children. It carries only the collection
// id; membership lives in the chain's index.
type DaoVec[T any] struct {
	collection uint64
}

// NewDaoVec returns a collection with a random id.
func NewDaoVec[T any]() DaoVec[T] {
	return DaoVec[T]{collection: id.Generate().Uint64()}
}

// DaoVecOf returns the collection with a known id, as stored in a parent
// object.
func DaoVecOf[T any](collection uint64) DaoVec[T] { return DaoVec[T]{collection: collection} }

func (v DaoVec[T]) Collection() uint64 { return v.collection }

// Push stages value as a new child of parent.
func (v DaoVec[T]) Push(d *Dio, parent id.PrimaryKey, value T) (id.PrimaryKey, error) {
	return v.PushWithOptions(d, parent, value, StoreOptions{})
}

// PushWithOptions stages value as a new child of parent with explicit
// authorization. Placement in opts is overridden.
func (v DaoVec[T]) PushWithOptions(d *Dio, parent id.PrimaryKey, value T, opts StoreOptions) (id.PrimaryKey, error) {
	opts.Parent, opts.Collection = &parent, v.collection
	return d.StoreWithOptions(id.Generate(), value, opts)
}

// Len counts the committed live children of parent.
func (v DaoVec[T]) Len(d *Dio, parent id.PrimaryKey) int {
	return len(d.chain.Children(parent, v.collection))
}

// Iter walks the children of parent committed when it was created. Items are
// loaded lazily; children deleted since are skipped.
func (v DaoVec[T]) Iter(ctx context.Context, d *Dio, parent id.PrimaryKey) *Iter[T] {
	it := &Iter[T]{ctx: ctx, dio: d, parent: parent, collection: v.collection}
	it.Reset()
	return it
}

// Iter is a finite, restartable cursor over a collection.
type Iter[T any] struct {
	ctx        context.Context
	dio        *Dio
	parent     id.PrimaryKey
	collection uint64

	keys []id.PrimaryKey
	pos  int
	cur  *Dao[T]
	err  error
}

// Next loads the next child. It returns false at the end or on error.
func (it *Iter[T]) Next() bool {
	if it.err != nil {
		return false
	}
	for it.pos < len(it.keys) {
		key := it.keys[it.pos]
		it.pos++
		dao, err := Load[T](it.ctx, it.dio, key)
		if errors.Is(err, chain.ErrNotFound) {
			continue
		}
		if err != nil {
			it.err = err
			it.cur = nil
			return false
		}
		it.cur = dao
		return true
	}
	it.cur = nil
	return false
}

// Dao returns the child loaded by the last successful Next.
func (it *Iter[T]) Dao() *Dao[T] { return it.cur }

func (it *Iter[T]) Err() error { return it.err }

// Reset re-reads the membership and starts over.
func (it *Iter[T]) Reset() {
	it.keys = it.dio.chain.Children(it.parent, it.collection)
	it.pos, it.cur, it.err = 0, nil, nil
}

// Collect drains it into a slice.
func (it *Iter[T]) Collect() ([]*Dao[T], error) {
	var out []*Dao[T]
	for it.Next() {
		out = append(out, it.Dao())
	}
	return out, it.Err()
}
