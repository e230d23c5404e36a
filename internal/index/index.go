// Package index is the in-memory secondary index of a chain: the latest
// event per primary key, and the ordered members of every
// (parent, collection) pair. It is rebuilt by replay on open and updated on
// every commit.
package index

import (
	"sync"

	"github.com/google/btree"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/redo"
	"github.com/rzbill/trustchain/pkg/id"
)

// Leaf is the index entry for the newest event of a key.
type Leaf struct {
	Key       id.PrimaryKey
	Hash      crypto.Hash
	Loc       redo.Location
	Tombstone bool
	Meta      *meta.Metadata
	Size      int
}

// Index is safe for concurrent use: many readers, one writer at a time.
type Index struct {
	mu       sync.RWMutex
	primary  map[id.PrimaryKey]*Leaf
	children map[meta.Tree]*btree.BTreeG[id.PrimaryKey]
	live     int
	liveSize int64
}

func New() *Index {
	return &Index{
		primary:  make(map[id.PrimaryKey]*Leaf),
		children: make(map[meta.Tree]*btree.BTreeG[id.PrimaryKey]),
	}
}

func keyLess(a, b id.PrimaryKey) bool { return a < b }

// Apply records leaf as the newest event for its key.
func (ix *Index) Apply(leaf Leaf) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if prev, ok := ix.primary[leaf.Key]; ok {
		if !prev.Tombstone {
			ix.live--
			ix.liveSize -= int64(prev.Size)
			if link := prev.Meta.TreeLink(); link != nil {
				ix.removeChild(*link, leaf.Key)
			}
		}
	}
	l := leaf
	ix.primary[leaf.Key] = &l
	if leaf.Tombstone {
		return
	}
	ix.live++
	ix.liveSize += int64(leaf.Size)
	if link := leaf.Meta.TreeLink(); link != nil {
		set, ok := ix.children[*link]
		if !ok {
			set = btree.NewG[id.PrimaryKey](16, keyLess)
			ix.children[*link] = set
		}
		set.ReplaceOrInsert(leaf.Key)
	}
}

func (ix *Index) removeChild(link meta.Tree, key id.PrimaryKey) {
	set, ok := ix.children[link]
	if !ok {
		return
	}
	set.Delete(key)
	if set.Len() == 0 {
		delete(ix.children, link)
	}
}

// Get returns the newest leaf for key, tombstones included.
func (ix *Index) Get(key id.PrimaryKey) (Leaf, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	l, ok := ix.primary[key]
	if !ok {
		return Leaf{}, false
	}
	return *l, true
}

// LatestMetadata returns the metadata of a live key.
func (ix *Index) LatestMetadata(key id.PrimaryKey) (*meta.Metadata, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	l, ok := ix.primary[key]
	if !ok || l.Tombstone {
		return nil, false
	}
	return l.Meta, true
}

// Children returns the live members of (parent, collection) in key order.
func (ix *Index) Children(parent id.PrimaryKey, collection uint64) []id.PrimaryKey {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set, ok := ix.children[meta.Tree{Parent: parent, Collection: collection}]
	if !ok {
		return nil
	}
	out := make([]id.PrimaryKey, 0, set.Len())
	set.Ascend(func(k id.PrimaryKey) bool {
		out = append(out, k)
		return true
	})
	return out
}

// Range calls fn for every leaf, tombstones included, until fn returns
// false. fn must not call back into the index.
func (ix *Index) Range(fn func(Leaf) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, l := range ix.primary {
		if !fn(*l) {
			return
		}
	}
}

// Len counts keys, tombstones included.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.primary)
}

// Live counts keys whose newest event is not a tombstone.
func (ix *Index) Live() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.live
}

// LiveSize sums the encoded size of the newest event of every live key.
func (ix *Index) LiveSize() int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.liveSize
}

// Reset empties the index before a rebuild.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.primary = make(map[id.PrimaryKey]*Leaf)
	ix.children = make(map[meta.Tree]*btree.BTreeG[id.PrimaryKey])
	ix.live = 0
	ix.liveSize = 0
}
