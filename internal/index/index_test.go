package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/redo"
	"github.com/rzbill/trustchain/pkg/id"
)

func leaf(key id.PrimaryKey, off int64, extra ...meta.CoreMetadata) Leaf {
	m := meta.New(key, extra...)
	return Leaf{Key: key, Hash: crypto.Sum(key.Bytes(), []byte{byte(off)}), Loc: redo.Location{Offset: off}, Meta: m, Size: 10}
}

func tombstone(key id.PrimaryKey, off int64) Leaf {
	return Leaf{Key: key, Loc: redo.Location{Offset: off}, Tombstone: true,
		Meta: &meta.Metadata{Core: []meta.CoreMetadata{meta.TombstoneCore(key)}}}
}

func TestApplyTracksLatest(t *testing.T) {
	ix := New()
	k := id.Generate()
	ix.Apply(leaf(k, 1))
	ix.Apply(leaf(k, 2))
	got, ok := ix.Get(k)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Loc.Offset)
	assert.Equal(t, 1, ix.Live())
	assert.Equal(t, int64(10), ix.LiveSize())

	ix.Apply(tombstone(k, 3))
	got, ok = ix.Get(k)
	require.True(t, ok)
	assert.True(t, got.Tombstone)
	_, ok = ix.LatestMetadata(k)
	assert.False(t, ok)
	assert.Equal(t, 0, ix.Live())
	assert.Equal(t, 1, ix.Len())
}

func TestChildrenOrderedAndMaintained(t *testing.T) {
	ix := New()
	parent := id.FromString("parent")
	keys := []id.PrimaryKey{30, 10, 20}
	for i, k := range keys {
		ix.Apply(leaf(k, int64(i), meta.TreeCore(parent, 7)))
	}
	ix.Apply(leaf(99, 9, meta.TreeCore(parent, 8)))
	assert.Equal(t, []id.PrimaryKey{10, 20, 30}, ix.Children(parent, 7))
	assert.Equal(t, []id.PrimaryKey{99}, ix.Children(parent, 8))

	ix.Apply(tombstone(20, 10))
	assert.Equal(t, []id.PrimaryKey{10, 30}, ix.Children(parent, 7))

	// moving a key to another collection removes it from the old one
	ix.Apply(leaf(10, 11, meta.TreeCore(parent, 8)))
	assert.Equal(t, []id.PrimaryKey{30}, ix.Children(parent, 7))
	assert.Equal(t, []id.PrimaryKey{10, 99}, ix.Children(parent, 8))
}

func TestReset(t *testing.T) {
	ix := New()
	ix.Apply(leaf(1, 1, meta.TreeCore(2, 3)))
	ix.Reset()
	assert.Equal(t, 0, ix.Len())
	assert.Empty(t, ix.Children(2, 3))
}
