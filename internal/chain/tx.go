package chain

import (
	"github.com/google/uuid"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/internal/redo"
	"github.com/rzbill/trustchain/internal/session"
	"github.com/rzbill/trustchain/pkg/id"
)

// OpKind is what an operation does to its key.
type OpKind uint8

const (
	OpStore OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpStore:
		return "store"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one staged change.
type Op struct {
	Kind OpKind
	Key  id.PrimaryKey
	// Version is the version the caller read. Zero means the key is expected
	// to be new for a store, and merely live for a delete.
	Version crypto.Hash
	// Cores carries caller-chosen placement: Tree and Authorization entries.
	// Anything else is owned by the pipeline and ignored.
	Cores []meta.CoreMetadata
	// Data is the serialized plaintext payload of a store.
	Data []byte
}

// Transaction is a set of operations committed all-or-nothing.
type Transaction struct {
	ID      uuid.UUID
	Session *session.Session
	Ops     []Op
}

// Receipt describes a committed transaction.
type Receipt struct {
	Versions  map[id.PrimaryKey]crypto.Hash
	Locations []redo.Location
}

// overlay shows a transaction's staged events on top of the index, so later
// operations resolve against earlier ones.
type overlay struct {
	base   meta.TreeReader
	staged map[id.PrimaryKey]*meta.Metadata
}

func newOverlay(base meta.TreeReader) *overlay {
	return &overlay{base: base, staged: make(map[id.PrimaryKey]*meta.Metadata)}
}

func (o *overlay) put(key id.PrimaryKey, m *meta.Metadata) { o.staged[key] = m }

func (o *overlay) LatestMetadata(key id.PrimaryKey) (*meta.Metadata, bool) {
	if m, ok := o.staged[key]; ok {
		if m.IsTombstone() {
			return nil, false
		}
		return m, true
	}
	return o.base.LatestMetadata(key)
}

// buildMeta assembles the pipeline's starting metadata for op. Placement the
// caller did not restate is carried over from the committed version.
func buildMeta(op Op, committed *meta.Metadata, author string, nowMs int64) *meta.Metadata {
	var m *meta.Metadata
	if op.Kind == OpDelete {
		m = &meta.Metadata{Core: []meta.CoreMetadata{meta.TombstoneCore(op.Key)}}
	} else {
		m = meta.New(op.Key)
	}
	var hasTree, hasAuth bool
	for _, c := range op.Cores {
		switch c.Tag() {
		case meta.TagTree:
			if !hasTree {
				m.Add(c)
				hasTree = true
			}
		case meta.TagAuthorization:
			if !hasAuth && op.Kind == OpStore {
				m.Add(c)
				hasAuth = true
			}
		}
	}
	if committed != nil {
		if t := committed.TreeLink(); t != nil && !hasTree {
			m.Add(meta.TreeCore(t.Parent, t.Collection))
		}
		if a := committed.Authorization(); a != nil && !hasAuth && op.Kind == OpStore {
			m.Add(meta.AuthorizationCore(a.Write, a.Read))
		}
	}
	m.Add(meta.TimestampCore(nowMs))
	if author != "" {
		m.Add(meta.AuthorCore(author))
	}
	return m
}
