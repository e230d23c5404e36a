package meta

import (
	"time"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/pkg/id"
)

// Metadata is the ordered list of core entries attached to one event.
type Metadata struct {
	Core []CoreMetadata `json:"core" msgpack:"core"`
}

// New returns metadata for key holding the given entries.
func New(key id.PrimaryKey, extra ...CoreMetadata) *Metadata {
	m := &Metadata{Core: make([]CoreMetadata, 0, len(extra)+1)}
	m.Core = append(m.Core, DataCore(key))
	m.Core = append(m.Core, extra...)
	return m
}

// Add appends entries.
func (m *Metadata) Add(cores ...CoreMetadata) { m.Core = append(m.Core, cores...) }

// Clone returns a copy whose Core slice can be appended to independently.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return &Metadata{}
	}
	return &Metadata{Core: append([]CoreMetadata(nil), m.Core...)}
}

// DataKey returns the key this event is about, whether data or tombstone.
func (m *Metadata) DataKey() (id.PrimaryKey, bool) {
	for _, c := range m.Core {
		if c.Data != nil {
			return *c.Data, true
		}
		if c.Tombstone != nil {
			return *c.Tombstone, true
		}
	}
	return 0, false
}

func (m *Metadata) IsTombstone() bool {
	for _, c := range m.Core {
		if c.Tombstone != nil {
			return true
		}
	}
	return false
}

// TreeLink returns the parent/collection link, or nil for a root object.
func (m *Metadata) TreeLink() *Tree {
	for _, c := range m.Core {
		if c.Tree != nil {
			return c.Tree
		}
	}
	return nil
}

// Authorization returns the event's own declared policy, or nil.
func (m *Metadata) Authorization() *Authorization {
	for _, c := range m.Core {
		if c.Authorization != nil {
			return c.Authorization
		}
	}
	return nil
}

func (m *Metadata) Confidentiality() *Confidentiality {
	for _, c := range m.Core {
		if c.Confidentiality != nil {
			return c.Confidentiality
		}
	}
	return nil
}

func (m *Metadata) IV() *crypto.IV {
	for _, c := range m.Core {
		if c.IV != nil {
			return c.IV
		}
	}
	return nil
}

// GenerateIV records a fresh IV, replacing any existing one, and returns it.
func (m *Metadata) GenerateIV() crypto.IV {
	iv := crypto.GenerateIV()
	for i := range m.Core {
		if m.Core[i].IV != nil {
			m.Core[i] = IVCore(iv)
			return iv
		}
	}
	m.Add(IVCore(iv))
	return iv
}

func (m *Metadata) Signatures() []Signature {
	var out []Signature
	for _, c := range m.Core {
		if c.Signature != nil {
			out = append(out, *c.Signature)
		}
	}
	return out
}

// SignWith returns the union of all SignWith entries.
func (m *Metadata) SignWith() []crypto.Hash {
	var out []crypto.Hash
	for _, c := range m.Core {
		if c.SignWith != nil {
			out = append(out, c.SignWith.Keys...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return uniqueSorted(out)
}

// NeedsSignature reports whether the linter asked for a signature.
func (m *Metadata) NeedsSignature() bool { return len(m.SignWith()) > 0 }

// Timestamp returns the commit time recorded on the event, or zero.
func (m *Metadata) Timestamp() time.Time {
	for _, c := range m.Core {
		if c.Timestamp != nil {
			return time.UnixMilli(*c.Timestamp)
		}
	}
	return time.Time{}
}

func (m *Metadata) Author() string {
	for _, c := range m.Core {
		if c.Author != nil {
			return *c.Author
		}
	}
	return ""
}

// WithoutSignatures returns a copy with every Signature entry removed. It is
// the form signatures are computed over.
func (m *Metadata) WithoutSignatures() *Metadata {
	out := &Metadata{Core: make([]CoreMetadata, 0, len(m.Core))}
	for _, c := range m.Core {
		if c.Signature == nil {
			out.Core = append(out.Core, c)
		}
	}
	return out
}
