package meta

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/rzbill/trustchain/internal/crypto"
)

// WriteKind enumerates WriteOption shapes.
type WriteKind uint8

const (
	WriteKindInherit WriteKind = iota
	WriteKindEveryone
	WriteKindNobody
	WriteKindSpecific
	WriteKindAny
)

// WriteOption says who may write a key. The zero value is Inherit.
type WriteOption struct {
	Kind   WriteKind     `json:"kind" msgpack:"kind"`
	Hashes []crypto.Hash `json:"hashes,omitempty" msgpack:"hashes,omitempty"`
}

func WriteInherit() WriteOption  { return WriteOption{} }
func WriteEveryone() WriteOption { return WriteOption{Kind: WriteKindEveryone} }
func WriteNobody() WriteOption   { return WriteOption{Kind: WriteKindNobody} }

// WriteSpecific allows exactly one write key.
func WriteSpecific(h crypto.Hash) WriteOption {
	return WriteOption{Kind: WriteKindSpecific, Hashes: []crypto.Hash{h}}
}

// WriteAny allows any of the given write keys.
func WriteAny(hs ...crypto.Hash) WriteOption {
	return keyed(hs)
}

func keyed(hs []crypto.Hash) WriteOption {
	set := uniqueSorted(hs)
	switch len(set) {
	case 0:
		return WriteNobody()
	case 1:
		return WriteOption{Kind: WriteKindSpecific, Hashes: set}
	default:
		return WriteOption{Kind: WriteKindAny, Hashes: set}
	}
}

func uniqueSorted(hs []crypto.Hash) []crypto.Hash {
	out := append([]crypto.Hash(nil), hs...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	n := 0
	for i := range out {
		if i == 0 || out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func (w WriteOption) IsInherit() bool { return w.Kind == WriteKindInherit }

func (w WriteOption) isKeyed() bool {
	return w.Kind == WriteKindSpecific || w.Kind == WriteKindAny
}

// Or merges w with a fallback b: a non-Inherit w wins, except that two keyed
// options union their hash sets.
func (w WriteOption) Or(b WriteOption) WriteOption {
	if w.IsInherit() {
		return b
	}
	if w.isKeyed() && b.isKeyed() {
		return keyed(append(append([]crypto.Hash(nil), w.Hashes...), b.Hashes...))
	}
	return w
}

// NeedsSignature reports whether writes must be signed by a listed key.
func (w WriteOption) NeedsSignature() bool { return w.isKeyed() }

// Permits reports whether a signature by the key hashing to h satisfies w.
func (w WriteOption) Permits(h crypto.Hash) bool {
	switch w.Kind {
	case WriteKindEveryone:
		return true
	case WriteKindSpecific, WriteKindAny:
		for _, x := range w.Hashes {
			if x == h {
				return true
			}
		}
	}
	return false
}

func (w WriteOption) Equal(o WriteOption) bool {
	if w.Kind != o.Kind || len(w.Hashes) != len(o.Hashes) {
		return false
	}
	for i := range w.Hashes {
		if w.Hashes[i] != o.Hashes[i] {
			return false
		}
	}
	return true
}

func (w WriteOption) String() string {
	switch w.Kind {
	case WriteKindInherit:
		return "inherit"
	case WriteKindEveryone:
		return "everyone"
	case WriteKindNobody:
		return "nobody"
	}
	parts := make([]string, len(w.Hashes))
	for i, h := range w.Hashes {
		parts[i] = h.Short().String()
	}
	if w.Kind == WriteKindSpecific {
		return "specific(" + strings.Join(parts, ",") + ")"
	}
	return "any(" + strings.Join(parts, ",") + ")"
}

// ReadKind enumerates ReadOption shapes.
type ReadKind uint8

const (
	ReadKindInherit ReadKind = iota
	ReadKindEveryone
	ReadKindSpecific
)

// ReadOption says who may read a key's payload. The zero value is Inherit.
//
// Everyone with a nil Key stores plaintext; Everyone with a Key encrypts under
// a key carried in the metadata itself (obfuscation, not secrecy). Specific
// encrypts under the read key hashing to Hash; Derivation, when set, is that
// key sealed to a public read key.
type ReadOption struct {
	Kind       ReadKind           `json:"kind" msgpack:"kind"`
	Key        *crypto.ReadKey    `json:"key,omitempty" msgpack:"key,omitempty"`
	Hash       crypto.Hash        `json:"hash,omitempty" msgpack:"hash,omitempty"`
	Derivation *crypto.DerivedKey `json:"derivation,omitempty" msgpack:"derivation,omitempty"`
}

func ReadInherit() ReadOption { return ReadOption{} }

// ReadEveryone stores plaintext when key is nil.
func ReadEveryone(key *crypto.ReadKey) ReadOption {
	return ReadOption{Kind: ReadKindEveryone, Key: key}
}

func ReadSpecific(h crypto.Hash, derivation *crypto.DerivedKey) ReadOption {
	return ReadOption{Kind: ReadKindSpecific, Hash: h, Derivation: derivation}
}

func (r ReadOption) IsInherit() bool { return r.Kind == ReadKindInherit }

// Or returns r unless it is Inherit.
func (r ReadOption) Or(b ReadOption) ReadOption {
	if r.IsInherit() {
		return b
	}
	return r
}

// Encrypted reports whether payloads under r are ciphertext.
func (r ReadOption) Encrypted() bool {
	return r.Kind == ReadKindSpecific || (r.Kind == ReadKindEveryone && r.Key != nil)
}

func (r ReadOption) String() string {
	switch r.Kind {
	case ReadKindInherit:
		return "inherit"
	case ReadKindEveryone:
		if r.Key != nil {
			return "everyone(obfuscated)"
		}
		return "everyone"
	default:
		return fmt.Sprintf("specific(%s)", r.Hash.Short())
	}
}
