package pipeline

import (
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/pkg/id"
)

// Mode selects how much the validator checks.
type Mode uint8

const (
	// ModeIngest checks signatures and that the signer was authorized for
	// the event's tree position. Used for new commits and peer events.
	ModeIngest Mode = iota
	// ModeReplay checks signatures only. Used for local archives, whose
	// events were authorized when first ingested.
	ModeReplay
)

// Event is one event as stored: metadata plus underlay payload bytes
// (ciphertext when confidential, nil for tombstones).
type Event struct {
	Meta *meta.Metadata
	Data []byte
}

// Key returns the event's primary key.
func (e *Event) Key() (id.PrimaryKey, bool) { return e.Meta.DataKey() }

// Hash is the content hash of the event. It serves as the key's version.
func (e *Event) Hash() crypto.Hash {
	return crypto.Sum([]byte("event:"), meta.AppendBinary(nil, e.Meta), e.Data)
}

// Digest is what signatures cover: the metadata without signatures and the
// hash of the payload.
func Digest(m *meta.Metadata, data []byte) []byte {
	dh := crypto.Sum(data)
	d := crypto.Sum([]byte("sign:"), meta.CanonicalBytes(m), dh[:])
	return d[:]
}
