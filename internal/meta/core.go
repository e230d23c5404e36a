package meta

import (
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/pkg/id"
)

// Tree links an event into the collection Collection of object Parent.
type Tree struct {
	Parent     id.PrimaryKey `json:"parent" msgpack:"parent"`
	Collection uint64        `json:"collection" msgpack:"collection"`
}

// Authorization is the write and read policy an event declares for its key.
type Authorization struct {
	Write WriteOption `json:"write" msgpack:"write"`
	Read  ReadOption  `json:"read" msgpack:"read"`
}

// Confidentiality describes how the payload was encrypted. Key is set for
// obfuscated (Everyone) payloads, Derivation when the key was sealed to a
// public read key.
type Confidentiality struct {
	Hash       crypto.Hash        `json:"hash" msgpack:"hash"`
	Short      crypto.ShortHash   `json:"short" msgpack:"short"`
	Key        *crypto.ReadKey    `json:"key,omitempty" msgpack:"key,omitempty"`
	Derivation *crypto.DerivedKey `json:"derivation,omitempty" msgpack:"derivation,omitempty"`
}

// Signature is one ed25519 signature over the event digest.
type Signature struct {
	PublicKey crypto.PublicWriteKey `json:"public_key" msgpack:"public_key"`
	Signature []byte                `json:"signature" msgpack:"signature"`
}

// SignWith lists the write keys the transformer must sign with.
type SignWith struct {
	Keys []crypto.Hash `json:"keys" msgpack:"keys"`
}

// CoreMetadata is one tagged metadata entry; exactly one field is set.
type CoreMetadata struct {
	Data            *id.PrimaryKey   `json:"data,omitempty" msgpack:"data,omitempty"`
	Tombstone       *id.PrimaryKey   `json:"tombstone,omitempty" msgpack:"tombstone,omitempty"`
	Tree            *Tree            `json:"tree,omitempty" msgpack:"tree,omitempty"`
	Authorization   *Authorization   `json:"authorization,omitempty" msgpack:"authorization,omitempty"`
	Confidentiality *Confidentiality `json:"confidentiality,omitempty" msgpack:"confidentiality,omitempty"`
	IV              *crypto.IV       `json:"iv,omitempty" msgpack:"iv,omitempty"`
	Signature       *Signature       `json:"signature,omitempty" msgpack:"signature,omitempty"`
	SignWith        *SignWith        `json:"sign_with,omitempty" msgpack:"sign_with,omitempty"`
	Timestamp       *int64           `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	Author          *string          `json:"author,omitempty" msgpack:"author,omitempty"`
}

// Tag identifies which field of a CoreMetadata is set.
type Tag uint8

const (
	TagNone Tag = iota
	TagData
	TagTombstone
	TagTree
	TagAuthorization
	TagConfidentiality
	TagIV
	TagSignature
	TagSignWith
	TagTimestamp
	TagAuthor
)

// Tag returns the populated field's tag.
func (c CoreMetadata) Tag() Tag {
	switch {
	case c.Data != nil:
		return TagData
	case c.Tombstone != nil:
		return TagTombstone
	case c.Tree != nil:
		return TagTree
	case c.Authorization != nil:
		return TagAuthorization
	case c.Confidentiality != nil:
		return TagConfidentiality
	case c.IV != nil:
		return TagIV
	case c.Signature != nil:
		return TagSignature
	case c.SignWith != nil:
		return TagSignWith
	case c.Timestamp != nil:
		return TagTimestamp
	case c.Author != nil:
		return TagAuthor
	default:
		return TagNone
	}
}

func DataCore(k id.PrimaryKey) CoreMetadata      { return CoreMetadata{Data: &k} }
func TombstoneCore(k id.PrimaryKey) CoreMetadata { return CoreMetadata{Tombstone: &k} }
func IVCore(iv crypto.IV) CoreMetadata           { return CoreMetadata{IV: &iv} }
func TimestampCore(ms int64) CoreMetadata        { return CoreMetadata{Timestamp: &ms} }
func AuthorCore(a string) CoreMetadata           { return CoreMetadata{Author: &a} }

func TreeCore(parent id.PrimaryKey, collection uint64) CoreMetadata {
	return CoreMetadata{Tree: &Tree{Parent: parent, Collection: collection}}
}

func AuthorizationCore(w WriteOption, r ReadOption) CoreMetadata {
	return CoreMetadata{Authorization: &Authorization{Write: w, Read: r}}
}

func SignWithCore(keys ...crypto.Hash) CoreMetadata {
	return CoreMetadata{SignWith: &SignWith{Keys: keys}}
}

func SignatureCore(pub crypto.PublicWriteKey, sig []byte) CoreMetadata {
	return CoreMetadata{Signature: &Signature{PublicKey: pub, Signature: sig}}
}
