package meta

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/pkg/id"
)

// The binary layout is: uvarint entry count, then per entry a tag byte and
// the fields of that entry in fixed order. Integers are big endian,
// variable-length fields are uvarint-length prefixed. The same bytes (with
// signatures removed) are what signatures cover, so the layout must never
// depend on map order or optional-field elision beyond the flag bytes below.

var errShortBuffer = errors.New("meta: binary metadata truncated")

const (
	flagKey        = 1 << 0
	flagDerivation = 1 << 1
)

// AppendBinary appends the binary form of m to dst.
func AppendBinary(dst []byte, m *Metadata) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(m.Core)))
	for _, c := range m.Core {
		dst = appendCore(dst, c)
	}
	return dst
}

// CanonicalBytes is the binary form of m without signatures.
func CanonicalBytes(m *Metadata) []byte {
	return AppendBinary(nil, m.WithoutSignatures())
}

func appendCore(dst []byte, c CoreMetadata) []byte {
	tag := c.Tag()
	dst = append(dst, byte(tag))
	switch tag {
	case TagData:
		dst = binary.BigEndian.AppendUint64(dst, uint64(*c.Data))
	case TagTombstone:
		dst = binary.BigEndian.AppendUint64(dst, uint64(*c.Tombstone))
	case TagTree:
		dst = binary.BigEndian.AppendUint64(dst, uint64(c.Tree.Parent))
		dst = binary.BigEndian.AppendUint64(dst, c.Tree.Collection)
	case TagAuthorization:
		dst = appendWrite(dst, c.Authorization.Write)
		dst = appendRead(dst, c.Authorization.Read)
	case TagConfidentiality:
		cf := c.Confidentiality
		dst = append(dst, cf.Hash[:]...)
		dst = binary.BigEndian.AppendUint32(dst, uint32(cf.Short))
		dst = appendKeyAndDerivation(dst, cf.Key, cf.Derivation)
	case TagIV:
		dst = append(dst, c.IV[:]...)
	case TagSignature:
		dst = append(dst, c.Signature.PublicKey[:]...)
		dst = appendBytes(dst, c.Signature.Signature)
	case TagSignWith:
		dst = appendHashes(dst, c.SignWith.Keys)
	case TagTimestamp:
		dst = binary.BigEndian.AppendUint64(dst, uint64(*c.Timestamp))
	case TagAuthor:
		dst = appendBytes(dst, []byte(*c.Author))
	}
	return dst
}

func appendWrite(dst []byte, w WriteOption) []byte {
	dst = append(dst, byte(w.Kind))
	return appendHashes(dst, w.Hashes)
}

func appendRead(dst []byte, r ReadOption) []byte {
	dst = append(dst, byte(r.Kind))
	dst = append(dst, r.Hash[:]...)
	return appendKeyAndDerivation(dst, r.Key, r.Derivation)
}

func appendKeyAndDerivation(dst []byte, key *crypto.ReadKey, d *crypto.DerivedKey) []byte {
	var flags byte
	if key != nil {
		flags |= flagKey
	}
	if d != nil {
		flags |= flagDerivation
	}
	dst = append(dst, flags)
	if key != nil {
		dst = append(dst, key[:]...)
	}
	if d != nil {
		dst = append(dst, d.Recipient[:]...)
		dst = append(dst, d.Ephemeral[:]...)
		dst = append(dst, d.IV[:]...)
		dst = appendBytes(dst, d.Sealed)
	}
	return dst
}

func appendHashes(dst []byte, hs []crypto.Hash) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(hs)))
	for _, h := range hs {
		dst = append(dst, h[:]...)
	}
	return dst
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// DecodeBinary parses the output of AppendBinary.
func DecodeBinary(b []byte) (*Metadata, error) {
	r := &reader{buf: b}
	n := r.uvarint()
	if r.err == nil && n > uint64(len(b)) {
		return nil, fmt.Errorf("meta: implausible entry count %d", n)
	}
	m := &Metadata{Core: make([]CoreMetadata, 0, int(n))}
	for i := uint64(0); i < n && r.err == nil; i++ {
		c, err := r.core()
		if err != nil {
			return nil, err
		}
		m.Core = append(m.Core, c)
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("meta: %d trailing bytes", len(r.buf))
	}
	return m, nil
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.err = errShortBuffer
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) byte1() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errShortBuffer
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) bytes() []byte {
	n := r.uvarint()
	if n > uint64(len(r.buf)) {
		r.err = errShortBuffer
		return nil
	}
	return append([]byte(nil), r.take(int(n))...)
}

func (r *reader) fixed(dst []byte) {
	copy(dst, r.take(len(dst)))
}

func (r *reader) hashes() []crypto.Hash {
	n := r.uvarint()
	if n > uint64(len(r.buf)/32) {
		r.err = errShortBuffer
		return nil
	}
	if n == 0 {
		return nil
	}
	out := make([]crypto.Hash, n)
	for i := range out {
		r.fixed(out[i][:])
	}
	return out
}

func (r *reader) keyAndDerivation() (*crypto.ReadKey, *crypto.DerivedKey) {
	flags := r.byte1()
	var key *crypto.ReadKey
	var d *crypto.DerivedKey
	if flags&flagKey != 0 {
		key = new(crypto.ReadKey)
		r.fixed(key[:])
	}
	if flags&flagDerivation != 0 {
		d = &crypto.DerivedKey{}
		r.fixed(d.Recipient[:])
		r.fixed(d.Ephemeral[:])
		r.fixed(d.IV[:])
		d.Sealed = r.bytes()
	}
	return key, d
}

func (r *reader) core() (CoreMetadata, error) {
	var c CoreMetadata
	switch tag := Tag(r.byte1()); tag {
	case TagData:
		k := id.PrimaryKey(r.u64())
		c.Data = &k
	case TagTombstone:
		k := id.PrimaryKey(r.u64())
		c.Tombstone = &k
	case TagTree:
		c.Tree = &Tree{Parent: id.PrimaryKey(r.u64()), Collection: r.u64()}
	case TagAuthorization:
		a := &Authorization{}
		a.Write.Kind = WriteKind(r.byte1())
		a.Write.Hashes = r.hashes()
		a.Read.Kind = ReadKind(r.byte1())
		r.fixed(a.Read.Hash[:])
		a.Read.Key, a.Read.Derivation = r.keyAndDerivation()
		c.Authorization = a
	case TagConfidentiality:
		cf := &Confidentiality{}
		r.fixed(cf.Hash[:])
		cf.Short = crypto.ShortHash(r.u32())
		cf.Key, cf.Derivation = r.keyAndDerivation()
		c.Confidentiality = cf
	case TagIV:
		iv := new(crypto.IV)
		r.fixed(iv[:])
		c.IV = iv
	case TagSignature:
		s := &Signature{}
		r.fixed(s.PublicKey[:])
		s.Signature = r.bytes()
		c.Signature = s
	case TagSignWith:
		c.SignWith = &SignWith{Keys: r.hashes()}
	case TagTimestamp:
		ts := int64(r.u64())
		c.Timestamp = &ts
	case TagAuthor:
		a := string(r.bytes())
		c.Author = &a
	default:
		if r.err == nil {
			return c, fmt.Errorf("meta: unknown core tag %d", tag)
		}
	}
	return c, r.err
}
