package id

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// PrimaryKey identifies one object in a chain.
type PrimaryKey uint64

// Reserved keys, computed from well-known names.
var (
	InstanceRoot = FromString("instance-root")
	ChainRoot    = FromString("root")
)

// ErrInvalidKey is returned by Parse for malformed input.
var ErrInvalidKey = errors.New("id: invalid primary key")

// Generate returns a random, non-zero key.
func Generate() PrimaryKey {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic(fmt.Sprintf("id: crypto/rand failed: %v", err))
		}
		if k := PrimaryKey(binary.BigEndian.Uint64(b[:])); k != 0 {
			return k
		}
	}
}

// FromString derives a stable key from s.
func FromString(s string) PrimaryKey {
	return fromDigest(sha256.Sum256([]byte("trustchain/key/" + s)))
}

// FromUint64 derives a stable key from n. It does not return n itself, so
// derived keys do not collide with small literal keys.
func FromUint64(n uint64) PrimaryKey {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return fromDigest(sha256.Sum256(append([]byte("trustchain/key/u64/"), b[:]...)))
}

func fromDigest(sum [32]byte) PrimaryKey {
	return PrimaryKey(binary.BigEndian.Uint64(sum[:8]))
}

// Uint64 returns the raw value.
func (k PrimaryKey) Uint64() uint64 { return uint64(k) }

// Bytes returns the 8-byte big-endian form.
func (k PrimaryKey) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k))
	return b
}

// String returns 16 hex digits.
func (k PrimaryKey) String() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k))
	return fmtHex(b[:])
}

// Compare returns -1, 0, 1.
func (k PrimaryKey) Compare(other PrimaryKey) int {
	switch {
	case k < other:
		return -1
	case k > other:
		return 1
	default:
		return 0
	}
}

// Parse reads the 16-digit hex form produced by String.
func Parse(s string) (PrimaryKey, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return PrimaryKey(n), nil
}

// MarshalText implements encoding.TextMarshaler.
func (k PrimaryKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PrimaryKey) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// fmtHex is a small, allocation-lean hex encoder for fixed-size keys.
func fmtHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}
