package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"sync/atomic"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// HashRoutine selects the digest used for content hashes and key hashes.
type HashRoutine uint8

const (
	HashRoutineBlake3 HashRoutine = iota + 1
	HashRoutineSha3
)

func (r HashRoutine) String() string {
	switch r {
	case HashRoutineBlake3:
		return "blake3"
	case HashRoutineSha3:
		return "sha3"
	default:
		return fmt.Sprintf("routine(%d)", uint8(r))
	}
}

// ParseHashRoutine accepts "blake3" or "sha3".
func ParseHashRoutine(s string) (HashRoutine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "blake3":
		return HashRoutineBlake3, nil
	case "sha3", "sha3-256":
		return HashRoutineSha3, nil
	default:
		return 0, fmt.Errorf("crypto: unknown hash routine %q", s)
	}
}

func (r HashRoutine) newHasher() hash.Hash {
	if r == HashRoutineSha3 {
		return sha3.New256()
	}
	return blake3.New()
}

var currentRoutine atomic.Uint32

func init() { currentRoutine.Store(uint32(HashRoutineBlake3)) }

// SetHashRoutine selects the process-wide routine. Call it once at startup;
// chains record the routine they were created with and refuse to open under
// another.
func SetHashRoutine(r HashRoutine) { currentRoutine.Store(uint32(r)) }

// CurrentHashRoutine returns the process-wide routine.
func CurrentHashRoutine() HashRoutine { return HashRoutine(currentRoutine.Load()) }

// Hash is a 256-bit content digest.
type Hash [32]byte

// ShortHash is the first four bytes of a Hash, big endian.
type ShortHash uint32

// Sum hashes the concatenation of parts with the current routine.
func Sum(parts ...[]byte) Hash {
	return CurrentHashRoutine().Sum(parts...)
}

// Sum hashes the concatenation of parts with r.
func (r HashRoutine) Sum(parts ...[]byte) Hash {
	h := r.newHasher()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashString hashes s with the current routine.
func HashString(s string) Hash { return Sum([]byte(s)) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) Short() ShortHash { return ShortHash(binary.BigEndian.Uint32(h[:4])) }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(b []byte) error {
	v, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// ParseHash reads the 64-digit hex form.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("crypto: invalid hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func (s ShortHash) String() string { return fmt.Sprintf("%08x", uint32(s)) }
