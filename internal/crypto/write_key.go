package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// WriteKey is an ed25519 signing key. Its hash (of the public half) is what
// WriteOptions name.
type WriteKey struct {
	private ed25519.PrivateKey
}

// PublicWriteKey verifies signatures made by the matching WriteKey.
type PublicWriteKey [ed25519.PublicKeySize]byte

// GenerateWriteKey returns a random write key.
func GenerateWriteKey() (*WriteKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate write key: %w", err)
	}
	return &WriteKey{private: priv}, nil
}

// WriteKeyFromSeed rebuilds a write key from its 32-byte seed.
func WriteKeyFromSeed(seed []byte) (*WriteKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("crypto: write key seed must be 32 bytes")
	}
	return &WriteKey{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the private seed.
func (k *WriteKey) Seed() []byte { return k.private.Seed() }

func (k *WriteKey) Public() PublicWriteKey {
	var p PublicWriteKey
	copy(p[:], k.private.Public().(ed25519.PublicKey))
	return p
}

// Hash identifies the key in WriteOptions.
func (k *WriteKey) Hash() Hash { return k.Public().Hash() }

// Sign signs digest.
func (k *WriteKey) Sign(digest []byte) []byte { return ed25519.Sign(k.private, digest) }

func (p PublicWriteKey) Hash() Hash { return Sum([]byte("write-key:"), p[:]) }

// Verify reports whether sig is a valid signature of digest.
func (p PublicWriteKey) Verify(digest, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(p[:]), digest, sig)
}

func (p PublicWriteKey) String() string { return hex.EncodeToString(p[:]) }

// MarshalText implements encoding.TextMarshaler.
func (p PublicWriteKey) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PublicWriteKey) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil || len(raw) != len(p) {
		return fmt.Errorf("crypto: invalid public write key %q", b)
	}
	copy(p[:], raw)
	return nil
}
