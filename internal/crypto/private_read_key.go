package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ErrWrongRecipient is returned when a derived key was sealed to another key.
var ErrWrongRecipient = errors.New("crypto: derived key sealed to a different private read key")

// PrivateReadKey is an X25519 key pair able to open ReadKeys sealed to its
// public half.
type PrivateReadKey struct {
	scalar [curve25519.ScalarSize]byte
	public PublicReadKey
}

// PublicReadKey seals read keys for the matching PrivateReadKey.
type PublicReadKey [curve25519.PointSize]byte

// DerivedKey is a ReadKey sealed to a PublicReadKey.
type DerivedKey struct {
	Recipient Hash     `json:"recipient" msgpack:"recipient"`
	Ephemeral [32]byte `json:"ephemeral" msgpack:"ephemeral"`
	IV        IV       `json:"iv" msgpack:"iv"`
	Sealed    []byte   `json:"sealed" msgpack:"sealed"`
}

// GeneratePrivateReadKey returns a random key pair.
func GeneratePrivateReadKey() (*PrivateReadKey, error) {
	var seed [curve25519.ScalarSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate private read key: %w", err)
	}
	return PrivateReadKeyFromSeed(seed[:])
}

// PrivateReadKeyFromSeed rebuilds a key pair from its 32-byte scalar.
func PrivateReadKeyFromSeed(seed []byte) (*PrivateReadKey, error) {
	if len(seed) != curve25519.ScalarSize {
		return nil, errors.New("crypto: private read key seed must be 32 bytes")
	}
	k := &PrivateReadKey{}
	copy(k.scalar[:], seed)
	pub, err := curve25519.X25519(k.scalar[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(k.public[:], pub)
	return k, nil
}

func (k *PrivateReadKey) Seed() []byte { return append([]byte(nil), k.scalar[:]...) }

func (k *PrivateReadKey) Public() PublicReadKey { return k.public }

// Hash is the hash of the public half.
func (k *PrivateReadKey) Hash() Hash { return k.public.Hash() }

func (p PublicReadKey) Hash() Hash { return Sum([]byte("public-read-key:"), p[:]) }

// Seal wraps rk so that only the holder of the matching private key can
// recover it.
func (p PublicReadKey) Seal(rk ReadKey) (*DerivedKey, error) {
	var eph [curve25519.ScalarSize]byte
	if _, err := rand.Read(eph[:]); err != nil {
		return nil, err
	}
	ephPub, err := curve25519.X25519(eph[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(eph[:], p[:])
	if err != nil {
		return nil, err
	}
	d := &DerivedKey{Recipient: p.Hash(), IV: GenerateIV()}
	copy(d.Ephemeral[:], ephPub)
	wrap, err := wrappingKey(shared, d.Ephemeral[:], p[:])
	if err != nil {
		return nil, err
	}
	if d.Sealed, err = wrap.Encrypt(d.IV, rk[:]); err != nil {
		return nil, err
	}
	return d, nil
}

// Open recovers the read key sealed in d.
func (k *PrivateReadKey) Open(d *DerivedKey) (ReadKey, error) {
	var rk ReadKey
	if d == nil || d.Recipient != k.Hash() {
		return rk, ErrWrongRecipient
	}
	shared, err := curve25519.X25519(k.scalar[:], d.Ephemeral[:])
	if err != nil {
		return rk, err
	}
	wrap, err := wrappingKey(shared, d.Ephemeral[:], k.public[:])
	if err != nil {
		return rk, err
	}
	plain, err := wrap.Decrypt(d.IV, d.Sealed)
	if err != nil {
		return rk, err
	}
	if len(plain) != len(rk) {
		return rk, ErrDecrypt
	}
	copy(rk[:], plain)
	return rk, nil
}

func wrappingKey(shared, ephemeral, recipient []byte) (ReadKey, error) {
	var out ReadKey
	salt := append(append([]byte(nil), ephemeral...), recipient...)
	r := hkdf.New(sha256.New, shared, salt, []byte("trustchain derived read key"))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, err
	}
	return out, nil
}
