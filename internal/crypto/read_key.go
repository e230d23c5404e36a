package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned when ciphertext fails authentication.
var ErrDecrypt = errors.New("crypto: decryption failed")

// ReadKey is a symmetric XChaCha20-Poly1305 key.
type ReadKey [chacha20poly1305.KeySize]byte

// GenerateReadKey returns a random read key.
func GenerateReadKey() (ReadKey, error) {
	var k ReadKey
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("crypto: generate read key: %w", err)
	}
	return k, nil
}

// ReadKeyFromSeed derives a read key from a passphrase-like seed.
func ReadKeyFromSeed(seed string) ReadKey {
	return ReadKey(HashRoutineSha3.Sum([]byte("read-key-seed:"), []byte(seed)))
}

// Hash identifies the key in ReadOptions and confidentiality metadata.
func (k ReadKey) Hash() Hash { return Sum([]byte("read-key:"), k[:]) }

// Encrypt seals plaintext under iv.
func (k ReadKey) Encrypt(iv IV, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(k[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv[:], plaintext, nil), nil
}

// Decrypt opens ciphertext sealed by Encrypt.
func (k ReadKey) Decrypt(iv IV, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(k[:])
	if err != nil {
		return nil, err
	}
	out, err := aead.Open(nil, iv[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return out, nil
}
