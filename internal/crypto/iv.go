package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// IVSize matches XChaCha20-Poly1305's extended nonce.
const IVSize = 24

// IV is the per-event initialization vector recorded in metadata.
type IV [IVSize]byte

// GenerateIV returns a fresh random IV.
func GenerateIV() IV {
	var iv IV
	if _, err := rand.Read(iv[:]); err != nil {
		panic(fmt.Sprintf("crypto: rand: %v", err))
	}
	return iv
}

func (iv IV) String() string { return hex.EncodeToString(iv[:]) }

// MarshalText implements encoding.TextMarshaler.
func (iv IV) MarshalText() ([]byte, error) { return []byte(iv.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (iv *IV) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil || len(raw) != IVSize {
		return fmt.Errorf("crypto: invalid iv %q", b)
	}
	copy(iv[:], raw)
	return nil
}
