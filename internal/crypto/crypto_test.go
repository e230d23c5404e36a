package crypto

import (
	"bytes"
	"testing"
)

func TestHashRoutinesDiffer(t *testing.T) {
	data := []byte("hello")
	a := HashRoutineBlake3.Sum(data)
	b := HashRoutineSha3.Sum(data)
	if a == b {
		t.Fatalf("routines produced identical digests")
	}
	if HashRoutineBlake3.Sum([]byte("hel"), []byte("lo")) != a {
		t.Fatalf("Sum over parts must equal Sum over concatenation")
	}
}

func TestShortHashIsPrefix(t *testing.T) {
	h := Sum([]byte("x"))
	s := h.Short()
	if byte(s>>24) != h[0] || byte(s) != h[3] {
		t.Fatalf("short hash %v does not match prefix of %v", s, h)
	}
}

func TestHashTextRoundTrip(t *testing.T) {
	h := Sum([]byte("abc"))
	txt, _ := h.MarshalText()
	var got Hash
	if err := got.UnmarshalText(txt); err != nil || got != h {
		t.Fatalf("round trip failed: %v", err)
	}
	if _, err := ParseHash("zz"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseHashRoutine(t *testing.T) {
	if r, err := ParseHashRoutine("SHA3"); err != nil || r != HashRoutineSha3 {
		t.Fatalf("got %v %v", r, err)
	}
	if _, err := ParseHashRoutine("md5"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteKeySignVerify(t *testing.T) {
	k, err := GenerateWriteKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("digest")
	sig := k.Sign(msg)
	if !k.Public().Verify(msg, sig) {
		t.Fatalf("signature did not verify")
	}
	if k.Public().Verify([]byte("other"), sig) {
		t.Fatalf("signature verified for wrong message")
	}
	k2, _ := WriteKeyFromSeed(k.Seed())
	if k2.Hash() != k.Hash() {
		t.Fatalf("seed round trip changed key")
	}
}

func TestReadKeyEncryptDecrypt(t *testing.T) {
	k, _ := GenerateReadKey()
	iv := GenerateIV()
	ct, err := k.Encrypt(iv, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := k.Decrypt(iv, ct)
	if err != nil || string(pt) != "secret" {
		t.Fatalf("decrypt: %v %q", err, pt)
	}
	other, _ := GenerateReadKey()
	if _, err := other.Decrypt(iv, ct); err != ErrDecrypt {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestPrivateReadKeyDerivation(t *testing.T) {
	priv, err := GeneratePrivateReadKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	rk, _ := GenerateReadKey()
	d, err := priv.Public().Seal(rk)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := priv.Open(d)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got[:], rk[:]) {
		t.Fatalf("derived key mismatch")
	}

	stranger, _ := GeneratePrivateReadKey()
	if _, err := stranger.Open(d); err != ErrWrongRecipient {
		t.Fatalf("expected ErrWrongRecipient, got %v", err)
	}
}
