package redo

import "testing"

func TestEntryRoundtrip(t *testing.T) {
	enc := EncodeEntry([]byte("meta"), []byte("payload"))
	e, err := DecodeEntry(enc)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(e.Meta) != "meta" || string(e.Data) != "payload" {
		t.Fatalf("mismatch: %q %q", e.Meta, e.Data)
	}
}

func TestEntryEmptyData(t *testing.T) {
	e, err := DecodeEntry(EncodeEntry([]byte("m"), nil))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(e.Data) != 0 {
		t.Fatalf("expected empty data, got %q", e.Data)
	}
}

func TestEntryCRCFail(t *testing.T) {
	enc := EncodeEntry([]byte("x"), []byte("y"))
	enc[len(enc)-1] ^= 0xFF
	if _, err := DecodeEntry(enc); err != errEntryCRC {
		t.Fatalf("expected crc failure, got %v", err)
	}
}

func TestRecordSplit(t *testing.T) {
	rec := encodeRecord([]Entry{{Meta: []byte("a")}, {Meta: []byte("b"), Data: []byte("c")}})
	raw, err := splitRecord(rec[frameHeaderSize:])
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(raw))
	}
	e, err := DecodeEntry(raw[1])
	if err != nil || string(e.Data) != "c" {
		t.Fatalf("second entry: %v %q", err, e.Data)
	}
}

func TestHeaderCheck(t *testing.T) {
	h := Header{Version: FormatVersion, MetaFormat: 1, DataFormat: 2}
	got, err := decodeHeader(h.encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := got.check(h); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := got.check(Header{Version: FormatVersion, MetaFormat: 3, DataFormat: 2}); err == nil {
		t.Fatalf("expected format mismatch")
	}
	bad := h.encode()
	bad[0] = 'X'
	if _, err := decodeHeader(bad); err == nil {
		t.Fatalf("expected bad magic")
	}
}
