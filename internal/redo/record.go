package redo

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Entry encoding: uvarint metaLen | meta | data | crc32c(meta|data)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Entry is one event as stored: encoded metadata and payload bytes.
type Entry struct {
	Meta []byte
	Data []byte
}

// Size is the encoded payload size, used for stats.
func (e Entry) Size() int { return len(e.Meta) + len(e.Data) }

var (
	errShortRecord = errors.New("redo: short record")
	errEntryCRC    = errors.New("redo: entry checksum mismatch")
)

// EncodeEntry frames meta and data with a checksum.
func EncodeEntry(meta, data []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(meta)+len(data)+4)
	out = binary.AppendUvarint(out, uint64(len(meta)))
	out = append(out, meta...)
	out = append(out, data...)

	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, data)
	return binary.BigEndian.AppendUint32(out, crc)
}

// DecodeEntry verifies and splits an encoded entry. The returned slices are
// copies.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < 1+4 {
		return Entry{}, errShortRecord
	}
	mlen, n := binary.Uvarint(b)
	if n <= 0 || uint64(n)+mlen+4 > uint64(len(b)) {
		return Entry{}, errShortRecord
	}
	meta := b[n : n+int(mlen)]
	data := b[n+int(mlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, data)
	if crc != expect {
		return Entry{}, errEntryCRC
	}
	return Entry{Meta: append([]byte(nil), meta...), Data: append([]byte(nil), data...)}, nil
}

// encodeRecord builds the framed record for one commit.
func encodeRecord(entries []Entry) []byte {
	body := binary.AppendUvarint(nil, uint64(len(entries)))
	for _, e := range entries {
		enc := EncodeEntry(e.Meta, e.Data)
		body = binary.AppendUvarint(body, uint64(len(enc)))
		body = append(body, enc...)
	}
	out := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	putFrameHeader(out, len(body))
	return append(out, body...)
}

// Frame header: u32 BE bodyLen | u32 BE crc32c(bodyLen bytes)
const frameHeaderSize = 8

func putFrameHeader(b []byte, n int) {
	binary.BigEndian.PutUint32(b[0:4], uint32(n))
	binary.BigEndian.PutUint32(b[4:8], crc32.Checksum(b[0:4], castagnoli))
}

// parseFrameHeader returns the body length of a header whose checksum holds
// and whose length is plausible.
func parseFrameHeader(b []byte) (int64, bool) {
	if len(b) < frameHeaderSize {
		return 0, false
	}
	if crc32.Checksum(b[0:4], castagnoli) != binary.BigEndian.Uint32(b[4:8]) {
		return 0, false
	}
	n := int64(binary.BigEndian.Uint32(b[0:4]))
	if n == 0 || n > maxRecordSize {
		return 0, false
	}
	return n, true
}

// splitRecord returns the raw encoded entries of a record body. An entry
// that fails its checksum is returned with its error so callers can skip it
// without losing the entry index.
func splitRecord(body []byte) ([][]byte, error) {
	count, n := binary.Uvarint(body)
	if n <= 0 || count > uint64(len(body)) {
		return nil, errShortRecord
	}
	body = body[n:]
	out := make([][]byte, 0, int(count))
	for i := uint64(0); i < count; i++ {
		l, n := binary.Uvarint(body)
		if n <= 0 || uint64(n)+l > uint64(len(body)) {
			return out, errShortRecord
		}
		out = append(out, body[n:n+int(l)])
		body = body[n+int(l):]
	}
	return out, nil
}
