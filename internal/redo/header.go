package redo

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/rzbill/trustchain/internal/errs"
)

// HeaderSize is the fixed archive header length.
const HeaderSize = 16

// FormatVersion is the archive layout version written by this package.
const FormatVersion uint16 = 2

var magic = [8]byte{'T', 'C', 'H', 'A', 'I', 'N', '0', '1'}

// ErrIncompatibleArchive is returned when an archive header does not match
// what the chain expects.
var ErrIncompatibleArchive = errs.New(errs.Corruption, "redo: incompatible archive")

// Header describes how an archive's records are encoded.
type Header struct {
	Version    uint16
	MetaFormat uint8
	DataFormat uint8
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	copy(b, magic[:])
	binary.BigEndian.PutUint16(b[8:10], h.Version)
	b[10] = h.MetaFormat
	b[11] = h.DataFormat
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize || !bytes.Equal(b[:8], magic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic", ErrIncompatibleArchive)
	}
	return Header{
		Version:    binary.BigEndian.Uint16(b[8:10]),
		MetaFormat: b[10],
		DataFormat: b[11],
	}, nil
}

func (h Header) check(want Header) error {
	if h.Version != want.Version {
		return fmt.Errorf("%w: version %d, want %d", ErrIncompatibleArchive, h.Version, want.Version)
	}
	if h.MetaFormat != want.MetaFormat || h.DataFormat != want.DataFormat {
		return fmt.Errorf("%w: formats meta=%d data=%d, want meta=%d data=%d",
			ErrIncompatibleArchive, h.MetaFormat, h.DataFormat, want.MetaFormat, want.DataFormat)
	}
	return nil
}
