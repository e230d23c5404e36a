package meta

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Format selects a serialization for metadata or payload data.
type Format uint8

const (
	FormatJSON Format = iota + 1
	FormatMessagePack
	FormatBinary
)

// ErrUnsupportedFormat is returned for a format byte this build does not know.
var ErrUnsupportedFormat = errors.New("meta: unsupported serialization format")

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMessagePack:
		return "msgpack"
	case FormatBinary:
		return "binary"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

func (f Format) Valid() bool { return f >= FormatJSON && f <= FormatBinary }

// ParseFormat accepts "json", "msgpack" (or "messagepack") and "binary".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "msgpack", "messagepack":
		return FormatMessagePack, nil
	case "binary", "bin":
		return FormatBinary, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// MarshalMeta encodes m in format f.
func MarshalMeta(f Format, m *Metadata) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(m)
	case FormatMessagePack:
		return msgpack.Marshal(m)
	case FormatBinary:
		return AppendBinary(nil, m), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, f)
	}
}

// UnmarshalMeta decodes metadata written by MarshalMeta.
func UnmarshalMeta(f Format, b []byte) (*Metadata, error) {
	m := &Metadata{}
	var err error
	switch f {
	case FormatJSON:
		err = json.Unmarshal(b, m)
	case FormatMessagePack:
		err = msgpack.Unmarshal(b, m)
	case FormatBinary:
		m, err = DecodeBinary(b)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("meta: decode %s: %w", f, err)
	}
	return m, nil
}

// MarshalData encodes a payload value. The binary format uses gob, so
// payload types need exported fields.
func MarshalData(f Format, v any) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(v)
	case FormatMessagePack:
		return msgpack.Marshal(v)
	case FormatBinary:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, f)
	}
}

// UnmarshalData decodes a payload into v, which must be a pointer.
func UnmarshalData(f Format, b []byte, v any) error {
	switch f {
	case FormatJSON:
		return json.Unmarshal(b, v)
	case FormatMessagePack:
		return msgpack.Unmarshal(b, v)
	case FormatBinary:
		return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedFormat, f)
	}
}
