// Package namespace keeps one record per chain namespace: when it was
// created and the serialization defaults chains opened under it start with.
package namespace

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
)

// DefaultName is used for chain keys without a namespace.
const DefaultName = "default"

// Meta holds namespace metadata and the defaults for new chains.
type Meta struct {
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
	MetaFormat  string `json:"metaFormat"`
	DataFormat  string `json:"dataFormat"`
}

// Defaults returns defaults for new namespaces.
func Defaults() Meta {
	return Meta{MetaFormat: "binary", DataFormat: "json"}
}

var nsMetaPrefix = []byte("nsmeta/")

func nsMetaKey(ns string) []byte {
	k := make([]byte, 0, len(nsMetaPrefix)+len(ns))
	k = append(k, nsMetaPrefix...)
	k = append(k, ns...)
	return k
}

// Validate rejects names that cannot be used as a directory component.
func Validate(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("namespace: invalid name %q", name)
	}
	return nil
}

// EnsureNamespace creates a namespace record if absent, returning the
// effective meta. Idempotent: returns the existing record if present.
func EnsureNamespace(db *pebblestore.DB, name string, defaults Meta) (Meta, error) {
	if err := Validate(name); err != nil {
		return Meta{}, err
	}
	key := nsMetaKey(name)
	if b, err := db.Get(key); err == nil && len(b) > 0 {
		var m Meta
		if err := json.Unmarshal(b, &m); err == nil {
			return m, nil
		}
		// fallthrough to rewrite if corrupted
	} else if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return Meta{}, err
	}
	m := defaults
	m.Name = name
	m.CreatedAtMs = time.Now().UnixMilli()
	bytes, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := db.Set(key, bytes); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// List returns every namespace record in name order.
func List(db *pebblestore.DB) ([]Meta, error) {
	var out []Meta
	var decodeErr error
	err := db.ScanPrefix(nsMetaPrefix, func(_, v []byte) bool {
		var m Meta
		if err := json.Unmarshal(v, &m); err != nil {
			decodeErr = err
			return false
		}
		out = append(out, m)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// SplitKey splits "ns/name" into its parts; a bare name lives in
// DefaultName.
func SplitKey(key string) (ns, name string, err error) {
	ns, name = DefaultName, key
	if i := strings.IndexByte(key, '/'); i >= 0 {
		ns, name = key[:i], key[i+1:]
	}
	if err := Validate(ns); err != nil {
		return "", "", err
	}
	if err := Validate(name); err != nil {
		return "", "", fmt.Errorf("chain key %q: %w", key, err)
	}
	return ns, name, nil
}
