// Package manifest stores each chain's durable configuration and the list of
// archives that make up its log, in the registry's Pebble database.
//
// The archive list is what makes compaction atomic: a pass writes a new
// archive, then replaces the manifest in one batch. Archives on disk but not
// in the manifest are leftovers of an interrupted pass.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/meta"
	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
)

// Config is a chain's durable configuration, fixed at creation.
type Config struct {
	Key         string             `json:"key"`
	MetaFormat  meta.Format        `json:"metaFormat"`
	DataFormat  meta.Format        `json:"dataFormat"`
	HashRoutine crypto.HashRoutine `json:"hashRoutine"`
	Roots       meta.Roots         `json:"roots"`
	CreatedAtMs int64              `json:"createdAtMs"`
}

// Validate checks the formats and routine are known.
func (c Config) Validate() error {
	if !c.MetaFormat.Valid() || !c.DataFormat.Valid() {
		return fmt.Errorf("%w: meta=%d data=%d", meta.ErrUnsupportedFormat, c.MetaFormat, c.DataFormat)
	}
	if c.HashRoutine != crypto.HashRoutineBlake3 && c.HashRoutine != crypto.HashRoutineSha3 {
		return fmt.Errorf("manifest: unknown hash routine %d", c.HashRoutine)
	}
	return nil
}

// Manifest lists the live archives of a chain's log.
type Manifest struct {
	Archives       []uint32 `json:"archives"`
	Generation     uint64   `json:"generation"`
	LastCompaction int64    `json:"lastCompactionMs,omitempty"`
	// BaseSize is the log size right after the last compaction (or at
	// creation), the reference for growth-based compaction.
	BaseSize int64 `json:"baseSize"`
}

// Store reads and writes chain records.
type Store struct {
	db *pebblestore.DB
}

func NewStore(db *pebblestore.DB) *Store { return &Store{db: db} }

func chainPrefix(key string) []byte { return []byte("chain/" + key + "/") }
func configKey(key string) []byte   { return append(chainPrefix(key), "config"...) }
func manifestKey(key string) []byte { return append(chainPrefix(key), "manifest"...) }

// EnsureConfig returns the stored config for key, storing want if there is
// none. A chain keeps the config it was created with.
func (s *Store) EnsureConfig(key string, want Config) (Config, bool, error) {
	got, err := s.Config(key)
	if err == nil {
		return got, false, nil
	}
	if !errors.Is(err, pebblestore.ErrNotFound) {
		return Config{}, false, err
	}
	want.Key = key
	if want.CreatedAtMs == 0 {
		want.CreatedAtMs = time.Now().UnixMilli()
	}
	if err := want.Validate(); err != nil {
		return Config{}, false, err
	}
	b, err := json.Marshal(want)
	if err != nil {
		return Config{}, false, err
	}
	if err := s.db.Set(configKey(key), b); err != nil {
		return Config{}, false, err
	}
	return want, true, nil
}

// Config loads the config for key.
func (s *Store) Config(key string) (Config, error) {
	b, err := s.db.Get(configKey(key))
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("manifest: decode config %s: %w", key, err)
	}
	return c, nil
}

// Manifest loads the manifest for key. A chain that has never written one
// returns ErrNotFound.
func (s *Store) Manifest(key string) (Manifest, error) {
	b, err := s.db.Get(manifestKey(key))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decode %s: %w", key, err)
	}
	return m, nil
}

// Swap replaces the manifest for key in one batch.
func (s *Store) Swap(ctx context.Context, key string, m Manifest) error {
	v, err := json.Marshal(m)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(manifestKey(key), v, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// Drop removes every record of key.
func (s *Store) Drop(ctx context.Context, key string) error {
	return s.db.DeletePrefix(ctx, chainPrefix(key))
}

// Chains lists the keys of every chain with a config.
func (s *Store) Chains() ([]string, error) {
	var out []string
	var decodeErr error
	err := s.db.ScanPrefix([]byte("chain/"), func(k, v []byte) bool {
		if len(k) < len("/config") || string(k[len(k)-len("/config"):]) != "/config" {
			return true
		}
		var c Config
		if err := json.Unmarshal(v, &c); err != nil {
			decodeErr = err
			return false
		}
		out = append(out, c.Key)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}
