package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/trustchain/internal/compact"
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/meta"
	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir         string `json:"dataDir" yaml:"dataDir"`
	Fsync           string `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	// SyncArchives fsyncs chain archives after every commit.
	SyncArchives bool   `json:"syncArchives" yaml:"syncArchives"`
	RotateBytes  int64  `json:"rotateBytes" yaml:"rotateBytes"`
	HashRoutine  string `json:"hashRoutine" yaml:"hashRoutine"`
	MetaFormat   string `json:"metaFormat" yaml:"metaFormat"`
	DataFormat   string `json:"dataFormat" yaml:"dataFormat"`
	Compaction   string `json:"compaction" yaml:"compaction"`
	CacheSize    int    `json:"cacheSize" yaml:"cacheSize"`

	Roots RootsConfig   `json:"roots" yaml:"roots"`
	Log   logpkg.Config `json:"log" yaml:"log"`
}

// RootsConfig names the root write and read options of new chains.
// Write is "everyone", "nobody" or "keys", in which case WriteKeys lists the
// hex hashes of the permitted write keys. Read is "everyone" or "specific",
// in which case ReadKey is the hex hash of the read key.
type RootsConfig struct {
	Write     string   `json:"write" yaml:"write"`
	WriteKeys []string `json:"writeKeys,omitempty" yaml:"writeKeys,omitempty"`
	Read      string   `json:"read" yaml:"read"`
	ReadKey   string   `json:"readKey,omitempty" yaml:"readKey,omitempty"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:         DefaultDataDir(),
		Fsync:           "interval",
		FsyncIntervalMs: 5,
		RotateBytes:     64 << 20,
		HashRoutine:     "blake3",
		MetaFormat:      "binary",
		DataFormat:      "json",
		Compaction:      "growth-factor-or-timer:4,24h",
		CacheSize:       1024,
		Roots:           RootsConfig{Write: "everyone", Read: "everyone"},
		Log:             logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate parses every typed field and reports the first problem.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required")
	}
	if _, err := c.FsyncMode(); err != nil {
		return err
	}
	if _, err := c.Routine(); err != nil {
		return err
	}
	if _, _, err := c.Formats(); err != nil {
		return err
	}
	if _, err := c.CompactionMode(); err != nil {
		return err
	}
	if _, err := c.Roots.Parse(); err != nil {
		return err
	}
	if c.RotateBytes < 0 || c.CacheSize < 0 {
		return fmt.Errorf("config: rotateBytes and cacheSize must not be negative")
	}
	return nil
}

func (c Config) FsyncMode() (pebblestore.FsyncMode, error) {
	return pebblestore.ParseFsyncMode(c.Fsync)
}

func (c Config) FsyncInterval() time.Duration {
	return time.Duration(c.FsyncIntervalMs) * time.Millisecond
}

func (c Config) Routine() (crypto.HashRoutine, error) {
	return crypto.ParseHashRoutine(c.HashRoutine)
}

// Formats returns the metadata and data formats for new chains. Empty
// values yield zero formats, which defer to the namespace defaults.
func (c Config) Formats() (metaFormat, dataFormat meta.Format, err error) {
	if c.MetaFormat != "" {
		if metaFormat, err = meta.ParseFormat(c.MetaFormat); err != nil {
			return 0, 0, err
		}
	}
	if c.DataFormat != "" {
		if dataFormat, err = meta.ParseFormat(c.DataFormat); err != nil {
			return 0, 0, err
		}
	}
	return metaFormat, dataFormat, nil
}

func (c Config) CompactionMode() (compact.Mode, error) {
	if c.Compaction == "" {
		return compact.Never(), nil
	}
	return compact.ParseMode(c.Compaction)
}

// Parse builds the root options.
func (r RootsConfig) Parse() (meta.Roots, error) {
	var roots meta.Roots
	switch strings.ToLower(r.Write) {
	case "", "everyone":
		roots.Write = meta.WriteEveryone()
	case "nobody":
		roots.Write = meta.WriteNobody()
	case "keys":
		hs, err := parseHashes(r.WriteKeys)
		if err != nil {
			return roots, err
		}
		if len(hs) == 0 {
			return roots, fmt.Errorf("config: roots.write=keys needs writeKeys")
		}
		roots.Write = meta.WriteAny(hs...)
	default:
		return roots, fmt.Errorf("config: unknown roots.write %q", r.Write)
	}
	switch strings.ToLower(r.Read) {
	case "", "everyone":
		roots.Read = meta.ReadEveryone(nil)
	case "specific":
		h, err := crypto.ParseHash(r.ReadKey)
		if err != nil {
			return roots, fmt.Errorf("config: roots.readKey: %w", err)
		}
		roots.Read = meta.ReadSpecific(h, nil)
	default:
		return roots, fmt.Errorf("config: unknown roots.read %q", r.Read)
	}
	return roots, nil
}

func parseHashes(in []string) ([]crypto.Hash, error) {
	out := make([]crypto.Hash, 0, len(in))
	for _, s := range in {
		h, err := crypto.ParseHash(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("config: roots.writeKeys: %w", err)
		}
		out = append(out, h)
	}
	return out, nil
}
