package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rzbill/trustchain/internal/compact"
	"github.com/rzbill/trustchain/internal/crypto"
	"github.com/rzbill/trustchain/internal/meta"
	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if r, _ := cfg.Routine(); r != crypto.HashRoutineBlake3 {
		t.Fatalf("default routine %v", r)
	}
	mf, df, _ := cfg.Formats()
	if mf != meta.FormatBinary || df != meta.FormatJSON {
		t.Fatalf("default formats %v/%v", mf, df)
	}
	mode, _ := cfg.CompactionMode()
	if mode.Kind() != compact.KindGrowthFactorOrTimer {
		t.Fatalf("default compaction %v", mode)
	}
	roots, _ := cfg.Roots.Parse()
	if roots.Write.Kind != meta.WriteKindEveryone || roots.Read.Kind != meta.ReadKindEveryone {
		t.Fatalf("default roots %+v", roots)
	}
}

func TestLoadJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "trustchain.json")
	data := []byte(`{"dataDir":"/srv/tc","fsync":"always","compaction":"modified","roots":{"write":"nobody"}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/srv/tc" {
		t.Fatalf("expected /srv/tc, got %s", cfg.DataDir)
	}
	if m, _ := cfg.FsyncMode(); m != pebblestore.FsyncModeAlways {
		t.Fatalf("expected fsync always")
	}
	if cfg.HashRoutine != "blake3" {
		t.Fatalf("unset fields keep defaults, got %q", cfg.HashRoutine)
	}
	roots, err := cfg.Roots.Parse()
	if err != nil || roots.Write.Kind != meta.WriteKindNobody {
		t.Fatalf("roots: %+v %v", roots, err)
	}
}

func TestLoadYAML(t *testing.T) {
	k, err := crypto.GenerateWriteKey()
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "trustchain.yaml")
	data := []byte("hashRoutine: sha3\ndataFormat: msgpack\nroots:\n  write: keys\n  writeKeys:\n    - " + k.Hash().String() + "\nlog:\n  level: debug\n")
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if r, _ := cfg.Routine(); r != crypto.HashRoutineSha3 {
		t.Fatalf("expected sha3")
	}
	if _, df, _ := cfg.Formats(); df != meta.FormatMessagePack {
		t.Fatalf("expected msgpack data")
	}
	roots, _ := cfg.Roots.Parse()
	if !roots.Write.Permits(k.Hash()) {
		t.Fatalf("root write should permit the configured key")
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug log level")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"fsync":      func(c *Config) { c.Fsync = "sometimes" },
		"routine":    func(c *Config) { c.HashRoutine = "md5" },
		"format":     func(c *Config) { c.MetaFormat = "xml" },
		"compaction": func(c *Config) { c.Compaction = "weekly" },
		"roots":      func(c *Config) { c.Roots.Write = "keys" },
		"read key":   func(c *Config) { c.Roots.Read = "specific"; c.Roots.ReadKey = "zz" },
		"data dir":   func(c *Config) { c.DataDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("TRUSTCHAIN_DATA_DIR", "/tmp/tc")
	t.Setenv("TRUSTCHAIN_SYNC_ARCHIVES", "true")
	t.Setenv("TRUSTCHAIN_ROTATE_BYTES", "4096")
	t.Setenv("TRUSTCHAIN_ROOTS_WRITE_KEYS", " a , ,b")
	FromEnv(&cfg)
	if cfg.DataDir != "/tmp/tc" {
		t.Fatalf("env override data dir")
	}
	if !cfg.SyncArchives {
		t.Fatalf("env override bool")
	}
	if cfg.RotateBytes != 4096 {
		t.Fatalf("env override rotate bytes")
	}
	if len(cfg.Roots.WriteKeys) != 2 {
		t.Fatalf("env override write keys: %v", cfg.Roots.WriteKeys)
	}
}
