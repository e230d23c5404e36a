package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays TRUSTCHAIN_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	str("TRUSTCHAIN_DATA_DIR", &cfg.DataDir)
	str("TRUSTCHAIN_FSYNC", &cfg.Fsync)
	str("TRUSTCHAIN_HASH_ROUTINE", &cfg.HashRoutine)
	str("TRUSTCHAIN_META_FORMAT", &cfg.MetaFormat)
	str("TRUSTCHAIN_DATA_FORMAT", &cfg.DataFormat)
	str("TRUSTCHAIN_COMPACTION", &cfg.Compaction)
	str("TRUSTCHAIN_ROOTS_WRITE", &cfg.Roots.Write)
	str("TRUSTCHAIN_ROOTS_READ", &cfg.Roots.Read)
	str("TRUSTCHAIN_ROOTS_READ_KEY", &cfg.Roots.ReadKey)
	str("TRUSTCHAIN_LOG_LEVEL", &cfg.Log.Level)
	str("TRUSTCHAIN_LOG_FORMAT", &cfg.Log.Format)

	if v := os.Getenv("TRUSTCHAIN_FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FsyncIntervalMs = n
		}
	}
	if v := os.Getenv("TRUSTCHAIN_SYNC_ARCHIVES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SyncArchives = b
		}
	}
	if v := os.Getenv("TRUSTCHAIN_ROTATE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RotateBytes = n
		}
	}
	if v := os.Getenv("TRUSTCHAIN_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheSize = n
		}
	}
	if v := os.Getenv("TRUSTCHAIN_ROOTS_WRITE_KEYS"); v != "" {
		cfg.Roots.WriteKeys = nil
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Roots.WriteKeys = append(cfg.Roots.WriteKeys, p)
			}
		}
	}
}
