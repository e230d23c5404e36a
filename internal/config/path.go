package config

import (
	"os"
	"path/filepath"
)

// Data directory layout:
//
//	<data>/meta/                pebble store: namespaces, chain manifests
//	<data>/chains/<ns>/<name>/  redo archives of one chain
const (
	appDir    = "trustchain"
	metaDir   = "meta"
	chainsDir = "chains"
)

// MetaDir is where the metadata store lives under dataDir.
func MetaDir(dataDir string) string { return filepath.Join(dataDir, metaDir) }

// ChainDir is where the archives of chain ns/name live under dataDir.
func ChainDir(dataDir, ns, name string) string {
	return filepath.Join(dataDir, chainsDir, ns, name)
}

// DefaultDataDir picks a data directory for the host: $XDG_DATA_HOME when
// set, otherwise the first platform location whose parent exists, otherwise
// a dotdir in the home directory. Without a home directory it is ./data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	for _, c := range []struct{ parent, dir string }{
		{"/var/lib", filepath.Join("/var/lib", appDir)},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "Trustchain")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "Trustchain")},
	} {
		if isDir(c.parent) {
			return c.dir
		}
	}
	return filepath.Join(home, "."+appDir)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
