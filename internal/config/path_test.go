package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultDataDirXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/trustchain" {
		t.Fatalf("expected /custom/data/trustchain, got %s", got)
	}
}

func TestDefaultDataDirNoHome(t *testing.T) {
	t.Setenv("HOME", "")
	if got := DefaultDataDir(); got != "./data" {
		t.Fatalf("expected fallback to ./data, got %s", got)
	}
}

func TestDefaultDataDirShape(t *testing.T) {
	got := DefaultDataDir()
	if !filepath.IsAbs(got) && !strings.HasPrefix(got, "./") {
		t.Fatalf("expected absolute or ./ path, got %s", got)
	}
	if got != "./data" && !strings.HasSuffix(strings.ToLower(got), "trustchain") {
		t.Fatalf("expected a trustchain directory, got %s", got)
	}
	if again := DefaultDataDir(); again != got {
		t.Fatalf("inconsistent: %s vs %s", got, again)
	}
}

func TestIsDir(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "existing directory", path: ".", expected: true},
		{name: "non-existent path", path: "/non/existent/path", expected: false},
		{name: "file instead of directory", path: os.Args[0], expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDir(tt.path); got != tt.expected {
				t.Fatalf("isDir(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	if got, want := MetaDir("/srv/tc"), filepath.Join("/srv/tc", "meta"); got != want {
		t.Fatalf("MetaDir = %s, want %s", got, want)
	}
	if got, want := ChainDir("/srv/tc", "ops", "audit"), filepath.Join("/srv/tc", "chains", "ops", "audit"); got != want {
		t.Fatalf("ChainDir = %s, want %s", got, want)
	}
	if strings.HasPrefix(ChainDir("/srv/tc", "a", "b"), MetaDir("/srv/tc")) {
		t.Fatalf("chain archives must not live inside the metadata store")
	}
}
