package namespace

import (
	"testing"

	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
)

func openDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureNamespaceIdempotent(t *testing.T) {
	db := openDB(t)

	m1, err := EnsureNamespace(db, "default", Defaults())
	if err != nil {
		t.Fatalf("ensure1: %v", err)
	}
	other := Defaults()
	other.DataFormat = "msgpack"
	m2, err := EnsureNamespace(db, "default", other)
	if err != nil {
		t.Fatalf("ensure2: %v", err)
	}
	if m1.Name != m2.Name || m1.CreatedAtMs != m2.CreatedAtMs || m2.DataFormat != "json" {
		t.Fatalf("not idempotent: %+v vs %+v", m1, m2)
	}
}

func TestList(t *testing.T) {
	db := openDB(t)
	for _, n := range []string{"b", "a"} {
		if _, err := EnsureNamespace(db, n, Defaults()); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	got, err := List(db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("got %+v", got)
	}
}

func TestSplitKey(t *testing.T) {
	cases := []struct {
		in, ns, name string
		ok           bool
	}{
		{"demo", DefaultName, "demo", true},
		{"auth/users", "auth", "users", true},
		{"auth/", "", "", false},
		{"/x", "", "", false},
		{"a/b/c", "", "", false},
		{"..", "", "", false},
	}
	for _, c := range cases {
		ns, name, err := SplitKey(c.in)
		if (err == nil) != c.ok {
			t.Fatalf("%q: err=%v", c.in, err)
		}
		if c.ok && (ns != c.ns || name != c.name) {
			t.Fatalf("%q: got %s/%s", c.in, ns, name)
		}
	}
}
