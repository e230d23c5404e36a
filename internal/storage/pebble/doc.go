// Package pebblestore wraps Pebble with an fsync policy, batches, prefix
// scans, a metrics hook and logging through the module's facade.
//
// It holds the small durable records a registry needs: chain configs,
// archive manifests and namespace records. Event bytes live in redo
// archives, not here.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/meta",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	// Atomic updates with batches
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
//	_ = db.ScanPrefix([]byte("chain/"), func(k, v []byte) bool { return true })
package pebblestore
