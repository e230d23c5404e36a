package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pebblestore "github.com/rzbill/trustchain/internal/storage/pebble"
)

func TestCommitCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveCommit(ResultOK, 3, 120, time.Millisecond)
	m.ObserveCommit(ResultConflict, 2, 80, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commits.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commits.WithLabelValues(ResultConflict)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CommitEvents))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.CommitBytes))
}

func TestCompactionAndLoads(t *testing.T) {
	m := New(nil)
	m.ObserveCompaction(nil, 7, time.Second)
	m.ObserveCompaction(errors.New("boom"), 0, time.Second)
	m.ObserveLoad("hit")
	m.ObserveRejected(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compactions.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compactions.WithLabelValues(ResultError)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.CompactedEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Loads.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RejectedEvents))
}

func TestStoreHookFeedsPebble(t *testing.T) {
	m := New(nil)
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Metrics: m.StoreHook()})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("k"), []byte("value")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOps.WithLabelValues("write")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.StoreBytes.WithLabelValues("write")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCommit(ResultOK, 1, 1, 0)
	m.ObserveLoad("miss")
	m.ObserveCompaction(nil, 0, 0)
	m.ObserveDelivery()
	m.StoreHook().ObserveWrite(0, 1)
}
