// Package metrics holds the Prometheus collectors for chains and their
// storage. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trustchain"

// Commit results.
const (
	ResultOK           = "ok"
	ResultConflict     = "conflict"
	ResultUnauthorized = "unauthorized"
	ResultError        = "error"
)

// Metrics groups every collector.
type Metrics struct {
	Commits         *prometheus.CounterVec
	CommitEvents    prometheus.Counter
	CommitBytes     prometheus.Counter
	CommitDuration  prometheus.Histogram
	Loads           *prometheus.CounterVec
	Compactions     *prometheus.CounterVec
	CompactedEvents prometheus.Counter
	CompactDuration prometheus.Histogram
	BusDeliveries   prometheus.Counter
	RejectedEvents  prometheus.Counter
	StoreOps        *prometheus.CounterVec
	StoreBytes      *prometheus.CounterVec
	StoreOpDuration *prometheus.HistogramVec
	StoreBatchOps   prometheus.Histogram
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps tests and multiple instances from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commits_total",
			Help: "Transaction commits by result.",
		}, []string{"result"}),
		CommitEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commit_events_total",
			Help: "Events appended by successful commits.",
		}),
		CommitBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commit_bytes_total",
			Help: "Encoded bytes appended by successful commits.",
		}),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "commit_duration_seconds",
			Help:    "Commit latency including lint, transform and append.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		Loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "loads_total",
			Help: "Object loads by outcome (hit, miss, notfound).",
		}, []string{"outcome"}),
		Compactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "compactions_total",
			Help: "Compaction passes by result.",
		}, []string{"result"}),
		CompactedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "compacted_events_total",
			Help: "Events dropped by compaction.",
		}),
		CompactDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "compaction_duration_seconds",
			Help:    "Compaction pass latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		BusDeliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bus_deliveries_total",
			Help: "Events handed to bus listeners.",
		}),
		RejectedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_events_total",
			Help: "Events rejected by validation on ingest or replay.",
		}),
		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "ops_total",
			Help: "Manifest store operations by kind.",
		}, []string{"op"}),
		StoreBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "bytes_total",
			Help: "Manifest store bytes by kind.",
		}, []string{"op"}),
		StoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "op_duration_seconds",
			Help:    "Manifest store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
		StoreBatchOps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "batch_ops",
			Help:    "Operations per committed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// ObserveCommit records one commit attempt.
func (m *Metrics) ObserveCommit(result string, events, bytes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(result).Inc()
	m.CommitDuration.Observe(elapsed.Seconds())
	if result == ResultOK {
		m.CommitEvents.Add(float64(events))
		m.CommitBytes.Add(float64(bytes))
	}
}

func (m *Metrics) ObserveLoad(outcome string) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCompaction(err error, dropped int, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Compactions.WithLabelValues(result).Inc()
	m.CompactedEvents.Add(float64(dropped))
	m.CompactDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDelivery() {
	if m == nil {
		return
	}
	m.BusDeliveries.Inc()
}

func (m *Metrics) ObserveRejected(n int) {
	if m == nil || n == 0 {
		return
	}
	m.RejectedEvents.Add(float64(n))
}

// StoreHook adapts m to the Pebble store's MetricsHook.
type StoreHook struct{ m *Metrics }

func (m *Metrics) StoreHook() StoreHook { return StoreHook{m: m} }

func (h StoreHook) observe(op string, elapsed time.Duration, bytes int) {
	if h.m == nil {
		return
	}
	h.m.StoreOps.WithLabelValues(op).Inc()
	h.m.StoreBytes.WithLabelValues(op).Add(float64(bytes))
	h.m.StoreOpDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (h StoreHook) ObserveWrite(elapsed time.Duration, bytes int) { h.observe("write", elapsed, bytes) }
func (h StoreHook) ObserveRead(elapsed time.Duration, bytes int)  { h.observe("read", elapsed, bytes) }

func (h StoreHook) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	h.observe("batch", elapsed, bytes)
	if h.m != nil {
		h.m.StoreBatchOps.Observe(float64(numOps))
	}
}
