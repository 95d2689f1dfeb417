package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments scans and commits. A nil *Metrics records nothing.
type Metrics struct {
	scans          *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	committed      *prometheus.CounterVec
	failed         prometheus.Counter
	commitDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pantry",
			Name:      "scans_total",
			Help:      "Vision scans by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pantry",
			Name:      "scan_duration_seconds",
			Help:      "Time spent waiting for the vision model.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pantry",
			Name:      "committed_items_total",
			Help:      "Review items persisted, by match type.",
		}, []string{"match_type"}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pantry",
			Name:      "failed_items_total",
			Help:      "Review items that failed to persist.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pantry",
			Name:      "commit_duration_seconds",
			Help:      "Time spent committing a review batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.scans, m.scanDuration, m.committed, m.failed, m.commitDuration)
	}
	return m
}

// ObserveScan records a finished vision call
func (m *Metrics) ObserveScan(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) itemCommitted(mt MatchType) {
	if m == nil {
		return
	}
	m.committed.WithLabelValues(string(mt)).Inc()
}

func (m *Metrics) itemFailed() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

func (m *Metrics) commitFinished(d time.Duration) {
	if m == nil {
		return
	}
	m.commitDuration.Observe(d.Seconds())
}
