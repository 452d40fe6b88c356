package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cardwedge/reader"
)

// Metrics exports engine counters. One Metrics is shared by every engine a
// process starts; per-run counts live on the engine itself.
type Metrics struct {
	readErrors *prometheus.CounterVec
	cards      prometheus.Counter
	reconnects prometheus.Counter
	attempts   prometheus.Histogram
}

// NewMetrics registers the engine metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		readErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cardwedge_read_errors_total",
			Help: "Failed read attempts by error kind",
		}, []string{"kind"}),
		cards: f.NewCounter(prometheus.CounterOpts{
			Name: "cardwedge_cards_total",
			Help: "Cards accepted and emitted",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "cardwedge_reconnects_total",
			Help: "Forced terminal re-acquisitions",
		}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardwedge_read_attempt_seconds",
			Help:    "Duration of read attempts",
			Buckets: []float64{.005, .01, .025, .05, .1, .15, .25},
		}),
	}
	for _, k := range reader.FailureKinds() {
		m.readErrors.WithLabelValues(k.String())
	}
	return m
}
