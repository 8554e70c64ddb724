package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the monitor's Prometheus collectors.
type Metrics struct {
	Fetches           *prometheus.CounterVec
	ObservationsSaved prometheus.Counter
	AlertsTriggered   prometheus.Counter
	CycleDuration     prometheus.Histogram
	CyclesInFlight    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "fetches_total",
			Help:      "Price fetches by result (ok, error).",
		}, []string{"result"}),
		ObservationsSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "observations_saved_total",
			Help:      "Changed prices persisted as observations.",
		}),
		AlertsTriggered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "alerts_triggered_total",
			Help:      "Alerts flipped to triggered.",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one fetch cycle across all symbols.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		CyclesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricewatch",
			Name:      "cycles_in_flight",
			Help:      "Fetch cycles currently running.",
		}),
	}
}
