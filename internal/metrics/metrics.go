// Package metrics exposes the executor's Prometheus collectors: run
// outcomes by terminal state, per-stage latency, and MEV submission results.
//
// Grounded on the teacher's existing use of prometheus/client_golang
// throughout its services (e.g. hft-bot's own metrics wiring); this package
// narrows that to the handful of series the Opportunity Pipeline actually
// produces.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder exposes the pipeline's observable counters/histograms.
type Recorder struct {
	RunsTotal       *prometheus.CounterVec
	RunLatency      *prometheus.HistogramVec
	SimLatency      prometheus.Histogram
	MevSubmissions  *prometheus.CounterVec
}

// New registers and returns the executor's metrics on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashloan_executor",
			Name:      "runs_total",
			Help:      "Opportunity runs by terminal state.",
		}, []string{"chain", "state"}),
		RunLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flashloan_executor",
			Name:      "run_latency_seconds",
			Help:      "End-to-end latency from receipt to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain"}),
		SimLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flashloan_executor",
			Name:      "simulation_latency_seconds",
			Help:      "Latency of the simulate_call round trip.",
			Buckets:   prometheus.DefBuckets,
		}),
		MevSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashloan_executor",
			Name:      "mev_submissions_total",
			Help:      "MEV bundle submissions by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
	reg.MustRegister(r.RunsTotal, r.RunLatency, r.SimLatency, r.MevSubmissions)
	return r
}
