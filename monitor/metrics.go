package monitor

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nebulablock/rpdprobe/prober"
)

// Metrics exports batch activity to Prometheus. It implements prober.Observer.
type Metrics struct {
	requests      *prometheus.CounterVec
	inflight      *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	aborted       *prometheus.CounterVec
	tierValidated *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them through promhttp.Handler.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpdprobe",
			Name:      "requests_total",
			Help:      "Probe requests by tier and outcome category.",
		}, []string{"tier", "category"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rpdprobe",
			Name:      "inflight_requests",
			Help:      "Probe requests currently awaiting a response.",
		}, []string{"tier"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpdprobe",
			Name:      "request_duration_seconds",
			Help:      "Probe request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tier"}),
		aborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpdprobe",
			Name:      "batches_aborted_total",
			Help:      "Batches stopped early, by reason.",
		}, []string{"tier", "reason"}),
		tierValidated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rpdprobe",
			Name:      "tier_validated",
			Help:      "1 when the last validation of the tier passed, 0 when it failed.",
		}, []string{"tier"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.inflight, m.latency, m.aborted, m.tierValidated} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) OnDispatch(_ context.Context, info prober.BatchInfo, _ int) {
	m.inflight.WithLabelValues(info.Tier).Inc()
}

func (m *Metrics) OnOutcome(_ context.Context, info prober.BatchInfo, outcome prober.RequestOutcome) {
	m.inflight.WithLabelValues(info.Tier).Dec()
	m.requests.WithLabelValues(info.Tier, string(outcome.Category)).Inc()
	m.latency.WithLabelValues(info.Tier).Observe(outcome.Duration.Seconds())
}

func (m *Metrics) OnBatchDone(_ context.Context, info prober.BatchInfo, result prober.BatchResult) {
	if result.Aborted {
		m.aborted.WithLabelValues(info.Tier, result.AbortReason).Inc()
	}
}
