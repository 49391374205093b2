package simulator

import (
	"github.com/Laisky/errors/v2"
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	requests *prometheus.CounterVec
}

func newServerMetrics(reg prometheus.Registerer) (*serverMetrics, error) {
	m := &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpdsim",
			Name:      "requests_total",
			Help:      "Chat completion requests by verdict",
		}, []string{"verdict"}),
	}
	if err := reg.Register(m.requests); err != nil {
		return nil, errors.Wrap(err, "register rpdsim_requests_total")
	}
	return m, nil
}

func (m *serverMetrics) observe(v Verdict) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(v.String()).Inc()
}
