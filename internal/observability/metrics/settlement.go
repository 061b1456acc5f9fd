package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks the latency of payment settlement and the gateway calls inside it.
type SettlementMetrics struct {
	settle  *prometheus.HistogramVec
	gateway *prometheus.HistogramVec
}

func NewSettlementMetrics(reg prometheus.Registerer) (*SettlementMetrics, error) {
	m := &SettlementMetrics{
		settle: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tillpoint_settlement_duration_seconds",
			Help:    "Payment settlement latency by method and outcome.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"method", "outcome"}),
		gateway: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tillpoint_gateway_duration_seconds",
			Help:    "Card gateway call latency by provider and outcome.",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10},
		}, []string{"provider", "outcome"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.settle, m.gateway} {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					if c == m.settle {
						m.settle = existing
					} else {
						m.gateway = existing
					}
				}
				continue
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *SettlementMetrics) ObserveSettlement(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.settle.WithLabelValues(method, outcome).Observe(elapsed.Seconds())
}

func (m *SettlementMetrics) ObserveGateway(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gateway.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
}
