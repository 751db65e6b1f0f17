package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/parking-ledger/billing"
	"github.com/warp/parking-ledger/rates"
)

// Metrics implements rates.Recorder and billing.BatchObserver.
type Metrics struct {
	rateRefreshes  *prometheus.CounterVec
	rateValue      prometheus.Gauge
	paymentBatches *prometheus.CounterVec
}

var (
	_ rates.Recorder        = (*Metrics)(nil)
	_ billing.BatchObserver = (*Metrics)(nil)
)

// NewMetrics registers the collectors on registerer, or the default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		rateRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_refresh_total",
			Help: "UF rate refresh attempts by result.",
		}, []string{"result"}),
		rateValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rate_value",
			Help: "Current UF rate in local currency.",
		}),
		paymentBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_batches_total",
			Help: "Payment batches by outcome.",
		}, []string{"result"}),
	}
	registerer.MustRegister(m.rateRefreshes, m.rateValue, m.paymentBatches)
	return m
}

func (m *Metrics) RateRefreshed(s rates.Snapshot) {
	m.rateRefreshes.WithLabelValues("ok").Inc()
	v, _ := s.Value.Float64()
	m.rateValue.Set(v)
}

func (m *Metrics) RateRefreshFailed() {
	m.rateRefreshes.WithLabelValues("error").Inc()
}

// SetRate publishes the seeded rate before the first refresh.
func (m *Metrics) SetRate(s rates.Snapshot) {
	v, _ := s.Value.Float64()
	m.rateValue.Set(v)
}

func (m *Metrics) ObserveBatch(outcome billing.Outcome) {
	m.paymentBatches.WithLabelValues(outcome.String()).Inc()
}
