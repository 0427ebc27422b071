package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Reservations        *prometheus.CounterVec
	Settlements         *prometheus.CounterVec
	Compensations       *prometheus.CounterVec
	PublishRetries      prometheus.Counter
	ReservationDuration prometheus.Histogram
	SweepDuration       prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashsale",
			Name:      "reservations_total",
			Help:      "Reservation attempts by result.",
		}, []string{"result"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashsale",
			Name:      "settlements_total",
			Help:      "Settlement events processed by outcome.",
		}, []string{"outcome"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashsale",
			Name:      "compensations_total",
			Help:      "Stock counter compensations by reason.",
		}, []string{"reason"}),
		PublishRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flashsale",
			Name:      "publish_retries_total",
			Help:      "Settlement publish attempts beyond the first.",
		}),
		ReservationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flashsale",
			Name:      "reservation_duration_seconds",
			Help:      "Latency of CreateOrder.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flashsale",
			Name:      "reconcile_sweep_duration_seconds",
			Help:      "Duration of one reconciliation sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.Reservations,
		m.Settlements,
		m.Compensations,
		m.PublishRetries,
		m.ReservationDuration,
		m.SweepDuration,
	)
	return m
}

func (m *Metrics) Reservation(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(result).Inc()
	m.ReservationDuration.Observe(seconds)
}

func (m *Metrics) Settlement(outcome string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Compensation(reason string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(reason).Inc()
}

func (m *Metrics) PublishRetry() {
	if m == nil {
		return
	}
	m.PublishRetries.Inc()
}

func (m *Metrics) Sweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
}
