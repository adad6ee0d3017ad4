package services

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional; every service accepts a nil *Metrics.
type Metrics struct {
	Sales         *prometheus.CounterVec
	LedgerRejects *prometheus.CounterVec
	Expired       prometheus.Counter
	ReleasedUnits prometheus.Counter
	SweepErrors   prometheus.Counter
	SweepSkipped  prometheus.Counter
	SweepDuration prometheus.Histogram
	Purged        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockhold",
			Name:      "sales_total",
			Help:      "Sale operations by step and outcome.",
		}, []string{"op", "outcome"}),
		LedgerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockhold",
			Name:      "ledger_rejects_total",
			Help:      "Conditional ledger updates whose guard did not hold.",
		}, []string{"op"}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockhold",
			Name:      "reservations_expired_total",
			Help:      "Reservations moved to EXPIRED by the reaper.",
		}),
		ReleasedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockhold",
			Name:      "reaper_released_units_total",
			Help:      "Stock units returned to availability by expiry.",
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockhold",
			Name:      "reaper_errors_total",
			Help:      "Reservations the reaper could not retire in a sweep.",
		}),
		SweepSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockhold",
			Name:      "reaper_sweeps_skipped_total",
			Help:      "Sweeps skipped because another sweep held the lock.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stockhold",
			Name:      "reaper_sweep_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockhold",
			Name:      "reservations_purged_total",
			Help:      "Reservation rows removed by retention cleanup.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Sales, m.LedgerRejects, m.Expired, m.ReleasedUnits,
			m.SweepErrors, m.SweepSkipped, m.SweepDuration, m.Purged)
	}
	return m
}

func (m *Metrics) sale(op, outcome string) {
	if m != nil {
		m.Sales.WithLabelValues(op, outcome).Inc()
	}
}

func (m *Metrics) reject(op string) {
	if m != nil {
		m.LedgerRejects.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) expired(units int) {
	if m != nil {
		m.Expired.Inc()
		m.ReleasedUnits.Add(float64(units))
	}
}

func (m *Metrics) sweepError() {
	if m != nil {
		m.SweepErrors.Inc()
	}
}

func (m *Metrics) sweepSkipped() {
	if m != nil {
		m.SweepSkipped.Inc()
	}
}

func (m *Metrics) sweepSeconds(s float64) {
	if m != nil {
		m.SweepDuration.Observe(s)
	}
}

func (m *Metrics) purged(n int64) {
	if m != nil {
		m.Purged.Add(float64(n))
	}
}
