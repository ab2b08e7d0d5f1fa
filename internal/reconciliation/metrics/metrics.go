package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles reconciliation metrics.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	DifferenceAmount   *prometheus.GaugeVec
	DiscrepanciesTotal *prometheus.CounterVec
	ReportsTotal       prometheus.Counter
	NotificationsTotal *prometheus.CounterVec
}

// New constructs metrics and registers them with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supply_reconciliation_runs_total",
				Help: "Total reconciliation runs by status",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "supply_reconciliation_run_duration_seconds",
			Help:    "Reconciliation run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		DifferenceAmount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "supply_reconciliation_difference_amount",
				Help: "Difference between our and the wholesale total of the last run",
			},
			[]string{"grid_area"},
		),
		DiscrepanciesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supply_reconciliation_discrepancies_total",
				Help: "Total reconciliation runs ending in a discrepancy",
			},
			[]string{"grid_area"},
		),
		ReportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supply_reconciliation_reports_total",
			Help: "Total reconciliation reports written",
		}),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supply_reconciliation_notifications_total",
				Help: "Total reconciliation notifications by result",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.DifferenceAmount,
		m.DiscrepanciesTotal,
		m.ReportsTotal,
		m.NotificationsTotal,
	)
	return m
}
