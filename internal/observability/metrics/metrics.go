package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles reconciliation pipeline metrics.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	RowsRejectedTotal    *prometheus.CounterVec
	SourcesUnavailable   prometheus.Gauge
	LowConfidencePeriods prometheus.Gauge
	AnomaliesTotal       prometheus.Counter
	InvoicesTotal        prometheus.Counter
}

// New constructs and registers metrics.
func New() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_runs_total",
				Help: "Total pipeline runs by status",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recon_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RowsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recon_rows_rejected_total",
				Help: "Rejected readings by reason",
			},
			[]string{"reason"},
		),
		SourcesUnavailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recon_sources_unavailable",
			Help: "Sources that failed to fetch in the last run",
		}),
		LowConfidencePeriods: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recon_low_confidence_periods",
			Help: "Reconciled periods flagged for review in the last run",
		}),
		AnomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recon_anomalies_total",
			Help: "Total anomaly annotations emitted",
		}),
		InvoicesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recon_invoices_total",
			Help: "Total invoice records generated",
		}),
	}
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RowsRejectedTotal,
		m.SourcesUnavailable,
		m.LowConfidencePeriods,
		m.AnomaliesTotal,
		m.InvoicesTotal,
	)
	return m
}
