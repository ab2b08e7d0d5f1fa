package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "settlements_uninvoiced",
			Help: "Calculated settlements not yet invoiced",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM settlements WHERE status = 'Calculated'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "reconciliations_pending",
			Help: "Reconciliations still waiting for a wholesale settlement",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM reconciliation_results WHERE status = 'Pending'")
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
