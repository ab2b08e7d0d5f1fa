package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "platform_"

	resultSuccess  = "success"
	resultError    = "error"
	resultConflict = "conflict"
)

var (
	registerOnce sync.Once

	timeSeriesIngestTotal   *prometheus.CounterVec
	timeSeriesIngestLatency *prometheus.HistogramVec
	observationsIngested    prometheus.Counter

	priceReplaceTotal *prometheus.CounterVec
	pricePointsStored prometheus.Counter
	spotImportTotal   *prometheus.CounterVec

	settlementCalculateTotal   *prometheus.CounterVec
	settlementCalculateLatency *prometheus.HistogramVec
	settlementCorrectTotal     *prometheus.CounterVec
	settlementCorrectLatency   *prometheus.HistogramVec
	settlementInvoiceTotal     *prometheus.CounterVec
	settlementIssuesTotal      *prometheus.CounterVec

	documentExportTotal   *prometheus.CounterVec
	documentExportLatency *prometheus.HistogramVec
)

// Init registers settlement metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		timeSeriesIngestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "timeseries_ingest_total",
				Help: "Total time series ingests by result",
			},
			[]string{"result"},
		)
		timeSeriesIngestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "timeseries_ingest_latency_seconds",
				Help:    "Time series ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		observationsIngested = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "timeseries_observations_total",
				Help: "Total observations stored",
			},
		)

		priceReplaceTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "price_points_replace_total",
				Help: "Total price point window replacements by kind and result",
			},
			[]string{"kind", "result"},
		)
		pricePointsStored = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "price_points_inserted_total",
				Help: "Total price points inserted",
			},
		)
		spotImportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "spot_price_import_total",
				Help: "Total spot price imports by area and result",
			},
			[]string{"area", "result"},
		)

		settlementCalculateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_calculate_total",
				Help: "Total settlement calculations by result",
			},
			[]string{"result"},
		)
		settlementCalculateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_calculate_latency_seconds",
				Help:    "Settlement calculation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		settlementCorrectTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_correct_total",
				Help: "Total settlement corrections by result",
			},
			[]string{"result"},
		)
		settlementCorrectLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_correct_latency_seconds",
				Help:    "Settlement correction latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		settlementInvoiceTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_invoice_total",
				Help: "Total invoice markings by result",
			},
			[]string{"result"},
		)
		settlementIssuesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_price_issues_total",
				Help: "Total price validation issues by kind",
			},
			[]string{"kind"},
		)

		documentExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_document_export_total",
				Help: "Total settlement document exports by format and result",
			},
			[]string{"format", "result"},
		)
		documentExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_document_export_latency_seconds",
				Help:    "Settlement document export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			timeSeriesIngestTotal,
			timeSeriesIngestLatency,
			observationsIngested,
			priceReplaceTotal,
			pricePointsStored,
			spotImportTotal,
			settlementCalculateTotal,
			settlementCalculateLatency,
			settlementCorrectTotal,
			settlementCorrectLatency,
			settlementInvoiceTotal,
			settlementIssuesTotal,
			documentExportTotal,
			documentExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveTimeSeriesIngest records ingest latency, result and stored observation count.
func ObserveTimeSeriesIngest(result string, observations int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if timeSeriesIngestTotal != nil {
		timeSeriesIngestTotal.WithLabelValues(result).Inc()
	}
	if timeSeriesIngestLatency != nil {
		timeSeriesIngestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if observationsIngested != nil && observations > 0 {
		observationsIngested.Add(float64(observations))
	}
}

// ObservePriceReplace records a price point window replacement.
func ObservePriceReplace(kind, result string, inserted int) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if priceReplaceTotal != nil {
		priceReplaceTotal.WithLabelValues(kind, result).Inc()
	}
	if pricePointsStored != nil && inserted > 0 {
		pricePointsStored.Add(float64(inserted))
	}
}

// IncSpotImport increments the spot import counter.
func IncSpotImport(area, result string) {
	if area == "" {
		area = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if spotImportTotal != nil {
		spotImportTotal.WithLabelValues(area, result).Inc()
	}
}

// ObserveSettlementCalculate records calculation latency and result.
func ObserveSettlementCalculate(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if settlementCalculateTotal != nil {
		settlementCalculateTotal.WithLabelValues(result).Inc()
	}
	if settlementCalculateLatency != nil {
		settlementCalculateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveSettlementCorrect records correction latency and result.
func ObserveSettlementCorrect(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if settlementCorrectTotal != nil {
		settlementCorrectTotal.WithLabelValues(result).Inc()
	}
	if settlementCorrectLatency != nil {
		settlementCorrectLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncSettlementInvoice increments invoice marking counter.
func IncSettlementInvoice(result string) {
	if result == "" {
		result = resultSuccess
	}
	if settlementInvoiceTotal != nil {
		settlementInvoiceTotal.WithLabelValues(result).Inc()
	}
}

// AddPriceIssues increments validation issue counter by count.
func AddPriceIssues(kind string, count int) {
	if count <= 0 {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if settlementIssuesTotal != nil {
		settlementIssuesTotal.WithLabelValues(kind).Add(float64(count))
	}
}

// ObserveDocumentExport records export latency and result.
func ObserveDocumentExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if documentExportTotal != nil {
		documentExportTotal.WithLabelValues(format, result).Inc()
	}
	if documentExportLatency != nil {
		documentExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultConflict = resultConflict
)
