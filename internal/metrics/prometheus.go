// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predmaint_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predmaint_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route", "method"},
	)

	// ScansTotal количество сканирований по статусу и источнику оценки
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predmaint_scans_total",
			Help: "Total number of risk scans",
		},
		[]string{"status", "source"},
	)

	// ScanErrors количество ошибок классификатора при сканировании
	ScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "predmaint_scan_errors_total",
			Help: "Total number of failed risk scans",
		},
	)

	// RiskProbability распределение вероятности отказа
	RiskProbability = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "predmaint_risk_probability",
			Help:    "Distribution of failure probabilities returned by scans",
			Buckets: prometheus.LinearBuckets(0.05, 0.05, 19),
		},
	)

	// ScanLatency время выполнения оценки
	ScanLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "predmaint_scan_latency_seconds",
			Help:    "Risk assessment latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05},
		},
	)

	// LiveTicks количество тиков живого режима
	LiveTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "predmaint_live_ticks_total",
			Help: "Total number of telemetry ticks produced in live mode",
		},
	)

	// LiveSessions количество сессий в живом режиме
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "predmaint_live_sessions",
			Help: "Number of sessions with live mode running",
		},
	)

	// ActiveSessions количество активных сессий
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "predmaint_active_sessions",
			Help: "Number of active dashboard sessions",
		},
	)

	// ClassifierLoaded 1, если модель загружена, 0 в режиме fallback
	ClassifierLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "predmaint_classifier_loaded",
			Help: "Whether a trained classifier is loaded (0 means fallback mode)",
		},
	)

	// ForcedAlerts количество принудительных тревог
	ForcedAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "predmaint_forced_alerts_total",
			Help: "Total number of forced alerts",
		},
	)

	// AlertsPublished количество уведомлений по результату (ok, error, skipped без брокера)
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predmaint_alerts_published_total",
			Help: "Total number of critical alerts published",
		},
		[]string{"result"},
	)

	// CacheWrites запись истории в кэш
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predmaint_cache_writes_total",
			Help: "Total number of scan history writes to cache",
		},
		[]string{"result"},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "predmaint_active_goroutines",
			Help: "Number of active goroutines",
		},
	)
)

// ObserveScan обновляет метрики сканирования
func ObserveScan(status, source string, probability float64) {
	ScansTotal.WithLabelValues(status, source).Inc()
	RiskProbability.Observe(probability)
}
