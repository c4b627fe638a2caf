// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Source adapter metrics
	ProviderRequests  *prometheus.CounterVec
	ProviderFallbacks prometheus.Counter

	// Classifier metrics
	ClassifierCacheHits    prometheus.Counter
	ClassifierCacheMisses  prometheus.Counter
	ClassifierLookupErrors prometheus.Counter

	// Ingestion metrics
	WalletsIngested prometheus.Counter
	WalletsFailed   prometheus.Counter
	WalletsSkipped  prometheus.Counter
	RowsCommitted   prometheus.Counter

	// Analytics metrics
	ScoringRuns     prometheus.Counter
	WalletsScored   prometheus.Counter
	DailyMetricRows prometheus.Counter

	// Latency metrics
	FetchDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "onchain_risk"
	}

	return &Metrics{
		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of upstream fetch attempts by provider",
		}, []string{"provider"}),
		ProviderFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fallbacks_total",
			Help:      "Total number of rich-provider failures retried against the fallback provider",
		}),

		ClassifierCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "cache_hits_total",
			Help:      "Total number of contract classification cache hits",
		}),
		ClassifierCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "cache_misses_total",
			Help:      "Total number of contract classification cache misses",
		}),
		ClassifierLookupErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "lookup_errors_total",
			Help:      "Total number of bytecode lookups that collapsed to unknown",
		}),

		WalletsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "wallets_ingested_total",
			Help:      "Total number of wallets ingested successfully",
		}),
		WalletsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "wallets_failed_total",
			Help:      "Total number of wallets that failed ingestion",
		}),
		WalletsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "wallets_skipped_total",
			Help:      "Total number of wallets skipped by policy (e.g. skip-stablecoins)",
		}),
		RowsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "rows_committed_total",
			Help:      "Total number of normalized transaction rows committed",
		}),

		ScoringRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "scoring_runs_total",
			Help:      "Total number of scoring runs executed",
		}),
		WalletsScored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "wallets_scored_total",
			Help:      "Total number of wallet risk metrics produced",
		}),
		DailyMetricRows: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "daily_metric_rows_total",
			Help:      "Total number of daily metric rows produced",
		}),

		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch latency by provider",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordProviderRequest increments the provider request counter.
func RecordProviderRequest(provider string) {
	DefaultMetrics.ProviderRequests.WithLabelValues(provider).Inc()
}

// RecordProviderFallback increments the provider fallback counter.
func RecordProviderFallback() {
	DefaultMetrics.ProviderFallbacks.Inc()
}

// RecordFetchDuration observes an upstream fetch latency for a provider.
func RecordFetchDuration(provider string, seconds float64) {
	DefaultMetrics.FetchDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordCacheHit increments the classifier cache hit counter.
func RecordCacheHit() {
	DefaultMetrics.ClassifierCacheHits.Inc()
}

// RecordCacheMiss increments the classifier cache miss counter.
func RecordCacheMiss() {
	DefaultMetrics.ClassifierCacheMisses.Inc()
}

// RecordClassifierError increments the classifier lookup error counter.
func RecordClassifierError() {
	DefaultMetrics.ClassifierLookupErrors.Inc()
}

// RecordWalletIngested increments the wallets ingested counter.
func RecordWalletIngested() {
	DefaultMetrics.WalletsIngested.Inc()
}

// RecordWalletFailed increments the wallets failed counter.
func RecordWalletFailed() {
	DefaultMetrics.WalletsFailed.Inc()
}

// RecordWalletSkipped increments the wallets skipped counter.
func RecordWalletSkipped() {
	DefaultMetrics.WalletsSkipped.Inc()
}

// RecordRowsCommitted adds to the committed row counter.
func RecordRowsCommitted(n int) {
	DefaultMetrics.RowsCommitted.Add(float64(n))
}

// RecordScoringRun increments the scoring run counter and adds the number
// of wallets scored.
func RecordScoringRun(wallets int) {
	DefaultMetrics.ScoringRuns.Inc()
	DefaultMetrics.WalletsScored.Add(float64(wallets))
}

// RecordDailyMetricRows adds to the daily metric row counter.
func RecordDailyMetricRows(n int) {
	DefaultMetrics.DailyMetricRows.Add(float64(n))
}
