package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	CoverageRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_requests_total",
			Help: "Total number of coverage requests by outcome",
		},
		[]string{"status"},
	)

	CoverageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_request_duration_seconds",
			Help:    "End-to-end coverage pipeline duration in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		},
		[]string{"status"},
	)

	PipelineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_pipeline_errors_total",
			Help: "Pipeline failures by error type and the state reached",
		},
		[]string{"error_type", "state"},
	)

	// Quota metrics
	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coverage_quota_rejections_total",
			Help: "Requests rejected because the daily quota was exhausted",
		},
	)

	// Completion metrics
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_completion_duration_seconds",
			Help:    "Upstream completion call duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"status"},
	)

	CompletionTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coverage_completion_tokens_used",
			Help:    "Tokens used per completion",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 20000},
		},
	)

	ExtractionStrategy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_extraction_strategy_total",
			Help: "Extraction attempts by the strategy that succeeded (none on failure)",
		},
		[]string{"strategy"},
	)

	// Citation metrics
	CitationsReceived = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coverage_citations_received",
			Help:    "Raw citations returned per completion",
			Buckets: []float64{0, 1, 2, 4, 8, 12, 20, 40},
		},
	)

	CitationsKept = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coverage_citations_kept",
			Help:    "Alternative sources kept per request after filtering",
			Buckets: []float64{0, 1, 2, 4, 6, 8, 12},
		},
	)

	CitationDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_citation_drops_total",
			Help: "Citations dropped by reason",
		},
		[]string{"reason"},
	)

	// Resolver metrics
	ResolverFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_resolver_fetch_duration_seconds",
			Help:    "Redirect resolution fetch duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
		},
		[]string{"outcome"},
	)

	ResolverCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coverage_resolver_cache_hits_total",
			Help: "Wrapper resolutions served from cache",
		},
	)

	ResolverCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coverage_resolver_cache_misses_total",
			Help: "Wrapper resolutions not found in cache",
		},
	)
)

// RecordRequest records the outcome of one coverage request.
func RecordRequest(status string, durationSeconds float64) {
	CoverageRequests.WithLabelValues(status).Inc()
	CoverageDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordCompletion records one upstream completion call.
func RecordCompletion(status string, durationSeconds float64, tokensUsed int) {
	CompletionDuration.WithLabelValues(status).Observe(durationSeconds)
	if tokensUsed > 0 {
		CompletionTokens.Observe(float64(tokensUsed))
	}
}

// RecordCitations records per-request citation volumes.
func RecordCitations(received, kept int) {
	CitationsReceived.Observe(float64(received))
	CitationsKept.Observe(float64(kept))
}
