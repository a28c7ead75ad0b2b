package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
const (
	// Webhook rejection reasons (bounded set)
	RejectReasonMalformed   = "malformed_json"
	RejectReasonUnknown     = "unknown_source"
	RejectReasonValidation  = "validation_failed"
	RejectReasonUnsupported = "unsupported_symbol"
	RejectReasonOther       = "other"

	// Provider error categories (bounded set)
	ProviderErrorTimeout     = "timeout"
	ProviderErrorRateLimit   = "rate_limit"
	ProviderErrorNetwork     = "network"
	ProviderErrorAPI         = "api_error"
	ProviderErrorBreakerOpen = "breaker_open"
	ProviderErrorOther       = "other"
)

// NormalizeRejectReason maps arbitrary rejection messages to the bounded set.
func NormalizeRejectReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "json") || strings.Contains(lower, "malformed"):
		return RejectReasonMalformed
	case strings.Contains(lower, "unknown") || strings.Contains(lower, "detect"):
		return RejectReasonUnknown
	case strings.Contains(lower, "valid") || strings.Contains(lower, "range") || strings.Contains(lower, "missing"):
		return RejectReasonValidation
	case strings.Contains(lower, "symbol") || strings.Contains(lower, "ticker"):
		return RejectReasonUnsupported
	default:
		return RejectReasonOther
	}
}

// NormalizeProviderError maps a provider failure to the bounded set.
func NormalizeProviderError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ProviderErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429") || strings.Contains(errStr, "quota"):
		return ProviderErrorRateLimit
	case strings.Contains(errStr, "circuit") || strings.Contains(errStr, "breaker"):
		return ProviderErrorBreakerOpen
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") || strings.Contains(errStr, "refused"):
		return ProviderErrorNetwork
	case strings.Contains(errStr, "api_error") || strings.Contains(errStr, "status"):
		return ProviderErrorAPI
	default:
		return ProviderErrorOther
	}
}

// Webhook Ingestion Metrics
var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_webhooks_received_total",
		Help: "Total webhooks received by detected source",
	}, []string{"source"})

	WebhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_webhooks_rejected_total",
		Help: "Total webhooks rejected by reason",
	}, []string{"reason"})

	WebhookProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "confluence_webhook_processing_duration_ms",
		Help:    "End-to-end webhook processing duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"source"})
)

// Decision Metrics
var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_decisions_total",
		Help: "Total decisions by action",
	}, []string{"action"})

	DecisionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "confluence_decision_confidence",
		Help:    "Final confidence score distribution (0 to 100)",
		Buckets: []float64{20, 40, 60, 70, 80, 90, 95, 100},
	})

	DecisionSizeMultiplier = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "confluence_decision_size_multiplier",
		Help:    "Final size multiplier distribution for EXECUTE decisions",
		Buckets: []float64{0.5, 0.75, 1.0, 1.5, 2.0, 2.5, 3.0},
	})

	GateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_gate_failures_total",
		Help: "Total gate failures by gate",
	}, []string{"gate"})

	ContextCompleteness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "confluence_context_completeness",
		Help: "Fraction of required context sections present per symbol (0.0 to 1.0)",
	}, []string{"symbol"})

	DegradationLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confluence_degradation_level",
		Help: "Current market-data degradation (0=NONE 1=MINOR 2=MAJOR 3=SEVERE)",
	})
)

// Market Data Metrics
var (
	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "confluence_provider_request_duration_ms",
		Help:    "Market data provider request duration in milliseconds",
		Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"provider"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_provider_errors_total",
		Help: "Total market data provider errors by category",
	}, []string{"provider", "error_type"})

	FeedAvailability = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confluence_feed_availability",
		Help: "Fraction of market data feeds available in the last build (0.0 to 1.0)",
	})

	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_cache_operations_total",
		Help: "Total feed cache operations by tier and outcome",
	}, []string{"tier", "outcome"})

	QuotaExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_quota_exhausted_total",
		Help: "Total requests skipped because a provider quota window was exhausted",
	}, []string{"provider", "window"})
)

// Persistence and Transport Metrics
var (
	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_ledger_writes_total",
		Help: "Total ledger writes by operation and status",
	}, []string{"operation", "status"})

	LedgerWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "confluence_ledger_write_duration_ms",
		Help:    "Ledger write duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confluence_database_connections_active",
		Help: "Number of active database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confluence_database_connections_idle",
		Help: "Number of idle database connections",
	})

	IntentsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_intents_published_total",
		Help: "Total paper trade intents published by status",
	}, []string{"status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confluence_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "confluence_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "path", "status_code"})
)

// Helper functions to update metrics

// RecordWebhook records one accepted webhook with processing duration.
func RecordWebhook(source string, durationMs float64) {
	WebhooksReceived.WithLabelValues(source).Inc()
	WebhookProcessingDuration.WithLabelValues(source).Observe(durationMs)
}

// RecordWebhookRejected records a rejected webhook with normalized reason.
func RecordWebhookRejected(reason string) {
	WebhooksRejected.WithLabelValues(NormalizeRejectReason(reason)).Inc()
}

// RecordDecision records a decision outcome.
func RecordDecision(action string, confidence, sizeMultiplier float64) {
	Decisions.WithLabelValues(action).Inc()
	DecisionConfidence.Observe(confidence)
	if action == "EXECUTE" {
		DecisionSizeMultiplier.Observe(sizeMultiplier)
	}
}

// RecordGateFailure records a failed gate.
func RecordGateFailure(gate string) {
	GateFailures.WithLabelValues(gate).Inc()
}

// UpdateContextCompleteness sets the per-symbol completeness gauge.
func UpdateContextCompleteness(symbol string, completeness float64) {
	ContextCompleteness.WithLabelValues(symbol).Set(completeness)
}

// UpdateDegradation sets the degradation level and feed availability gauges.
func UpdateDegradation(level string, available, total int) {
	var v float64
	switch level {
	case "MINOR":
		v = 1
	case "MAJOR":
		v = 2
	case "SEVERE":
		v = 3
	}
	DegradationLevel.Set(v)
	if total > 0 {
		FeedAvailability.Set(float64(available) / float64(total))
	}
}

// RecordProviderRequest records a provider call with normalized error category.
func RecordProviderRequest(provider string, durationMs float64, err error) {
	ProviderRequestDuration.WithLabelValues(provider).Observe(durationMs)
	if err != nil {
		ProviderErrors.WithLabelValues(provider, NormalizeProviderError(err)).Inc()
	}
}

// RecordCacheOperation records a feed cache hit or miss.
func RecordCacheOperation(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	CacheOperations.WithLabelValues(tier, outcome).Inc()
}

// RecordQuotaExhausted records a request skipped by the quota limiter.
func RecordQuotaExhausted(provider, window string) {
	QuotaExhausted.WithLabelValues(provider, window).Inc()
}

// RecordLedgerWrite records a ledger write with duration.
func RecordLedgerWrite(operation string, success bool, durationMs float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	LedgerWrites.WithLabelValues(operation, status).Inc()
	LedgerWriteDuration.Observe(durationMs)
}

// UpdateDatabaseConnections updates database connection gauges.
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordIntentPublished records a paper trade intent publish attempt.
func RecordIntentPublished(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	IntentsPublished.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request with duration.
func RecordHTTPRequest(method, path string, status int, durationMs float64) {
	code := strconv.Itoa(status)
	HTTPRequests.WithLabelValues(method, path, code).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, code).Observe(durationMs)
}
