package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRejectReason(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"malformed JSON body", RejectReasonMalformed},
		{"unknown webhook source", RejectReasonUnknown},
		{"phase out of valid range", RejectReasonValidation},
		{"missing required field ticker", RejectReasonValidation},
		{"something else entirely", RejectReasonOther},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRejectReason(tt.reason))
		})
	}
}

func TestNormalizeProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", errors.New("context deadline exceeded"), ProviderErrorTimeout},
		{"rate limit", errors.New("429 too many requests"), ProviderErrorRateLimit},
		{"breaker", errors.New("circuit breaker is open"), ProviderErrorBreakerOpen},
		{"network", errors.New("connection refused"), ProviderErrorNetwork},
		{"api", errors.New("unexpected status 503"), ProviderErrorAPI},
		{"other", errors.New("mystery failure"), ProviderErrorOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeProviderError(tt.err))
		})
	}
}

func TestRecordDecision(t *testing.T) {
	// Metrics are global so values cannot be asserted directly; verify
	// the helpers accept the full label space without panicking.
	assert.NotPanics(t, func() {
		RecordDecision("EXECUTE", 92.0, 1.16)
		RecordDecision("WAIT", 69.0, 0)
		RecordDecision("SKIP", 40.0, 0)
	})
}

func TestRecordWebhookAndRejection(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordWebhook("saty_phase", 12.5)
		RecordWebhook("analyst_signal", 48.0)
		RecordWebhookRejected("malformed JSON body")
		RecordWebhookRejected("unknown webhook source")
	})
}

func TestUpdateDegradation(t *testing.T) {
	assert.NotPanics(t, func() {
		UpdateDegradation("NONE", 3, 3)
		UpdateDegradation("MINOR", 3, 4)
		UpdateDegradation("MAJOR", 1, 3)
		UpdateDegradation("SEVERE", 0, 3)
	})
}

func TestProviderAndCacheHelpers(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordProviderRequest("options", 120.0, nil)
		RecordProviderRequest("analytics", 600.0, errors.New("context deadline exceeded"))
		RecordCacheOperation("memory", true)
		RecordCacheOperation("redis", false)
		RecordQuotaExhausted("liquidity", "minute")
	})
}

func TestLedgerAndTransportHelpers(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordLedgerWrite("append", true, 4.2)
		RecordLedgerWrite("append", false, 55.0)
		UpdateDatabaseConnections(8, 2)
		RecordIntentPublished(true)
		RecordIntentPublished(false)
		RecordHTTPRequest("POST", "/api/webhooks/signals", 200, 35.1)
		UpdateContextCompleteness("SPY", 0.8)
		RecordGateFailure("market")
	})
}
