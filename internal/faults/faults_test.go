package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed error", New(KindUnknownSource, "no marker matched"), KindUnknownSource},
		{"wrapped typed error", fmt.Errorf("route: %w", New(KindSchemaValidation, "bad shape")), KindSchemaValidation},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"plain error", errors.New("boom"), KindCalculationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"timeout string", errors.New("context deadline exceeded (Client.Timeout)"), KindTimeout},
		{"rate limited", errors.New("unexpected status 429 Too Many Requests"), KindRateLimited},
		{"auth", errors.New("401 Unauthorized"), KindAuthenticationFailed},
		{"client error", errors.New("status 404 not found"), KindAPIError},
		{"network", errors.New("dial tcp: connection refused"), KindNetworkError},
		{"unknown", errors.New("something odd"), KindAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindTimeout, "provider timed out")))
	assert.True(t, IsRetryable(New(KindNetworkError, "conn reset")))
	assert.False(t, IsRetryable(New(KindAuthenticationFailed, "bad key")))
	assert.False(t, IsRetryable(New(KindAPIError, "400")))
	assert.False(t, IsRetryable(New(KindRateLimited, "quota")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, HTTPStatus(KindUnknownSource))
	assert.Equal(t, 400, HTTPStatus(KindSchemaValidation))
	assert.Equal(t, 401, HTTPStatus(KindAuthenticationFailed))
	assert.Equal(t, 429, HTTPStatus(KindRateLimited))
	assert.Equal(t, 404, HTTPStatus(KindEntryNotFound))
	assert.Equal(t, 409, HTTPStatus(KindOverwriteNotAllowed))
	assert.Equal(t, 409, HTTPStatus(KindInvalidUpdate))
	assert.Equal(t, 500, HTTPStatus(KindCalculationError))
}

func TestDegradationFor(t *testing.T) {
	tests := []struct {
		available int
		total     int
		level     DegradationLevel
		penalty   float64
		reduction float64
	}{
		{3, 3, DegradationNone, 0, 0},
		{2, 3, DegradationMajor, 15, 0.15}, // 0.667 is not > 0.67
		{1, 3, DegradationMajor, 15, 0.15},
		{0, 3, DegradationSevere, 30, 0.24},
		{7, 9, DegradationMinor, 5, 0.06},
		{0, 0, DegradationSevere, 30, 0.24},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.available, tt.total), func(t *testing.T) {
			d := DegradationFor(tt.available, tt.total)
			assert.Equal(t, tt.level, d.Level)
			assert.Equal(t, tt.penalty, d.ConfidencePenalty)
			assert.Equal(t, tt.reduction, d.SizeReduction)
		})
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{Attempts: 2, Delay: time.Millisecond}
	calls := 0
	err := policy.Retry(context.Background(), "fetch", func() error {
		calls++
		if calls < 3 {
			return New(KindTimeout, "slow provider")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	policy := RetryPolicy{Attempts: 5, Delay: time.Millisecond}
	calls := 0
	err := policy.Retry(context.Background(), "fetch", func() error {
		calls++
		return New(KindAuthenticationFailed, "bad key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, KindAuthenticationFailed, KindOf(err))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{Attempts: 2, Delay: time.Millisecond}
	calls := 0
	err := policy.Retry(context.Background(), "fetch", func() error {
		calls++
		return New(KindNetworkError, "conn reset")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRedact(t *testing.T) {
	payload := map[string]interface{}{
		"symbol": "SPY",
		"apiKey": "sk-live-abc123",
		"nested": map[string]interface{}{
			"token": "t0ps3cret",
			"price": 430.25,
		},
	}
	got := Redact(payload)
	assert.Equal(t, "***", got["apiKey"])
	assert.Equal(t, "SPY", got["symbol"])
	nested := got["nested"].(map[string]interface{})
	assert.Equal(t, "***", nested["token"])
	assert.Equal(t, 430.25, nested["price"])
	// original untouched
	assert.Equal(t, "sk-live-abc123", payload["apiKey"])
}

func TestRedactTruncatesLongArrays(t *testing.T) {
	items := make([]interface{}, 25)
	for i := range items {
		items[i] = i
	}
	got := Redact(map[string]interface{}{"components": items})
	arr := got["components"].([]interface{})
	require.Len(t, arr, 11)
	assert.Equal(t, "...(+15 more)", arr[10])
}

func TestNewErrorResponseRedactsDetails(t *testing.T) {
	err := New(KindSchemaValidation, "payload is not an object").
		WithDetails(map[string]interface{}{"secret": "hunter2", "field": "signal"})
	resp := NewErrorResponse(err, "2.1.0")
	assert.False(t, resp.Success)
	assert.Equal(t, KindSchemaValidation, resp.Type)
	assert.Equal(t, "2.1.0", resp.EngineVersion)
	assert.Equal(t, "***", resp.Details["secret"])
	assert.Equal(t, "signal", resp.Details["field"])
}
