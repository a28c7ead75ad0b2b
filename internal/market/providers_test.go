package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/faults"
)

func feedFor(url string) config.FeedConfig {
	return config.FeedConfig{BaseURL: url, TimeoutMS: 2000}
}

func TestProviderStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   faults.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, faults.KindAuthenticationFailed},
		{"forbidden", http.StatusForbidden, faults.KindAuthenticationFailed},
		{"rate limited", http.StatusTooManyRequests, faults.KindRateLimited},
		{"bad request", http.StatusBadRequest, faults.KindAPIError},
		{"server error", http.StatusInternalServerError, faults.KindAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewLiquidityClient(feedFor(srv.URL))
			_, err := client.FetchBook(context.Background(), "SPY")
			require.Error(t, err)
			assert.Equal(t, tt.kind, faults.KindOf(err))
		})
	}
}

func TestProviderDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SPY", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bid": 430.0, "ask": 430.05, "bid_size": 500, "ask_size": 400}`))
	}))
	defer srv.Close()

	client := NewLiquidityClient(feedFor(srv.URL))
	book, err := client.FetchBook(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 430.0, book.Bid)
	assert.Equal(t, 430.05, book.Ask)
}
