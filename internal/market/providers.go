package market

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/faults"
)

// OptionsProvider serves the option chain for a symbol.
type OptionsProvider interface {
	FetchChain(ctx context.Context, symbol string) ([]ChainContract, error)
}

// AnalyticsProvider serves OHLCV history for a symbol, oldest first.
type AnalyticsProvider interface {
	FetchBars(ctx context.Context, symbol string) ([]Bar, error)
}

// LiquidityProvider serves the top-of-book snapshot for a symbol.
type LiquidityProvider interface {
	FetchBook(ctx context.Context, symbol string) (*BookSnapshot, error)
}

// httpProvider is the shared resty + circuit-breaker plumbing behind
// the three concrete providers.
type httpProvider struct {
	name    string
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
}

func newHTTPProvider(name string, feed config.FeedConfig) *httpProvider {
	client := resty.New().
		SetBaseURL(feed.BaseURL).
		SetTimeout(time.Duration(feed.TimeoutMS) * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if feed.APIKeyEnv != "" {
		if key := os.Getenv(feed.APIKeyEnv); key != "" {
			client.SetHeader("Authorization", "Bearer "+key)
		} else {
			log.Warn().
				Str("provider", name).
				Str("env", feed.APIKeyEnv).
				Msg("Provider API key env var is empty, requests will be unauthenticated")
		}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Provider circuit breaker state changed")
		},
	})

	return &httpProvider{name: name, client: client, breaker: breaker}
}

// get runs one GET through the breaker, decoding the body into out.
func (p *httpProvider) get(ctx context.Context, path, symbol string, out interface{}) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		resp, err := p.client.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol).
			SetResult(out).
			Get(path)
		if err != nil {
			return nil, faults.Wrap(faults.Classify(err), "provider "+p.name+" request failed", err)
		}
		switch {
		case resp.StatusCode() == http.StatusTooManyRequests:
			return nil, faults.New(faults.KindRateLimited, "provider "+p.name+" rate limited")
		case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
			return nil, faults.Newf(faults.KindAuthenticationFailed, "provider %s rejected credentials with status %d", p.name, resp.StatusCode())
		case resp.StatusCode() >= 400:
			return nil, faults.Newf(faults.KindAPIError, "provider %s returned status %d", p.name, resp.StatusCode())
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return faults.Wrap(faults.KindNetworkError, "provider "+p.name+" circuit open", err)
	}
	return err
}

// OptionsClient talks to the options-chain vendor.
type OptionsClient struct {
	*httpProvider
}

// NewOptionsClient builds the options provider from its feed config.
func NewOptionsClient(feed config.FeedConfig) *OptionsClient {
	return &OptionsClient{newHTTPProvider(ProviderOptions, feed)}
}

type chainResponse struct {
	Contracts []ChainContract `json:"contracts"`
}

// FetchChain returns the option chain for the symbol.
func (c *OptionsClient) FetchChain(ctx context.Context, symbol string) ([]ChainContract, error) {
	var result chainResponse
	if err := c.get(ctx, "/v1/chain", symbol, &result); err != nil {
		return nil, err
	}
	return result.Contracts, nil
}

// AnalyticsClient talks to the time-series analytics vendor.
type AnalyticsClient struct {
	*httpProvider
}

// NewAnalyticsClient builds the analytics provider from its feed config.
func NewAnalyticsClient(feed config.FeedConfig) *AnalyticsClient {
	return &AnalyticsClient{newHTTPProvider(ProviderAnalytics, feed)}
}

type barsResponse struct {
	Bars []Bar `json:"bars"`
}

// FetchBars returns OHLCV history for the symbol, oldest first.
func (c *AnalyticsClient) FetchBars(ctx context.Context, symbol string) ([]Bar, error) {
	var result barsResponse
	if err := c.get(ctx, "/v1/bars", symbol, &result); err != nil {
		return nil, err
	}
	return result.Bars, nil
}

// LiquidityClient talks to the order-book vendor.
type LiquidityClient struct {
	*httpProvider
}

// NewLiquidityClient builds the liquidity provider from its feed config.
func NewLiquidityClient(feed config.FeedConfig) *LiquidityClient {
	return &LiquidityClient{newHTTPProvider(ProviderLiquidity, feed)}
}

// FetchBook returns the top-of-book snapshot for the symbol.
func (c *LiquidityClient) FetchBook(ctx context.Context, symbol string) (*BookSnapshot, error) {
	var result BookSnapshot
	if err := c.get(ctx, "/v1/book", symbol, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
