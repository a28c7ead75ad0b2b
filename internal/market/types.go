// Package market fetches and derives real-time market intelligence
// from third-party providers, with caching, per-provider quotas, and
// typed fallbacks.
package market

import "time"

// Provider names; also the cache-key and quota-key prefixes.
const (
	ProviderOptions   = "options"
	ProviderAnalytics = "analytics"
	ProviderLiquidity = "liquidity"
)

// GammaBias is the dealer-gamma positioning read from options flow.
type GammaBias string

const (
	GammaPositive GammaBias = "POSITIVE"
	GammaNegative GammaBias = "NEGATIVE"
	GammaNeutral  GammaBias = "NEUTRAL"
)

// TradeVelocity grades current volume against its average.
type TradeVelocity string

const (
	VelocitySlow   TradeVelocity = "SLOW"
	VelocityNormal TradeVelocity = "NORMAL"
	VelocityFast   TradeVelocity = "FAST"
)

// OptionsData is the derived options-flow section.
type OptionsData struct {
	PutCallRatio float64   `json:"put_call_ratio"`
	IVPercentile float64   `json:"iv_percentile"`
	GammaBias    GammaBias `json:"gamma_bias"`
	OptionVolume float64   `json:"option_volume"`
	MaxPain      float64   `json:"max_pain"`
}

// StatsData is the derived technical-analytics section.
type StatsData struct {
	ATR14       float64 `json:"atr14"`
	RV20        float64 `json:"rv20"`
	TrendSlope  float64 `json:"trend_slope"` // -1..1
	RSI         float64 `json:"rsi"`         // 0..100
	Volume      float64 `json:"volume"`
	VolumeRatio float64 `json:"volume_ratio"`
}

// LiquidityData is the derived order-book section.
type LiquidityData struct {
	SpreadBps     float64       `json:"spread_bps"`
	DepthScore    float64       `json:"depth_score"` // 0..100
	TradeVelocity TradeVelocity `json:"trade_velocity"`
	BidSize       float64       `json:"bid_size"`
	AskSize       float64       `json:"ask_size"`
}

// Context is the merged market snapshot handed to the decision engine.
// Sections are nil when the provider failed and no fallback value was
// configured; Completeness is successful fetches over total feeds.
type Context struct {
	Options      *OptionsData   `json:"options,omitempty"`
	Stats        *StatsData     `json:"stats,omitempty"`
	Liquidity    *LiquidityData `json:"liquidity,omitempty"`
	FetchTime    time.Time      `json:"fetch_time"`
	Completeness float64        `json:"completeness"`
	Errors       []string       `json:"errors,omitempty"`
}

// AvailableFeeds counts the sections that were fetched successfully.
func (c *Context) AvailableFeeds() int {
	n := 0
	if c.Options != nil {
		n++
	}
	if c.Stats != nil {
		n++
	}
	if c.Liquidity != nil {
		n++
	}
	return n
}

// Raw provider shapes consumed by the derivation layer. Only the
// fields enumerated here are read; everything else a vendor returns is
// ignored.

// ChainContract is one option contract row from the chain endpoint.
type ChainContract struct {
	Strike       float64 `json:"strike"`
	Side         string  `json:"side"` // "call" or "put"
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
	Gamma        float64 `json:"gamma"`
	IV           float64 `json:"iv"`
}

// Bar is one OHLCV row from the time-series endpoint, oldest first.
type Bar struct {
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// BookSnapshot is the top-of-book quote from the liquidity endpoint.
type BookSnapshot struct {
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	BidSize   float64 `json:"bid_size"`
	AskSize   float64 `json:"ask_size"`
	Volume    float64 `json:"volume"`
	AvgVolume float64 `json:"avg_volume"`
}
