package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/faults"
	"github.com/tradeforge/confluence/internal/metrics"
)

// TotalFeeds is the number of provider sections a full Context carries.
const TotalFeeds = 3

// Builder fans out to the three providers in parallel and merges their
// derived sections into a Context. Provider failures are soft: the
// section stays nil, the error string is recorded, and completeness
// drops accordingly.
type Builder struct {
	options   OptionsProvider
	analytics AnalyticsProvider
	liquidity LiquidityProvider
	cache     FeedCache
	quota     *QuotaLimiter
	ttls      config.CacheTTLConfig
	feeds     map[string]config.FeedConfig
	retry     faults.RetryPolicy
	now       func() time.Time
}

// NewBuilder wires the fetch pipeline. Pass nil for now to use
// time.Now.
func NewBuilder(
	options OptionsProvider,
	analytics AnalyticsProvider,
	liquidity LiquidityProvider,
	cache FeedCache,
	quota *QuotaLimiter,
	cfg *config.Config,
	now func() time.Time,
) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{
		options:   options,
		analytics: analytics,
		liquidity: liquidity,
		cache:     cache,
		quota:     quota,
		ttls:      cfg.Market.CacheTTLs,
		feeds:     cfg.Market.Feeds,
		retry: faults.RetryPolicy{
			Attempts: cfg.Retry.Attempts,
			Delay:    cfg.Retry.Delay(),
		},
		now: now,
	}
}

// Build fetches all three sections for the symbol. It never fails
// outright: the worst case is a Context with zero sections and three
// recorded errors. Errors are reported in provider order (options,
// analytics, liquidity).
func (b *Builder) Build(ctx context.Context, symbol string) *Context {
	start := b.now()
	var (
		optData  *OptionsData
		statData *StatsData
		liqData  *LiquidityData
		errs     [TotalFeeds]string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		optData, errs[0] = b.fetchOptions(gctx, symbol)
		return nil
	})
	g.Go(func() error {
		statData, errs[1] = b.fetchStats(gctx, symbol)
		return nil
	})
	g.Go(func() error {
		liqData, errs[2] = b.fetchLiquidity(gctx, symbol)
		return nil
	})
	_ = g.Wait()

	mc := &Context{
		Options:   optData,
		Stats:     statData,
		Liquidity: liqData,
		FetchTime: start,
	}
	for _, e := range errs {
		if e != "" {
			mc.Errors = append(mc.Errors, e)
		}
	}
	mc.Completeness = float64(mc.AvailableFeeds()) / TotalFeeds

	log.Debug().
		Str("symbol", symbol).
		Float64("completeness", mc.Completeness).
		Dur("elapsed", b.now().Sub(start)).
		Strs("errors", mc.Errors).
		Msg("Market context built")
	return mc
}

// cacheGet looks the key up and feeds the cache operation counter.
func (b *Builder) cacheGet(ctx context.Context, key string, out interface{}) bool {
	hit := b.cache.Get(ctx, key, out)
	metrics.RecordCacheOperation(b.cache.Tier(), hit)
	return hit
}

func (b *Builder) fetchOptions(ctx context.Context, symbol string) (*OptionsData, string) {
	key := CacheKey(ProviderOptions, "chain", symbol)
	var cached OptionsData
	if b.cacheGet(ctx, key, &cached) {
		return &cached, ""
	}
	contracts, err := fetchWithBudget(ctx, b, ProviderOptions, func(callCtx context.Context) ([]ChainContract, error) {
		return b.options.FetchChain(callCtx, symbol)
	})
	if err != nil {
		return nil, softError(ProviderOptions, err)
	}
	data := DeriveOptions(contracts)
	b.cache.Set(ctx, key, data, time.Duration(b.ttls.IndicatorMS)*time.Millisecond)
	return data, ""
}

func (b *Builder) fetchStats(ctx context.Context, symbol string) (*StatsData, string) {
	key := CacheKey(ProviderAnalytics, "bars", symbol)
	var cached StatsData
	if b.cacheGet(ctx, key, &cached) {
		return &cached, ""
	}
	bars, err := fetchWithBudget(ctx, b, ProviderAnalytics, func(callCtx context.Context) ([]Bar, error) {
		return b.analytics.FetchBars(callCtx, symbol)
	})
	if err != nil {
		return nil, softError(ProviderAnalytics, err)
	}
	data := DeriveStats(bars)
	b.cache.Set(ctx, key, data, time.Duration(b.ttls.IndicatorMS)*time.Millisecond)
	return data, ""
}

func (b *Builder) fetchLiquidity(ctx context.Context, symbol string) (*LiquidityData, string) {
	key := CacheKey(ProviderLiquidity, "book", symbol)
	var cached LiquidityData
	if b.cacheGet(ctx, key, &cached) {
		return &cached, ""
	}
	book, err := fetchWithBudget(ctx, b, ProviderLiquidity, func(callCtx context.Context) (*BookSnapshot, error) {
		return b.liquidity.FetchBook(callCtx, symbol)
	})
	if err != nil {
		return nil, softError(ProviderLiquidity, err)
	}
	data := DeriveLiquidity(book)
	b.cache.Set(ctx, key, data, time.Duration(b.ttls.LiquidityMS)*time.Millisecond)
	return data, ""
}

// fetchWithBudget enforces the quota, per-call deadline, and retry
// policy around one provider call.
func fetchWithBudget[T any](ctx context.Context, b *Builder, provider string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !b.quota.CanMakeRequest(provider) {
		return zero, faults.New(faults.KindRateLimited, "provider "+provider+" over quota")
	}

	timeout := 600 * time.Millisecond
	if feed, ok := b.feeds[provider]; ok && feed.TimeoutMS > 0 {
		timeout = feed.Timeout()
	}

	var result T
	err := b.retry.Retry(ctx, provider, func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		b.quota.RecordRequest(provider)
		callStart := b.now()
		var callErr error
		result, callErr = fn(callCtx)
		metrics.RecordProviderRequest(provider, float64(b.now().Sub(callStart).Milliseconds()), callErr)
		return callErr
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

// softError renders a provider failure for the Context error list.
func softError(provider string, err error) string {
	return fmt.Sprintf("%s: %s: %v", provider, faults.KindOf(err), err)
}

// DeriveOptions turns a raw option chain into the options section.
func DeriveOptions(contracts []ChainContract) *OptionsData {
	var putVol, callVol, totalVol float64
	for _, c := range contracts {
		totalVol += c.Volume
		switch c.Side {
		case "put":
			putVol += c.Volume
		case "call":
			callVol += c.Volume
		}
	}
	pcr := PutCallRatio(putVol, callVol)
	return &OptionsData{
		PutCallRatio: pcr,
		IVPercentile: IVPercentile(contracts),
		GammaBias:    GammaBiasFromChain(contracts, pcr),
		OptionVolume: totalVol,
		MaxPain:      MaxPain(contracts),
	}
}

// DeriveStats turns an OHLCV series (oldest first) into the analytics
// section.
func DeriveStats(bars []Bar) *StatsData {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	data := &StatsData{
		ATR14:      ATR14(bars),
		RV20:       RV20(closes),
		TrendSlope: TrendSlope(closes),
		RSI:        RSI(closes),
	}
	if len(bars) > 0 {
		data.Volume = bars[len(bars)-1].Volume
		data.VolumeRatio = volumeRatio(bars)
	}
	return data
}

// volumeRatio compares the latest bar's volume to the average of the
// preceding bars, up to 20.
func volumeRatio(bars []Bar) float64 {
	if len(bars) < 2 {
		return 1.0
	}
	prior := bars[:len(bars)-1]
	if len(prior) > 20 {
		prior = prior[len(prior)-20:]
	}
	sum := 0.0
	for _, bar := range prior {
		sum += bar.Volume
	}
	avg := sum / float64(len(prior))
	if avg == 0 {
		return 1.0
	}
	return bars[len(bars)-1].Volume / avg
}

// DeriveLiquidity turns a book snapshot into the liquidity section.
func DeriveLiquidity(book *BookSnapshot) *LiquidityData {
	return &LiquidityData{
		SpreadBps:     SpreadBps(book.Bid, book.Ask),
		DepthScore:    DepthScore(book.BidSize, book.AskSize),
		TradeVelocity: Velocity(book.Volume, book.AvgVolume),
		BidSize:       book.BidSize,
		AskSize:       book.AskSize,
	}
}
