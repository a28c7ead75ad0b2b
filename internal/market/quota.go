package market

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/metrics"
)

type providerQuota struct {
	perDay     int
	perMin     int
	dayCount   int
	minCount   int
	dayResetAt time.Time
	minResetAt time.Time
}

// QuotaLimiter enforces per-provider daily and per-minute request
// budgets with lazily reset sliding windows.
type QuotaLimiter struct {
	mu        sync.Mutex
	providers map[string]*providerQuota
	now       func() time.Time
}

// NewQuotaLimiter builds a limiter from the feed configs. Pass nil for
// time.Now.
func NewQuotaLimiter(feeds map[string]config.FeedConfig, now func() time.Time) *QuotaLimiter {
	if now == nil {
		now = time.Now
	}
	providers := make(map[string]*providerQuota, len(feeds))
	start := now()
	for name, feed := range feeds {
		providers[name] = &providerQuota{
			perDay:     feed.PerDayLimit,
			perMin:     feed.PerMinLimit,
			dayResetAt: start.Add(24 * time.Hour),
			minResetAt: start.Add(time.Minute),
		}
	}
	return &QuotaLimiter{providers: providers, now: now}
}

// CanMakeRequest reports whether the provider has budget in both
// windows, resetting any window that has elapsed.
func (q *QuotaLimiter) CanMakeRequest(provider string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.providers[provider]
	if !ok {
		return false
	}
	q.resetElapsed(p)
	if p.dayCount >= p.perDay || p.minCount >= p.perMin {
		window := "minute"
		if p.dayCount >= p.perDay {
			window = "day"
		}
		metrics.RecordQuotaExhausted(provider, window)
		log.Warn().
			Str("provider", provider).
			Str("window", window).
			Int("day_count", p.dayCount).
			Int("min_count", p.minCount).
			Msg("Provider over quota, call will be skipped")
		return false
	}
	return true
}

// RecordRequest increments both window counters.
func (q *QuotaLimiter) RecordRequest(provider string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.providers[provider]
	if !ok {
		return
	}
	q.resetElapsed(p)
	p.dayCount++
	p.minCount++
}

func (q *QuotaLimiter) resetElapsed(p *providerQuota) {
	now := q.now()
	if !now.Before(p.dayResetAt) {
		p.dayCount = 0
		p.dayResetAt = now.Add(24 * time.Hour)
	}
	if !now.Before(p.minResetAt) {
		p.minCount = 0
		p.minResetAt = now.Add(time.Minute)
	}
}

// Usage reports current counters for one provider.
func (q *QuotaLimiter) Usage(provider string) (day, min int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.providers[provider]
	if !ok {
		return 0, 0
	}
	q.resetElapsed(p)
	return p.dayCount, p.minCount
}
