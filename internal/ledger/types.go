// Package ledger persists every engine verdict to an append-only
// record. Entries are immutable after insert except for a single exit
// (EXECUTE entries) or a single hypothetical outcome (non-EXECUTE
// entries). Two interchangeable backends implement the same contract.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/decision"
)

// TradeType buckets a signal timeframe into a holding-period class.
type TradeType string

const (
	TradeScalp TradeType = "SCALP"
	TradeDay   TradeType = "DAY"
	TradeSwing TradeType = "SWING"
)

// DTE buckets group days-to-expiration for options signals.
const (
	DTEBucketZero    = "0DTE"
	DTEBucketWeekly  = "WEEKLY"
	DTEBucketMonthly = "MONTHLY"
)

// SignalSnapshot is the inbound signal as it looked at decision time.
type SignalSnapshot struct {
	Ticker    string                 `json:"ticker"`
	Direction contextstore.Direction `json:"direction"`
	Timeframe string                 `json:"timeframe,omitempty"`
	Quality   contextstore.Quality   `json:"quality"`
	AIScore   float64                `json:"ai_score"`
	DTE       *int                   `json:"dte,omitempty"`
	Price     *float64               `json:"price,omitempty"`
}

// RegimeSnapshot is the phase context as it looked at decision time.
type RegimeSnapshot struct {
	Phase      int                     `json:"phase"`
	PhaseName  string                  `json:"phase_name"`
	Volatility contextstore.Volatility `json:"volatility"`
	Confidence float64                 `json:"confidence"`
	Bias       contextstore.Direction  `json:"bias"`
}

// Execution records the sized trade intent for an EXECUTE verdict.
type Execution struct {
	Direction      contextstore.Direction `json:"direction"`
	SizeMultiplier float64                `json:"size_multiplier"`
	EntryPrice     *float64               `json:"entry_price,omitempty"`
	At             time.Time              `json:"at"`
}

// Exit records the realized outcome of an executed trade. Settable at
// most once.
type Exit struct {
	Price  float64   `json:"price"`
	Reason string    `json:"reason"`
	NetPnL float64   `json:"net_pnl"`
	At     time.Time `json:"at"`
}

// Hypothetical records what a skipped or waited signal would have
// done. Settable at most once, only on non-EXECUTE entries.
type Hypothetical struct {
	Outcome string    `json:"outcome"` // WIN or LOSS
	NetPnL  float64   `json:"net_pnl"`
	At      time.Time `json:"at"`
}

// Entry is one immutable ledger record.
type Entry struct {
	ID                string                `json:"id"`
	CreatedAt         time.Time             `json:"created_at"`
	EngineVersion     string                `json:"engine_version"`
	Signal            SignalSnapshot        `json:"signal"`
	PhaseContext      *RegimeSnapshot       `json:"phase_context,omitempty"`
	Decision          decision.Action       `json:"decision"`
	DecisionReason    string                `json:"decision_reason"`
	DecisionBreakdown decision.Breakdown    `json:"decision_breakdown"`
	ConfluenceScore   float64               `json:"confluence_score"`
	Execution         *Execution            `json:"execution,omitempty"`
	ExitData          *Exit                 `json:"exit_data,omitempty"`
	Regime            RegimeSnapshot        `json:"regime"`
	Hypothetical      *Hypothetical         `json:"hypothetical,omitempty"`
	GateResults       *decision.GateResults `json:"gate_results,omitempty"`
}

// Filters narrows a ledger query. Zero values mean "any"; pointer
// fields distinguish unset from false/zero.
type Filters struct {
	Timeframe       string
	Quality         contextstore.Quality
	Decision        decision.Action
	DTEBucket       string
	TradeType       TradeType
	Volatility      contextstore.Volatility
	From            *time.Time
	To              *time.Time
	Ticker          string
	HasExit         *bool
	HasHypothetical *bool
	MinConfluence   *float64
	MaxConfluence   *float64
	ExitReason      string
	Limit           int
}

// Aggregates summarizes a set of ledger entries.
type Aggregates struct {
	Total             int            `json:"total"`
	ByDecision        map[string]int `json:"by_decision"`
	WithExit          int            `json:"with_exit"`
	WithoutExit       int            `json:"without_exit"`
	WithHypothetical  int            `json:"with_hypothetical"`
	AverageConfluence float64        `json:"average_confluence"`
	NetPnL            float64        `json:"net_pnl"`
	Wins              int            `json:"wins"`
	Losses            int            `json:"losses"`
}

// Ledger is the append-only persistence contract.
type Ledger interface {
	Append(ctx context.Context, entry *Entry) (*Entry, error)
	UpdateExit(ctx context.Context, id string, exit Exit) error
	UpdateHypothetical(ctx context.Context, id string, hypo Hypothetical) error
	Get(ctx context.Context, id string) (*Entry, error)
	Query(ctx context.Context, filters Filters) ([]*Entry, error)
	Aggregates(ctx context.Context, filters Filters) (*Aggregates, error)
}

// maxQueryLimit caps every query result regardless of the requested
// limit.
const maxQueryLimit = 1000

// effectiveLimit clamps a requested limit into (0, maxQueryLimit].
func effectiveLimit(requested int) int {
	if requested <= 0 || requested > maxQueryLimit {
		return maxQueryLimit
	}
	return requested
}

// ClassifyTradeType buckets a timeframe tag into SCALP, DAY, or SWING.
// Minute frames up to 5m scalp, intraday frames up to 4h are day
// trades, anything daily or above swings.
func ClassifyTradeType(timeframe string) TradeType {
	switch strings.ToLower(timeframe) {
	case "1m", "2m", "3m", "5m":
		return TradeScalp
	case "10m", "15m", "30m", "1h", "2h", "4h":
		return TradeDay
	default:
		return TradeSwing
	}
}

// ClassifyDTEBucket buckets days-to-expiration.
func ClassifyDTEBucket(dte int) string {
	switch {
	case dte <= 0:
		return DTEBucketZero
	case dte <= 7:
		return DTEBucketWeekly
	default:
		return DTEBucketMonthly
	}
}

// matches applies every in-memory filter to one entry.
func (f Filters) matches(e *Entry) bool {
	if f.Timeframe != "" && e.Signal.Timeframe != f.Timeframe {
		return false
	}
	if f.Quality != "" && e.Signal.Quality != f.Quality {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if f.TradeType != "" && ClassifyTradeType(e.Signal.Timeframe) != f.TradeType {
		return false
	}
	if f.DTEBucket != "" {
		if e.Signal.DTE == nil || ClassifyDTEBucket(*e.Signal.DTE) != f.DTEBucket {
			return false
		}
	}
	if f.Volatility != "" && e.Regime.Volatility != f.Volatility {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	if f.Ticker != "" && e.Signal.Ticker != f.Ticker {
		return false
	}
	if f.HasExit != nil && (e.ExitData != nil) != *f.HasExit {
		return false
	}
	if f.HasHypothetical != nil && (e.Hypothetical != nil) != *f.HasHypothetical {
		return false
	}
	if f.MinConfluence != nil && e.ConfluenceScore < *f.MinConfluence {
		return false
	}
	if f.MaxConfluence != nil && e.ConfluenceScore > *f.MaxConfluence {
		return false
	}
	if f.ExitReason != "" && (e.ExitData == nil || e.ExitData.Reason != f.ExitReason) {
		return false
	}
	return true
}

// aggregate folds entries into the summary counters.
func aggregate(entries []*Entry) *Aggregates {
	agg := &Aggregates{ByDecision: map[string]int{}}
	var confluenceSum float64
	for _, e := range entries {
		agg.Total++
		agg.ByDecision[string(e.Decision)]++
		confluenceSum += e.ConfluenceScore
		if e.ExitData != nil {
			agg.WithExit++
			agg.NetPnL += e.ExitData.NetPnL
			if e.ExitData.NetPnL > 0 {
				agg.Wins++
			} else {
				agg.Losses++
			}
		} else {
			agg.WithoutExit++
		}
		if e.Hypothetical != nil {
			agg.WithHypothetical++
		}
	}
	if agg.Total > 0 {
		agg.AverageConfluence = confluenceSum / float64(agg.Total)
	}
	return agg
}
