// Package contextstore merges partial analytical contexts per symbol
// and materializes complete decision contexts for the engine.
package contextstore

import "time"

// Source identifies the publisher kind a webhook came from.
type Source string

const (
	SourceSatyPhase      Source = "saty_phase"
	SourceMTFAlignment   Source = "mtf_alignment"
	SourceOptionsExpert  Source = "options_expert"
	SourceRawSignal      Source = "raw_signal"
	SourceStratValidator Source = "strat_validator"
)

// Direction is a trade or bias direction.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// Volatility is the regime volatility grade.
type Volatility string

const (
	VolatilityLow    Volatility = "LOW"
	VolatilityNormal Volatility = "NORMAL"
	VolatilityHigh   Volatility = "HIGH"
)

// Quality is the expert signal quality grade.
type Quality string

const (
	QualityExtreme Quality = "EXTREME"
	QualityHigh    Quality = "HIGH"
	QualityMedium  Quality = "MEDIUM"
)

// TFState is a single timeframe's directional state.
type TFState string

const (
	TFBullish TFState = "BULLISH"
	TFBearish TFState = "BEARISH"
	TFNeutral TFState = "NEUTRAL"
)

// Instrument identifies the traded instrument. Price and Exchange are
// optional; instrument fields merge field-wise, later webhooks win per
// field.
type Instrument struct {
	Symbol   string   `json:"symbol"`
	Exchange string   `json:"exchange,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

// Regime is the phase publisher's view of the market.
type Regime struct {
	Phase      int        `json:"phase"` // 1..4
	PhaseName  string     `json:"phase_name"`
	Volatility Volatility `json:"volatility"`
	Confidence float64    `json:"confidence"` // 0..100
	Bias       Direction  `json:"bias"`
}

// Alignment is the multi-timeframe agreement snapshot.
// BullishPct + BearishPct never exceeds 100.
type Alignment struct {
	TFStates   map[string]TFState `json:"tf_states"`
	BullishPct float64            `json:"bullish_pct"`
	BearishPct float64            `json:"bearish_pct"`
}

// Expert is the signal publisher's trade idea. Timeframe and DTE are
// empty for publishers that do not carry them.
type Expert struct {
	Direction  Direction `json:"direction"`
	AIScore    float64   `json:"ai_score"` // 0.0..10.5
	Quality    Quality   `json:"quality"`
	Timeframe  string    `json:"timeframe,omitempty"`
	DTE        *int      `json:"dte,omitempty"`
	Components []string  `json:"components,omitempty"`
	RR1        float64   `json:"rr1"`
	RR2        float64   `json:"rr2"`
}

// Structure is the structural validator's verdict.
type Structure struct {
	ValidSetup       bool   `json:"valid_setup"`
	LiquidityOk      bool   `json:"liquidity_ok"`
	ExecutionQuality string `json:"execution_quality"` // A, B, C
}

// PartialContext is the normalized output of a single webhook: up to
// five optional sections.
type PartialContext struct {
	Instrument *Instrument `json:"instrument,omitempty"`
	Regime     *Regime     `json:"regime,omitempty"`
	Alignment  *Alignment  `json:"alignment,omitempty"`
	Expert     *Expert     `json:"expert,omitempty"`
	Structure  *Structure  `json:"structure,omitempty"`
}

// Meta describes the materialization of a decision context.
type Meta struct {
	EngineVersion string    `json:"engine_version"`
	ReceivedAt    time.Time `json:"received_at"`
	Completeness  float64   `json:"completeness"` // fresh sources / known sources
}

// DecisionContext is the merged, default-filled context handed to the
// decision engine once a symbol's context is complete.
type DecisionContext struct {
	Instrument Instrument `json:"instrument"`
	Regime     Regime     `json:"regime"`
	Alignment  Alignment  `json:"alignment"`
	Expert     Expert     `json:"expert"`
	Structure  Structure  `json:"structure"`
	Meta       Meta       `json:"meta"`
}

// DefaultAlignment is the semantic default when no alignment publisher
// has reported: an even split with no timeframe detail.
func DefaultAlignment() Alignment {
	return Alignment{TFStates: map[string]TFState{}, BullishPct: 50, BearishPct: 50}
}

// DefaultStructure is the semantic default when no structural validator
// has reported: nothing is validated and execution quality is worst.
func DefaultStructure() Structure {
	return Structure{ValidSetup: false, LiquidityOk: false, ExecutionQuality: "C"}
}

// SectionFor maps a source to the context section it owns.
func SectionFor(source Source) string {
	switch source {
	case SourceSatyPhase:
		return "regime"
	case SourceMTFAlignment:
		return "alignment"
	case SourceOptionsExpert, SourceRawSignal:
		return "expert"
	case SourceStratValidator:
		return "structure"
	default:
		return ""
	}
}
