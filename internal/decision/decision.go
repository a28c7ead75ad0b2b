// Package decision implements the deterministic gate pipeline that
// turns a complete per-symbol context plus a market snapshot into an
// EXECUTE, WAIT, or SKIP verdict with a sized confidence score.
package decision

import (
	"time"

	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/faults"
	"github.com/tradeforge/confluence/internal/market"
)

// Action is the engine verdict.
type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionWait    Action = "WAIT"
	ActionSkip    Action = "SKIP"
)

// GateResult carries one gate's outcome: the boolean, the fact that
// decided it, and a 0..100 diagnostic score.
type GateResult struct {
	Passed bool    `json:"passed"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score"`
}

// GateResults groups the three gate outcomes in evaluation order.
type GateResults struct {
	Regime     GateResult `json:"regime"`
	Structural GateResult `json:"structural"`
	Market     GateResult `json:"market"`
}

// Breakdown records the multiplier chain behind the final size so a
// verdict is reproducible from the stored packet alone.
type Breakdown struct {
	BaseSize        float64 `json:"base_size"`
	PhaseCap        float64 `json:"phase_cap"`
	VolatilityCap   float64 `json:"volatility_cap"`
	QualityBoost    float64 `json:"quality_boost"`
	AlignmentBonus  float64 `json:"alignment_bonus"`
	ExpertScore     float64 `json:"expert_score"`
	AlignmentScore  float64 `json:"alignment_score"`
	MarketScore     float64 `json:"market_score"`
	StructuralScore float64 `json:"structural_score"`
}

// Packet is the full decision record handed to the ledger.
type Packet struct {
	Action              Action                        `json:"action"`
	Direction           contextstore.Direction        `json:"direction,omitempty"`
	FinalSizeMultiplier float64                       `json:"final_size_multiplier"`
	ConfidenceScore     float64                       `json:"confidence_score"`
	Reasons             []string                      `json:"reasons"`
	EngineVersion       string                        `json:"engine_version"`
	Gates               GateResults                   `json:"gate_results"`
	Breakdown           Breakdown                     `json:"breakdown"`
	InputContext        *contextstore.DecisionContext `json:"input_context,omitempty"`
	MarketSnapshot      *market.Context               `json:"market_snapshot,omitempty"`
	Degradation         *faults.Degradation           `json:"degradation,omitempty"`
	Timestamp           time.Time                     `json:"timestamp"`
}
