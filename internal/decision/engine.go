package decision

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/market"
)

// Confidence weights. The five components are each 0..100; the sum of
// weights is 1 so the composite stays on the same scale.
const (
	weightRegime     = 0.30
	weightExpert     = 0.25
	weightAlignment  = 0.20
	weightMarket     = 0.15
	weightStructural = 0.10
)

// missingSectionScore is the market sub-check score when a provider
// section is absent from the snapshot.
const missingSectionScore = 50.0

// Engine evaluates the gate pipeline. It is pure: two calls on
// structurally equal inputs produce equal packets except Timestamp.
type Engine struct {
	cfg           *config.EngineConfig
	engineVersion string
	now           func() time.Time
}

// NewEngine builds an engine over frozen rules. Pass nil for time.Now.
func NewEngine(cfg *config.EngineConfig, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, engineVersion: cfg.Version, now: now}
}

// MakeDecision runs the three gates and the confidence calculator in a
// fixed order and returns the full packet.
func (e *Engine) MakeDecision(dc *contextstore.DecisionContext, mc *market.Context) *Packet {
	direction := dc.Expert.Direction

	regimeGate := e.regimeGate(dc.Regime, direction)
	expertScore := e.expertScore(dc.Expert)
	structuralGate := e.structuralGate(dc.Structure, dc.Expert)
	marketGate := e.marketGate(mc)
	alignmentScore := e.alignmentScore(dc.Alignment, direction)

	confidence := round1(clamp(
		weightRegime*dc.Regime.Confidence+
			weightExpert*expertScore+
			weightAlignment*alignmentScore+
			weightMarket*marketGate.Score+
			weightStructural*structuralGate.Score,
		0, 100))

	packet := &Packet{
		Direction:     direction,
		EngineVersion: e.engineVersion,
		Gates: GateResults{
			Regime:     regimeGate,
			Structural: structuralGate,
			Market:     marketGate,
		},
		ConfidenceScore: confidence,
		InputContext:    dc,
		MarketSnapshot:  mc,
		Timestamp:       e.now(),
	}
	packet.Breakdown.ExpertScore = round1(expertScore)
	packet.Breakdown.AlignmentScore = round1(alignmentScore)
	packet.Breakdown.MarketScore = round1(marketGate.Score)
	packet.Breakdown.StructuralScore = round1(structuralGate.Score)

	if !regimeGate.Passed || !structuralGate.Passed || !marketGate.Passed {
		packet.Action = ActionSkip
		packet.FinalSizeMultiplier = 0
		packet.Reasons = gateFailures(regimeGate, structuralGate, marketGate)
	} else {
		switch {
		case confidence >= e.cfg.ExecuteThreshold:
			packet.Action = ActionExecute
			packet.FinalSizeMultiplier = e.size(confidence, dc, &packet.Breakdown)
			packet.Reasons = []string{fmt.Sprintf("confidence %.1f >= execute threshold %.0f", confidence, e.cfg.ExecuteThreshold)}
		case confidence >= e.cfg.WaitThreshold:
			packet.Action = ActionWait
			packet.FinalSizeMultiplier = 0
			packet.Reasons = []string{fmt.Sprintf("confidence %.1f below execute threshold %.0f", confidence, e.cfg.ExecuteThreshold)}
		default:
			packet.Action = ActionSkip
			packet.FinalSizeMultiplier = 0
			packet.Reasons = []string{fmt.Sprintf("confidence %.1f below wait threshold %.0f", confidence, e.cfg.WaitThreshold)}
		}
	}

	log.Debug().
		Str("symbol", dc.Instrument.Symbol).
		Str("action", string(packet.Action)).
		Float64("confidence", confidence).
		Float64("size", packet.FinalSizeMultiplier).
		Msg("Decision made")
	return packet
}

// regimeGate passes iff the phase allows the direction, regime
// confidence clears the WAIT threshold, and the bias does not oppose
// the trade.
func (e *Engine) regimeGate(regime contextstore.Regime, direction contextstore.Direction) GateResult {
	rule, ok := e.cfg.RuleForPhase(regime.Phase)
	if !ok {
		return GateResult{Reason: fmt.Sprintf("unknown phase %d", regime.Phase), Score: 0}
	}
	if !rule.Allows(string(direction)) {
		return GateResult{
			Reason: fmt.Sprintf("phase %d (%s) does not allow %s", regime.Phase, rule.Name, direction),
			Score:  0,
		}
	}
	if regime.Confidence < e.cfg.WaitThreshold {
		return GateResult{
			Reason: fmt.Sprintf("regime confidence %g < %g", regime.Confidence, e.cfg.WaitThreshold),
			Score:  regime.Confidence,
		}
	}
	if regime.Bias != contextstore.DirectionNeutral && regime.Bias != direction {
		return GateResult{
			Reason: fmt.Sprintf("regime bias %s opposes %s", regime.Bias, direction),
			Score:  regime.Confidence,
		}
	}
	return GateResult{
		Passed: true,
		Reason: fmt.Sprintf("phase %d (%s) allows %s", regime.Phase, rule.Name, direction),
		Score:  regime.Confidence,
	}
}

// structuralGate passes iff the setup is validated, liquidity is
// acceptable, execution quality is above C, and the AI score clears the
// minimum. Score is the mean of the grade score and the normalized AI
// score regardless of outcome.
func (e *Engine) structuralGate(structure contextstore.Structure, expert contextstore.Expert) GateResult {
	score := (gradeScore(structure.ExecutionQuality) + normalizedAIScore(expert.AIScore)) / 2

	var failures []string
	if !structure.ValidSetup {
		failures = append(failures, "setup not validated")
	}
	if !structure.LiquidityOk {
		failures = append(failures, "liquidity not acceptable")
	}
	if structure.ExecutionQuality == "C" {
		failures = append(failures, "execution quality C")
	}
	if expert.AIScore < e.cfg.MinAIScore {
		failures = append(failures, fmt.Sprintf("ai score %g < %g", expert.AIScore, e.cfg.MinAIScore))
	}
	if len(failures) > 0 {
		return GateResult{Reason: strings.Join(failures, "; "), Score: score}
	}
	return GateResult{
		Passed: true,
		Reason: fmt.Sprintf("setup valid, quality %s, ai score %g", structure.ExecutionQuality, expert.AIScore),
		Score:  score,
	}
}

// marketGate runs the spread, ATR-spike, and depth sub-checks, each
// conditional on its section being present. A missing section passes
// at the assumed-acceptable score.
func (e *Engine) marketGate(mc *market.Context) GateResult {
	var scores []float64
	var failures []string

	if mc != nil && mc.Liquidity != nil {
		spread := mc.Liquidity.SpreadBps
		if spread > e.cfg.MaxSpreadBps {
			failures = append(failures, fmt.Sprintf("spread %gbps > %gbps", spread, e.cfg.MaxSpreadBps))
			scores = append(scores, overshootScore(spread, e.cfg.MaxSpreadBps))
		} else {
			scores = append(scores, 100)
		}
		depth := mc.Liquidity.DepthScore
		if depth < e.cfg.MinDepthScore {
			failures = append(failures, fmt.Sprintf("depth score %g < %g", depth, e.cfg.MinDepthScore))
			scores = append(scores, undershootScore(depth, e.cfg.MinDepthScore))
		} else {
			scores = append(scores, 100)
		}
	} else {
		scores = append(scores, missingSectionScore, missingSectionScore)
	}

	if mc != nil && mc.Stats != nil {
		atr := mc.Stats.ATR14
		if atr > e.cfg.MaxATRSpike {
			failures = append(failures, fmt.Sprintf("atr %g > %g", atr, e.cfg.MaxATRSpike))
			scores = append(scores, overshootScore(atr, e.cfg.MaxATRSpike))
		} else {
			scores = append(scores, 100)
		}
	} else {
		scores = append(scores, missingSectionScore)
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}
	score := total / float64(len(scores))

	if len(failures) > 0 {
		return GateResult{Reason: strings.Join(failures, "; "), Score: score}
	}
	return GateResult{Passed: true, Reason: "market conditions acceptable", Score: score}
}

// expertScore normalizes the AI score to 0..100, applies the low-score
// penalty, and scales by the quality boost.
func (e *Engine) expertScore(expert contextstore.Expert) float64 {
	score := normalizedAIScore(expert.AIScore)
	if expert.AIScore < e.cfg.MinAIScore {
		score *= e.cfg.AIScorePenalty
	}
	if boost, ok := e.cfg.QualityBoosts[string(expert.Quality)]; ok {
		score *= boost
	}
	return clamp(score, 0, 100)
}

// alignmentScore is the timeframe agreement toward the trade
// direction, with the bonus applied when it clears the threshold.
func (e *Engine) alignmentScore(alignment contextstore.Alignment, direction contextstore.Direction) float64 {
	score := alignment.BullishPct
	if direction == contextstore.DirectionShort {
		score = alignment.BearishPct
	}
	if score >= e.cfg.AlignmentBonusThreshold {
		score *= e.cfg.AlignmentBonus
	}
	return clamp(score, 0, 100)
}

// size computes the final multiplier: confidence base, capped by phase
// and volatility, scaled by quality and alignment, clamped and rounded
// to two decimals.
func (e *Engine) size(confidence float64, dc *contextstore.DecisionContext, breakdown *Breakdown) float64 {
	size := confidence / 100
	breakdown.BaseSize = round2(size)

	phaseCap := e.cfg.MaxSizeMultiplier
	if rule, ok := e.cfg.RuleForPhase(dc.Regime.Phase); ok {
		phaseCap = rule.SizeCap
	}
	breakdown.PhaseCap = phaseCap

	volCap := 1.0
	if c, ok := e.cfg.VolatilityCaps[string(dc.Regime.Volatility)]; ok {
		volCap = c
	}
	breakdown.VolatilityCap = volCap

	size = math.Min(size, math.Min(phaseCap, volCap))

	boost := 1.0
	if b, ok := e.cfg.QualityBoosts[string(dc.Expert.Quality)]; ok {
		boost = b
	}
	breakdown.QualityBoost = boost
	size *= boost

	bonus := 1.0
	directional := dc.Alignment.BullishPct
	if dc.Expert.Direction == contextstore.DirectionShort {
		directional = dc.Alignment.BearishPct
	}
	if directional >= e.cfg.AlignmentBonusThreshold {
		bonus = e.cfg.AlignmentBonus
	}
	breakdown.AlignmentBonus = bonus
	size *= bonus

	return round2(clamp(size, e.cfg.MinSizeMultiplier, e.cfg.MaxSizeMultiplier))
}

// gateFailures collects the failing gate reasons in evaluation order.
func gateFailures(gates ...GateResult) []string {
	var reasons []string
	for _, g := range gates {
		if !g.Passed {
			reasons = append(reasons, g.Reason)
		}
	}
	return reasons
}

// normalizedAIScore maps the 0..10.5 AI scale onto 0..100.
func normalizedAIScore(ai float64) float64 {
	return math.Min(100, ai/10.5*100)
}

// gradeScore maps execution quality grades onto the 0..100 scale.
func gradeScore(grade string) float64 {
	switch grade {
	case "A":
		return 100
	case "B":
		return 75
	default:
		return 0
	}
}

// overshootScore shrinks toward 0 as value exceeds an upper limit.
func overshootScore(value, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return clamp(100-(value-limit)/limit*100, 0, 100)
}

// undershootScore shrinks toward 0 as value falls below a lower limit.
func undershootScore(value, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return clamp(value/limit*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
