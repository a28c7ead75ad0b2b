package decision

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/faults"
)

// ApplyDegradation applies the conservative bias for a degraded market
// snapshot: the confidence penalty comes off the score, the size is
// scaled down, and an EXECUTE that no longer clears the execute
// threshold is downgraded to WAIT.
func (e *Engine) ApplyDegradation(p *Packet, d faults.Degradation) *Packet {
	p.Degradation = &d
	if d.Level == faults.DegradationNone {
		return p
	}

	p.ConfidenceScore = round1(clamp(p.ConfidenceScore-d.ConfidencePenalty, 0, 100))
	p.Reasons = append(p.Reasons, fmt.Sprintf(
		"degradation %s (%d/%d feeds): confidence -%g, size x%g",
		d.Level, d.AvailableFeeds, d.TotalFeeds, d.ConfidencePenalty, 1-d.SizeReduction))

	if p.Action != ActionExecute {
		return p
	}

	scaled := p.FinalSizeMultiplier * (1 - d.SizeReduction)
	if p.ConfidenceScore < e.cfg.ExecuteThreshold {
		p.Action = ActionWait
		p.FinalSizeMultiplier = 0
		p.Reasons = append(p.Reasons, fmt.Sprintf(
			"downgraded to WAIT: biased confidence %.1f below execute threshold %.0f",
			p.ConfidenceScore, e.cfg.ExecuteThreshold))
		log.Info().
			Str("level", string(d.Level)).
			Float64("confidence", p.ConfidenceScore).
			Msg("Execute downgraded to wait under degraded market data")
		return p
	}
	p.FinalSizeMultiplier = round2(clamp(scaled, e.cfg.MinSizeMultiplier, e.cfg.MaxSizeMultiplier))
	return p
}
