package webhook

import (
	"encoding/json"
	"strings"

	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/faults"
)

// Normalize maps a classified payload to a canonical partial context.
// Each mapper is a pure function of the raw bytes: no I/O, no
// cross-source logic. Unrecognized fields are ignored by the typed
// unmarshal; missing optional fields keep their semantic defaults.
func Normalize(raw []byte, source contextstore.Source) (*contextstore.PartialContext, error) {
	switch source {
	case contextstore.SourceSatyPhase:
		return normalizePhase(raw)
	case contextstore.SourceMTFAlignment:
		return normalizeAlignment(raw)
	case contextstore.SourceRawSignal, contextstore.SourceOptionsExpert:
		return normalizeSignal(raw)
	case contextstore.SourceStratValidator:
		return normalizeStructural(raw)
	default:
		return nil, faults.Newf(faults.KindUnknownSource, "no mapper for source %q", source)
	}
}

func normalizePhase(raw []byte) (*contextstore.PartialContext, error) {
	var p phasePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, faults.Wrap(faults.KindSchemaValidation, "phase payload shape mismatch", err)
	}
	if p.Phase < 1 || p.Phase > 4 {
		return nil, faults.Newf(faults.KindSchemaValidation, "phase must be 1..4, got %d", p.Phase)
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return nil, faults.Newf(faults.KindSchemaValidation, "confidence must be 0..100, got %.1f", p.Confidence)
	}
	vol, err := parseVolatility(p.Volatility)
	if err != nil {
		return nil, err
	}
	bias, err := parseDirection(p.Bias, true)
	if err != nil {
		return nil, err
	}
	return &contextstore.PartialContext{
		Instrument: instrumentOf(p.Ticker, p.Exchange, p.Price),
		Regime: &contextstore.Regime{
			Phase:      p.Phase,
			PhaseName:  strings.ToUpper(p.PhaseName),
			Volatility: vol,
			Confidence: p.Confidence,
			Bias:       bias,
		},
	}, nil
}

func normalizeAlignment(raw []byte) (*contextstore.PartialContext, error) {
	var p alignmentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, faults.Wrap(faults.KindSchemaValidation, "alignment payload shape mismatch", err)
	}
	if p.BullishPct < 0 || p.BearishPct < 0 || p.BullishPct+p.BearishPct > 100 {
		return nil, faults.Newf(faults.KindSchemaValidation,
			"alignment percentages invalid: bullish=%.1f bearish=%.1f", p.BullishPct, p.BearishPct)
	}
	states := make(map[string]contextstore.TFState, len(p.Timeframes))
	for tag, state := range p.Timeframes {
		st, err := parseTFState(state)
		if err != nil {
			return nil, err
		}
		states[tag] = st
	}
	return &contextstore.PartialContext{
		Instrument: instrumentOf(p.Ticker, p.Exchange, p.Price),
		Alignment: &contextstore.Alignment{
			TFStates:   states,
			BullishPct: p.BullishPct,
			BearishPct: p.BearishPct,
		},
	}, nil
}

func normalizeSignal(raw []byte) (*contextstore.PartialContext, error) {
	var p signalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, faults.Wrap(faults.KindSchemaValidation, "signal payload shape mismatch", err)
	}
	if p.Signal == nil {
		return nil, faults.New(faults.KindSchemaValidation, "signal object missing")
	}
	dir, err := parseDirection(p.Signal.Type, false)
	if err != nil {
		return nil, err
	}
	score := 0.0
	if p.Signal.AIScore != nil {
		score = *p.Signal.AIScore
	}
	if score < 0 || score > 10.5 {
		return nil, faults.Newf(faults.KindSchemaValidation, "ai_score must be 0..10.5, got %.2f", score)
	}
	quality, err := parseQuality(p.Signal.Quality)
	if err != nil {
		return nil, err
	}
	if p.Signal.RR1 < 0 || p.Signal.RR2 < 0 {
		return nil, faults.New(faults.KindSchemaValidation, "risk-reward ratios must be non-negative")
	}
	if p.Signal.DTE != nil && *p.Signal.DTE < 0 {
		return nil, faults.Newf(faults.KindSchemaValidation, "dte must be non-negative, got %d", *p.Signal.DTE)
	}
	ticker := p.Signal.Ticker
	if ticker == "" {
		ticker = p.Ticker
	}
	return &contextstore.PartialContext{
		Instrument: instrumentOf(ticker, p.Exchange, p.Price),
		Expert: &contextstore.Expert{
			Direction:  dir,
			AIScore:    score,
			Quality:    quality,
			Timeframe:  p.Signal.Timeframe,
			DTE:        p.Signal.DTE,
			Components: p.Signal.Components,
			RR1:        p.Signal.RR1,
			RR2:        p.Signal.RR2,
		},
	}, nil
}

func normalizeStructural(raw []byte) (*contextstore.PartialContext, error) {
	var p structPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, faults.Wrap(faults.KindSchemaValidation, "structural payload shape mismatch", err)
	}
	if p.SetupValid == nil || p.LiquidityOk == nil {
		return nil, faults.New(faults.KindSchemaValidation, "setup_valid and liquidity_ok are required")
	}
	grade := strings.ToUpper(p.ExecutionQuality)
	switch grade {
	case "A", "B", "C":
	case "":
		grade = "C"
	default:
		return nil, faults.Newf(faults.KindSchemaValidation, "execution_quality must be A, B, or C, got %q", p.ExecutionQuality)
	}
	return &contextstore.PartialContext{
		Instrument: instrumentOf(p.Ticker, p.Exchange, p.Price),
		Structure: &contextstore.Structure{
			ValidSetup:       *p.SetupValid,
			LiquidityOk:      *p.LiquidityOk,
			ExecutionQuality: grade,
		},
	}, nil
}

func instrumentOf(ticker, exchange string, price *float64) *contextstore.Instrument {
	if ticker == "" && exchange == "" && price == nil {
		return nil
	}
	return &contextstore.Instrument{
		Symbol:   strings.ToUpper(ticker),
		Exchange: strings.ToUpper(exchange),
		Price:    price,
	}
}

func parseDirection(s string, allowNeutral bool) (contextstore.Direction, error) {
	switch contextstore.Direction(strings.ToUpper(s)) {
	case contextstore.DirectionLong:
		return contextstore.DirectionLong, nil
	case contextstore.DirectionShort:
		return contextstore.DirectionShort, nil
	case contextstore.DirectionNeutral:
		if allowNeutral {
			return contextstore.DirectionNeutral, nil
		}
	}
	return "", faults.Newf(faults.KindSchemaValidation, "invalid direction %q", s)
}

func parseVolatility(s string) (contextstore.Volatility, error) {
	switch contextstore.Volatility(strings.ToUpper(s)) {
	case contextstore.VolatilityLow:
		return contextstore.VolatilityLow, nil
	case contextstore.VolatilityNormal, "":
		return contextstore.VolatilityNormal, nil
	case contextstore.VolatilityHigh:
		return contextstore.VolatilityHigh, nil
	}
	return "", faults.Newf(faults.KindSchemaValidation, "invalid volatility %q", s)
}

func parseQuality(s string) (contextstore.Quality, error) {
	switch contextstore.Quality(strings.ToUpper(s)) {
	case contextstore.QualityExtreme:
		return contextstore.QualityExtreme, nil
	case contextstore.QualityHigh:
		return contextstore.QualityHigh, nil
	case contextstore.QualityMedium, "":
		return contextstore.QualityMedium, nil
	}
	return "", faults.Newf(faults.KindSchemaValidation, "invalid quality %q", s)
}

func parseTFState(s string) (contextstore.TFState, error) {
	switch contextstore.TFState(strings.ToUpper(s)) {
	case contextstore.TFBullish:
		return contextstore.TFBullish, nil
	case contextstore.TFBearish:
		return contextstore.TFBearish, nil
	case contextstore.TFNeutral, "":
		return contextstore.TFNeutral, nil
	}
	return "", faults.Newf(faults.KindSchemaValidation, "invalid timeframe state %q", s)
}
