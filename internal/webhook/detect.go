package webhook

import (
	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/faults"
)

// DetectSource classifies a decoded payload by a fixed probe
// precedence: phase marker, alignment timeframes, raw signal, options
// signal, structural validator. The first matching probe wins, so
// contradictory markers resolve deterministically.
func DetectSource(payload map[string]interface{}) (contextstore.Source, error) {
	diagnostics := make(map[string]interface{}, 5)

	if ok, why := probePhase(payload); ok {
		return contextstore.SourceSatyPhase, nil
	} else {
		diagnostics["saty_phase"] = why
	}
	if ok, why := probeAlignment(payload); ok {
		return contextstore.SourceMTFAlignment, nil
	} else {
		diagnostics["mtf_alignment"] = why
	}
	if ok, why := probeRawSignal(payload); ok {
		return contextstore.SourceRawSignal, nil
	} else {
		diagnostics["raw_signal"] = why
	}
	if ok, why := probeOptionsSignal(payload); ok {
		return contextstore.SourceOptionsExpert, nil
	} else {
		diagnostics["options_expert"] = why
	}
	if ok, why := probeStructural(payload); ok {
		return contextstore.SourceStratValidator, nil
	} else {
		diagnostics["strat_validator"] = why
	}

	return "", faults.New(faults.KindUnknownSource, "payload matched no known publisher").
		WithDetails(diagnostics)
}

func probePhase(payload map[string]interface{}) (bool, string) {
	engine, ok := payload["engine"].(string)
	if !ok {
		return false, "missing engine marker"
	}
	if engine != phaseEngineMarker {
		return false, "engine marker is not " + phaseEngineMarker
	}
	return true, ""
}

func probeAlignment(payload map[string]interface{}) (bool, string) {
	tfs, ok := payload["timeframes"].(map[string]interface{})
	if !ok {
		return false, "missing timeframes object"
	}
	if _, ok := tfs[tfFastest]; !ok {
		return false, "timeframes missing " + tfFastest
	}
	if _, ok := tfs[tfSecondFastest]; !ok {
		return false, "timeframes missing " + tfSecondFastest
	}
	return true, ""
}

func signalObject(payload map[string]interface{}) (map[string]interface{}, string) {
	sig, ok := payload["signal"].(map[string]interface{})
	if !ok {
		return nil, "missing signal object"
	}
	if _, ok := sig["type"].(string); !ok {
		return nil, "signal has no typed direction"
	}
	return sig, ""
}

func probeRawSignal(payload map[string]interface{}) (bool, string) {
	sig, why := signalObject(payload)
	if sig == nil {
		return false, why
	}
	if tf, ok := sig["timeframe"].(string); !ok || tf == "" {
		return false, "signal has no timeframe"
	}
	if !hasTicker(payload, sig) {
		return false, "no instrument ticker"
	}
	return true, ""
}

func probeOptionsSignal(payload map[string]interface{}) (bool, string) {
	sig, why := signalObject(payload)
	if sig == nil {
		return false, why
	}
	if tf, ok := sig["timeframe"].(string); ok && tf != "" {
		return false, "signal carries a timeframe"
	}
	if _, ok := sig["ai_score"]; !ok {
		return false, "signal has no ai_score"
	}
	if _, ok := sig["quality"]; !ok {
		return false, "signal has no quality"
	}
	return true, ""
}

func probeStructural(payload map[string]interface{}) (bool, string) {
	if _, ok := payload["setup_valid"]; !ok {
		return false, "missing setup_valid"
	}
	if _, ok := payload["liquidity_ok"]; !ok {
		return false, "missing liquidity_ok"
	}
	return true, ""
}

func hasTicker(payload, sig map[string]interface{}) bool {
	if t, ok := sig["ticker"].(string); ok && t != "" {
		return true
	}
	if t, ok := payload["ticker"].(string); ok && t != "" {
		return true
	}
	return false
}
