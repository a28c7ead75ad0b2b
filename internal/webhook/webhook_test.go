package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/faults"
)

const phaseJSON = `{
	"engine": "saty_phase_oscillator",
	"ticker": "spy",
	"exchange": "arca",
	"price": 430.25,
	"phase": 2,
	"phase_name": "Markup",
	"volatility": "NORMAL",
	"confidence": 85,
	"bias": "LONG"
}`

const alignmentJSON = `{
	"ticker": "SPY",
	"timeframes": {"tf_1m": "BULLISH", "tf_5m": "BULLISH", "tf_30m": "BEARISH", "tf_1h": "NEUTRAL"},
	"bullish_pct": 80,
	"bearish_pct": 10
}`

const rawSignalJSON = `{
	"ticker": "SPY",
	"price": 430.50,
	"signal": {
		"type": "LONG",
		"timeframe": "5m",
		"ticker": "SPY",
		"ai_score": 8.2,
		"quality": "HIGH",
		"components": ["trend", "momentum", "volume"],
		"rr1": 1.5,
		"rr2": 3.0
	}
}`

const optionsJSON = `{
	"ticker": "SPY",
	"signal": {
		"type": "LONG",
		"ai_score": 9.1,
		"quality": "EXTREME",
		"components": ["gamma", "flow"],
		"rr1": 2.0,
		"rr2": 4.0
	}
}`

const structJSON = `{
	"ticker": "SPY",
	"setup_valid": true,
	"liquidity_ok": true,
	"execution_quality": "A"
}`

func decode(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestDetectSource(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want contextstore.Source
	}{
		{"phase", phaseJSON, contextstore.SourceSatyPhase},
		{"alignment", alignmentJSON, contextstore.SourceMTFAlignment},
		{"raw signal", rawSignalJSON, contextstore.SourceRawSignal},
		{"options signal", optionsJSON, contextstore.SourceOptionsExpert},
		{"structural", structJSON, contextstore.SourceStratValidator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectSource(decode(t, tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectSourcePrecedence(t *testing.T) {
	// A payload carrying both the phase marker and a timeframes object
	// classifies as phase: the earlier probe wins.
	m := decode(t, alignmentJSON)
	m["engine"] = "saty_phase_oscillator"
	got, err := DetectSource(m)
	require.NoError(t, err)
	assert.Equal(t, contextstore.SourceSatyPhase, got)

	// Alignment beats a typed signal.
	m = decode(t, rawSignalJSON)
	m["timeframes"] = map[string]interface{}{"tf_1m": "BULLISH", "tf_5m": "BEARISH"}
	got, err = DetectSource(m)
	require.NoError(t, err)
	assert.Equal(t, contextstore.SourceMTFAlignment, got)
}

func TestDetectSourceUnknownCarriesDiagnostics(t *testing.T) {
	_, err := DetectSource(map[string]interface{}{"hello": "world"})
	require.Error(t, err)
	assert.Equal(t, faults.KindUnknownSource, faults.KindOf(err))

	var fe *faults.Error
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Details, "saty_phase")
	assert.Contains(t, fe.Details, "mtf_alignment")
	assert.Contains(t, fe.Details, "raw_signal")
	assert.Contains(t, fe.Details, "options_expert")
	assert.Contains(t, fe.Details, "strat_validator")
	assert.Equal(t, "missing engine marker", fe.Details["saty_phase"])
}

func TestAlignmentNeedsBothFastTags(t *testing.T) {
	m := decode(t, alignmentJSON)
	delete(m["timeframes"].(map[string]interface{}), "tf_5m")
	_, err := DetectSource(m)
	require.Error(t, err)
	assert.Equal(t, faults.KindUnknownSource, faults.KindOf(err))
}

func TestNormalizePhase(t *testing.T) {
	pc, err := Normalize([]byte(phaseJSON), contextstore.SourceSatyPhase)
	require.NoError(t, err)

	require.NotNil(t, pc.Instrument)
	assert.Equal(t, "SPY", pc.Instrument.Symbol, "ticker uppercased")
	assert.Equal(t, "ARCA", pc.Instrument.Exchange)
	require.NotNil(t, pc.Instrument.Price)
	assert.Equal(t, 430.25, *pc.Instrument.Price)

	require.NotNil(t, pc.Regime)
	assert.Equal(t, 2, pc.Regime.Phase)
	assert.Equal(t, "MARKUP", pc.Regime.PhaseName)
	assert.Equal(t, contextstore.VolatilityNormal, pc.Regime.Volatility)
	assert.Equal(t, 85.0, pc.Regime.Confidence)
	assert.Equal(t, contextstore.DirectionLong, pc.Regime.Bias)
	assert.Nil(t, pc.Expert)
}

func TestNormalizePhaseRejectsBadRanges(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"phase 0", `{"engine":"saty_phase_oscillator","ticker":"SPY","phase":0,"confidence":50,"bias":"LONG"}`},
		{"phase 5", `{"engine":"saty_phase_oscillator","ticker":"SPY","phase":5,"confidence":50,"bias":"LONG"}`},
		{"confidence 101", `{"engine":"saty_phase_oscillator","ticker":"SPY","phase":1,"confidence":101,"bias":"LONG"}`},
		{"bad bias", `{"engine":"saty_phase_oscillator","ticker":"SPY","phase":1,"confidence":50,"bias":"SIDEWAYS"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.json), contextstore.SourceSatyPhase)
			require.Error(t, err)
			assert.Equal(t, faults.KindSchemaValidation, faults.KindOf(err))
		})
	}
}

func TestNormalizeAlignment(t *testing.T) {
	pc, err := Normalize([]byte(alignmentJSON), contextstore.SourceMTFAlignment)
	require.NoError(t, err)

	require.NotNil(t, pc.Alignment)
	assert.Equal(t, 80.0, pc.Alignment.BullishPct)
	assert.Equal(t, 10.0, pc.Alignment.BearishPct)
	assert.Equal(t, contextstore.TFBullish, pc.Alignment.TFStates["tf_1m"])
	assert.Equal(t, contextstore.TFBearish, pc.Alignment.TFStates["tf_30m"])
}

func TestNormalizeAlignmentRejectsOversizedSplit(t *testing.T) {
	bad := `{"ticker":"SPY","timeframes":{"tf_1m":"BULLISH","tf_5m":"BULLISH"},"bullish_pct":70,"bearish_pct":40}`
	_, err := Normalize([]byte(bad), contextstore.SourceMTFAlignment)
	require.Error(t, err)
	assert.Equal(t, faults.KindSchemaValidation, faults.KindOf(err))
}

func TestNormalizeRawSignal(t *testing.T) {
	pc, err := Normalize([]byte(rawSignalJSON), contextstore.SourceRawSignal)
	require.NoError(t, err)

	require.NotNil(t, pc.Expert)
	assert.Equal(t, contextstore.DirectionLong, pc.Expert.Direction)
	assert.Equal(t, 8.2, pc.Expert.AIScore)
	assert.Equal(t, contextstore.QualityHigh, pc.Expert.Quality)
	assert.Equal(t, []string{"trend", "momentum", "volume"}, pc.Expert.Components)
	assert.Equal(t, 1.5, pc.Expert.RR1)
}

func TestNormalizeOptionsSignal(t *testing.T) {
	pc, err := Normalize([]byte(optionsJSON), contextstore.SourceOptionsExpert)
	require.NoError(t, err)

	require.NotNil(t, pc.Expert)
	assert.Equal(t, 9.1, pc.Expert.AIScore)
	assert.Equal(t, contextstore.QualityExtreme, pc.Expert.Quality)
}

func TestNormalizeSignalRejectsOutOfRangeScore(t *testing.T) {
	bad := `{"ticker":"SPY","signal":{"type":"LONG","ai_score":11.0,"quality":"HIGH"}}`
	_, err := Normalize([]byte(bad), contextstore.SourceOptionsExpert)
	require.Error(t, err)
	assert.Equal(t, faults.KindSchemaValidation, faults.KindOf(err))
}

func TestNormalizeStructural(t *testing.T) {
	pc, err := Normalize([]byte(structJSON), contextstore.SourceStratValidator)
	require.NoError(t, err)

	require.NotNil(t, pc.Structure)
	assert.True(t, pc.Structure.ValidSetup)
	assert.True(t, pc.Structure.LiquidityOk)
	assert.Equal(t, "A", pc.Structure.ExecutionQuality)
}

func TestRouteSuccess(t *testing.T) {
	pinned := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	router := NewRouter(func() time.Time { return pinned })

	res, err := router.Route(context.Background(), []byte(phaseJSON))
	require.NoError(t, err)
	assert.Equal(t, contextstore.SourceSatyPhase, res.Source)
	assert.Equal(t, pinned, res.Timestamp)
	require.NotNil(t, res.Normalized.Regime)
}

func TestRouteInvalidJSON(t *testing.T) {
	router := NewRouter(nil)
	_, err := router.Route(context.Background(), []byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, faults.KindInvalidJSON, faults.KindOf(err))
}

func TestRouteNonObjectPayload(t *testing.T) {
	router := NewRouter(nil)
	_, err := router.Route(context.Background(), []byte(`[1,2,3]`))
	require.Error(t, err)
	assert.Equal(t, faults.KindSchemaValidation, faults.KindOf(err))
}

func TestRouteCanceledContext(t *testing.T) {
	router := NewRouter(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := router.Route(ctx, []byte(phaseJSON))
	require.Error(t, err)
	assert.Equal(t, faults.KindProcessingTimeout, faults.KindOf(err))
}
