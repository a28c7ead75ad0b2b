// Package webhook classifies inbound publisher payloads and maps them
// to canonical partial contexts.
package webhook

// phaseEngineMarker is the marker value the phase publisher stamps into
// its payloads.
const phaseEngineMarker = "saty_phase_oscillator"

// Fastest timeframe tags; an alignment payload must carry both.
const (
	tfFastest       = "tf_1m"
	tfSecondFastest = "tf_5m"
)

// phasePayload is the phase/regime publisher shape.
type phasePayload struct {
	Engine     string   `json:"engine"`
	Ticker     string   `json:"ticker"`
	Exchange   string   `json:"exchange"`
	Price      *float64 `json:"price"`
	Phase      int      `json:"phase"`
	PhaseName  string   `json:"phase_name"`
	Volatility string   `json:"volatility"`
	Confidence float64  `json:"confidence"`
	Bias       string   `json:"bias"`
}

// alignmentPayload is the multi-timeframe alignment publisher shape.
type alignmentPayload struct {
	Ticker     string            `json:"ticker"`
	Exchange   string            `json:"exchange"`
	Price      *float64          `json:"price"`
	Timeframes map[string]string `json:"timeframes"`
	BullishPct float64           `json:"bullish_pct"`
	BearishPct float64           `json:"bearish_pct"`
}

// signalBody is the typed signal carried by both the raw-signal and
// options publishers. The raw signal has a timeframe; the options
// signal does not.
type signalBody struct {
	Type       string   `json:"type"`
	Ticker     string   `json:"ticker"`
	Timeframe  string   `json:"timeframe"`
	DTE        *int     `json:"dte"`
	AIScore    *float64 `json:"ai_score"`
	Quality    string   `json:"quality"`
	Components []string `json:"components"`
	RR1        float64  `json:"rr1"`
	RR2        float64  `json:"rr2"`
}

// signalPayload wraps the typed signal of the raw-signal and options
// publishers.
type signalPayload struct {
	Signal   *signalBody `json:"signal"`
	Ticker   string      `json:"ticker"`
	Exchange string      `json:"exchange"`
	Price    *float64    `json:"price"`
}

// structPayload is the structural validator shape.
type structPayload struct {
	Ticker           string   `json:"ticker"`
	Exchange         string   `json:"exchange"`
	Price            *float64 `json:"price"`
	SetupValid       *bool    `json:"setup_valid"`
	LiquidityOk      *bool    `json:"liquidity_ok"`
	ExecutionQuality string   `json:"execution_quality"`
}
