package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/decision"
	"github.com/tradeforge/confluence/internal/ledger"
	"github.com/tradeforge/confluence/internal/market"
	"github.com/tradeforge/confluence/internal/orchestrator"
	"github.com/tradeforge/confluence/internal/webhook"
)

const phasePayload = `{
	"engine": "saty_phase_oscillator",
	"ticker": "SPY", "price": 430.25,
	"phase": 2, "phase_name": "markup",
	"volatility": "NORMAL", "confidence": 85, "bias": "LONG"
}`

type fixedMarket struct{ ctx *market.Context }

func (f *fixedMarket) Build(context.Context, string) *market.Context {
	c := *f.ctx
	return &c
}

func testServerConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "confluence", Environment: "development"},
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, RequestsPerMin: 0},
		Engine: config.EngineConfig{
			Version: "2.1.0",
			PhaseRules: map[string]config.PhaseRule{
				"2": {Name: "MARKUP", AllowedDirections: []string{"LONG", "SHORT"}, SizeCap: 1.2},
			},
			VolatilityCaps:          map[string]float64{"LOW": 1.2, "NORMAL": 1.0, "HIGH": 0.6},
			QualityBoosts:           map[string]float64{"EXTREME": 1.15, "HIGH": 1.0, "MEDIUM": 0.85},
			MinSizeMultiplier:       0.5,
			MaxSizeMultiplier:       3.0,
			ExecuteThreshold:        80,
			WaitThreshold:           60,
			MinAIScore:              6.0,
			AIScorePenalty:          0.5,
			AlignmentBonusThreshold: 70,
			AlignmentBonus:          1.1,
			MaxSpreadBps:            12,
			MaxATRSpike:             3.0,
			MinDepthScore:           30,
		},
		Context: config.ContextConfig{
			MaxAgeMS:        300000,
			RequiredSources: []string{"saty_phase"},
			ExpertSources:   []string{"options_expert", "raw_signal"},
			KnownSources:    []string{"saty_phase", "mtf_alignment", "options_expert", "raw_signal", "strat_validator"},
		},
	}
}

// newTestServer wires a server over in-memory backends.
func newTestServer(t *testing.T, cfg *config.Config) (*Server, *ledger.MemoryLedger, *contextstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	led := ledger.NewMemoryLedger(nil)
	store := contextstore.New(&cfg.Context, cfg.Engine.Version, nil)
	engine := decision.NewEngine(&cfg.Engine, nil)
	router := webhook.NewRouter(nil)
	mkt := &fixedMarket{ctx: &market.Context{
		Options:      &market.OptionsData{PutCallRatio: 1.1, GammaBias: market.GammaPositive},
		Stats:        &market.StatsData{ATR14: 1.5, RSI: 58},
		Liquidity:    &market.LiquidityData{SpreadBps: 6, DepthScore: 70},
		Completeness: 1.0,
	}}
	orch := orchestrator.New(router, store, mkt, engine, led, nil, cfg, nil)

	srv := NewServer(Deps{
		Config:       cfg,
		Orchestrator: orch,
		Store:        store,
		Ledger:       led,
		Receipts:     ledger.NewMemoryReceipts(nil),
	})
	return srv, led, store
}

func doRequest(srv *Server, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookAcceptedOnAnyIngestPath(t *testing.T) {
	srv, _, store := newTestServer(t, testServerConfig())

	// Content-based classification: a phase payload posted to the
	// signals path still routes to the phase normalizer.
	w := doRequest(srv, http.MethodPost, "/api/webhooks/signals", []byte(phasePayload), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res orchestrator.WebhookResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, orchestrator.StatusContextUpdated, res.Status)
	assert.Equal(t, contextstore.SourceSatyPhase, res.Source)
	assert.NotNil(t, store.Regime("SPY"))
}

func TestWebhookRejectionsMapToStatuses(t *testing.T) {
	srv, _, _ := newTestServer(t, testServerConfig())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid JSON", `not json`, http.StatusBadRequest},
		{"unknown source", `{"hello": "world"}`, http.StatusBadRequest},
		{"schema violation", `{"engine": "saty_phase_oscillator", "ticker": "SPY", "phase": 9, "confidence": 80}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv, http.MethodPost, "/api/webhooks/saty-phase", []byte(tt.body), nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSignatureEnforcement(t *testing.T) {
	cfg := testServerConfig()
	cfg.Auth.WebhookSecret = "test-secret"
	srv, _, _ := newTestServer(t, cfg)
	body := []byte(phasePayload)

	w := doRequest(srv, http.MethodPost, "/api/webhooks/saty-phase", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing signature is rejected")

	w = doRequest(srv, http.MethodPost, "/api/webhooks/saty-phase", body,
		map[string]string{"X-Signature": "sha256=deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "wrong signature is rejected")

	w = doRequest(srv, http.MethodPost, "/api/webhooks/saty-phase", body,
		map[string]string{"X-Signature": sign("test-secret", body)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBearerGuardOnReadSide(t *testing.T) {
	cfg := testServerConfig()
	cfg.Auth.BearerToken = "reader-token"
	srv, _, _ := newTestServer(t, cfg)

	w := doRequest(srv, http.MethodGet, "/api/decisions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/decisions", nil,
		map[string]string{"Authorization": "Bearer reader-token"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListDecisionsWithFilters(t *testing.T) {
	srv, led, _ := newTestServer(t, testServerConfig())
	ctx := context.Background()

	price := 430.25
	for _, e := range []*ledger.Entry{
		{
			EngineVersion: "2.1.0",
			Signal:        ledger.SignalSnapshot{Ticker: "SPY", Direction: contextstore.DirectionLong, Timeframe: "5m", Quality: contextstore.QualityHigh, AIScore: 8.0, Price: &price},
			Decision:      decision.ActionExecute,
			Execution:     &ledger.Execution{Direction: contextstore.DirectionLong, SizeMultiplier: 1.1},
			Regime:        ledger.RegimeSnapshot{Phase: 2, PhaseName: "MARKUP", Volatility: contextstore.VolatilityNormal},

			ConfluenceScore: 85,
		},
		{
			EngineVersion:   "2.1.0",
			Signal:          ledger.SignalSnapshot{Ticker: "QQQ", Direction: contextstore.DirectionShort, Timeframe: "1h", Quality: contextstore.QualityMedium, AIScore: 6.5},
			Decision:        decision.ActionWait,
			Regime:          ledger.RegimeSnapshot{Phase: 3, PhaseName: "DISTRIBUTION", Volatility: contextstore.VolatilityHigh},
			ConfluenceScore: 68,
		},
	} {
		_, err := led.Append(ctx, e)
		require.NoError(t, err)
	}

	w := doRequest(srv, http.MethodGet, "/api/decisions?decision=EXECUTE", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Decisions []*ledger.Entry `json:"decisions"`
		Count     int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, "SPY", listed.Decisions[0].Signal.Ticker)

	w = doRequest(srv, http.MethodGet, "/api/decisions?trade_type=DAY", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, "QQQ", listed.Decisions[0].Signal.Ticker)

	w = doRequest(srv, http.MethodGet, "/api/decisions?limit=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExitRoundTrip(t *testing.T) {
	srv, led, _ := newTestServer(t, testServerConfig())
	ctx := context.Background()

	stored, err := led.Append(ctx, &ledger.Entry{
		EngineVersion: "2.1.0",
		Signal:        ledger.SignalSnapshot{Ticker: "SPY", Direction: contextstore.DirectionLong, Quality: contextstore.QualityHigh, AIScore: 8},
		Decision:      decision.ActionExecute,
		Execution:     &ledger.Execution{Direction: contextstore.DirectionLong, SizeMultiplier: 1.1},
	})
	require.NoError(t, err)

	exitBody := []byte(`{"price": 432.10, "reason": "target", "net_pnl": 92.5}`)
	w := doRequest(srv, http.MethodPost, "/api/decisions/"+stored.ID+"/exit", exitBody, nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := led.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExitData)
	assert.Equal(t, "TARGET", got.ExitData.Reason)
	assert.Equal(t, 92.5, got.ExitData.NetPnL)

	// Second exit is refused: the outcome is write-once.
	w = doRequest(srv, http.MethodPost, "/api/decisions/"+stored.ID+"/exit", exitBody, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(srv, http.MethodPost, "/api/decisions/missing/exit", exitBody, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHypotheticalOnlyOnNonExecute(t *testing.T) {
	srv, led, _ := newTestServer(t, testServerConfig())
	ctx := context.Background()

	waited, err := led.Append(ctx, &ledger.Entry{
		EngineVersion: "2.1.0",
		Signal:        ledger.SignalSnapshot{Ticker: "SPY", Direction: contextstore.DirectionLong, Quality: contextstore.QualityHigh, AIScore: 8},
		Decision:      decision.ActionWait,
	})
	require.NoError(t, err)

	body := []byte(`{"outcome": "win", "net_pnl": 40}`)
	w := doRequest(srv, http.MethodPost, "/api/decisions/"+waited.ID+"/hypothetical", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := led.Get(ctx, waited.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Hypothetical)
	assert.Equal(t, "WIN", got.Hypothetical.Outcome)
}

func TestCurrentPhaseAndTrend(t *testing.T) {
	srv, _, _ := newTestServer(t, testServerConfig())

	w := doRequest(srv, http.MethodGet, "/api/phase/current?symbol=SPY", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no context yet")

	w = doRequest(srv, http.MethodPost, "/api/webhooks/saty-phase", []byte(phasePayload), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/phase/current?symbol=SPY", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var phaseRes struct {
		Symbol string             `json:"symbol"`
		Regime contextstore.Regime `json:"regime"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &phaseRes))
	assert.Equal(t, 2, phaseRes.Regime.Phase)
	assert.Equal(t, "MARKUP", phaseRes.Regime.PhaseName)

	w = doRequest(srv, http.MethodGet, "/api/phase/current", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "symbol is required")

	w = doRequest(srv, http.MethodGet, "/api/trend/current?ticker=SPY", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no alignment reported yet")
}

func TestRecentWebhooksAuditTrail(t *testing.T) {
	cfg := testServerConfig()
	cfg.Auth.DebugToken = "debug-token"
	srv, _, _ := newTestServer(t, cfg)

	w := doRequest(srv, http.MethodPost, "/api/webhooks/saty-phase", []byte(phasePayload), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/webhooks/recent", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/webhooks/recent", nil,
		map[string]string{"Authorization": "Bearer debug-token"})
	require.Equal(t, http.StatusOK, w.Code)
	var recent struct {
		Receipts []ledger.Receipt `json:"receipts"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recent))
	require.Equal(t, 1, recent.Count)
	assert.Equal(t, "saty_phase", recent.Receipts[0].Source)
	assert.Equal(t, http.StatusOK, recent.Receipts[0].Status)
}

func TestHealthAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, testServerConfig())

	w := doRequest(srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodGet, "/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "2.1.0", status["engine_version"])
	assert.NotEmpty(t, status["config_hash"])
}

func TestRateLimitKicksIn(t *testing.T) {
	cfg := testServerConfig()
	cfg.Server.RequestsPerMin = 2
	srv, _, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		w := doRequest(srv, http.MethodGet, "/api/decisions", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := doRequest(srv, http.MethodGet, "/api/decisions", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv, _, _ := newTestServer(t, testServerConfig())
	w := doRequest(srv, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "confluence_")
}
