// Package orchestrator runs the webhook-to-verdict pipeline: route,
// merge, fetch market data, decide, bias, persist, and emit the paper
// intent.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/decision"
	"github.com/tradeforge/confluence/internal/faults"
	"github.com/tradeforge/confluence/internal/ledger"
	"github.com/tradeforge/confluence/internal/market"
	"github.com/tradeforge/confluence/internal/metrics"
	"github.com/tradeforge/confluence/internal/webhook"
)

// MarketBuilder assembles a market snapshot for one symbol.
type MarketBuilder interface {
	Build(ctx context.Context, symbol string) *market.Context
}

// Result statuses.
const (
	StatusDecision       = "decision"
	StatusContextUpdated = "context_updated"
)

// WebhookResult is the outcome of processing one inbound webhook.
type WebhookResult struct {
	Status       string              `json:"status"`
	Source       contextstore.Source `json:"source"`
	Symbol       string              `json:"symbol"`
	Completeness float64             `json:"completeness"`
	Message      string              `json:"message,omitempty"`
	Decision     *decision.Packet    `json:"decision,omitempty"`
	LedgerID     string              `json:"ledger_id,omitempty"`
	ProcessingMS int64               `json:"processing_ms"`
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	router       *webhook.Router
	store        *contextstore.Store
	market       MarketBuilder
	engine       *decision.Engine
	ledger       ledger.Ledger
	intents      IntentPublisher
	decisionOnly bool
	now          func() time.Time
}

// New creates an orchestrator. Pass nil intents to disable publishing
// and nil now for time.Now.
func New(
	router *webhook.Router,
	store *contextstore.Store,
	builder MarketBuilder,
	engine *decision.Engine,
	led ledger.Ledger,
	intents IntentPublisher,
	cfg *config.Config,
	now func() time.Time,
) *Orchestrator {
	if intents == nil {
		intents = NopIntents{}
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		router:       router,
		store:        store,
		market:       builder,
		engine:       engine,
		ledger:       led,
		intents:      intents,
		decisionOnly: cfg.App.DecisionOnly,
		now:          now,
	}
}

// ProcessWebhook runs one payload through the full pipeline. A webhook
// that leaves the context incomplete returns early with
// StatusContextUpdated; a complete context always produces a verdict
// and a ledger entry.
func (o *Orchestrator) ProcessWebhook(ctx context.Context, raw []byte) (*WebhookResult, error) {
	start := o.now()

	routed, err := o.router.Route(ctx, raw)
	if err != nil {
		metrics.RecordWebhookRejected(err.Error())
		return nil, err
	}
	symbol := ""
	if routed.Normalized.Instrument != nil {
		symbol = routed.Normalized.Instrument.Symbol
	}
	if symbol == "" {
		metrics.RecordWebhookRejected("payload carries no ticker")
		return nil, faults.New(faults.KindSchemaValidation, "payload carries no ticker")
	}

	if err := o.store.Update(symbol, routed.Normalized, routed.Source); err != nil {
		metrics.RecordWebhookRejected(err.Error())
		return nil, err
	}

	stats := o.store.Stats(symbol)
	metrics.UpdateContextCompleteness(symbol, stats.Ratio)

	if !stats.Complete {
		elapsed := o.now().Sub(start)
		metrics.RecordWebhook(string(routed.Source), float64(elapsed.Milliseconds()))
		return &WebhookResult{
			Status:       StatusContextUpdated,
			Source:       routed.Source,
			Symbol:       symbol,
			Completeness: stats.Ratio,
			Message:      "context updated, waiting for completeness",
			ProcessingMS: elapsed.Milliseconds(),
		}, nil
	}

	dc := o.store.Build(symbol)
	if dc == nil {
		// Completeness can expire between the check and the build.
		metrics.RecordWebhookRejected("context expired before build")
		return nil, faults.Newf(faults.KindIncompleteContext,
			"context for %s expired before materialization", symbol)
	}

	mc := o.market.Build(ctx, symbol)
	packet := o.engine.MakeDecision(dc, mc)

	deg := faults.DegradationFor(mc.AvailableFeeds(), market.TotalFeeds)
	packet = o.engine.ApplyDegradation(packet, deg)
	metrics.UpdateDegradation(string(deg.Level), deg.AvailableFeeds, deg.TotalFeeds)
	o.recordGateFailures(packet)
	metrics.RecordDecision(string(packet.Action), packet.ConfidenceScore, packet.FinalSizeMultiplier)

	entryID := o.persist(ctx, dc, packet)

	if packet.Action == decision.ActionExecute && !o.decisionOnly {
		o.publishIntent(ctx, entryID, dc, packet)
	}

	elapsed := o.now().Sub(start)
	metrics.RecordWebhook(string(routed.Source), float64(elapsed.Milliseconds()))
	log.Info().
		Str("symbol", symbol).
		Str("source", string(routed.Source)).
		Str("action", string(packet.Action)).
		Float64("confidence", packet.ConfidenceScore).
		Float64("size", packet.FinalSizeMultiplier).
		Str("degradation", string(deg.Level)).
		Dur("elapsed", elapsed).
		Msg("Webhook processed")

	return &WebhookResult{
		Status:       StatusDecision,
		Source:       routed.Source,
		Symbol:       symbol,
		Completeness: stats.Ratio,
		Decision:     packet,
		LedgerID:     entryID,
		ProcessingMS: elapsed.Milliseconds(),
	}, nil
}

// persist appends the verdict to the ledger. A write failure is logged
// and the verdict still returns to the caller; the ledger id is empty
// in that case.
func (o *Orchestrator) persist(ctx context.Context, dc *contextstore.DecisionContext, packet *decision.Packet) string {
	entry := entryFor(dc, packet)
	writeStart := o.now()
	stored, err := o.ledger.Append(ctx, entry)
	elapsed := float64(o.now().Sub(writeStart).Milliseconds())
	metrics.RecordLedgerWrite("append", err == nil, elapsed)
	if err != nil {
		log.Error().
			Err(err).
			Str("symbol", dc.Instrument.Symbol).
			Str("action", string(packet.Action)).
			Msg("Ledger append failed, verdict not persisted")
		return ""
	}
	return stored.ID
}

// entryFor maps a verdict to its ledger row.
func entryFor(dc *contextstore.DecisionContext, packet *decision.Packet) *ledger.Entry {
	entry := &ledger.Entry{
		EngineVersion: packet.EngineVersion,
		Signal: ledger.SignalSnapshot{
			Ticker:    dc.Instrument.Symbol,
			Direction: dc.Expert.Direction,
			Timeframe: dc.Expert.Timeframe,
			Quality:   dc.Expert.Quality,
			AIScore:   dc.Expert.AIScore,
			DTE:       dc.Expert.DTE,
			Price:     dc.Instrument.Price,
		},
		Decision:          packet.Action,
		DecisionReason:    firstReason(packet),
		DecisionBreakdown: packet.Breakdown,
		ConfluenceScore:   packet.ConfidenceScore,
		Regime: ledger.RegimeSnapshot{
			Phase:      dc.Regime.Phase,
			PhaseName:  dc.Regime.PhaseName,
			Volatility: dc.Regime.Volatility,
			Confidence: dc.Regime.Confidence,
			Bias:       dc.Regime.Bias,
		},
		GateResults: &packet.Gates,
	}
	if packet.Action == decision.ActionExecute {
		entry.Execution = &ledger.Execution{
			Direction:      packet.Direction,
			SizeMultiplier: packet.FinalSizeMultiplier,
			EntryPrice:     dc.Instrument.Price,
			At:             packet.Timestamp,
		}
	}
	return entry
}

func firstReason(packet *decision.Packet) string {
	if len(packet.Reasons) > 0 {
		return packet.Reasons[0]
	}
	return ""
}

// publishIntent emits the paper intent. Failures are logged; the
// decision has already been persisted and returned.
func (o *Orchestrator) publishIntent(ctx context.Context, entryID string, dc *contextstore.DecisionContext, packet *decision.Packet) {
	intent := &PaperIntent{
		LedgerEntryID:   entryID,
		Symbol:          dc.Instrument.Symbol,
		Direction:       packet.Direction,
		SizeMultiplier:  packet.FinalSizeMultiplier,
		ConfidenceScore: packet.ConfidenceScore,
		EntryPrice:      dc.Instrument.Price,
		EngineVersion:   packet.EngineVersion,
		Timestamp:       packet.Timestamp,
	}
	if err := o.intents.Publish(ctx, intent); err != nil {
		log.Warn().
			Err(err).
			Str("symbol", intent.Symbol).
			Msg("Paper intent publish failed")
	}
}

func (o *Orchestrator) recordGateFailures(packet *decision.Packet) {
	if !packet.Gates.Regime.Passed {
		metrics.RecordGateFailure("regime")
	}
	if !packet.Gates.Structural.Passed {
		metrics.RecordGateFailure("structural")
	}
	if !packet.Gates.Market.Passed {
		metrics.RecordGateFailure("market")
	}
}
