package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/faults"
	"github.com/tradeforge/confluence/internal/metrics"
)

// PaperIntent is the downstream message emitted for every EXECUTE
// verdict. Consumers simulate the fill and report the exit back through
// the ledger API.
type PaperIntent struct {
	ID              string                 `json:"id"`
	LedgerEntryID   string                 `json:"ledger_entry_id"`
	Symbol          string                 `json:"symbol"`
	Direction       contextstore.Direction `json:"direction"`
	SizeMultiplier  float64                `json:"size_multiplier"`
	ConfidenceScore float64                `json:"confidence_score"`
	EntryPrice      *float64               `json:"entry_price,omitempty"`
	EngineVersion   string                 `json:"engine_version"`
	Timestamp       time.Time              `json:"timestamp"`
}

// IntentPublisher emits paper trade intents. Publishing is best-effort;
// a failed publish never fails the decision.
type IntentPublisher interface {
	Publish(ctx context.Context, intent *PaperIntent) error
	Close()
}

// NATSIntents publishes intents on a NATS subject.
type NATSIntents struct {
	nc      *nats.Conn
	subject string
}

// NewNATSIntents connects to NATS and returns a publisher for the
// configured subject.
func NewNATSIntents(cfg config.NATSConfig) (*NATSIntents, error) {
	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("confluence-engine"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, faults.Wrap(faults.KindNetworkError, "NATS connect failed", err)
	}

	log.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("Intent publisher connected")
	return &NATSIntents{nc: nc, subject: cfg.Subject}, nil
}

// Publish emits one intent, assigning id and timestamp when unset.
func (p *NATSIntents) Publish(ctx context.Context, intent *PaperIntent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.nc.IsConnected() {
		metrics.RecordIntentPublished(false)
		return faults.New(faults.KindNetworkError, "intent publisher not connected")
	}
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}
	if intent.Timestamp.IsZero() {
		intent.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(intent)
	if err != nil {
		metrics.RecordIntentPublished(false)
		return faults.Wrap(faults.KindValidationError, "marshal intent", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		metrics.RecordIntentPublished(false)
		return faults.Wrap(faults.KindNetworkError, "intent publish failed", err)
	}
	metrics.RecordIntentPublished(true)
	log.Debug().
		Str("intent_id", intent.ID).
		Str("symbol", intent.Symbol).
		Str("direction", string(intent.Direction)).
		Float64("size", intent.SizeMultiplier).
		Str("subject", p.subject).
		Msg("Paper intent published")
	return nil
}

// Close drains the connection.
func (p *NATSIntents) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// NopIntents discards intents; used in decision-only mode and when NATS
// is disabled.
type NopIntents struct{}

func (NopIntents) Publish(context.Context, *PaperIntent) error { return nil }
func (NopIntents) Close()                                      {}
