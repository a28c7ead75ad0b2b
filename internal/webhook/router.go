package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/faults"
)

// RouteResult is the router's successful output: a classified source
// and its canonical partial context.
type RouteResult struct {
	Source     contextstore.Source          `json:"source"`
	Normalized *contextstore.PartialContext `json:"normalized"`
	Timestamp  time.Time                    `json:"timestamp"`
}

// Router dispatches inbound payloads to the normalizer and wraps
// failures into the routing error kinds.
type Router struct {
	now func() time.Time
}

// NewRouter creates a router. Pass nil for time.Now.
func NewRouter(now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{now: now}
}

// Route decodes, classifies, and normalizes one inbound payload.
// Failures carry UNKNOWN_SOURCE, SCHEMA_VALIDATION, INVALID_JSON, or
// PROCESSING_TIMEOUT kinds.
func (r *Router) Route(ctx context.Context, raw []byte) (*RouteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.KindProcessingTimeout, "request deadline exhausted before routing", err)
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, faults.Wrap(faults.KindInvalidJSON, "payload is not valid JSON", err)
	}
	payload, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, faults.New(faults.KindSchemaValidation, "payload must be a JSON object")
	}

	source, err := DetectSource(payload)
	if err != nil {
		log.Warn().
			Interface("payload", faults.Redact(payload)).
			Msg("Webhook source detection failed")
		return nil, err
	}

	normalized, err := Normalize(raw, source)
	if err != nil {
		log.Warn().
			Err(err).
			Str("source", string(source)).
			Interface("payload", faults.Redact(payload)).
			Msg("Webhook normalization failed")
		return nil, err
	}

	symbol := ""
	if normalized.Instrument != nil {
		symbol = normalized.Instrument.Symbol
	}
	log.Info().
		Str("source", string(source)).
		Str("symbol", symbol).
		Str("section", contextstore.SectionFor(source)).
		Msg("Webhook routed")

	return &RouteResult{
		Source:     source,
		Normalized: normalized,
		Timestamp:  r.now(),
	}, nil
}
