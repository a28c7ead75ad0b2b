package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/decision"
	"github.com/tradeforge/confluence/internal/faults"
	"github.com/tradeforge/confluence/internal/ledger"
)

// maxWebhookBody caps inbound payload size.
const maxWebhookBody = 1 << 20

// handleWebhook ingests one publisher payload and runs it through the
// pipeline. The path is per-publisher but classification happens on
// content, so a payload posted to the wrong path still routes.
func (s *Server) handleWebhook(c *gin.Context) {
	start := s.now()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	result, err := s.orch.ProcessWebhook(c.Request.Context(), body)
	elapsed := s.now().Sub(start).Milliseconds()

	if err != nil {
		kind := faults.KindOf(err)
		status := faults.HTTPStatus(kind)
		s.recordReceipt(c, "", status, elapsed, body, err.Error())
		c.JSON(status, gin.H{"error": string(kind), "message": err.Error()})
		return
	}

	s.recordReceipt(c, string(result.Source), http.StatusOK, elapsed, body, "")
	c.JSON(http.StatusOK, result)
}

// recordReceipt stores the audit record with a redacted payload
// summary. Recording is best-effort.
func (s *Server) recordReceipt(c *gin.Context, source string, status int, durationMS int64, body []byte, errMsg string) {
	if s.receipts == nil {
		return
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(body, &summary); err == nil {
		summary = faults.Redact(summary)
	} else {
		summary = nil
	}
	receipt := ledger.Receipt{
		Source:     source,
		Status:     status,
		DurationMS: durationMS,
		Summary:    summary,
		Error:      errMsg,
	}
	if err := s.receipts.Record(c.Request.Context(), receipt); err != nil {
		log.Warn().Err(err).Msg("Webhook receipt not recorded")
	}
}

// handleListDecisions queries the ledger with the filter surface
// exposed as query parameters.
func (s *Server) handleListDecisions(c *gin.Context) {
	filters, err := filtersFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": err.Error()})
		return
	}
	entries, err := s.ledger.Query(c.Request.Context(), filters)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": entries, "count": len(entries)})
}

// handleGetDecision fetches one ledger entry by id.
func (s *Server) handleGetDecision(c *gin.Context) {
	entry, err := s.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// handleDecisionAggregates summarizes ledger entries under the same
// filter surface as the list endpoint.
func (s *Server) handleDecisionAggregates(c *gin.Context) {
	filters, err := filtersFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": err.Error()})
		return
	}
	agg, err := s.ledger.Aggregates(c.Request.Context(), filters)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

// exitRequest is the externally-reported trade outcome.
type exitRequest struct {
	Price  float64 `json:"price" binding:"required"`
	Reason string  `json:"reason" binding:"required"`
	NetPnL float64 `json:"net_pnl"`
}

// handleRecordExit sets the write-once exit outcome on an EXECUTE
// entry.
func (s *Server) handleRecordExit(c *gin.Context) {
	var req exitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": err.Error()})
		return
	}
	exit := ledger.Exit{Price: req.Price, Reason: strings.ToUpper(req.Reason), NetPnL: req.NetPnL, At: s.now().UTC()}
	if err := s.ledger.UpdateExit(c.Request.Context(), c.Param("id"), exit); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "exit recorded"})
}

// hypotheticalRequest is the simulated outcome for a non-EXECUTE entry.
type hypotheticalRequest struct {
	Outcome string  `json:"outcome" binding:"required"`
	NetPnL  float64 `json:"net_pnl"`
}

// handleRecordHypothetical sets the write-once hypothetical outcome on
// a WAIT or SKIP entry.
func (s *Server) handleRecordHypothetical(c *gin.Context) {
	var req hypotheticalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": err.Error()})
		return
	}
	hypo := ledger.Hypothetical{Outcome: strings.ToUpper(req.Outcome), NetPnL: req.NetPnL, At: s.now().UTC()}
	if err := s.ledger.UpdateHypothetical(c.Request.Context(), c.Param("id"), hypo); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "hypothetical recorded"})
}

// handleCurrentPhase returns the symbol's live regime section.
func (s *Server) handleCurrentPhase(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": "symbol query parameter is required"})
		return
	}
	regime := s.store.Regime(symbol)
	if regime == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ENTRY_NOT_FOUND", "message": "no phase context for " + symbol})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "regime": regime})
}

// handleCurrentTrend returns the symbol's live alignment section.
func (s *Server) handleCurrentTrend(c *gin.Context) {
	ticker := strings.ToUpper(c.Query("ticker"))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": "ticker query parameter is required"})
		return
	}
	alignment := s.store.Alignment(ticker)
	if alignment == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ENTRY_NOT_FOUND", "message": "no trend context for " + ticker})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "alignment": alignment})
}

// handleContextStats reports context completeness for a symbol.
func (s *Server) handleContextStats(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": "symbol query parameter is required"})
		return
	}
	c.JSON(http.StatusOK, s.store.Stats(symbol))
}

// handleRecentWebhooks returns the webhook audit trail.
func (s *Server) handleRecentWebhooks(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	receipts, err := s.receipts.Recent(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": receipts, "count": len(receipts)})
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleStatus reports engine identity and uptime.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":            s.cfg.App.Name,
		"environment":    s.cfg.App.Environment,
		"engine_version": s.cfg.Engine.Version,
		"config_hash":    s.cfg.Hash(),
		"decision_only":  s.cfg.App.DecisionOnly,
		"uptime_sec":     int64(s.now().Sub(s.startedAt).Seconds()),
	})
}

// writeError maps a fault kind to its HTTP status.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := faults.KindOf(err)
	c.JSON(faults.HTTPStatus(kind), gin.H{"error": string(kind), "message": err.Error()})
}

// filtersFromQuery translates query parameters into ledger filters.
func filtersFromQuery(c *gin.Context) (ledger.Filters, error) {
	f := ledger.Filters{
		Ticker:     strings.ToUpper(c.Query("ticker")),
		Timeframe:  c.Query("timeframe"),
		ExitReason: strings.ToUpper(c.Query("exit_reason")),
	}
	if v := c.Query("decision"); v != "" {
		f.Decision = decision.Action(strings.ToUpper(v))
	}
	if v := c.Query("quality"); v != "" {
		f.Quality = contextstore.Quality(strings.ToUpper(v))
	}
	if v := c.Query("volatility"); v != "" {
		f.Volatility = contextstore.Volatility(strings.ToUpper(v))
	}
	if v := c.Query("trade_type"); v != "" {
		f.TradeType = ledger.TradeType(strings.ToUpper(v))
	}
	if v := c.Query("dte_bucket"); v != "" {
		f.DTEBucket = strings.ToUpper(v)
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, err
		}
		f.Limit = n
	}
	if v := c.Query("has_exit"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, err
		}
		f.HasExit = &b
	}
	if v := c.Query("has_hypothetical"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, err
		}
		f.HasHypothetical = &b
	}
	if v := c.Query("min_confluence"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, err
		}
		f.MinConfluence = &n
	}
	if v := c.Query("max_confluence"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, err
		}
		f.MaxConfluence = &n
	}
	return f, nil
}
