package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes wires the endpoint groups: signed webhook ingestion, the
// bearer-guarded read side, the debug audit trail, and the probes.
func (s *Server) setupRoutes() {
	rateLimited := RateLimitMiddleware(s.cfg.Server.RequestsPerMin)

	webhooks := s.router.Group("/api/webhooks")
	webhooks.Use(rateLimited, SignatureMiddleware(s.cfg.Auth.WebhookSecret))
	{
		webhooks.POST("/signals", s.handleWebhook)
		webhooks.POST("/saty-phase", s.handleWebhook)
		webhooks.POST("/trend", s.handleWebhook)
		webhooks.POST("/options", s.handleWebhook)
		webhooks.POST("/strat", s.handleWebhook)
	}

	readSide := s.router.Group("/api")
	readSide.Use(rateLimited, BearerMiddleware(s.cfg.Auth.BearerToken))
	{
		readSide.GET("/decisions", s.handleListDecisions)
		readSide.GET("/decisions/aggregates", s.handleDecisionAggregates)
		readSide.GET("/decisions/:id", s.handleGetDecision)
		readSide.POST("/decisions/:id/exit", s.handleRecordExit)
		readSide.POST("/decisions/:id/hypothetical", s.handleRecordHypothetical)
		readSide.GET("/phase/current", s.handleCurrentPhase)
		readSide.GET("/trend/current", s.handleCurrentTrend)
		readSide.GET("/context/stats", s.handleContextStats)
	}

	debug := s.router.Group("/api/webhooks")
	debug.Use(rateLimited, BearerMiddleware(s.cfg.Auth.DebugToken))
	{
		debug.GET("/recent", s.handleRecentWebhooks)
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
