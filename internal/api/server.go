// Package api exposes the webhook ingestion endpoints and the
// read-side query surface over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/ledger"
	"github.com/tradeforge/confluence/internal/metrics"
	"github.com/tradeforge/confluence/internal/orchestrator"
)

// Server is the HTTP front door.
type Server struct {
	router    *gin.Engine
	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	store     *contextstore.Store
	ledger    ledger.Ledger
	receipts  ledger.ReceiptStore
	server    *http.Server
	startedAt time.Time
	now       func() time.Time
}

// Deps carries the server's collaborators.
type Deps struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Store        *contextstore.Store
	Ledger       ledger.Ledger
	Receipts     ledger.ReceiptStore
	Now          func() time.Time
}

// NewServer wires the router, middleware, and routes.
func NewServer(deps Deps) *Server {
	if deps.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Signature"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router:    router,
		cfg:       deps.Config,
		orch:      deps.Orchestrator,
		store:     deps.Store,
		ledger:    deps.Ledger,
		receipts:  deps.Receipts,
		startedAt: now(),
		now:       now,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware logs every request and feeds the HTTP metrics.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		metrics.RecordHTTPRequest(method, path, statusCode, float64(latency.Milliseconds()))

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}
		logEvent.Msg("API request")
	}
}
