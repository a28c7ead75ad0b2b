// Confluence decision engine entrypoint.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/confluence/internal/api"
	"github.com/tradeforge/confluence/internal/config"
	"github.com/tradeforge/confluence/internal/contextstore"
	"github.com/tradeforge/confluence/internal/db"
	"github.com/tradeforge/confluence/internal/decision"
	"github.com/tradeforge/confluence/internal/ledger"
	"github.com/tradeforge/confluence/internal/market"
	"github.com/tradeforge/confluence/internal/orchestrator"
	"github.com/tradeforge/confluence/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().
		Str("environment", cfg.App.Environment).
		Str("engine_version", cfg.Engine.Version).
		Str("config_hash", cfg.Hash()).
		Bool("decision_only", cfg.App.DecisionOnly).
		Msg("Starting confluence engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Storage: Postgres when configured, in-memory otherwise.
	var (
		led      ledger.Ledger
		receipts ledger.ReceiptStore
	)
	if database, err := db.New(ctx, &cfg.Database); err != nil {
		log.Warn().Err(err).Msg("Database unavailable, falling back to in-memory ledger")
		led = ledger.NewMemoryLedger(nil)
		receipts = ledger.NewMemoryReceipts(nil)
	} else {
		defer database.Close()
		go database.WatchStats(ctx, 15*time.Second)
		led = ledger.NewPostgresLedgerWithPool(database.Pool())
		receipts = ledger.NewPostgresReceipts(database.Pool(), nil)
		log.Info().Msg("Using PostgreSQL ledger")
	}

	// Market-data cache: shared Redis tier when enabled, in-process
	// otherwise.
	var cache market.FeedCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer client.Close()
		cache = market.NewRedisCache(client)
		log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("Using Redis feed cache")
	} else {
		mem := market.NewMemoryCache(nil)
		cache = mem
		go sweepLoop(ctx, mem, cfg.Market.SweepMS)
	}

	quota := market.NewQuotaLimiter(cfg.Market.Feeds, nil)
	builder := market.NewBuilder(
		market.NewOptionsClient(cfg.Market.Feeds[market.ProviderOptions]),
		market.NewAnalyticsClient(cfg.Market.Feeds[market.ProviderAnalytics]),
		market.NewLiquidityClient(cfg.Market.Feeds[market.ProviderLiquidity]),
		cache, quota, cfg, nil,
	)

	store := contextstore.New(&cfg.Context, cfg.Engine.Version, nil)
	engine := decision.NewEngine(&cfg.Engine, nil)
	router := webhook.NewRouter(nil)

	var intents orchestrator.IntentPublisher
	if cfg.NATS.Enabled && !cfg.App.DecisionOnly {
		natsIntents, err := orchestrator.NewNATSIntents(cfg.NATS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsIntents.Close()
		intents = natsIntents
		log.Info().Str("subject", cfg.NATS.Subject).Msg("Publishing paper intents over NATS")
	}

	orch := orchestrator.New(router, store, builder, engine, led, intents, cfg, nil)

	server := api.NewServer(api.Deps{
		Config:       cfg,
		Orchestrator: orch,
		Store:        store,
		Ledger:       led,
		Receipts:     receipts,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	log.Info().Msg("Shutting down...")
	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
		os.Exit(1)
	}
	log.Info().Msg("Engine stopped")
}

// sweepLoop evicts expired in-memory cache entries on an interval.
func sweepLoop(ctx context.Context, cache *market.MemoryCache, sweepMS int) {
	if sweepMS <= 0 {
		sweepMS = 30000
	}
	ticker := time.NewTicker(time.Duration(sweepMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := cache.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("Feed cache sweep")
			}
		}
	}
}
