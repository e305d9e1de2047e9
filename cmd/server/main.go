/*
main.go - Application entry point

PURPOSE:
  Initializes and starts one client instance of the stock engine: the
  shared stores, this instance's cache, the signal channel and the HTTP
  API. Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment, then parse flags
  2. Initialize logger and SQLite store
  3. Connect the signal medium (Redis, or in-process when REDIS_ADDR is empty)
     and relay local ledger commits over it
  4. Start the cache instance (subscribe, warm up, catch up)
  5. Start the snapshot scheduler and the HTTP server

COMMAND-LINE FLAGS (override environment):
  -port    HTTP server port (HTTP_PORT, default: 8080)
  -db      SQLite database path (DB_PATH, default: stock.db)
           Use ":memory:" for in-memory database
  -redis   Redis address for cross-instance signals (REDIS_ADDR)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close the cache instance
  4. Close Redis and the database
  5. Exit

EXAMPLES:
  # Two instances sharing one database and one Redis
  ./server -db=./data/stock.db -redis=localhost:6379 -port=8080
  ./server -db=./data/stock.db -redis=localhost:6379 -port=8081

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - cache/instance.go: Client cache lifecycle
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/api"
	"github.com/warp/stock-engine/cache"
	"github.com/warp/stock-engine/catalog"
	"github.com/warp/stock-engine/config"
	"github.com/warp/stock-engine/feed"
	"github.com/warp/stock-engine/logging"
	"github.com/warp/stock-engine/signals"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.String("port", cfg.Server.HTTPPort, "HTTP server port")
	dbPath := flag.String("db", cfg.Store.DBPath, "SQLite database path")
	redisAddr := flag.String("redis", cfg.Redis.Addr, "Redis address for signals (empty: in-process)")
	flag.Parse()

	logger := logging.Must(cfg.Logger)
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()
	logger.Info("database ready", zap.String("path", *dbPath))

	// Signal medium
	var medium signals.Medium = signals.NewMemoryMedium()
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Fatal("could not connect to redis", zap.String("addr", *redisAddr), zap.Error(err))
		}
		defer client.Close()
		medium = signals.NewRedisMedium(client, cfg.Redis.TTL, logger)
		logger.Info("connected to redis", zap.String("addr", *redisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set; signals stay inside this process")
	}

	origin := fmt.Sprintf("%s-%s", cfg.Signals.Origin, uuid.NewString()[:8])
	channel := signals.NewChannel(medium, cfg.Signals.Topic, origin, logger.Named("signals"))
	relay := signals.NewLedgerRelay(medium, cfg.Signals.Topic+":ledger", origin, logger.Named("relay"))

	// Core
	cal := stock.Calendar{Location: cfg.Store.Location()}
	ledger := feed.NewLedgerFeed(store)
	// Every local commit also reaches the other instances.
	stopRelay := ledger.Subscribe(nil, relay.Forward)
	defer stopRelay()
	resolver := stock.NewResolver(ledger, store, cal, logger.Named("resolve"))
	cat := catalog.NewService(store, channel, logger.Named("catalog"))

	inst := cache.New(cache.Config{
		Debounce:      cfg.Cache.Debounce,
		IdleTimeout:   cfg.Cache.IdleTimeout,
		CatchUpWindow: cfg.Signals.CatchUpWindow,
		Calendar:      cal,
	}, cache.Deps{
		Resolver: resolver,
		Catalog:  cat,
		Ledger:   ledger,
		Remote:   relay,
		Items:    cat,
		Signals:  channel,
		Logger:   logger.Named("cache").With(zap.String("origin", origin)),
	})
	if err := inst.Start(context.Background()); err != nil {
		logger.Warn("cache warm-up failed; serving stale data until the next read", zap.Error(err))
	}
	defer inst.Close()

	scheduler := api.NewSnapshotScheduler(resolver, store, cal, logger.Named("scheduler"))
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Admin.Secret == "" {
		logger.Warn("ADMIN_SECRET not set; override routes reject every request")
	}

	// Initialize handler and router
	handler := api.NewHandler(ledger, store, resolver, inst, cat, cfg.Admin.Secret, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		OverridePerMinute: cfg.Admin.OverrideRate,
		OverrideBurst:     cfg.Admin.OverrideBurst,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("origin", origin))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
