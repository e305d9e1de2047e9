/*
main.go - Daily snapshot command

PURPOSE:
  Closes one calendar day into a snapshot: resolves every quantity as of
  the last instant of that day and saves it under the day's key. Meant for
  cron, as an alternative to the server's built-in scheduler.

COMMAND-LINE FLAGS:
  -db      SQLite database path (DB_PATH, default: stock.db)
  -date    Day to close, YYYY-MM-DD (default: yesterday)
  -force   Overwrite an existing snapshot for that day

EXAMPLES:
  ./snapshot -db=./data/stock.db
  ./snapshot -db=./data/stock.db -date=2025-06-01 -force
*/
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/warp/stock-engine/api"
	"github.com/warp/stock-engine/config"
	"github.com/warp/stock-engine/logging"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

func main() {
	cfg := config.Load()
	cal := stock.Calendar{Location: cfg.Store.Location()}

	dbPath := flag.String("db", cfg.Store.DBPath, "SQLite database path")
	date := flag.String("date", cal.Yesterday(time.Now()), "Day to close (YYYY-MM-DD)")
	force := flag.Bool("force", false, "Overwrite an existing snapshot")
	flag.Parse()

	logger := logging.Must(cfg.Logger)
	defer logger.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if !*force {
		existing, err := store.SnapshotFor(ctx, *date)
		if err != nil {
			logger.Fatal("checking snapshot failed", zap.Error(err))
		}
		if existing != nil {
			logger.Info("snapshot already exists", zap.String("date_key", *date))
			return
		}
	}

	resolver := stock.NewResolver(store, store, cal, logger)
	snap, err := api.TakeClosingSnapshot(ctx, resolver, store, *date, cal)
	if err != nil {
		logger.Error("taking snapshot failed", zap.String("date_key", *date), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("snapshot saved", zap.String("date_key", snap.DateKey), zap.Int("items", len(snap.Quantities)))
}
