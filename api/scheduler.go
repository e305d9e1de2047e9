/*
scheduler.go - Daily closing snapshot scheduler

PURPOSE:
  Stands in for the external batch process that produces daily snapshots.
  Periodically checks whether yesterday's closing snapshot exists and, if
  not, resolves every quantity as of the end of yesterday and saves it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only closes days that are over, so a snapshot never predates entries
    of its own day
  - Skips days that already have a snapshot

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSnapshotScheduler(resolver, store, cal, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TakeSnapshot endpoint (manual trigger)
  - cmd/snapshot: one-shot command for cron
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/stock-engine/stock"
)

// SnapshotWriter stores and looks up daily snapshots.
type SnapshotWriter interface {
	stock.SnapshotStore
	SaveSnapshot(ctx context.Context, s stock.Snapshot) error
}

// Resolver is the part of stock.Resolver snapshots need.
type Resolver interface {
	ResolveAll(ctx context.Context, asOf time.Time, codes ...string) (map[string]int, error)
}

// TakeClosingSnapshot resolves every code as of the last instant of
// dateKey and saves the result under that key.
func TakeClosingSnapshot(ctx context.Context, r Resolver, w SnapshotWriter, dateKey string, cal stock.Calendar) (stock.Snapshot, error) {
	loc := cal.Location
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(stock.DateKeyLayout, dateKey, loc)
	if err != nil {
		return stock.Snapshot{}, &stock.ValidationError{Line: -1, Field: "date_key", Reason: err.Error()}
	}
	closing := day.AddDate(0, 0, 1).Add(-time.Nanosecond)

	q, err := r.ResolveAll(ctx, closing)
	if err != nil {
		return stock.Snapshot{}, fmt.Errorf("resolve %s: %w", dateKey, err)
	}
	snap := stock.Snapshot{DateKey: dateKey, Quantities: q, CreatedAt: closing}
	if err := w.SaveSnapshot(ctx, snap); err != nil {
		return stock.Snapshot{}, fmt.Errorf("save snapshot %s: %w", dateKey, err)
	}
	return snap, nil
}

// SnapshotScheduler closes each finished day once.
type SnapshotScheduler struct {
	Resolver      Resolver
	Store         SnapshotWriter
	Calendar      stock.Calendar
	Logger        *zap.Logger
	Now           func() time.Time
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSnapshotScheduler creates a new scheduler.
func NewSnapshotScheduler(r Resolver, store SnapshotWriter, cal stock.Calendar, logger *zap.Logger) *SnapshotScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotScheduler{
		Resolver:      r,
		Store:         store,
		Calendar:      cal,
		Logger:        logger,
		Now:           time.Now,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *SnapshotScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("snapshot scheduler disabled")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("snapshot scheduler started", zap.Duration("check_interval", s.CheckInterval))
}

// Stop stops the scheduler.
func (s *SnapshotScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("snapshot scheduler stopped")
	}
}

func (s *SnapshotScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.CheckAndProcess(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.CheckAndProcess(context.Background())
		case <-s.stop:
			return
		}
	}
}

// CheckAndProcess saves yesterday's closing snapshot when it is missing.
// Reports whether a snapshot was taken.
func (s *SnapshotScheduler) CheckAndProcess(ctx context.Context) bool {
	key := s.Calendar.Yesterday(s.Now())

	existing, err := s.Store.SnapshotFor(ctx, key)
	if err != nil {
		s.Logger.Warn("checking snapshot failed", zap.String("date_key", key), zap.Error(err))
		return false
	}
	if existing != nil {
		return false
	}

	snap, err := TakeClosingSnapshot(ctx, s.Resolver, s.Store, key, s.Calendar)
	if err != nil {
		s.Logger.Error("taking snapshot failed", zap.String("date_key", key), zap.Error(err))
		return false
	}
	s.Logger.Info("closing snapshot saved",
		zap.String("date_key", snap.DateKey),
		zap.Int("items", len(snap.Quantities)),
	)
	return true
}
