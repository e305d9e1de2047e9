package cache

import (
	"context"
	"fmt"

	"github.com/warp/stock-engine/feed"
	"github.com/warp/stock-engine/signals"
	"github.com/warp/stock-engine/stock"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER DELTAS - fast path
// =============================================================================

// ApplyLedgerDelta applies a freshly committed entry without re-querying.
// Entries not dated today cannot be applied against a cache resolved
// through today's window, so they invalidate instead. Reports whether the
// fast path was taken.
func (i *Instance) ApplyLedgerDelta(e stock.Entry) bool {
	now := i.deps.Now()
	if !i.cfg.Calendar.IsToday(e.Timestamp, now) {
		i.Invalidate(fmt.Sprintf("backdated entry for %s", e.ItemCode))
		return false
	}

	i.mu.Lock()
	if i.refreshing {
		i.pending = append(i.pending, change{entry: &e})
	}
	before := i.items[e.ItemCode].Quantity
	it, applied := i.applyEntry(i.items, e)
	i.mu.Unlock()

	if !applied {
		i.logger.Debug("ledger delta for uncatalogued code ignored", zap.String("item_code", e.ItemCode))
		return true
	}
	if it.Quantity < 0 {
		i.logger.Warn("negative resolved quantity",
			zap.String("item_code", e.ItemCode),
			zap.Int("quantity", it.Quantity),
		)
	}
	i.logger.Debug("ledger delta applied",
		zap.String("item_code", e.ItemCode),
		zap.String("kind", string(e.Kind)),
		zap.Int("before", before),
		zap.Int("after", it.Quantity),
	)
	i.repaint.Trigger()
	return true
}

// applyEntry folds e into items. With a catalog the catalog decides which
// codes are cached, and entries for other codes are ignored. Without one
// an unseen code starts at 0.
func (i *Instance) applyEntry(items map[string]CachedItem, e stock.Entry) (CachedItem, bool) {
	it, ok := items[e.ItemCode]
	if !ok {
		if i.deps.Catalog != nil {
			return it, false
		}
		it = CachedItem{Code: e.ItemCode}
	}
	it.Quantity = stock.Tally{}.Apply(e).On(it.Quantity)
	items[e.ItemCode] = it
	return it, true
}

func (i *Instance) onLedgerBatch(records []feed.Record[stock.Entry]) {
	for _, r := range records {
		switch r.Type {
		case feed.Added:
			i.ApplyLedgerDelta(r.Data)
		case feed.Modified, feed.Removed:
			// Override edits rewrite history the cache already folded.
			i.Invalidate(fmt.Sprintf("ledger entry %s %s", r.Data.ID, r.Type))
		}
	}
}

// =============================================================================
// CATALOG SIGNALS
// =============================================================================

// ApplyCatalogSignal applies a catalog change. Add inserts an unseen
// item at 0 and backfills its quantity with one ResolveQuantity call; for
// a cached item it only refreshes the descriptive fields. Update touches
// descriptive fields, delete removes the key and resync invalidates. A
// failed backfill removes the inserted item again, invalidates and
// returns the error.
func (i *Instance) ApplyCatalogSignal(ctx context.Context, s signals.Signal) error {
	switch s.Action {
	case signals.ActionAdd, signals.ActionUpdate, signals.ActionDelete:
	case signals.ActionResync:
		i.Invalidate("catalog re-sync")
		return nil
	default:
		return fmt.Errorf("unknown signal action %q", s.Action)
	}

	i.mu.Lock()
	if i.refreshing {
		i.pending = append(i.pending, change{signal: &s})
	}
	inserted := applySignal(i.items, s, 0)
	i.mu.Unlock()
	i.repaint.Trigger()

	if inserted {
		if err := i.backfill(ctx, s.ItemCode); err != nil {
			return err
		}
	}

	i.logger.Debug("catalog signal applied",
		zap.String("action", string(s.Action)),
		zap.String("item_code", s.ItemCode),
	)
	return nil
}

func (i *Instance) backfill(ctx context.Context, code string) error {
	q, err := i.deps.Resolver.ResolveQuantity(ctx, code, i.deps.Now())
	if err != nil {
		i.mu.Lock()
		delete(i.items, code)
		i.mu.Unlock()
		i.logger.Warn("backfilling added item failed",
			zap.String("item_code", code),
			zap.Error(err),
		)
		i.Invalidate(fmt.Sprintf("backfill failed for %s", code))
		i.repaint.Trigger()
		return err
	}

	i.mu.Lock()
	if it, ok := i.items[code]; ok {
		it.Quantity = q
		i.items[code] = it
	}
	i.mu.Unlock()
	i.repaint.Trigger()
	return nil
}

// applySignal applies the descriptive part of s to items. An add for an
// unseen code inserts it at base and reports true.
func applySignal(items map[string]CachedItem, s signals.Signal, base int) bool {
	it, ok := items[s.ItemCode]
	switch s.Action {
	case signals.ActionAdd:
		if !ok {
			items[s.ItemCode] = CachedItem{Code: s.ItemCode, Name: s.DisplayName, Category: s.Category, Quantity: base}
			return true
		}
		fallthrough
	case signals.ActionUpdate:
		if ok {
			it.Name = s.DisplayName
			it.Category = s.Category
			items[s.ItemCode] = it
		}
	case signals.ActionDelete:
		delete(items, s.ItemCode)
	}
	return false
}

func (i *Instance) onSignal(s signals.Signal) {
	if err := i.ApplyCatalogSignal(context.Background(), s); err != nil {
		i.logger.Warn("applying signal failed", zap.String("item_code", s.ItemCode), zap.Error(err))
	}
}

// onCatalogBatch treats a single record like the matching signal. Larger
// batches are a bulk re-sync and invalidate.
func (i *Instance) onCatalogBatch(records []feed.Record[stock.Item]) {
	if len(records) != 1 {
		i.Invalidate(fmt.Sprintf("catalog bulk change (%d records)", len(records)))
		return
	}
	r := records[0]
	s := signals.Signal{ItemCode: r.Data.Code, DisplayName: r.Data.Name, Category: r.Data.Category}
	switch r.Type {
	case feed.Added:
		s.Action = signals.ActionAdd
	case feed.Modified:
		s.Action = signals.ActionUpdate
	case feed.Removed:
		s.Action = signals.ActionDelete
	default:
		i.Invalidate("unknown catalog record")
		return
	}
	i.onSignal(s)
}
