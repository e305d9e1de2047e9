/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates catalog items,
	ledger entries and, where relevant, a closing snapshot.

AVAILABLE SCENARIOS:

	basic-fold:       A1 restocked, sold and restocked again (12 left)
	adjustment:       A1 counted down to 0 mid-stream (5 left, not 12)
	snapshot-hybrid:  Yesterday closed into a snapshot, sales today
	negative-balance: Two stale sales drive B2 below zero

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Import catalog items in one batch
 3. Append ledger entries with explicit timestamps
 4. Optionally close yesterday into a snapshot
 5. Invalidate this instance's cache

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "adjustment"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - scheduler.go: TakeClosingSnapshot
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "basic-fold",
		Name:        "Basic Fold",
		Description: "Initial stock 10, sale 3, addition 5: A1 resolves to 12",
	},
	{
		ID:          "adjustment",
		Name:        "Adjustment Overwrites",
		Description: "Sale 3, adjustment to 0, addition 5: A1 resolves to 5",
	},
	{
		ID:          "snapshot-hybrid",
		Name:        "Snapshot + Today's Delta",
		Description: "Yesterday closed into a snapshot, today's sales folded on top",
	},
	{
		ID:          "negative-balance",
		Name:        "Negative Balance",
		Description: "Two terminals sell the same stale stock; B2 goes negative",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.writeStockError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeStockError(w, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	h.Cache.Invalidate("store reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context, scenarioClock) error
	switch id {
	case "basic-fold":
		load = h.loadBasicFoldScenario
	case "adjustment":
		load = h.loadAdjustmentScenario
	case "snapshot-hybrid":
		load = h.loadSnapshotHybridScenario
	case "negative-balance":
		load = h.loadNegativeBalanceScenario
	default:
		return &stock.ValidationError{Line: -1, Field: "scenario_id", Reason: "unknown scenario: " + id}
	}

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if err := load(ctx, newScenarioClock(h.Resolver.Now(), h.Calendar)); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.currentScenario = id
	h.Cache.Invalidate("scenario loaded")
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBasicFoldScenario(ctx context.Context, c scenarioClock) error {
	if err := h.importItems(ctx, demoItem("A1", "Arabica Beans 1kg", "coffee", "18.50")); err != nil {
		return err
	}
	return h.appendAll(ctx,
		stock.Entry{ItemCode: "A1", Kind: stock.KindInitialStock, Quantity: 10, Timestamp: c.yesterday(9), Note: "opening stock"},
		stock.Entry{ItemCode: "A1", Kind: stock.KindSale, Quantity: 3, Timestamp: c.yesterday(14)},
		stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 5, Timestamp: c.today(3), Note: "restock"},
	)
}

func (h *Handler) loadAdjustmentScenario(ctx context.Context, c scenarioClock) error {
	if err := h.importItems(ctx, demoItem("A1", "Arabica Beans 1kg", "coffee", "18.50")); err != nil {
		return err
	}
	return h.appendAll(ctx,
		stock.Entry{ItemCode: "A1", Kind: stock.KindInitialStock, Quantity: 10, Timestamp: c.yesterday(9)},
		stock.Entry{ItemCode: "A1", Kind: stock.KindSale, Quantity: 3, Timestamp: c.yesterday(12)},
		stock.Entry{ItemCode: "A1", Kind: stock.KindAdjustment, Quantity: 0, Timestamp: c.yesterday(15), Note: "shelf count: spoiled"},
		stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 5, Timestamp: c.today(3)},
	)
}

func (h *Handler) loadSnapshotHybridScenario(ctx context.Context, c scenarioClock) error {
	err := h.importItems(ctx,
		demoItem("A1", "Arabica Beans 1kg", "coffee", "18.50"),
		demoItem("B2", "Oat Milk 1L", "dairy", "3.20"),
		demoItem("C3", "Paper Cups x50", "supplies", "6.00"),
	)
	if err != nil {
		return err
	}
	err = h.appendAll(ctx,
		stock.Entry{ItemCode: "A1", Kind: stock.KindInitialStock, Quantity: 20, Timestamp: c.daysAgo(3, 9)},
		stock.Entry{ItemCode: "B2", Kind: stock.KindInitialStock, Quantity: 12, Timestamp: c.daysAgo(3, 9)},
		stock.Entry{ItemCode: "C3", Kind: stock.KindInitialStock, Quantity: 8, Timestamp: c.daysAgo(3, 9)},
		stock.Entry{ItemCode: "A1", Kind: stock.KindSale, Quantity: 4, Timestamp: c.daysAgo(2, 11)},
		stock.Entry{ItemCode: "B2", Kind: stock.KindFree, Quantity: 1, Timestamp: c.daysAgo(2, 16), Note: "staff tasting"},
		stock.Entry{ItemCode: "C3", Kind: stock.KindReturn, Quantity: 2, Timestamp: c.yesterday(10), Note: "damaged, sent back"},
		stock.Entry{ItemCode: "A1", Kind: stock.KindSale, Quantity: 2, Timestamp: c.yesterday(13)},
	)
	if err != nil {
		return err
	}
	if _, err := TakeClosingSnapshot(ctx, h.Resolver, h.Store, h.Calendar.Yesterday(c.now), h.Calendar); err != nil {
		return err
	}
	return h.appendAll(ctx,
		stock.Entry{ItemCode: "A1", Kind: stock.KindSale, Quantity: 1, Timestamp: c.today(5)},
		stock.Entry{ItemCode: "B2", Kind: stock.KindLockExchange, Quantity: 2, Timestamp: c.today(4), Note: "swapped for soy"},
		stock.Entry{ItemCode: "C3", Kind: stock.KindAddition, Quantity: 10, Timestamp: c.today(2)},
	)
}

func (h *Handler) loadNegativeBalanceScenario(ctx context.Context, c scenarioClock) error {
	if err := h.importItems(ctx, demoItem("B2", "Oat Milk 1L", "dairy", "3.20")); err != nil {
		return err
	}
	return h.appendAll(ctx,
		stock.Entry{ItemCode: "B2", Kind: stock.KindInitialStock, Quantity: 4, Timestamp: c.yesterday(9)},
		stock.Entry{ItemCode: "B2", Kind: stock.KindSale, Quantity: 3, Timestamp: c.today(6), Actor: "terminal-1"},
		stock.Entry{ItemCode: "B2", Kind: stock.KindSale, Quantity: 3, Timestamp: c.today(5), Actor: "terminal-2"},
	)
}

// =============================================================================
// HELPERS
// =============================================================================

func demoItem(code, name, category, price string) stock.Item {
	return stock.Item{Code: code, Name: name, Category: category, Price: decimal.RequireFromString(price), Unit: "pcs"}
}

func (h *Handler) importItems(ctx context.Context, items ...stock.Item) error {
	return h.Catalog.Import(ctx, items)
}

func (h *Handler) appendAll(ctx context.Context, entries ...stock.Entry) error {
	for _, e := range entries {
		if e.Actor == "" {
			e.Actor = "scenario"
		}
		if _, err := h.Ledger.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// scenarioClock places entries relative to now.
type scenarioClock struct {
	now time.Time
	cal stock.Calendar
}

func newScenarioClock(now time.Time, cal stock.Calendar) scenarioClock {
	return scenarioClock{now: now, cal: cal}
}

func (c scenarioClock) daysAgo(days, hour int) time.Time {
	day := c.cal.StartOfDay(c.now).AddDate(0, 0, -days)
	return day.Add(time.Duration(hour) * time.Hour)
}

func (c scenarioClock) yesterday(hour int) time.Time {
	return c.daysAgo(1, hour)
}

// today returns a moment minutesAgo before now, clamped to today.
func (c scenarioClock) today(minutesAgo int) time.Time {
	t := c.now.Add(-time.Duration(minutesAgo) * time.Minute)
	if start := c.cal.StartOfDay(c.now); t.Before(start) {
		return start.Add(time.Duration(10-minutesAgo) * time.Millisecond)
	}
	return t
}
