package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var base = time.Date(2025, time.June, 3, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.Now = func() time.Time { return base }
	return store
}

func appendAll(t *testing.T, s *sqlite.Store, entries ...stock.Entry) []stock.EntryID {
	ids := make([]stock.EntryID, len(entries))
	for i, e := range entries {
		id, err := s.Append(context.Background(), e)
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_AppendAndQueryOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// GIVEN: entries appended out of time order, two sharing a timestamp
	ids := appendAll(t, s,
		stock.Entry{ItemCode: "A1", Kind: stock.KindSale, Quantity: 1, Timestamp: base.Add(2 * time.Hour)},
		stock.Entry{ItemCode: "A1", Kind: stock.KindInitialStock, Quantity: 10, Timestamp: base},
		stock.Entry{ItemCode: "A1", Kind: stock.KindAdjustment, Quantity: 4, Timestamp: base.Add(time.Hour)},
		stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 2, Timestamp: base.Add(time.Hour)},
	)

	// WHEN
	entries, err := s.Query(ctx, stock.Query{})

	// THEN: time order, insertion order among equals
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, []stock.EntryID{ids[1], ids[2], ids[3], ids[0]},
		[]stock.EntryID{entries[0].ID, entries[1].ID, entries[2].ID, entries[3].ID})
	assert.Equal(t, 5, stock.Fold(entries))
	assert.True(t, entries[0].Timestamp.Equal(base))
}

func TestStore_QueryByCodesAndRange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendAll(t, s,
		stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 1, Timestamp: base},
		stock.Entry{ItemCode: "B2", Kind: stock.KindAddition, Quantity: 2, Timestamp: base.Add(time.Hour)},
		stock.Entry{ItemCode: "C3", Kind: stock.KindAddition, Quantity: 3, Timestamp: base.Add(2 * time.Hour)},
		stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 4, Timestamp: base.Add(3 * time.Hour)},
	)

	byCode, err := s.Query(ctx, stock.Query{Codes: []string{"A1", "C3"}})
	require.NoError(t, err)
	assert.Len(t, byCode, 3)

	// Bounds are inclusive
	ranged, err := s.Query(ctx, stock.Query{From: base.Add(time.Hour), To: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "B2", ranged[0].ItemCode)

	both, err := s.Query(ctx, stock.Query{Codes: []string{"A1"}, To: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, 1, both[0].Quantity)
}

func TestStore_QueryAtInListLimit(t *testing.T) {
	s := newTestStore(t)
	codes := make([]string, stock.InListLimit)
	for i := range codes {
		codes[i] = fmt.Sprintf("C%02d", i)
		appendAll(t, s, stock.Entry{ItemCode: codes[i], Kind: stock.KindAddition, Quantity: 1, Timestamp: base})
	}

	entries, err := s.Query(context.Background(), stock.Query{Codes: codes})
	require.NoError(t, err)
	assert.Len(t, entries, stock.InListLimit)
}

func TestStore_AppendAssignsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	before, after := 3, 2

	id, err := s.Append(ctx, stock.Entry{
		ItemCode: "A1", Kind: stock.KindSale, Quantity: 1,
		Actor: "till-1", Note: "walk-in",
		QuantityBefore: &before, QuantityAfter: &after,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	e, err := s.Entry(ctx, id)
	require.NoError(t, err)
	assert.True(t, e.Timestamp.Equal(base))
	assert.Equal(t, "till-1", e.Actor)
	assert.Equal(t, "walk-in", e.Note)
	require.NotNil(t, e.QuantityBefore)
	assert.Equal(t, 3, *e.QuantityBefore)
	assert.Equal(t, 2, *e.QuantityAfter)

	bare, err := s.Append(ctx, stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 1})
	require.NoError(t, err)
	e, err = s.Entry(ctx, bare)
	require.NoError(t, err)
	assert.Nil(t, e.QuantityBefore)
	assert.Empty(t, e.Actor)
}

func TestStore_DuplicateIDUnavailable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := stock.Entry{ID: "fixed", ItemCode: "A1", Kind: stock.KindAddition, Quantity: 1}
	_, err := s.Append(ctx, e)
	require.NoError(t, err)

	_, err = s.Append(ctx, e)
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
}

// =============================================================================
// OVERRIDE PATH
// =============================================================================

func TestStore_EditAndDeleteEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ids := appendAll(t, s, stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 5, Timestamp: base})

	e, err := s.Entry(ctx, ids[0])
	require.NoError(t, err)
	e.Quantity = 7
	require.NoError(t, s.EditEntry(ctx, e))

	got, err := s.Entry(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 7, got.Quantity)

	require.NoError(t, s.DeleteEntry(ctx, ids[0]))
	_, err = s.Entry(ctx, ids[0])
	assert.ErrorIs(t, err, stock.ErrEntryNotFound)
	assert.ErrorIs(t, s.DeleteEntry(ctx, ids[0]), stock.ErrEntryNotFound)
	assert.ErrorIs(t, s.EditEntry(ctx, e), stock.ErrEntryNotFound)
}

// =============================================================================
// SNAPSHOTS AND CATALOG
// =============================================================================

func TestStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	missing, err := s.SnapshotFor(ctx, "2025-06-02")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.SaveSnapshot(ctx, stock.Snapshot{DateKey: "2025-06-02", Quantities: map[string]int{"A1": 6}}))
	require.NoError(t, s.SaveSnapshot(ctx, stock.Snapshot{DateKey: "2025-06-02", Quantities: map[string]int{"A1": 7, "B2": -1}}))

	snap, err := s.SnapshotFor(ctx, "2025-06-02")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, map[string]int{"A1": 7, "B2": -1}, snap.Quantities)
	assert.True(t, snap.CreatedAt.Equal(base), "zero CreatedAt takes the store clock")
}

func TestStore_SnapshotWithCorruptCreatedAt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stock.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SaveSnapshot(ctx, stock.Snapshot{DateKey: "2025-06-03", Quantities: map[string]int{"A1": 4}, CreatedAt: base}))

	// GIVEN: the row's created_at is damaged behind the store's back
	raw, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, "UPDATE snapshots SET created_at = 'yesterday-ish' WHERE date_key = ?", "2025-06-03")
	require.NoError(t, err)

	// WHEN
	snap, err := s.SnapshotFor(ctx, "2025-06-03")

	// THEN: the damage is reported, not read as the zero time
	assert.Nil(t, snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad created_at")
}

func TestStore_Items(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveItem(ctx, stock.Item{Code: "B2", Name: "Bolt", Category: "hardware", Price: decimal.RequireFromString("0.35"), Unit: "pcs"}))
	require.NoError(t, s.SaveItem(ctx, stock.Item{Code: "A1", Name: "Anchor", Category: "hardware"}))
	require.NoError(t, s.SaveItem(ctx, stock.Item{Code: "A1", Name: "Anchor XL", Category: "hardware"}))

	items, err := s.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Anchor XL", items[0].Name)
	assert.True(t, items[1].Price.Equal(decimal.RequireFromString("0.35")))

	require.NoError(t, s.DeleteItem(ctx, "A1"))
	items, err = s.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendAll(t, s, stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 1})
	require.NoError(t, s.SaveItem(ctx, stock.Item{Code: "A1"}))
	require.NoError(t, s.SaveSnapshot(ctx, stock.Snapshot{DateKey: "2025-06-02"}))

	require.NoError(t, s.Reset(ctx))

	entries, _ := s.Query(ctx, stock.Query{})
	items, _ := s.Items(ctx)
	snap, _ := s.SnapshotFor(ctx, "2025-06-02")
	assert.Empty(t, entries)
	assert.Empty(t, items)
	assert.Nil(t, snap)
}

func TestStore_ClosedIsUnavailable(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Query(context.Background(), stock.Query{})
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
}
