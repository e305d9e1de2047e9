package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/stock/store"
)

var base = time.Date(2025, time.June, 3, 8, 0, 0, 0, time.UTC)

func TestMemory_OrderAndFilters(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	// GIVEN: out-of-order appends, two at the same instant
	var ids []stock.EntryID
	for _, e := range []stock.Entry{
		{ItemCode: "A1", Kind: stock.KindSale, Quantity: 1, Timestamp: base.Add(2 * time.Hour)},
		{ItemCode: "B2", Kind: stock.KindAddition, Quantity: 3, Timestamp: base},
		{ItemCode: "A1", Kind: stock.KindAdjustment, Quantity: 4, Timestamp: base.Add(time.Hour)},
		{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 2, Timestamp: base.Add(time.Hour)},
	} {
		id, err := mem.Append(ctx, e)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := mem.Query(ctx, stock.Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []stock.EntryID{ids[1], ids[2], ids[3], ids[0]},
		[]stock.EntryID{all[0].ID, all[1].ID, all[2].ID, all[3].ID})

	a1, err := mem.Query(ctx, stock.Query{Codes: []string{"A1"}, From: base.Add(time.Hour), To: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, a1, 2)
	assert.Equal(t, 6, stock.Fold(a1))
}

func TestMemory_EditKeepsOrder(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	first, _ := mem.Append(ctx, stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 1, Timestamp: base})
	_, _ = mem.Append(ctx, stock.Entry{ItemCode: "A1", Kind: stock.KindAdjustment, Quantity: 9, Timestamp: base.Add(time.Hour)})

	// WHEN: the first entry is moved after the adjustment
	e, err := mem.Entry(ctx, first)
	require.NoError(t, err)
	e.Timestamp = base.Add(2 * time.Hour)
	require.NoError(t, mem.EditEntry(ctx, e))

	// THEN
	entries, _ := mem.Query(ctx, stock.Query{})
	assert.Equal(t, first, entries[1].ID)
	assert.Equal(t, 10, stock.Fold(entries))

	assert.ErrorIs(t, mem.EditEntry(ctx, stock.Entry{ID: "missing"}), stock.ErrEntryNotFound)
	assert.ErrorIs(t, mem.DeleteEntry(ctx, "missing"), stock.ErrEntryNotFound)
}

func TestMemory_SnapshotIsCopied(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	q := map[string]int{"A1": 1}
	require.NoError(t, mem.SaveSnapshot(ctx, stock.Snapshot{DateKey: "2025-06-02", Quantities: q}))
	q["A1"] = 99

	snap, err := mem.SnapshotFor(ctx, "2025-06-02")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Quantities["A1"])

	none, err := mem.SnapshotFor(ctx, "2025-06-01")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemory_Items(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveItem(ctx, stock.Item{Code: "B2"}))
	require.NoError(t, mem.SaveItem(ctx, stock.Item{Code: "A1"}))
	require.NoError(t, mem.DeleteItem(ctx, "B2"))

	items, err := mem.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A1", items[0].Code)
}

func TestMemory_FailWrapsUnavailable(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Fail = errors.New("offline")

	_, err := mem.Append(ctx, stock.Entry{ItemCode: "A1"})
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
	_, err = mem.SnapshotFor(ctx, "2025-06-02")
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
	_, err = mem.Items(ctx)
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
}
