package feed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/feed"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/stock/store"
)

// =============================================================================
// HUB
// =============================================================================

func TestHub_FiltersPerSubscriber(t *testing.T) {
	hub := feed.NewHub[int]()
	var evens, all [][]feed.Record[int]
	hub.Subscribe(func(v int) bool { return v%2 == 0 }, func(b []feed.Record[int]) { evens = append(evens, b) })
	hub.Subscribe(nil, func(b []feed.Record[int]) { all = append(all, b) })

	// WHEN
	hub.Publish(feed.Add(1), feed.Modify(2), feed.Remove(4))
	hub.Publish(feed.Add(3))

	// THEN: one call per batch, rejected-only batches skipped
	require.Len(t, evens, 1)
	assert.Equal(t, []feed.Record[int]{feed.Modify(2), feed.Remove(4)}, evens[0])
	require.Len(t, all, 2)
	assert.Len(t, all[0], 3)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := feed.NewHub[string]()
	calls := 0
	unsubscribe := hub.Subscribe(nil, func([]feed.Record[string]) { calls++ })
	other := hub.Subscribe(nil, func([]feed.Record[string]) {})

	hub.Publish(feed.Add("a"))
	unsubscribe()
	unsubscribe()
	hub.Publish(feed.Add("b"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, hub.Len())
	other()
	assert.Equal(t, 0, hub.Len())
}

func TestHub_SubscriberMayUnsubscribeDuringDelivery(t *testing.T) {
	hub := feed.NewHub[int]()
	var unsubscribe func()
	calls := 0
	unsubscribe = hub.Subscribe(nil, func([]feed.Record[int]) {
		calls++
		unsubscribe()
	})

	hub.Publish(feed.Add(1))
	hub.Publish(feed.Add(2))

	assert.Equal(t, 1, calls)
}

func TestHub_EmptyPublishIsNoop(t *testing.T) {
	hub := feed.NewHub[int]()
	hub.Subscribe(nil, func([]feed.Record[int]) { t.Fatal("called") })
	hub.Publish()
}

// =============================================================================
// LEDGER FEED
// =============================================================================

func TestLedgerFeed_PublishesWrites(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	at := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)
	mem.Now = func() time.Time { return at }
	lf := feed.NewLedgerFeed(mem)

	var got []feed.Record[stock.Entry]
	lf.Subscribe(func(e stock.Entry) bool { return e.ItemCode == "A1" }, func(b []feed.Record[stock.Entry]) {
		got = append(got, b...)
	})

	// WHEN
	id, err := lf.Append(ctx, stock.Entry{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 2})
	require.NoError(t, err)
	_, err = lf.Append(ctx, stock.Entry{ItemCode: "B2", Kind: stock.KindAddition, Quantity: 2})
	require.NoError(t, err)

	e, err := lf.Entry(ctx, id)
	require.NoError(t, err)
	e.Quantity = 3
	require.NoError(t, lf.EditEntry(ctx, e))
	require.NoError(t, lf.DeleteEntry(ctx, id))

	// THEN: the added record carries the store-assigned ID and timestamp
	require.Len(t, got, 3)
	assert.Equal(t, feed.Added, got[0].Type)
	assert.Equal(t, id, got[0].Data.ID)
	assert.True(t, got[0].Data.Timestamp.Equal(at))
	assert.Equal(t, feed.Modified, got[1].Type)
	assert.Equal(t, 3, got[1].Data.Quantity)
	assert.Equal(t, feed.Removed, got[2].Type)
}

func TestLedgerFeed_FailedWritesAreSilent(t *testing.T) {
	ctx := context.Background()
	lf := feed.NewLedgerFeed(store.NewMemory())
	lf.Subscribe(nil, func([]feed.Record[stock.Entry]) { t.Fatal("published a failed write") })

	assert.ErrorIs(t, lf.DeleteEntry(ctx, "missing"), stock.ErrEntryNotFound)
	assert.ErrorIs(t, lf.EditEntry(ctx, stock.Entry{ID: "missing"}), stock.ErrEntryNotFound)
}
