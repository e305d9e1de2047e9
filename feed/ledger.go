package feed

import (
	"context"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// LEDGER FEED - Publishes every committed ledger change
// =============================================================================

// LedgerFeed wraps an AdminStore and publishes each successful write.
// Reads pass straight through.
type LedgerFeed struct {
	stock.AdminStore
	Hub *Hub[stock.Entry]
}

func NewLedgerFeed(store stock.AdminStore) *LedgerFeed {
	return &LedgerFeed{AdminStore: store, Hub: NewHub[stock.Entry]()}
}

// Append publishes the stored entry, with its assigned ID and timestamp.
func (f *LedgerFeed) Append(ctx context.Context, e stock.Entry) (stock.EntryID, error) {
	id, err := f.AdminStore.Append(ctx, e)
	if err != nil {
		return "", err
	}
	stored, err := f.AdminStore.Entry(ctx, id)
	if err != nil {
		// Committed but not readable back; publish what we know.
		e.ID = id
		stored = e
	}
	f.Hub.Publish(Add(stored))
	return id, nil
}

func (f *LedgerFeed) EditEntry(ctx context.Context, e stock.Entry) error {
	if err := f.AdminStore.EditEntry(ctx, e); err != nil {
		return err
	}
	f.Hub.Publish(Modify(e))
	return nil
}

func (f *LedgerFeed) DeleteEntry(ctx context.Context, id stock.EntryID) error {
	e, err := f.AdminStore.Entry(ctx, id)
	if err != nil {
		return err
	}
	if err := f.AdminStore.DeleteEntry(ctx, id); err != nil {
		return err
	}
	f.Hub.Publish(Remove(e))
	return nil
}

// Subscribe is shorthand for f.Hub.Subscribe.
func (f *LedgerFeed) Subscribe(selector func(stock.Entry) bool, onBatch func([]Record[stock.Entry])) func() {
	return f.Hub.Subscribe(selector, onBatch)
}
