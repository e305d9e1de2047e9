package stock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/stock/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixedStock map[string]int

func (f fixedStock) Quantity(code string) (int, bool) {
	q, ok := f[code]
	return q, ok
}

// failingLedger accepts the first n appends, then fails.
type failingLedger struct {
	stock.LedgerStore
	n int
}

func (f *failingLedger) Append(ctx context.Context, e stock.Entry) (stock.EntryID, error) {
	if f.n == 0 {
		return "", stock.Unavailable("append", errors.New("deadline exceeded"))
	}
	f.n--
	return f.LedgerStore.Append(ctx, e)
}

func sale(code string, qty int) stock.Line {
	return stock.Line{ItemCode: code, Kind: stock.KindSale, Quantity: qty}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestSubmit_RejectsMalformedLines(t *testing.T) {
	cases := map[string]stock.Transaction{
		"no lines":          {},
		"empty code":        {Lines: []stock.Line{sale("", 1)}},
		"code with space":   {Lines: []stock.Line{sale("A 1", 1)}},
		"unknown kind":      {Lines: []stock.Line{{ItemCode: "A1", Kind: "transfer", Quantity: 1}}},
		"zero sale":         {Lines: []stock.Line{sale("A1", 0)}},
		"negative addition": {Lines: []stock.Line{{ItemCode: "A1", Kind: stock.KindAddition, Quantity: -1}}},
		"negative count":    {Lines: []stock.Line{{ItemCode: "A1", Kind: stock.KindAdjustment, Quantity: -1}}},
		"bad second line":   {Lines: []stock.Line{sale("A1", 1), sale("", 1)}},
	}
	for name, tx := range cases {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemory()
			s := stock.NewSubmitter(mem, nil, nil)

			ids, err := s.Submit(context.Background(), tx)

			assert.ErrorIs(t, err, stock.ErrValidation)
			assert.True(t, stock.IsClientError(err))
			assert.Nil(t, ids)
			entries, _ := mem.Query(context.Background(), stock.Query{})
			assert.Empty(t, entries, "nothing reaches the ledger")
		})
	}
}

func TestSubmit_AdjustmentToZeroIsValid(t *testing.T) {
	s := stock.NewSubmitter(store.NewMemory(), nil, nil)
	ids, err := s.Submit(context.Background(), stock.Transaction{
		Lines: []stock.Line{{ItemCode: "A1", Kind: stock.KindAdjustment, Quantity: 0}},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

// =============================================================================
// LOCAL SUFFICIENCY
// =============================================================================

func TestSubmit_InsufficientStock(t *testing.T) {
	mem := store.NewMemory()
	s := stock.NewSubmitter(mem, fixedStock{"A1": 5}, nil)

	// WHEN: two lines for the same code together exceed the cached value
	_, err := s.Submit(context.Background(), stock.Transaction{
		Lines: []stock.Line{sale("A1", 3), sale("A1", 3)},
	})

	// THEN
	var ise *stock.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "A1", ise.ItemCode)
	assert.Equal(t, 5, ise.Available)
	assert.Equal(t, 6, ise.Requested)
	entries, _ := mem.Query(context.Background(), stock.Query{})
	assert.Empty(t, entries)
}

func TestSubmit_UnknownCodeHasNothingToSell(t *testing.T) {
	s := stock.NewSubmitter(store.NewMemory(), fixedStock{}, nil)
	_, err := s.Submit(context.Background(), stock.Transaction{Lines: []stock.Line{sale("Z9", 1)}})
	assert.ErrorIs(t, err, stock.ErrInsufficientStock)
}

func TestSubmit_ReturnSkipsCheck(t *testing.T) {
	s := stock.NewSubmitter(store.NewMemory(), fixedStock{"A1": 0}, nil)
	_, err := s.Submit(context.Background(), stock.Transaction{
		Lines: []stock.Line{{ItemCode: "A1", Kind: stock.KindReturn, Quantity: 4}},
	})
	assert.NoError(t, err)
}

func TestSubmit_RecordsAdvisoryQuantities(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := stock.NewSubmitter(mem, fixedStock{"A1": 10}, nil)

	ids, err := s.Submit(ctx, stock.Transaction{
		Actor: "till-2",
		Note:  "order 118",
		Lines: []stock.Line{
			sale("A1", 3),
			{ItemCode: "A1", Kind: stock.KindAddition, Quantity: 1, Note: "found one"},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	first, err := mem.Entry(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 10, *first.QuantityBefore)
	assert.Equal(t, 7, *first.QuantityAfter)
	assert.Equal(t, "till-2", first.Actor)
	assert.Equal(t, "order 118", first.Note)

	second, err := mem.Entry(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, 7, *second.QuantityBefore)
	assert.Equal(t, 8, *second.QuantityAfter)
	assert.Equal(t, "order 118; found one", second.Note)
}

// =============================================================================
// PARTIAL COMMIT
// =============================================================================

func TestSubmit_PartialCommitKeepsEarlierLines(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := stock.NewSubmitter(&failingLedger{LedgerStore: mem, n: 2}, nil, nil)

	ids, err := s.Submit(ctx, stock.Transaction{
		Lines: []stock.Line{sale("A1", 1), sale("B2", 1), sale("C3", 1)},
	})

	var pce *stock.PartialCommitError
	require.ErrorAs(t, err, &pce)
	assert.ErrorIs(t, err, stock.ErrPartialCommit)
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
	assert.Equal(t, 2, pce.FailedLine)
	assert.Equal(t, ids, pce.Committed)

	entries, _ := mem.Query(ctx, stock.Query{})
	assert.Len(t, entries, 2)
}

func TestSubmit_FirstLineFailureIsPlain(t *testing.T) {
	s := stock.NewSubmitter(&failingLedger{LedgerStore: store.NewMemory()}, nil, nil)

	ids, err := s.Submit(context.Background(), stock.Transaction{Lines: []stock.Line{sale("A1", 1)}})

	assert.Nil(t, ids)
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, stock.ErrPartialCommit)
}

// =============================================================================
// OVERRIDE
// =============================================================================

func TestOverride_RequiresSecret(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id, err := mem.Append(ctx, entry("A1", stock.KindAddition, 5, day0))
	require.NoError(t, err)

	open := stock.NewOverride(mem, "", nil)
	_, err = open.EditEntry(ctx, "", id, 3, "")
	assert.ErrorIs(t, err, stock.ErrUnauthorized, "an unset secret rejects everything")

	o := stock.NewOverride(mem, "s3cret", nil)
	_, err = o.EditEntry(ctx, "guess", id, 3, "")
	assert.ErrorIs(t, err, stock.ErrUnauthorized)
	assert.ErrorIs(t, o.DeleteEntry(ctx, "guess", id), stock.ErrUnauthorized)
	assert.NoError(t, o.Authorize("s3cret"))
}

func TestOverride_EditAndDelete(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id, err := mem.Append(ctx, entry("A1", stock.KindAddition, 5, day0))
	require.NoError(t, err)
	o := stock.NewOverride(mem, "s3cret", nil)

	// WHEN: the quantity is corrected
	edited, err := o.EditEntry(ctx, "s3cret", id, 3, "miscounted")
	require.NoError(t, err)
	assert.Equal(t, 3, edited.Quantity)
	assert.Equal(t, day0, edited.Timestamp)

	// THEN: the fold sees the new value
	entries, _ := mem.Query(ctx, stock.Query{Codes: []string{"A1"}})
	assert.Equal(t, 3, stock.Fold(entries))

	// AND: an edit that breaks validation is rejected
	_, err = o.EditEntry(ctx, "s3cret", id, 0, "")
	assert.ErrorIs(t, err, stock.ErrValidation)

	require.NoError(t, o.DeleteEntry(ctx, "s3cret", id))
	assert.ErrorIs(t, o.DeleteEntry(ctx, "s3cret", id), stock.ErrEntryNotFound)
	_, err = o.EditEntry(ctx, "s3cret", "missing", 1, "")
	assert.ErrorIs(t, err, stock.ErrEntryNotFound)
}

func TestErrors_Messages(t *testing.T) {
	assert.Equal(t, "line 2: quantity must be positive",
		(&stock.ValidationError{Line: 2, Field: "quantity", Reason: "must be positive"}).Error())
	assert.Equal(t, "lines must not be empty",
		(&stock.ValidationError{Line: -1, Field: "lines", Reason: "must not be empty"}).Error())

	err := stock.Unavailable("query", errors.New("timeout"))
	assert.Equal(t, "store unavailable: query: timeout", err.Error())

	pce := &stock.PartialCommitError{Committed: []stock.EntryID{"a", "b"}, FailedLine: 2, Err: errors.New("x")}
	assert.Equal(t, "line 2 failed after committing [a, b]: x", pce.Error())
}
