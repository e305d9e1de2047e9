/*
Package stock provides the stock accounting core.

PURPOSE:
  Item quantities are never stored as a mutable field. They are always
  derived by folding an append-only ledger of dated entries. Daily
  snapshots bound how much of that ledger a read has to scan.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind: what a ledger entry does to the running quantity
  - Entry: one immutable ledger record
  - Snapshot: a precomputed code -> quantity map for a calendar day
  - Item: the denormalized catalog triple a client caches

FOLD RULE:
  Addition, InitialStock            running += quantity
  Sale, Free, LockExchange, Return  running -= quantity
  Adjustment                        running  = quantity

USAGE:
  e := stock.Entry{ItemCode: "A1", Kind: stock.KindSale, Quantity: 3}
  id, err := ledger.Append(ctx, e)

SEE ALSO:
  - fold.go: Fold and Tally
  - resolve.go: Resolution engine
  - submit.go: Write path and administrative override
*/
package stock

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// KIND - What an entry does to the running quantity
// =============================================================================

type Kind string

const (
	KindAddition     Kind = "addition"      // Inbound restock
	KindSale         Kind = "sale"          // Outright sale
	KindFree         Kind = "free"          // Giveaway
	KindLockExchange Kind = "lock_exchange" // Manual substitution
	KindReturn       Kind = "return"        // Goods returned to supplier
	KindAdjustment   Kind = "adjustment"    // Stock count: sets the running total
	KindInitialStock Kind = "initial_stock" // Opening balance
)

// Kinds lists every valid kind.
var Kinds = []Kind{
	KindAddition, KindSale, KindFree, KindLockExchange,
	KindReturn, KindAdjustment, KindInitialStock,
}

func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// Additive reports whether the kind adds its quantity.
func (k Kind) Additive() bool {
	return k == KindAddition || k == KindInitialStock
}

// Subtractive reports whether the kind subtracts its quantity.
func (k Kind) Subtractive() bool {
	switch k {
	case KindSale, KindFree, KindLockExchange, KindReturn:
		return true
	}
	return false
}

// RequiresStock reports whether the write path checks the cached quantity
// before appending an entry of this kind.
func (k Kind) RequiresStock() bool {
	return k == KindSale || k == KindFree || k == KindLockExchange
}

// =============================================================================
// ENTRY - One ledger record
// =============================================================================

type EntryID string

// NewEntryID returns a fresh random entry identifier.
func NewEntryID() EntryID {
	return EntryID(uuid.NewString())
}

// Entry is immutable by convention. Only the administrative override
// (see Override) edits or removes one.
type Entry struct {
	ID       EntryID
	ItemCode string
	Kind     Kind
	// Quantity is a non-negative magnitude. For KindAdjustment it is the
	// resulting total the entry declares.
	Quantity int
	// Timestamp orders entries of the same code. Assigned by the store
	// when zero.
	Timestamp time.Time
	Actor     string
	Note      string

	// Advisory only, never read by the fold.
	QuantityBefore *int
	QuantityAfter  *int
}

// =============================================================================
// SNAPSHOT - Precomputed quantities for a calendar day
// =============================================================================

// Snapshot is written by an external batch process and only read here.
// It is advisory; the ledger is authoritative.
type Snapshot struct {
	DateKey    string // YYYY-MM-DD in the store's location
	Quantities map[string]int
	CreatedAt  time.Time
}

// =============================================================================
// ITEM - Catalog triple cached by clients
// =============================================================================

// Item is owned by the external catalog. The core only observes it.
type Item struct {
	Code     string
	Name     string
	Category string
	Price    decimal.Decimal
	Unit     string
}
