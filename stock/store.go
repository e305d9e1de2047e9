/*
store.go - Persistence contracts consumed by the core

KEY INTERFACES:
  LedgerStore:   append-only entries, queryable by code set and time range
  AdminStore:    LedgerStore plus the override path (edit / delete)
  SnapshotStore: read-only daily snapshots keyed by date

APPEND-ONLY CONTRACT:
  The normal accounting flow only ever calls Append. EditEntry and
  DeleteEntry exist for the administrative override and nothing else.

ORDERING:
  Query returns entries in ascending Timestamp order. Entries sharing a
  timestamp keep insertion order. Nothing is promised across codes.

IMPLEMENTATIONS:
  - store/memory: in-memory, for tests and dev
  - store/sqlite: durable SQLite
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE
// =============================================================================

// Query selects ledger entries. Zero values mean "no bound".
type Query struct {
	// Codes restricts the result to these item codes. Empty = all codes.
	// Backends may cap the size of this list; see InListLimit.
	Codes []string
	// From and To are inclusive bounds on Timestamp.
	From time.Time
	To   time.Time
}

// Matches reports whether e passes the query filter.
func (q Query) Matches(e Entry) bool {
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Timestamp.After(q.To) {
		return false
	}
	if len(q.Codes) == 0 {
		return true
	}
	for _, c := range q.Codes {
		if c == e.ItemCode {
			return true
		}
	}
	return false
}

type LedgerStore interface {
	// Append persists one entry and returns its ID. A zero Timestamp is
	// replaced by the store's clock. Failures wrap ErrStoreUnavailable.
	Append(ctx context.Context, e Entry) (EntryID, error)

	// Query returns matching entries ordered by Timestamp ascending.
	Query(ctx context.Context, q Query) ([]Entry, error)
}

// AdminStore adds the override path. Only Override should call these.
type AdminStore interface {
	LedgerStore

	// Entry returns one entry or ErrEntryNotFound.
	Entry(ctx context.Context, id EntryID) (Entry, error)

	// EditEntry replaces the stored entry with the same ID.
	EditEntry(ctx context.Context, e Entry) error

	// DeleteEntry removes an entry outright.
	DeleteEntry(ctx context.Context, id EntryID) error
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

type SnapshotStore interface {
	// SnapshotFor returns the snapshot for a date key, or nil when absent.
	SnapshotFor(ctx context.Context, dateKey string) (*Snapshot, error)
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog lists master items. Implemented by the external catalog adapter.
type Catalog interface {
	Items(ctx context.Context) ([]Item, error)
}
