/*
Package sqlite provides a SQLite-backed implementation of the stock stores.

INTERFACES IMPLEMENTED:
  stock.AdminStore:    ledger entries (append, query, override edit/delete)
  stock.SnapshotStore: daily snapshots
  stock.Catalog:       master items

KEY TABLES:
  entries:   the ledger; ts is fixed-width UTC text so it sorts as text
  snapshots: one row per date key, quantities as JSON
  items:     catalog triple plus pricing

ORDERING:
  Entries are read ORDER BY ts, seq. seq is the insertion order and breaks
  ties between entries sharing a timestamp.

ERRORS:
  Every database failure is wrapped with stock.Unavailable so callers can
  match stock.ErrStoreUnavailable.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - stock/store.go: Interface definitions
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/stock"
)

// tsLayout is fixed width so lexical order equals time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex

	// Now assigns timestamps to entries appended without one.
	Now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, Now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		item_code TEXT NOT NULL,
		kind TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		ts TEXT NOT NULL,
		actor TEXT,
		note TEXT,
		qty_before INTEGER,
		qty_after INTEGER
	);

	-- Per-code resolution (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_code_ts
		ON entries(item_code, ts);

	-- Time-window scans (hybrid delta, full scan)
	CREATE INDEX IF NOT EXISTS idx_entries_ts
		ON entries(ts, seq);

	-- Daily snapshots
	CREATE TABLE IF NOT EXISTS snapshots (
		date_key TEXT PRIMARY KEY,
		quantities_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Catalog
	CREATE TABLE IF NOT EXISTS items (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '0',
		unit TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_category
		ON items(category);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER (stock.LedgerStore interface)
// =============================================================================

type entryRow struct {
	Seq       int64          `db:"seq"`
	ID        string         `db:"id"`
	ItemCode  string         `db:"item_code"`
	Kind      string         `db:"kind"`
	Quantity  int            `db:"quantity"`
	Timestamp string         `db:"ts"`
	Actor     sql.NullString `db:"actor"`
	Note      sql.NullString `db:"note"`
	Before    sql.NullInt64  `db:"qty_before"`
	After     sql.NullInt64  `db:"qty_after"`
}

const entryColumns = `seq, id, item_code, kind, quantity, ts, actor, note, qty_before, qty_after`

func (r entryRow) entry() (stock.Entry, error) {
	ts, err := time.Parse(tsLayout, r.Timestamp)
	if err != nil {
		return stock.Entry{}, fmt.Errorf("entry %s: bad timestamp %q: %w", r.ID, r.Timestamp, err)
	}
	e := stock.Entry{
		ID:        stock.EntryID(r.ID),
		ItemCode:  r.ItemCode,
		Kind:      stock.Kind(r.Kind),
		Quantity:  r.Quantity,
		Timestamp: ts,
		Actor:     r.Actor.String,
		Note:      r.Note.String,
	}
	if r.Before.Valid {
		v := int(r.Before.Int64)
		e.QuantityBefore = &v
	}
	if r.After.Valid {
		v := int(r.After.Int64)
		e.QuantityAfter = &v
	}
	return e, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, e stock.Entry) (stock.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = stock.NewEntryID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.Now()
	}

	query := `
		INSERT INTO entries (id, item_code, kind, quantity, ts, actor, note, qty_before, qty_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(e.ID),
		e.ItemCode,
		string(e.Kind),
		e.Quantity,
		formatTS(e.Timestamp),
		nullString(e.Actor),
		nullString(e.Note),
		nullInt(e.QuantityBefore),
		nullInt(e.QuantityAfter),
	)
	if err != nil {
		return "", stock.Unavailable("append entry", err)
	}
	return e.ID, nil
}

// Query returns matching entries in timestamp order.
func (s *Store) Query(ctx context.Context, q stock.Query) ([]stock.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		conditions []string
		args       []any
	)
	if len(q.Codes) > 0 {
		conditions = append(conditions, "item_code IN (?)")
		args = append(args, q.Codes)
	}
	if !q.From.IsZero() {
		conditions = append(conditions, "ts >= ?")
		args = append(args, formatTS(q.From))
	}
	if !q.To.IsZero() {
		conditions = append(conditions, "ts <= ?")
		args = append(args, formatTS(q.To))
	}

	query := "SELECT " + entryColumns + " FROM entries"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ts ASC, seq ASC"

	if len(q.Codes) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("expand code list: %w", err)
		}
	}
	query = s.db.Rebind(query)

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, stock.Unavailable("query entries", err)
	}

	entries := make([]stock.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// =============================================================================
// OVERRIDE PATH (stock.AdminStore interface)
// =============================================================================

// Entry returns a specific entry by ID.
func (s *Store) Entry(ctx context.Context, id stock.EntryID) (stock.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r entryRow
	err := s.db.GetContext(ctx, &r, "SELECT "+entryColumns+" FROM entries WHERE id = ?", string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return stock.Entry{}, stock.ErrEntryNotFound
	}
	if err != nil {
		return stock.Entry{}, stock.Unavailable("get entry", err)
	}
	return r.entry()
}

// EditEntry rewrites an entry in place. Only the override path calls this.
func (s *Store) EditEntry(ctx context.Context, e stock.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET item_code = ?, kind = ?, quantity = ?, ts = ?, actor = ?, note = ?, qty_before = ?, qty_after = ?
		WHERE id = ?
	`,
		e.ItemCode, string(e.Kind), e.Quantity, formatTS(e.Timestamp),
		nullString(e.Actor), nullString(e.Note),
		nullInt(e.QuantityBefore), nullInt(e.QuantityAfter),
		string(e.ID),
	)
	if err != nil {
		return stock.Unavailable("edit entry", err)
	}
	return requireOneRow(res)
}

// DeleteEntry removes an entry. Only the override path calls this.
func (s *Store) DeleteEntry(ctx context.Context, id stock.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", string(id))
	if err != nil {
		return stock.Unavailable("delete entry", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return stock.Unavailable("rows affected", err)
	}
	if n == 0 {
		return stock.ErrEntryNotFound
	}
	return nil
}

// =============================================================================
// SNAPSHOT STORE (stock.SnapshotStore interface)
// =============================================================================

type snapshotRow struct {
	DateKey        string `db:"date_key"`
	QuantitiesJSON string `db:"quantities_json"`
	CreatedAt      string `db:"created_at"`
}

// SaveSnapshot upserts the snapshot for a date. Called by the external
// batch job, never by the core.
func (s *Store) SaveSnapshot(ctx context.Context, snap stock.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quantitiesJSON, err := json.Marshal(snap.Quantities)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.Now()
	}

	query := `
		INSERT INTO snapshots (date_key, quantities_json, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(date_key) DO UPDATE SET
			quantities_json = excluded.quantities_json,
			created_at = excluded.created_at
	`
	if _, err := s.db.ExecContext(ctx, query, snap.DateKey, string(quantitiesJSON), formatTS(createdAt)); err != nil {
		return stock.Unavailable("save snapshot", err)
	}
	return nil
}

// SnapshotFor returns the snapshot for a date key, nil when absent.
func (s *Store) SnapshotFor(ctx context.Context, dateKey string) (*stock.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r snapshotRow
	err := s.db.GetContext(ctx, &r,
		"SELECT date_key, quantities_json, created_at FROM snapshots WHERE date_key = ?", dateKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, stock.Unavailable("get snapshot", err)
	}

	snap := &stock.Snapshot{DateKey: r.DateKey}
	if err := json.Unmarshal([]byte(r.QuantitiesJSON), &snap.Quantities); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", dateKey, err)
	}
	createdAt, err := time.Parse(tsLayout, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: bad created_at %q: %w", dateKey, r.CreatedAt, err)
	}
	snap.CreatedAt = createdAt
	return snap, nil
}

// =============================================================================
// CATALOG (stock.Catalog interface)
// =============================================================================

type itemRow struct {
	Code      string `db:"code"`
	Name      string `db:"name"`
	Category  string `db:"category"`
	Price     string `db:"price"`
	Unit      string `db:"unit"`
	UpdatedAt string `db:"updated_at"`
}

// SaveItem upserts a catalog item.
func (s *Store) SaveItem(ctx context.Context, it stock.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO items (code, name, category, price, unit, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			price = excluded.price,
			unit = excluded.unit,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		it.Code, it.Name, it.Category, it.Price.String(), it.Unit, formatTS(s.Now()))
	if err != nil {
		return stock.Unavailable("save item", err)
	}
	return nil
}

// DeleteItem removes a catalog item. Its ledger entries are kept.
func (s *Store) DeleteItem(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE code = ?", code); err != nil {
		return stock.Unavailable("delete item", err)
	}
	return nil
}

// Items returns all catalog items ordered by code.
func (s *Store) Items(ctx context.Context) ([]stock.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT code, name, category, price, unit, updated_at FROM items ORDER BY code"); err != nil {
		return nil, stock.Unavailable("list items", err)
	}

	items := make([]stock.Item, len(rows))
	for i, r := range rows {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			price = decimal.Zero
		}
		items[i] = stock.Item{Code: r.Code, Name: r.Name, Category: r.Category, Price: price, Unit: r.Unit}
	}
	return items, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"entries", "snapshots", "items"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
