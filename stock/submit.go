/*
submit.go - Write path and administrative override

PURPOSE:
  Turns a committed business transaction into ledger entries, one entry
  per line item.

ACCEPTED RISKS:
  1. No cross-item atomicity. Lines are appended one by one. If line 3
     fails, lines 1 and 2 stay in the ledger and the caller gets a
     PartialCommitError listing them.
  2. No server-side admission control. Sufficiency is checked against the
     caller's cached quantity only. Two clients holding the same stale
     value can both pass and both append, leaving a negative balance that
     the resolver later logs as a consistency warning.

OVERRIDE:
  Override edits or deletes historical entries. It breaks the append-only
  rule on purpose, is gated by a shared secret, and is kept apart from
  Submitter so the normal flow cannot reach it.
*/
package stock

import (
	"context"
	"crypto/subtle"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// TRANSACTION - Input to the write path
// =============================================================================

type Line struct {
	ItemCode string
	Kind     Kind
	Quantity int
	Note     string
}

type Transaction struct {
	Lines []Line
	Actor string
	Note  string
}

// QuantitySource is the caller's local view of current quantities.
// Implemented by cache.Instance.
type QuantitySource interface {
	Quantity(code string) (int, bool)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateLine rejects lines that must never reach the ledger.
func ValidateLine(i int, l Line) error {
	if strings.TrimSpace(l.ItemCode) == "" {
		return &ValidationError{Line: i, Field: "item_code", Reason: "is required"}
	}
	if strings.ContainsAny(l.ItemCode, " \t\r\n") {
		return &ValidationError{Line: i, Field: "item_code", Reason: "must not contain whitespace"}
	}
	if !l.Kind.Valid() {
		return &ValidationError{Line: i, Field: "kind", Reason: "is unknown: " + string(l.Kind)}
	}
	if l.Kind == KindAdjustment {
		if l.Quantity < 0 {
			return &ValidationError{Line: i, Field: "quantity", Reason: "must not be negative"}
		}
		return nil
	}
	if l.Quantity <= 0 {
		return &ValidationError{Line: i, Field: "quantity", Reason: "must be positive"}
	}
	return nil
}

// =============================================================================
// SUBMITTER
// =============================================================================

type Submitter struct {
	Ledger LedgerStore
	// Stock is consulted for the local sufficiency check. Nil disables it.
	Stock  QuantitySource
	Logger *zap.Logger
}

func NewSubmitter(ledger LedgerStore, stock QuantitySource, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{Ledger: ledger, Stock: stock, Logger: logger}
}

// Submit validates every line, checks local sufficiency, then appends one
// entry per line.
func (s *Submitter) Submit(ctx context.Context, tx Transaction) ([]EntryID, error) {
	if len(tx.Lines) == 0 {
		return nil, &ValidationError{Line: -1, Field: "lines", Reason: "must not be empty"}
	}
	for i, l := range tx.Lines {
		if err := ValidateLine(i, l); err != nil {
			return nil, err
		}
	}

	// Local check only: several lines for one code draw on the same
	// cached value.
	before := make(map[string]*int)
	if s.Stock != nil {
		requested := make(map[string]int)
		for _, l := range tx.Lines {
			if q, ok := s.Stock.Quantity(l.ItemCode); ok {
				v := q
				before[l.ItemCode] = &v
			}
			if !l.Kind.RequiresStock() {
				continue
			}
			requested[l.ItemCode] += l.Quantity
			available := 0
			if b := before[l.ItemCode]; b != nil {
				available = *b
			}
			if requested[l.ItemCode] > available {
				return nil, &InsufficientStockError{
					ItemCode:  l.ItemCode,
					Available: available,
					Requested: requested[l.ItemCode],
				}
			}
		}
	}

	committed := make([]EntryID, 0, len(tx.Lines))
	for i, l := range tx.Lines {
		e := Entry{
			ItemCode: l.ItemCode,
			Kind:     l.Kind,
			Quantity: l.Quantity,
			Actor:    tx.Actor,
			Note:     joinNotes(tx.Note, l.Note),
		}
		if b := before[l.ItemCode]; b != nil {
			qb := *b
			qa := Tally{}.Apply(e).On(qb)
			e.QuantityBefore, e.QuantityAfter = &qb, &qa
			*b = qa
		}

		id, err := s.Ledger.Append(ctx, e)
		if err != nil {
			s.Logger.Error("ledger append failed",
				zap.Int("line", i),
				zap.String("item_code", l.ItemCode),
				zap.Int("committed", len(committed)),
				zap.Error(err),
			)
			if len(committed) == 0 {
				return nil, err
			}
			return committed, &PartialCommitError{Committed: committed, FailedLine: i, Err: err}
		}
		committed = append(committed, id)
	}

	s.Logger.Debug("transaction committed",
		zap.String("actor", tx.Actor),
		zap.Int("lines", len(committed)),
	)
	return committed, nil
}

func joinNotes(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "; " + b
}

// =============================================================================
// OVERRIDE - Administrative edits of historical entries
// =============================================================================

type Override struct {
	Store  AdminStore
	Secret string
	Logger *zap.Logger
}

func NewOverride(store AdminStore, secret string, logger *zap.Logger) *Override {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Override{Store: store, Secret: secret, Logger: logger}
}

// Authorize checks secret against the shared override secret.
func (o *Override) Authorize(secret string) error {
	if o.Secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(o.Secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// EditEntry corrects the quantity and note of an existing entry.
func (o *Override) EditEntry(ctx context.Context, secret string, id EntryID, quantity int, note string) (Entry, error) {
	if err := o.Authorize(secret); err != nil {
		return Entry{}, err
	}
	e, err := o.Store.Entry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if err := ValidateLine(-1, Line{ItemCode: e.ItemCode, Kind: e.Kind, Quantity: quantity}); err != nil {
		return Entry{}, err
	}

	old := e.Quantity
	e.Quantity = quantity
	if note != "" {
		e.Note = note
	}
	if err := o.Store.EditEntry(ctx, e); err != nil {
		return Entry{}, err
	}

	o.Logger.Warn("ledger entry edited by override",
		zap.String("entry_id", string(id)),
		zap.String("item_code", e.ItemCode),
		zap.Int("old_quantity", old),
		zap.Int("new_quantity", quantity),
	)
	return e, nil
}

// DeleteEntry removes an erroneous entry from the ledger.
func (o *Override) DeleteEntry(ctx context.Context, secret string, id EntryID) error {
	if err := o.Authorize(secret); err != nil {
		return err
	}
	e, err := o.Store.Entry(ctx, id)
	if err != nil {
		return err
	}
	if err := o.Store.DeleteEntry(ctx, id); err != nil {
		return err
	}

	o.Logger.Warn("ledger entry deleted by override",
		zap.String("entry_id", string(id)),
		zap.String("item_code", e.ItemCode),
		zap.String("kind", string(e.Kind)),
		zap.Int("quantity", e.Quantity),
	)
	return nil
}
