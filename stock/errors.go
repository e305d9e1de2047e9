/*
errors.go - Centralized error types for the stock core

ERROR CATEGORIES:
  1. Store errors - backend outages (ErrStoreUnavailable)
  2. Validation errors - rejected before any append (ErrValidation)
  3. Write-path errors - local sufficiency, partial commits
  4. Override errors - bad secret, unknown entry

ConsistencyWarning (a negative resolved quantity) is not an error. It is
logged by the resolver and never returned.

USAGE:
  if errors.Is(err, stock.ErrStoreUnavailable) {
      // show stale cached data
  }
*/
package stock

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStoreUnavailable wraps every backend failure surfaced by a store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrValidation is returned for malformed item codes, kinds or quantities.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is returned when the locally cached quantity
	// cannot cover a sale. The check is local only.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrPartialCommit is returned when some lines of a transaction were
	// appended and a later one failed.
	ErrPartialCommit = errors.New("transaction partially committed")

	// ErrEntryNotFound is returned by the override path for unknown IDs.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrItemNotFound is returned by the catalog for unknown item codes.
	ErrItemNotFound = errors.New("item not found")

	// ErrUnauthorized is returned when the override secret does not match.
	ErrUnauthorized = errors.New("override not authorized")
)

// Unavailable wraps a backend error so callers can match ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one rejected field.
type ValidationError struct {
	Line   int // index of the offending line, -1 when not line-specific
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("line %d: %s %s", e.Line, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientStockError reports the local check that failed.
type InsufficientStockError struct {
	ItemCode  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.ItemCode, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// PartialCommitError lists what made it into the ledger before a line
// failed. The committed entries are not rolled back.
type PartialCommitError struct {
	Committed  []EntryID
	FailedLine int
	Err        error
}

func (e *PartialCommitError) Error() string {
	ids := make([]string, len(e.Committed))
	for i, id := range e.Committed {
		ids[i] = string(id)
	}
	return fmt.Sprintf("line %d failed after committing [%s]: %v",
		e.FailedLine, strings.Join(ids, ", "), e.Err)
}

func (e *PartialCommitError) Unwrap() []error { return []error{ErrPartialCommit, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrUnauthorized)
}

// IsUnavailable returns true if the error came from a backend outage.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
