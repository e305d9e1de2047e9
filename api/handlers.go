/*
handlers.go - HTTP API handlers for the stock accounting core

PURPOSE:
  Exposes resolution, the write path, the override path and this
  instance's cache over REST. Handles HTTP request/response and JSON
  serialization, and delegates to the stock core.

ENDPOINTS:
  Stock:
    GET    /api/stock/{code}?asOf=             Resolve one code
    GET    /api/stock?mode=&codes=&asOf=       Resolve many (hybrid|full|codes)
    GET    /api/cache                          This instance's cached view

  Ledger:
    POST   /api/transactions                   Submit a business transaction
    GET    /api/entries?code=&from=&to=        Query ledger entries

  Admin (X-Admin-Secret, rate limited):
    PUT    /api/admin/entries/{id}             Correct an entry
    DELETE /api/admin/entries/{id}             Remove an entry
    POST   /api/admin/snapshots                Take the daily snapshot now

  Catalog:
    GET    /api/items                          List items
    PUT    /api/items/{code}                   Create or update an item
    DELETE /api/items/{code}                   Delete an item

  Instance lifecycle:
    POST   /api/instance/reactivate            User came back
    POST   /api/instance/online                Connectivity restored
    POST   /api/instance/visible               Instance visible again

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Bad admin secret
  - 404: Entry or item not found
  - 409: Insufficient stock (local check)
  - 429: Override rate limit
  - 503: Store unavailable
  - 500: Partial commits (committed IDs in the body) and internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/cache"
	"github.com/warp/stock-engine/catalog"
	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API reaches directly: ledger queries,
// snapshots for the scheduler, and Reset for scenarios.
type Store interface {
	stock.SnapshotStore
	SaveSnapshot(ctx context.Context, s stock.Snapshot) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    stock.AdminStore
	Store     Store
	Resolver  *stock.Resolver
	Submitter *stock.Submitter
	Override  *stock.Override
	Cache     *cache.Instance
	Catalog   *catalog.Service
	Calendar  stock.Calendar
	Logger    *zap.Logger

	currentScenario string
}

// NewHandler wires the write path to the instance cache, so the local
// sufficiency check reads the cached quantities.
func NewHandler(ledger stock.AdminStore, store Store, resolver *stock.Resolver, inst *cache.Instance, cat *catalog.Service, adminSecret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Ledger:    ledger,
		Store:     store,
		Resolver:  resolver,
		Submitter: stock.NewSubmitter(ledger, inst, logger),
		Override:  stock.NewOverride(ledger, adminSecret, logger),
		Cache:     inst,
		Catalog:   cat,
		Calendar:  resolver.Calendar,
		Logger:    logger,
	}
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// GetQuantity resolves one code from the ledger.
func (h *Handler) GetQuantity(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	asOf, err := h.parseAsOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asOf", err)
		return
	}

	q, err := h.Resolver.ResolveQuantity(r.Context(), code, asOf)
	if err != nil {
		h.writeStockError(w, "Failed to resolve quantity", err)
		return
	}
	writeJSON(w, http.StatusOK, QuantityDTO{Code: code, Quantity: q, AsOf: asOf.Format(time.RFC3339)})
}

// GetQuantities resolves many codes. mode=hybrid (default) uses the
// snapshot plus today's delta, full scans the whole ledger, codes uses
// chunked per-code queries.
func (h *Handler) GetQuantities(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.parseAsOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asOf", err)
		return
	}
	codes := splitCodes(r.URL.Query().Get("codes"))
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "hybrid"
	}

	resp := QuantitiesDTO{AsOf: asOf.Format(time.RFC3339), Mode: mode}
	ctx := r.Context()
	switch mode {
	case "hybrid":
		q, source, err := h.Resolver.ResolveHybridSource(ctx, asOf)
		if err != nil {
			h.writeStockError(w, "Failed to resolve quantities", err)
			return
		}
		resp.Quantities, resp.Source = restrict(q, codes), string(source)
	case "full":
		q, err := h.Resolver.ResolveAll(ctx, asOf, codes...)
		if err != nil {
			h.writeStockError(w, "Failed to resolve quantities", err)
			return
		}
		resp.Quantities = q
	case "codes":
		if len(codes) == 0 {
			writeError(w, http.StatusBadRequest, "codes is required for mode=codes", nil)
			return
		}
		q, err := h.Resolver.ResolveForCodes(ctx, codes, asOf)
		if err != nil {
			h.writeStockError(w, "Failed to resolve quantities", err)
			return
		}
		resp.Quantities = q
	default:
		writeError(w, http.StatusBadRequest, "Unknown mode: "+mode, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCache returns this instance's view. A failed refresh still answers
// 200 with the stale data and the stale flag set.
func (h *Handler) GetCache(w http.ResponseWriter, r *http.Request) {
	view, err := h.Cache.Read(r.Context())
	if err != nil {
		h.Logger.Warn("serving stale cache", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, view)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// SubmitTransaction appends one entry per line.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req SubmitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// A cold cache would fail every sale; a failed warm-up leaves the
	// stale values in place for the check.
	if err := h.Cache.WarmUp(r.Context()); err != nil {
		h.Logger.Warn("submitting against stale cache", zap.Error(err))
	}

	ids, err := h.Submitter.Submit(r.Context(), req.transaction())
	if err != nil {
		h.writeStockError(w, "Transaction failed", err)
		return
	}

	resp := SubmitTransactionResponse{EntryIDs: make([]string, len(ids))}
	for i, id := range ids {
		resp.EntryIDs[i] = string(id)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListEntries queries the ledger, oldest first.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := stock.Query{Codes: splitCodes(r.URL.Query().Get("code"))}
	var err error
	if q.From, err = h.parseTime(r.URL.Query().Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	if q.To, err = h.parseTime(r.URL.Query().Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}

	entries, err := h.Ledger.Query(r.Context(), q)
	if err != nil {
		h.writeStockError(w, "Failed to query entries", err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

const adminSecretHeader = "X-Admin-Secret"

// EditEntry corrects the quantity of a historical entry.
func (h *Handler) EditEntry(w http.ResponseWriter, r *http.Request) {
	var req EditEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := stock.EntryID(chi.URLParam(r, "id"))
	e, err := h.Override.EditEntry(r.Context(), r.Header.Get(adminSecretHeader), id, req.Quantity, req.Note)
	if err != nil {
		h.writeStockError(w, "Edit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// DeleteEntry removes an erroneous entry.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := stock.EntryID(chi.URLParam(r, "id"))
	if err := h.Override.DeleteEntry(r.Context(), r.Header.Get(adminSecretHeader), id); err != nil {
		h.writeStockError(w, "Delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TakeSnapshot stores yesterday's closing snapshot now, the same way the
// scheduler does.
func (h *Handler) TakeSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.Override.Authorize(r.Header.Get(adminSecretHeader)); err != nil {
		h.writeStockError(w, "Snapshot failed", err)
		return
	}
	snap, err := TakeClosingSnapshot(r.Context(), h.Resolver, h.Store, h.Calendar.Yesterday(h.Resolver.Now()), h.Calendar)
	if err != nil {
		h.writeStockError(w, "Snapshot failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"date_key": snap.DateKey,
		"items":    len(snap.Quantities),
	})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.Items(r.Context())
	if err != nil {
		h.writeStockError(w, "Failed to list items", err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toItemDTO(it)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveItem(w http.ResponseWriter, r *http.Request) {
	var req ItemDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.Code = chi.URLParam(r, "code")

	it, err := req.item()
	if err != nil {
		h.writeStockError(w, "Invalid item", err)
		return
	}
	action, err := h.Catalog.Save(r.Context(), it)
	if err != nil {
		h.writeStockError(w, "Failed to save item", err)
		return
	}
	writeJSON(w, http.StatusOK, SaveItemResponse{Item: toItemDTO(it), Action: string(action)})
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeStockError(w, "Failed to delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INSTANCE LIFECYCLE HANDLERS
// =============================================================================

func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.Cache.Touch(r.Context()); err != nil {
		h.writeStockError(w, "Reactivation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Cache.Snapshot())
}

func (h *Handler) ConnectivityRestored(w http.ResponseWriter, r *http.Request) {
	h.Cache.ConnectivityRestored()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) VisibilityRestored(w http.ResponseWriter, r *http.Request) {
	h.Cache.VisibilityRestored()
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeStockError maps stock core errors to HTTP statuses.
func (h *Handler) writeStockError(w http.ResponseWriter, message string, err error) {
	var partial *stock.PartialCommitError
	if errors.As(err, &partial) {
		h.Logger.Error(message, zap.Int("committed", len(partial.Committed)), zap.Error(err))
		resp := ErrorResponse{Error: message, Details: err.Error()}
		for _, id := range partial.Committed {
			resp.Committed = append(resp.Committed, string(id))
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, stock.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, stock.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, stock.ErrEntryNotFound), errors.Is(err, stock.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.Is(err, stock.ErrInsufficientStock):
		status = http.StatusConflict
	case errors.Is(err, stock.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

// parseAsOf reads ?asOf=, defaulting to the resolver's clock.
func (h *Handler) parseAsOf(r *http.Request) (time.Time, error) {
	t, err := h.parseTime(r.URL.Query().Get("asOf"))
	if err != nil || !t.IsZero() {
		return t, err
	}
	return h.Resolver.Now(), nil
}

// parseTime accepts RFC 3339 or a bare date. A bare date means the end of
// that day. Empty input yields the zero time.
func (h *Handler) parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	loc := h.Calendar.Location
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(stock.DateKeyLayout, s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}

func splitCodes(s string) []string {
	var codes []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}

func restrict(q map[string]int, codes []string) map[string]int {
	if len(codes) == 0 {
		return q
	}
	out := make(map[string]int, len(codes))
	for _, c := range codes {
		out[c] = q[c]
	}
	return out
}
