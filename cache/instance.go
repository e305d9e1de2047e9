/*
Package cache keeps one client instance's view of item quantities.

PURPOSE:
  Reads must be cheap, so each instance holds an item -> quantity map and
  keeps it loosely consistent with the ledger:

  - Fast path: a ledger entry dated today is applied directly to the
    cached value with the fold rule. No remote query. Entries committed by
    other instances arrive through the RemoteLedger relay and take the
    same path.
  - Slow path: anything the fast path cannot express (backdated entries,
    override edits, bulk catalog changes, reconnects, long idle) marks the
    cache invalid. The next Read re-resolves with ResolveHybrid.

LIFECYCLE:
  New     build the instance, nothing subscribed yet
  Start   subscribe to feeds and signals, catch up, warm up
  Touch   record user activity; resumes a suspended instance
  Close   tear everything down

  After IdleTimeout without Touch, the instance unsubscribes from every
  feed to spare the backend. The next Touch resubscribes and invalidates,
  since events during the gap were missed.

PUBLISHING:
  Bursts of deltas are coalesced with a trailing debounce. Each burst
  produces one View on Updates(). Full refreshes publish immediately.

FAILURES:
  A failed refresh keeps the previous data, marks the View stale and
  returns the error. There is no retry at this layer.

SEE ALSO:
  - reconcile.go: ApplyLedgerDelta, ApplyCatalogSignal
  - lifecycle.go: idle watcher, suspend/resume
  - debounce.go: Debouncer
*/
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-engine/feed"
	"github.com/warp/stock-engine/signals"
	"github.com/warp/stock-engine/stock"
	"go.uber.org/zap"
)

// =============================================================================
// CONFIGURATION & DEPENDENCIES
// =============================================================================

type Config struct {
	Debounce      time.Duration // default 500ms
	IdleTimeout   time.Duration // default 10m; negative disables
	IdleCheck     time.Duration // default IdleTimeout/10
	CatchUpWindow time.Duration // default signals.DefaultCatchUpWindow
	Calendar      stock.Calendar
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.IdleCheck <= 0 && c.IdleTimeout > 0 {
		c.IdleCheck = c.IdleTimeout / 10
	}
	if c.CatchUpWindow <= 0 {
		c.CatchUpWindow = signals.DefaultCatchUpWindow
	}
	return c
}

// Resolver is the part of stock.Resolver the cache needs.
type Resolver interface {
	ResolveHybrid(ctx context.Context, asOf time.Time) (map[string]int, error)
	ResolveQuantity(ctx context.Context, code string, asOf time.Time) (int, error)
}

type LedgerFeed interface {
	Subscribe(selector func(stock.Entry) bool, onBatch func([]feed.Record[stock.Entry])) func()
}

// RemoteLedger delivers ledger records committed by other instances.
type RemoteLedger interface {
	Observe(ctx context.Context, fn func([]feed.Record[stock.Entry])) (func(), error)
}

type CatalogFeed interface {
	Subscribe(selector func(stock.Item) bool, onBatch func([]feed.Record[stock.Item])) func()
}

type SignalSource interface {
	Observe(ctx context.Context, fn func(signals.Signal)) (func(), error)
	CatchUp(ctx context.Context, window time.Duration, fn func(signals.Signal)) (bool, error)
}

// Deps are the collaborators of an Instance. Only Resolver is required.
type Deps struct {
	Resolver Resolver
	Catalog  stock.Catalog
	Ledger   LedgerFeed
	Remote   RemoteLedger
	Items    CatalogFeed
	Signals  SignalSource
	Logger   *zap.Logger
	Now      func() time.Time
}

// =============================================================================
// STATE
// =============================================================================

type CachedItem struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
}

// View is what the presentation layer renders.
type View struct {
	Items       []CachedItem `json:"items"`
	Valid       bool         `json:"valid"`
	Stale       bool         `json:"stale"`
	Error       string       `json:"error,omitempty"`
	RefreshedAt time.Time    `json:"refreshed_at"`
	PublishedAt time.Time    `json:"published_at"`
}

// Quantities returns the view as a code -> quantity map.
func (v View) Quantities() map[string]int {
	out := make(map[string]int, len(v.Items))
	for _, it := range v.Items {
		out[it.Code] = it.Quantity
	}
	return out
}

// change is a live update seen while a refresh is in flight. Exactly one
// field is set.
type change struct {
	entry  *stock.Entry
	signal *signals.Signal
}

type Instance struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu           sync.Mutex
	items        map[string]CachedItem
	valid        bool
	epoch        uint64 // bumped by Invalidate
	stale        bool
	lastErr      error
	refreshedAt  time.Time
	lastActivity time.Time
	refreshing   bool
	pending      []change // in arrival order
	unsubscribe  []func()
	started      bool
	suspended    bool
	closed       bool

	refreshMu sync.Mutex

	repaint   *Debouncer
	publishMu sync.Mutex
	updates   chan View

	stopIdle chan struct{}
	wg       sync.WaitGroup
}

// New builds an instance. Nothing is subscribed until Start.
func New(cfg Config, deps Deps) *Instance {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	i := &Instance{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		logger:  deps.Logger,
		items:   make(map[string]CachedItem),
		updates: make(chan View, 1),
	}
	i.lastActivity = deps.Now()
	i.repaint = NewDebouncer(i.cfg.Debounce, i.publish)
	return i
}

// Start subscribes, applies a missed signal if one is recent enough, and
// warms the cache. A warm-up failure is returned but the instance stays
// subscribed and usable.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.started {
		i.mu.Unlock()
		return nil
	}
	i.started = true
	i.mu.Unlock()

	if err := i.subscribe(ctx); err != nil {
		return err
	}
	i.startIdleWatcher()

	if err := i.WarmUp(ctx); err != nil {
		return err
	}
	i.catchUp(ctx)
	return nil
}

// Close tears down subscriptions and timers and closes Updates().
func (i *Instance) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	unsub := i.unsubscribe
	i.unsubscribe = nil
	i.mu.Unlock()

	i.stopIdleWatcher()
	for _, fn := range unsub {
		fn()
	}
	i.repaint.Stop()

	i.publishMu.Lock()
	close(i.updates)
	i.publishMu.Unlock()
}

// =============================================================================
// READS
// =============================================================================

// Quantity returns the cached quantity without refreshing. Used by the
// write path for its local sufficiency check.
func (i *Instance) Quantity(code string) (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	it, ok := i.items[code]
	return it.Quantity, ok
}

// Valid reports whether the cache is currently trusted.
func (i *Instance) Valid() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.valid
}

// Snapshot returns the current state without refreshing.
func (i *Instance) Snapshot() View {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.viewLocked()
}

// Read warms the cache when needed, then returns the current state. If
// the refresh fails the stale state is returned with the error.
func (i *Instance) Read(ctx context.Context) (View, error) {
	err := i.WarmUp(ctx)
	return i.Snapshot(), err
}

// Updates delivers one View per published change. Only the latest
// unread View is kept.
func (i *Instance) Updates() <-chan View {
	return i.updates
}

func (i *Instance) viewLocked() View {
	items := make([]CachedItem, 0, len(i.items))
	for _, it := range i.items {
		items = append(items, it)
	}
	sort.Slice(items, func(a, b int) bool { return items[a].Code < items[b].Code })

	v := View{
		Items:       items,
		Valid:       i.valid,
		Stale:       i.stale,
		RefreshedAt: i.refreshedAt,
		PublishedAt: i.deps.Now(),
	}
	if i.lastErr != nil {
		v.Error = i.lastErr.Error()
	}
	return v
}

func (i *Instance) publish() {
	i.mu.Lock()
	v := i.viewLocked()
	i.mu.Unlock()

	i.publishMu.Lock()
	defer i.publishMu.Unlock()
	if i.isClosed() {
		return
	}
	select {
	case <-i.updates:
	default:
	}
	i.updates <- v
}

func (i *Instance) isClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// =============================================================================
// REFRESH
// =============================================================================

// WarmUp refreshes when the cache is invalid or empty and otherwise keeps
// the existing state.
func (i *Instance) WarmUp(ctx context.Context) error {
	i.mu.Lock()
	need := !i.valid || len(i.items) == 0
	i.mu.Unlock()
	if !need {
		return nil
	}
	return i.Refresh(ctx)
}

// Refresh re-resolves every quantity with the hybrid algorithm. Ledger
// deltas and catalog signals that arrive while the queries run are
// replayed on top of the result, in arrival order.
func (i *Instance) Refresh(ctx context.Context) error {
	i.refreshMu.Lock()
	defer i.refreshMu.Unlock()

	asOf := i.deps.Now()
	i.mu.Lock()
	epoch := i.epoch
	i.refreshing = true
	i.pending = nil
	i.mu.Unlock()

	quantities, err := i.deps.Resolver.ResolveHybrid(ctx, asOf)
	var catalog []stock.Item
	if err == nil && i.deps.Catalog != nil {
		catalog, err = i.deps.Catalog.Items(ctx)
	}

	i.mu.Lock()
	i.refreshing = false
	pending := i.pending
	i.pending = nil
	if err != nil {
		i.stale = true
		i.lastErr = err
		i.mu.Unlock()

		i.logger.Warn("cache refresh failed; serving stale data", zap.Error(err))
		i.publish()
		return err
	}

	items := make(map[string]CachedItem, len(quantities))
	if i.deps.Catalog != nil {
		for _, it := range catalog {
			items[it.Code] = CachedItem{Code: it.Code, Name: it.Name, Category: it.Category, Quantity: quantities[it.Code]}
		}
	} else {
		for code, q := range quantities {
			items[code] = CachedItem{Code: code, Quantity: q}
		}
	}
	for _, c := range pending {
		switch {
		case c.entry != nil:
			if c.entry.Timestamp.After(asOf) {
				i.applyEntry(items, *c.entry)
			}
		case c.signal != nil:
			applySignal(items, *c.signal, quantities[c.signal.ItemCode])
		}
	}

	i.items = items
	// An invalidation that raced the query still stands.
	i.valid = i.epoch == epoch
	i.stale = false
	i.lastErr = nil
	i.refreshedAt = asOf
	n := len(items)
	i.mu.Unlock()

	i.logger.Debug("cache refreshed", zap.Int("items", n), zap.Int("replayed", len(pending)))
	i.repaint.Stop()
	i.publish()
	return nil
}

// Invalidate marks the cache untrusted without clearing it. The next
// Read or WarmUp refreshes.
func (i *Instance) Invalidate(reason string) {
	i.mu.Lock()
	wasValid := i.valid
	i.valid = false
	i.epoch++
	i.mu.Unlock()

	if wasValid {
		i.logger.Info("cache invalidated", zap.String("reason", reason))
	}
}
