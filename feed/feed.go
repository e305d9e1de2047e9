/*
Package feed provides live change-feed subscriptions.

PURPOSE:
  A Hub delivers batches of add/modify/remove records to every live
  subscriber whose selector accepts them. The ledger and the catalog each
  have one.

DELIVERY:
  Publish filters the batch per subscriber and calls onBatch synchronously,
  outside the hub lock, in subscription order. A subscriber whose selector
  rejects every record in a batch is not called. Unsubscribing is
  idempotent.

USAGE:
  unsubscribe := hub.Subscribe(
      func(e stock.Entry) bool { return e.ItemCode == "A1" },
      func(batch []feed.Record[stock.Entry]) { ... },
  )
  defer unsubscribe()

SEE ALSO:
  - ledger.go: LedgerFeed, the publishing ledger decorator
  - cache/instance.go: the main subscriber
*/
package feed

import (
	"sort"
	"sync"
)

// =============================================================================
// RECORDS
// =============================================================================

type RecordType string

const (
	Added    RecordType = "add"
	Modified RecordType = "modify"
	Removed  RecordType = "remove"
)

type Record[T any] struct {
	Type RecordType
	Data T
}

func Add[T any](v T) Record[T]    { return Record[T]{Type: Added, Data: v} }
func Modify[T any](v T) Record[T] { return Record[T]{Type: Modified, Data: v} }
func Remove[T any](v T) Record[T] { return Record[T]{Type: Removed, Data: v} }

// =============================================================================
// HUB
// =============================================================================

type subscription[T any] struct {
	selector func(T) bool
	onBatch  func([]Record[T])
}

type Hub[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription[T]
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[int]subscription[T])}
}

// Subscribe registers onBatch for records accepted by selector. A nil
// selector accepts everything.
func (h *Hub[T]) Subscribe(selector func(T) bool, onBatch func([]Record[T])) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.subs[id] = subscription[T]{selector: selector, onBatch: onBatch}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers records as one batch.
func (h *Hub[T]) Publish(records ...Record[T]) {
	if len(records) == 0 {
		return
	}

	h.mu.RLock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]subscription[T], len(ids))
	for i, id := range ids {
		subs[i] = h.subs[id]
	}
	h.mu.RUnlock()

	for _, s := range subs {
		batch := records
		if s.selector != nil {
			batch = nil
			for _, r := range records {
				if s.selector(r.Data) {
					batch = append(batch, r)
				}
			}
		}
		if len(batch) > 0 {
			s.onBatch(batch)
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
