// Package store provides in-memory stock stores.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements stock.AdminStore, stock.SnapshotStore and stock.Catalog.
type Memory struct {
	mu        sync.RWMutex
	entries   []stock.Entry // sorted by Timestamp, stable
	snapshots map[string]stock.Snapshot
	items     map[string]stock.Item

	// Now assigns timestamps to entries appended without one.
	Now func() time.Time
	// Fail, when set, is returned by every call. Simulates an outage.
	Fail error
}

func NewMemory() *Memory {
	return &Memory{
		snapshots: make(map[string]stock.Snapshot),
		items:     make(map[string]stock.Item),
		Now:       time.Now,
	}
}

func (m *Memory) failure(op string) error {
	if m.Fail != nil {
		return stock.Unavailable(op, m.Fail)
	}
	return nil
}

// Append adds a single entry, keeping the slice in timestamp order.
func (m *Memory) Append(_ context.Context, e stock.Entry) (stock.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("append"); err != nil {
		return "", err
	}

	if e.ID == "" {
		e.ID = stock.NewEntryID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.Now()
	}
	m.insertLocked(e)
	return e.ID, nil
}

func (m *Memory) insertLocked(e stock.Entry) {
	// Binary search for insertion point after any equal timestamps
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Timestamp.After(e.Timestamp)
	})
	m.entries = append(m.entries, stock.Entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e
}

func (m *Memory) Query(_ context.Context, q stock.Query) ([]stock.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("query"); err != nil {
		return nil, err
	}

	var result []stock.Entry
	for _, e := range m.entries {
		if !q.To.IsZero() && e.Timestamp.After(q.To) {
			break
		}
		if q.Matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// OVERRIDE PATH
// =============================================================================

func (m *Memory) Entry(_ context.Context, id stock.EntryID) (stock.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("entry"); err != nil {
		return stock.Entry{}, err
	}
	if i := m.indexLocked(id); i >= 0 {
		return m.entries[i], nil
	}
	return stock.Entry{}, stock.ErrEntryNotFound
}

func (m *Memory) EditEntry(_ context.Context, e stock.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("edit"); err != nil {
		return err
	}
	i := m.indexLocked(e.ID)
	if i < 0 {
		return stock.ErrEntryNotFound
	}
	m.removeLocked(i)
	m.insertLocked(e)
	return nil
}

func (m *Memory) DeleteEntry(_ context.Context, id stock.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("delete"); err != nil {
		return err
	}
	i := m.indexLocked(id)
	if i < 0 {
		return stock.ErrEntryNotFound
	}
	m.removeLocked(i)
	return nil
}

func (m *Memory) indexLocked(id stock.EntryID) int {
	for i, e := range m.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) removeLocked(i int) {
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// SaveSnapshot stands in for the external batch process.
func (m *Memory) SaveSnapshot(_ context.Context, s stock.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("save snapshot"); err != nil {
		return err
	}
	cp := make(map[string]int, len(s.Quantities))
	for k, v := range s.Quantities {
		cp[k] = v
	}
	s.Quantities = cp
	m.snapshots[s.DateKey] = s
	return nil
}

func (m *Memory) SnapshotFor(_ context.Context, dateKey string) (*stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("snapshot"); err != nil {
		return nil, err
	}
	s, ok := m.snapshots[dateKey]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveItem(_ context.Context, it stock.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("save item"); err != nil {
		return err
	}
	m.items[it.Code] = it
	return nil
}

func (m *Memory) DeleteItem(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("delete item"); err != nil {
		return err
	}
	delete(m.items, code)
	return nil
}

func (m *Memory) Items(_ context.Context) ([]stock.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("items"); err != nil {
		return nil, err
	}
	items := make([]stock.Item, 0, len(m.items))
	for _, it := range m.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return items, nil
}
