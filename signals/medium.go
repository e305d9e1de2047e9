package signals

import (
	"context"
	"sync"
)

// =============================================================================
// MEDIUM - Shared broadcast + key/value storage
// =============================================================================

// Medium is the shared medium instances signal over.
type Medium interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe calls fn for every payload published on topic until the
	// returned stop func is called.
	Subscribe(ctx context.Context, topic string, fn func([]byte)) (stop func(), err error)
	Set(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// =============================================================================
// MEMORY MEDIUM - In-process (tests, single-node dev)
// =============================================================================

type MemoryMedium struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func([]byte)
	values map[string][]byte
}

func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{
		subs:   make(map[string]map[int]func([]byte)),
		values: make(map[string][]byte),
	}
}

// Publish delivers synchronously to every current subscriber of topic.
func (m *MemoryMedium) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	fns := make([]func([]byte), 0, len(m.subs[topic]))
	for _, fn := range m.subs[topic] {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(append([]byte(nil), payload...))
	}
	return nil
}

func (m *MemoryMedium) Subscribe(_ context.Context, topic string, fn func([]byte)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[int]func([]byte))
	}
	m.subs[topic][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[topic], id)
			m.mu.Unlock()
		})
	}, nil
}

func (m *MemoryMedium) Set(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), payload...)
	return nil
}

func (m *MemoryMedium) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}
