/*
Package signals carries catalog change notifications between independently
running client instances.

PURPOSE:
  When the catalog adds, updates or deletes an item, the instance that saw
  it broadcasts a Signal. Live instances apply it on receipt. The latest
  signal is also persisted, so an instance starting shortly afterwards
  can still apply it during a bounded catch-up window.

DELIVERY:
  At-most-once per listener, no acknowledgment. Signals never come back to
  the instance that sent them. Applying a signal twice is harmless: add,
  update and delete are idempotent against the cache. A resync signal
  follows a bulk import and only invalidates.

LEDGER:
  ledger.go relays committed ledger records over the same Medium on a
  separate topic, so every instance's cache sees every write.

TIMESTAMPS:
  Each Channel stamps outgoing signals with a strictly increasing time, so
  two signals sent in the same clock tick still order.

SEE ALSO:
  - medium.go: Medium interface and the in-process implementation
  - redis.go: Medium over Redis pub/sub and SET/GET
  - ledger.go: LedgerRelay
*/
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCatchUpWindow bounds how old a persisted signal may be and still
// be applied at startup.
const DefaultCatchUpWindow = 10 * time.Second

// =============================================================================
// SIGNAL
// =============================================================================

type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionResync follows a bulk catalog change. It names no item;
	// receivers re-resolve everything.
	ActionResync Action = "resync"
)

type Signal struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	ItemCode    string    `json:"item_code"`
	DisplayName string    `json:"display_name,omitempty"`
	Category    string    `json:"category,omitempty"`
	// Origin identifies the sending instance.
	Origin string `json:"origin,omitempty"`
}

func (s Signal) validate() error {
	switch s.Action {
	case ActionAdd, ActionUpdate, ActionDelete:
	case ActionResync:
		return nil
	default:
		return fmt.Errorf("unknown signal action %q", s.Action)
	}
	if s.ItemCode == "" {
		return fmt.Errorf("signal without item code")
	}
	return nil
}

// =============================================================================
// CHANNEL
// =============================================================================

type Channel struct {
	Medium Medium
	Topic  string
	Origin string
	Now    func() time.Time
	Logger *zap.Logger

	mu   sync.Mutex
	last time.Time
}

func NewChannel(medium Medium, topic, origin string, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		Medium: medium,
		Topic:  topic,
		Origin: origin,
		Now:    time.Now,
		Logger: logger,
	}
}

func (c *Channel) lastKey() string { return c.Topic + ":last" }

func (c *Channel) stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

// Broadcast stamps s, persists it as the last signal, then publishes it.
func (c *Channel) Broadcast(ctx context.Context, s Signal) (Signal, error) {
	if err := s.validate(); err != nil {
		return s, err
	}
	s.Timestamp = c.stamp()
	s.Origin = c.Origin

	payload, err := json.Marshal(s)
	if err != nil {
		return s, fmt.Errorf("encode signal: %w", err)
	}
	if err := c.Medium.Set(ctx, c.lastKey(), payload); err != nil {
		return s, err
	}
	if err := c.Medium.Publish(ctx, c.Topic, payload); err != nil {
		return s, err
	}

	c.Logger.Debug("signal broadcast",
		zap.String("action", string(s.Action)),
		zap.String("item_code", s.ItemCode),
		zap.Time("timestamp", s.Timestamp),
	)
	return s, nil
}

// PersistLastSignal stores s as the last signal without publishing it.
func (c *Channel) PersistLastSignal(ctx context.Context, s Signal) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	return c.Medium.Set(ctx, c.lastKey(), payload)
}

// ReadLastSignal returns the persisted last signal, nil when none.
func (c *Channel) ReadLastSignal(ctx context.Context) (*Signal, error) {
	payload, ok, err := c.Medium.Get(ctx, c.lastKey())
	if err != nil || !ok {
		return nil, err
	}
	var s Signal
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode last signal: %w", err)
	}
	return &s, nil
}

// Observe calls fn for each signal published by other instances until
// stop is called.
func (c *Channel) Observe(ctx context.Context, fn func(Signal)) (stop func(), err error) {
	return c.Medium.Subscribe(ctx, c.Topic, func(payload []byte) {
		var s Signal
		if err := json.Unmarshal(payload, &s); err != nil {
			c.Logger.Warn("dropping undecodable signal", zap.Error(err))
			return
		}
		if s.Origin != "" && s.Origin == c.Origin {
			return
		}
		if err := s.validate(); err != nil {
			c.Logger.Warn("dropping invalid signal", zap.Error(err))
			return
		}
		fn(s)
	})
}

// CatchUp applies the persisted last signal when it is younger than
// window and came from another instance. Reports whether fn was called.
func (c *Channel) CatchUp(ctx context.Context, window time.Duration, fn func(Signal)) (bool, error) {
	s, err := c.ReadLastSignal(ctx)
	if err != nil || s == nil {
		return false, err
	}
	if s.Origin != "" && s.Origin == c.Origin {
		return false, nil
	}
	age := c.Now().Sub(s.Timestamp)
	if age < 0 || age > window {
		return false, nil
	}
	if err := s.validate(); err != nil {
		return false, err
	}

	c.Logger.Info("applying missed signal",
		zap.String("action", string(s.Action)),
		zap.String("item_code", s.ItemCode),
		zap.Duration("age", age),
	)
	fn(*s)
	return true, nil
}
