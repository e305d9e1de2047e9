// Package catalog adapts the master-item store so that every change is
// visible to running cache instances: locally through the catalog feed and
// across instances through a signal.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/stock-engine/feed"
	"github.com/warp/stock-engine/signals"
	"github.com/warp/stock-engine/stock"
	"go.uber.org/zap"
)

// Store is the persistence the catalog needs.
type Store interface {
	stock.Catalog
	SaveItem(ctx context.Context, it stock.Item) error
	DeleteItem(ctx context.Context, code string) error
}

// Broadcaster is the sending half of a signal channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, s signals.Signal) (signals.Signal, error)
}

type Service struct {
	Store   Store
	Hub     *feed.Hub[stock.Item]
	Signals Broadcaster // optional
	Logger  *zap.Logger
}

func NewService(store Store, broadcaster Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:   store,
		Hub:     feed.NewHub[stock.Item](),
		Signals: broadcaster,
		Logger:  logger,
	}
}

func (s *Service) Items(ctx context.Context) ([]stock.Item, error) {
	return s.Store.Items(ctx)
}

// Subscribe is shorthand for s.Hub.Subscribe.
func (s *Service) Subscribe(selector func(stock.Item) bool, onBatch func([]feed.Record[stock.Item])) func() {
	return s.Hub.Subscribe(selector, onBatch)
}

func (s *Service) find(ctx context.Context, code string) (*stock.Item, error) {
	items, err := s.Store.Items(ctx)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.Code == code {
			return &it, nil
		}
	}
	return nil, nil
}

// Save creates or updates an item. The returned action says which.
func (s *Service) Save(ctx context.Context, it stock.Item) (signals.Action, error) {
	if it.Code == "" || strings.ContainsAny(it.Code, " \t\r\n") {
		return "", &stock.ValidationError{Line: -1, Field: "code", Reason: "must be non-empty without whitespace"}
	}
	existing, err := s.find(ctx, it.Code)
	if err != nil {
		return "", err
	}
	if err := s.Store.SaveItem(ctx, it); err != nil {
		return "", err
	}

	action, rec := signals.ActionAdd, feed.Add(it)
	if existing != nil {
		action, rec = signals.ActionUpdate, feed.Modify(it)
	}
	s.Hub.Publish(rec)
	s.broadcast(ctx, signals.Signal{Action: action, ItemCode: it.Code, DisplayName: it.Name, Category: it.Category})
	return action, nil
}

// Import saves many items at once. Local subscribers see one batch, which
// they treat as a bulk re-sync; other instances get a single resync
// signal instead of one per item.
func (s *Service) Import(ctx context.Context, items []stock.Item) error {
	records := make([]feed.Record[stock.Item], 0, len(items))
	for _, it := range items {
		if err := s.Store.SaveItem(ctx, it); err != nil {
			return fmt.Errorf("import %s: %w", it.Code, err)
		}
		records = append(records, feed.Modify(it))
	}
	s.Hub.Publish(records...)
	if len(records) > 0 {
		s.broadcast(ctx, signals.Signal{Action: signals.ActionResync})
	}
	s.Logger.Info("catalog imported", zap.Int("items", len(items)))
	return nil
}

func (s *Service) Delete(ctx context.Context, code string) error {
	existing, err := s.find(ctx, code)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("item %s: %w", code, stock.ErrItemNotFound)
	}
	if err := s.Store.DeleteItem(ctx, code); err != nil {
		return err
	}
	s.Hub.Publish(feed.Remove(*existing))
	s.broadcast(ctx, signals.Signal{Action: signals.ActionDelete, ItemCode: code, DisplayName: existing.Name, Category: existing.Category})
	return nil
}

// broadcast failures do not undo the write; remote instances converge on
// their next refresh.
func (s *Service) broadcast(ctx context.Context, sig signals.Signal) {
	if s.Signals == nil {
		return
	}
	if _, err := s.Signals.Broadcast(ctx, sig); err != nil {
		s.Logger.Warn("broadcasting catalog signal failed",
			zap.String("action", string(sig.Action)),
			zap.String("item_code", sig.ItemCode),
			zap.Error(err),
		)
	}
}
