package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/stock-engine/feed"
	"github.com/warp/stock-engine/stock"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER RELAY - Ledger change feed across instances
// =============================================================================

// LedgerRelay carries committed ledger records to the other instances
// sharing a Medium. Subscribe Forward to the local LedgerFeed; Observe
// delivers what the other instances forwarded.
type LedgerRelay struct {
	Medium Medium
	Topic  string
	Origin string
	Logger *zap.Logger
	// Timeout bounds each publish made by Forward.
	Timeout time.Duration
}

type ledgerMessage struct {
	Origin  string         `json:"origin"`
	Records []ledgerRecord `json:"records"`
}

type ledgerRecord struct {
	Type  feed.RecordType `json:"type"`
	Entry stock.Entry     `json:"entry"`
}

func NewLedgerRelay(medium Medium, topic, origin string, logger *zap.Logger) *LedgerRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerRelay{
		Medium:  medium,
		Topic:   topic,
		Origin:  origin,
		Logger:  logger,
		Timeout: 2 * time.Second,
	}
}

// Publish sends one batch to the other instances.
func (r *LedgerRelay) Publish(ctx context.Context, records []feed.Record[stock.Entry]) error {
	if len(records) == 0 {
		return nil
	}
	msg := ledgerMessage{Origin: r.Origin, Records: make([]ledgerRecord, len(records))}
	for i, rec := range records {
		msg.Records[i] = ledgerRecord{Type: rec.Type, Entry: rec.Data}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode ledger batch: %w", err)
	}
	return r.Medium.Publish(ctx, r.Topic, payload)
}

// Forward is a LedgerFeed subscriber. The entries are already committed,
// so a failed publish is logged and dropped; remote caches converge on
// their next refresh.
func (r *LedgerRelay) Forward(records []feed.Record[stock.Entry]) {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	if err := r.Publish(ctx, records); err != nil {
		r.Logger.Warn("forwarding ledger batch failed",
			zap.Int("records", len(records)),
			zap.Error(err),
		)
	}
}

// Observe calls fn with each batch forwarded by another instance until
// stop is called.
func (r *LedgerRelay) Observe(ctx context.Context, fn func([]feed.Record[stock.Entry])) (stop func(), err error) {
	return r.Medium.Subscribe(ctx, r.Topic, func(payload []byte) {
		var msg ledgerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			r.Logger.Warn("dropping undecodable ledger batch", zap.Error(err))
			return
		}
		if msg.Origin != "" && msg.Origin == r.Origin {
			return
		}

		records := make([]feed.Record[stock.Entry], 0, len(msg.Records))
		for _, rec := range msg.Records {
			switch rec.Type {
			case feed.Added, feed.Modified, feed.Removed:
				records = append(records, feed.Record[stock.Entry]{Type: rec.Type, Data: rec.Entry})
			default:
				r.Logger.Warn("dropping ledger record", zap.String("type", string(rec.Type)))
			}
		}
		if len(records) > 0 {
			fn(records)
		}
	})
}
