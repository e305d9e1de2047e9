/*
resolve.go - Resolution engine

PURPOSE:
  Answers "how many of X exist as of T" by folding ledger entries. All
  operations are read-only and safe to call concurrently.

OPERATIONS:
  ResolveQuantity:  one code, every entry up to asOf
  ResolveAll:       one scan over every code, the correctness baseline
  ResolveForCodes:  a few codes, queried in chunks of InListLimit
  ResolveHybrid:    daily snapshot plus today's entries

HYBRID RESOLUTION:
  1. Today's snapshot exists      -> returned as-is, today's delta discarded
  2. Yesterday's snapshot exists  -> baseline with today's tallies applied
  3. Neither                      -> ResolveAll

  Branch 1 assumes the snapshot was taken after every entry that exists at
  call time. If it was taken earlier, entries between snapshot time and
  asOf are missing from the result. The resolver logs a warning when it
  can see that happening but does not correct it.

SEE ALSO:
  - fold.go: Tally and the fold rule
  - store.go: LedgerStore, SnapshotStore
*/
package stock

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InListLimit caps the number of codes sent in one store query. Most
// query backends limit the size of an IN filter.
const InListLimit = 10

type Resolver struct {
	Ledger    LedgerStore
	Snapshots SnapshotStore
	Calendar  Calendar
	Logger    *zap.Logger
	Now       func() time.Time

	tracer trace.Tracer
}

// NewResolver returns a resolver using the global tracer provider.
func NewResolver(ledger LedgerStore, snapshots SnapshotStore, cal Calendar, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		Ledger:    ledger,
		Snapshots: snapshots,
		Calendar:  cal,
		Logger:    logger,
		Now:       time.Now,
		tracer:    otel.Tracer("stock-engine/resolve"),
	}
}

func (r *Resolver) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if r.tracer == nil {
		r.tracer = otel.Tracer("stock-engine/resolve")
	}
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// =============================================================================
// SINGLE CODE
// =============================================================================

// ResolveQuantity folds every entry for code with Timestamp <= asOf.
func (r *Resolver) ResolveQuantity(ctx context.Context, code string, asOf time.Time) (int, error) {
	ctx, span := r.start(ctx, "stock.resolve_quantity",
		attribute.String("item.code", code),
		attribute.String("as_of", asOf.Format(time.RFC3339)),
	)
	defer span.End()

	entries, err := r.Ledger.Query(ctx, Query{Codes: []string{code}, To: asOf})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	q := Fold(entries)
	span.SetAttributes(attribute.Int("entries.folded", len(entries)), attribute.Int("quantity", q))
	r.warnNegative(code, q)
	return q, nil
}

// =============================================================================
// FULL SCAN
// =============================================================================

// ResolveAll folds every entry up to asOf. With codes given, the result
// holds exactly those keys, unseen ones at 0.
func (r *Resolver) ResolveAll(ctx context.Context, asOf time.Time, codes ...string) (map[string]int, error) {
	ctx, span := r.start(ctx, "stock.resolve_all",
		attribute.String("as_of", asOf.Format(time.RFC3339)),
		attribute.Int("codes.requested", len(codes)),
	)
	defer span.End()

	entries, err := r.Ledger.Query(ctx, Query{To: asOf})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("entries.folded", len(entries)))

	all := ApplyTallies(nil, FoldByCode(entries))
	if len(codes) == 0 {
		r.warnNegatives(all)
		return all, nil
	}

	out := make(map[string]int, len(codes))
	for _, c := range codes {
		out[c] = all[c]
	}
	r.warnNegatives(out)
	return out, nil
}

// =============================================================================
// BATCHED CODES
// =============================================================================

// ResolveForCodes is ResolveAll restricted to codes, but only touches the
// entries of those codes. Codes are queried InListLimit at a time.
func (r *Resolver) ResolveForCodes(ctx context.Context, codes []string, asOf time.Time) (map[string]int, error) {
	ctx, span := r.start(ctx, "stock.resolve_for_codes",
		attribute.String("as_of", asOf.Format(time.RFC3339)),
		attribute.Int("codes.requested", len(codes)),
	)
	defer span.End()

	out := make(map[string]int, len(codes))
	folded := 0
	for _, chunk := range Chunk(codes, InListLimit) {
		entries, err := r.Ledger.Query(ctx, Query{Codes: chunk, To: asOf})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		folded += len(entries)

		tallies := FoldByCode(entries)
		for _, c := range chunk {
			out[c] = tallies[c].On(0)
		}
	}

	span.SetAttributes(attribute.Int("entries.folded", folded))
	r.warnNegatives(out)
	return out, nil
}

// Chunk splits codes into consecutive groups of at most size, dropping
// duplicates.
func Chunk(codes []string, size int) [][]string {
	if size <= 0 {
		size = InListLimit
	}
	seen := make(map[string]bool, len(codes))
	var chunks [][]string
	var cur []string
	for _, c := range codes {
		if seen[c] {
			continue
		}
		seen[c] = true
		cur = append(cur, c)
		if len(cur) == size {
			chunks = append(chunks, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// =============================================================================
// HYBRID
// =============================================================================

// HybridSource says which branch ResolveHybrid took.
type HybridSource string

const (
	SourceTodaySnapshot     HybridSource = "today_snapshot"
	SourceYesterdaySnapshot HybridSource = "yesterday_snapshot"
	SourceFullScan          HybridSource = "full_scan"
)

// ResolveHybrid resolves every code as of asOf (now when zero) using the
// newest usable snapshot.
func (r *Resolver) ResolveHybrid(ctx context.Context, asOf time.Time) (map[string]int, error) {
	q, _, err := r.ResolveHybridSource(ctx, asOf)
	return q, err
}

// ResolveHybridSource is ResolveHybrid that also reports the branch taken.
func (r *Resolver) ResolveHybridSource(ctx context.Context, asOf time.Time) (map[string]int, HybridSource, error) {
	if asOf.IsZero() {
		asOf = r.now()
	}
	today := r.Calendar.DateKey(asOf)

	ctx, span := r.start(ctx, "stock.resolve_hybrid",
		attribute.String("as_of", asOf.Format(time.RFC3339)),
		attribute.String("date.today", today),
	)
	defer span.End()

	baseline, err := r.Snapshots.SnapshotFor(ctx, today)
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}
	source := SourceTodaySnapshot
	if baseline == nil {
		baseline, err = r.Snapshots.SnapshotFor(ctx, r.Calendar.Yesterday(asOf))
		if err != nil {
			span.RecordError(err)
			return nil, "", err
		}
		source = SourceYesterdaySnapshot
	}
	if baseline == nil {
		span.SetAttributes(attribute.String("hybrid.source", string(SourceFullScan)))
		all, err := r.ResolveAll(ctx, asOf)
		return all, SourceFullScan, err
	}
	span.SetAttributes(attribute.String("hybrid.source", string(source)))

	entries, err := r.Ledger.Query(ctx, Query{From: r.Calendar.StartOfDay(asOf), To: asOf})
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}
	span.SetAttributes(attribute.Int("entries.folded", len(entries)))
	tallies := FoldByCode(entries)

	if source == SourceTodaySnapshot {
		// Delta is discarded; see the file header.
		if len(entries) > 0 && !baseline.CreatedAt.IsZero() && baseline.CreatedAt.Before(entries[len(entries)-1].Timestamp) {
			r.logger().Warn("today's snapshot predates ledger entries; result may be stale",
				zap.String("date_key", today),
				zap.Time("snapshot_created_at", baseline.CreatedAt),
				zap.Time("latest_entry_at", entries[len(entries)-1].Timestamp),
			)
		}
		out := make(map[string]int, len(baseline.Quantities))
		for code, q := range baseline.Quantities {
			out[code] = q
		}
		r.warnNegatives(out)
		return out, source, nil
	}

	out := ApplyTallies(baseline.Quantities, tallies)
	r.warnNegatives(out)
	return out, source, nil
}

// =============================================================================
// CONSISTENCY WARNINGS
// =============================================================================

func (r *Resolver) warnNegative(code string, q int) {
	if q < 0 {
		r.logger().Warn("negative resolved quantity",
			zap.String("item_code", code),
			zap.Int("quantity", q),
		)
	}
}

func (r *Resolver) warnNegatives(m map[string]int) {
	for code, q := range m {
		r.warnNegative(code, q)
	}
}
