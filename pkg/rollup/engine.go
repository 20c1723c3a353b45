package rollup

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/store"
)

// recomputePageSize is the listing page size while summing a window.
const recomputePageSize = 500

// Notifier receives aggregate updates after a successful recompute.
// Implemented by the live WebSocket hub; nil disables notifications.
type Notifier interface {
	AggregateUpdated(deviceID string, period Period, total float64)
}

// Engine recomputes per-(period, device) aggregates.
//
// Recompute is a pure function of the records currently in the window:
// it carries no state between invocations, so concurrent recomputes for
// the same pair are safe under last-writer-wins merge semantics.
type Engine struct {
	docs     store.DocumentStore
	notifier Notifier
	log      zerolog.Logger
}

// NewEngine creates an aggregation engine.
func NewEngine(docs store.DocumentStore, logger zerolog.Logger) *Engine {
	return &Engine{
		docs: docs,
		log:  logger.With().Str("component", "rollup").Logger(),
	}
}

// SetNotifier registers the aggregate-update notifier.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Recompute sums power_consumption over every record currently in the
// period's history for the device, rounds to 3 decimals, and merge-writes
// total_power_consumption onto the aggregate document without touching
// its other fields.
func (e *Engine) Recompute(ctx context.Context, deviceID string, period Period) error {
	collection := period.HistoryPath(deviceID)

	var sum float64
	var cursor string
	for {
		page, err := e.docs.ListDocuments(ctx, collection, store.ListOptions{
			Limit:      recomputePageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", collection, err)
		}
		if len(page) == 0 {
			break
		}
		for _, rec := range page {
			sum += NumericField(rec.Fields, FieldPowerConsumption)
		}
		cursor = page[len(page)-1].ID
		if len(page) < recomputePageSize {
			break
		}
	}

	total := Round3(sum)
	err := e.docs.Merge(ctx, period.AggregatePath(deviceID), map[string]any{
		FieldTotalPowerConsumption: total,
	})
	if err != nil {
		return fmt.Errorf("failed to write aggregate for %s: %w", period.AggregatePath(deviceID), err)
	}

	e.log.Debug().
		Str("device_id", deviceID).
		Str("period", string(period)).
		Float64("total_power_consumption", total).
		Msg("aggregate recomputed")

	if e.notifier != nil {
		e.notifier.AggregateUpdated(deviceID, period, total)
	}
	return nil
}

// RecomputeAll recomputes every period for a device. A failing period is
// logged and does not stop the remaining periods; recompute failures
// never propagate past this boundary.
func (e *Engine) RecomputeAll(ctx context.Context, deviceID string) {
	for _, period := range Periods() {
		if err := e.Recompute(ctx, deviceID, period); err != nil {
			e.log.Error().
				Err(err).
				Str("device_id", deviceID).
				Str("period", string(period)).
				Msg("recompute failed")
		}
	}
}

// Round3 rounds to 3 decimal places, half away from zero. All aggregate
// call sites go through this so rounding stays consistent.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// NumericField extracts an optional numeric field from JSON-shaped
// document fields. Missing, null, or non-numeric values count as zero.
func NumericField(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
