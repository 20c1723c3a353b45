// Package retention evicts expired history records from each rollup
// window and recomputes the affected aggregates.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/homewatt/homewatt/pkg/rollup"
	"github.com/homewatt/homewatt/pkg/store"
)

// Listing page sizes for device discovery and record scans.
const (
	devicePageSize = 200
	recordPageSize = 500
)

// Sweeper runs the periodic retention pass.
type Sweeper struct {
	docs          store.DocumentStore
	engine        *rollup.Engine
	deleteWorkers int
	log           zerolog.Logger
}

// New creates a retention sweeper. deleteWorkers bounds concurrent
// record deletes within one (period, device) pair.
func New(docs store.DocumentStore, engine *rollup.Engine, deleteWorkers int, logger zerolog.Logger) *Sweeper {
	if deleteWorkers <= 0 {
		deleteWorkers = 8
	}
	return &Sweeper{
		docs:          docs,
		engine:        engine,
		deleteWorkers: deleteWorkers,
		log:           logger.With().Str("component", "retention").Logger(),
	}
}

// Sweep evicts expired records from every period for every device, then
// recomputes each swept pair's aggregate. Devices are discovered by
// listing each period's top-level collection; there is no separate
// device registry.
//
// Backend errors are logged with their entity context and never abort
// the remaining devices or periods.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	start := time.Now()
	s.log.Info().Time("cutoff_base", now).Msg("retention sweep started")

	for _, period := range rollup.Periods() {
		cutoff := period.Cutoff(now)

		var cursor string
		for {
			devices, err := s.docs.ListDocuments(ctx, string(period), store.ListOptions{
				Limit:      devicePageSize,
				StartAfter: cursor,
			})
			if err != nil {
				s.log.Error().
					Err(err).
					Str("period", string(period)).
					Msg("failed to list devices")
				break
			}
			if len(devices) == 0 {
				break
			}

			for _, device := range devices {
				s.sweepDevice(ctx, period, device.ID, cutoff)
			}

			cursor = devices[len(devices)-1].ID
			if len(devices) < devicePageSize {
				break
			}
		}
	}

	s.log.Info().Dur("elapsed", time.Since(start)).Msg("retention sweep finished")
}

// sweepDevice deletes the device's expired records in one period, then
// recomputes that pair's aggregate. All deletes complete before the
// recompute runs, so the recomputed total never includes a row deleted
// in this pass.
func (s *Sweeper) sweepDevice(ctx context.Context, period rollup.Period, deviceID string, cutoff time.Time) {
	collection := period.HistoryPath(deviceID)

	var expired []string
	var cursor string
	for {
		page, err := s.docs.ListDocuments(ctx, collection, store.ListOptions{
			Limit:      recordPageSize,
			StartAfter: cursor,
		})
		if err != nil {
			s.log.Error().
				Err(err).
				Str("device_id", deviceID).
				Str("period", string(period)).
				Msg("failed to list history records")
			return
		}
		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			if s.isExpired(rec, period, cutoff) {
				expired = append(expired, rec.Path)
			}
		}

		cursor = page[len(page)-1].ID
		if len(page) < recordPageSize {
			break
		}
	}

	if len(expired) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.deleteWorkers)
		for _, path := range expired {
			path := path
			g.Go(func() error {
				if err := s.docs.Delete(gctx, path); err != nil {
					// A record that failed to delete is still present and
					// will be summed; the recompute stays correct.
					s.log.Error().
						Err(err).
						Str("path", path).
						Msg("failed to delete expired record")
				}
				return nil
			})
		}
		// All deletes must land before the recompute reads the window.
		_ = g.Wait()

		s.log.Info().
			Str("device_id", deviceID).
			Str("period", string(period)).
			Int("deleted", len(expired)).
			Msg("expired records evicted")
	}

	if err := s.engine.Recompute(ctx, deviceID, period); err != nil {
		// The deletes above stand regardless; cleanup and recompute
		// are decoupled.
		s.log.Error().
			Err(err).
			Str("device_id", deviceID).
			Str("period", string(period)).
			Msg("recompute after eviction failed")
	}
}

// isExpired reports whether a record's end_time falls strictly before
// the cutoff. Records without an end_time survive; unparseable
// timestamps are logged and skipped rather than deleted.
func (s *Sweeper) isExpired(rec store.Snapshot, period rollup.Period, cutoff time.Time) bool {
	raw, ok := rec.Fields[rollup.FieldEndTime]
	if !ok || raw == nil {
		return false
	}

	str, ok := raw.(string)
	if !ok {
		s.log.Warn().
			Str("path", rec.Path).
			Str("period", string(period)).
			Interface("end_time", raw).
			Msg("end_time is not a string, skipping record")
		return false
	}

	endTime, err := time.Parse(time.RFC3339, str)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("path", rec.Path).
			Str("period", string(period)).
			Str("end_time", str).
			Msg("unparseable end_time, skipping record")
		return false
	}

	return endTime.Before(cutoff)
}
