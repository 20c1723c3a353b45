// Package fanout copies newly written raw history records into every
// rollup period's own history collection, then triggers recomputation.
package fanout

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/rollup"
	"github.com/homewatt/homewatt/pkg/store"
)

// copyPageSize is the listing page size while copying sub-collections.
const copyPageSize = 200

// Event describes one write to the raw history collection, as delivered
// by the platform's document-write trigger.
type Event struct {
	// DeviceID owning the record.
	DeviceID string

	// StartTime is the record's path key.
	StartTime string

	// After holds the record fields after the write. Nil means the
	// write was a delete, which fan-out ignores.
	After map[string]any
}

// Copier fans raw history writes out into the rollup periods.
type Copier struct {
	docs   store.DocumentStore
	engine *rollup.Engine
	log    zerolog.Logger
}

// New creates a fan-out copier.
func New(docs store.DocumentStore, engine *rollup.Engine, logger zerolog.Logger) *Copier {
	return &Copier{
		docs:   docs,
		engine: engine,
		log:    logger.With().Str("component", "fanout").Logger(),
	}
}

// HandleWrite copies the record behind the event into each rollup
// period, including its sub-collections, then recomputes the device's
// aggregates across all periods.
//
// Copy errors are logged and skipped so one failing document never
// aborts the remaining documents or periods; the store offers no
// multi-document atomicity to lean on. Partial fan-out is an acceptable
// terminal outcome.
func (c *Copier) HandleWrite(ctx context.Context, ev Event) {
	if ev.After == nil {
		c.log.Debug().
			Str("device_id", ev.DeviceID).
			Str("start_time", ev.StartTime).
			Msg("delete event, nothing to fan out")
		return
	}

	src := rollup.RawHistoryPath(ev.DeviceID) + "/" + ev.StartTime

	for _, period := range rollup.Periods() {
		dst := period.HistoryPath(ev.DeviceID) + "/" + ev.StartTime

		if err := c.docs.Set(ctx, dst, ev.After); err != nil {
			c.log.Error().
				Err(err).
				Str("device_id", ev.DeviceID).
				Str("period", string(period)).
				Str("start_time", ev.StartTime).
				Msg("failed to copy record into rollup period")
			continue
		}

		c.copyChildren(ctx, src, dst)
	}

	c.engine.RecomputeAll(ctx, ev.DeviceID)
}

// copyChildren recursively copies every sub-collection under src to the
// matching sub-collection under dst. Sub-collection names are not known
// in advance; they are discovered per document.
func (c *Copier) copyChildren(ctx context.Context, src, dst string) {
	collections, err := c.docs.ListCollections(ctx, src)
	if err != nil {
		c.log.Error().Err(err).Str("path", src).Msg("failed to list sub-collections")
		return
	}

	for _, name := range collections {
		var cursor string
		for {
			page, err := c.docs.ListDocuments(ctx, src+"/"+name, store.ListOptions{
				Limit:      copyPageSize,
				StartAfter: cursor,
			})
			if err != nil {
				c.log.Error().Err(err).Str("path", src+"/"+name).Msg("failed to list sub-documents")
				break
			}
			if len(page) == 0 {
				break
			}

			for _, doc := range page {
				childDst := dst + "/" + name + "/" + doc.ID
				if err := c.docs.Set(ctx, childDst, doc.Fields); err != nil {
					c.log.Error().
						Err(err).
						Str("path", childDst).
						Msg("failed to copy sub-document")
					continue
				}
				c.copyChildren(ctx, doc.Path, childDst)
			}

			cursor = page[len(page)-1].ID
			if len(page) < copyPageSize {
				break
			}
		}
	}
}
