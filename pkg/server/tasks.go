package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/retention"
	"github.com/homewatt/homewatt/pkg/store/badgerstore"
)

// StartRetention schedules the retention sweep on the given cron
// expression and returns the running scheduler. Each firing sweeps with
// its own wall-clock instant.
func StartRetention(schedule string, sweeper *retention.Sweeper, logger zerolog.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		sweeper.Sweep(context.Background(), time.Now())
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	logger.Info().Str("schedule", schedule).Msg("retention scheduler started")
	return c, nil
}

// RunBadgerGC runs Badger value-log garbage collection periodically to
// reclaim disk space from evicted history records.
func RunBadgerGC(db *badgerstore.DB, interval time.Duration, logger zerolog.Logger, stop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("badger GC scheduler started")

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// One GC pass per tick; 0.5 discard ratio rewrites a value
			// log file once half of it is garbage.
			err := db.RunGC(0.5)
			switch {
			case err == nil:
				logger.Info().Dur("elapsed", time.Since(start)).Msg("badger GC reclaimed space")
			case errors.Is(err, badger.ErrNoRewrite):
				logger.Debug().Msg("badger GC: nothing to reclaim")
			default:
				logger.Warn().Err(err).Msg("badger GC failed")
			}
		case <-stop:
			logger.Info().Msg("stopping badger GC scheduler")
			return
		}
	}
}
