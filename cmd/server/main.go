package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/config"
	"github.com/homewatt/homewatt/pkg/erasure"
	"github.com/homewatt/homewatt/pkg/export"
	"github.com/homewatt/homewatt/pkg/fanout"
	"github.com/homewatt/homewatt/pkg/ingest"
	"github.com/homewatt/homewatt/pkg/live"
	"github.com/homewatt/homewatt/pkg/logging"
	"github.com/homewatt/homewatt/pkg/retention"
	"github.com/homewatt/homewatt/pkg/rollup"
	"github.com/homewatt/homewatt/pkg/server"
	"github.com/homewatt/homewatt/pkg/store/badgerstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log)
	logger.Info().Str("port", cfg.Port).Msg("starting homewatt server")

	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("failed to create data directory")
		}
	}

	db, err := badgerstore.Open(badgerstore.Config{
		Path:        cfg.DataDir,
		InMemory:    cfg.InMemory,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer db.Close()
	logger.Info().Str("data_dir", cfg.DataDir).Bool("in_memory", cfg.InMemory).Msg("storage opened")

	docs := db.Documents()
	tree := db.Tree()

	engine := rollup.NewEngine(docs, logger)
	hub := live.NewHub(logger)
	engine.SetNotifier(hub)

	copier := fanout.New(docs, engine, logger)
	sweeper := retention.New(docs, engine, cfg.Retention.DeleteWorkers, logger)
	erasureSvc := erasure.New(docs, tree, logger)

	ingestHandler := ingest.NewHandler(docs, copier, logger)
	erasureHandler := erasure.NewHandler(erasureSvc, logger)
	exportHandler := export.NewHandler(docs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	retentionCron, err := server.StartRetention(cfg.Retention.Schedule, sweeper, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Retention.Schedule).Msg("failed to start retention scheduler")
	}

	stopGC := make(chan struct{})
	wg.Add(1)
	go server.RunBadgerGC(db, cfg.GCInterval, logger, stopGC, &wg)

	router := server.NewRouter(ingestHandler, erasureHandler, exportHandler, hub, logger)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutdown signal received")

	// Stop background work before waiting on the group.
	cancel()
	close(stopGC)
	cronCtx := retentionCron.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}

	// Let an in-flight retention sweep finish before closing the store.
	select {
	case <-cronCtx.Done():
	case <-time.After(config.ShutdownTimeout):
		logger.Warn().Msg("retention sweep did not finish in time")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info().Msg("all background tasks stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("some background tasks did not stop in time")
	}

	logger.Info().Msg("homewatt server exited")
}
