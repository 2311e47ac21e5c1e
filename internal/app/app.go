// Package app wires the pipeline together: storage, shared KV, enrichment
// collaborators, the task queue worker pool, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/hoarderd/hoarderd/internal/controllers/geojson"
	"github.com/hoarderd/hoarderd/internal/controllers/restserver"
	"github.com/hoarderd/hoarderd/internal/decode"
	"github.com/hoarderd/hoarderd/internal/ingest"
	"github.com/hoarderd/hoarderd/internal/ipintel"
	"github.com/hoarderd/hoarderd/internal/kv"
	"github.com/hoarderd/hoarderd/internal/storage"
	"github.com/hoarderd/hoarderd/internal/storage/sqlite"
	"github.com/hoarderd/hoarderd/internal/storage/timescaledb"
	"github.com/hoarderd/hoarderd/internal/timefmt"
	"github.com/hoarderd/hoarderd/internal/transform"
	"github.com/hoarderd/hoarderd/internal/weather"
	"github.com/hoarderd/hoarderd/pkg/config"
)

const (
	systemMetricsInterval = 15 * time.Second
	systemRing            = "system"
	systemRingLen         = 2000
)

// App represents the main application.
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
}

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.SugaredLogger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openStore(a.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	kvc, err := kv.New(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connecting to KV store: %w", err)
	}
	defer kvc.Close()

	cache, err := weather.NewFileCache(a.cfg.Weather.CacheDir, a.cfg.Weather.MaxCacheFiles, a.cfg.Weather.MaxCacheBytes)
	if err != nil {
		return err
	}
	coord := weather.NewCoordinator(kvc, cache, a.cfg.Weather.DailyQuota, a.logger)
	intel := ipintel.New(kvc, a.logger)

	vendors, err := decode.LoadVendorDB(a.cfg.OUI.DatasetPath)
	if err != nil {
		a.logger.Warnf("OUI dataset unavailable (%v), Wi-Fi vendor lookups disabled", err)
		vendors = decode.NewVendorDB()
	}
	transformer, err := transform.New(vendors)
	if err != nil {
		return fmt.Errorf("initializing transformer: %w", err)
	}

	worker := ingest.NewWorker(store, kvc, transformer, coord, intel, a.logger)

	// Worker pool on the durable queue. The broker uses its own Redis
	// database so queue state and caches stay separate.
	taskServer := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.BrokerDB,
		},
		asynq.Config{Concurrency: a.cfg.Worker.Concurrency},
	)
	taskMux := asynq.NewServeMux()
	taskMux.HandleFunc(ingest.TaskIngestBatch, worker.HandleBatchTask)
	if err := taskServer.Start(taskMux); err != nil {
		return fmt.Errorf("starting task server: %w", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		a.logger.Info("shutting down the task server...")
		taskServer.Shutdown()
	}()

	queue := ingest.NewQueue(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.BrokerDB, a.cfg.Worker.MaxRetry)
	defer queue.Close()

	rest := restserver.NewController(ctx, &wg, a.cfg, store, queue, kvc, coord, intel, a.logger)
	if err := rest.StartController(); err != nil {
		return err
	}

	if a.cfg.GeoJSON.Enabled {
		gj := geojson.NewController(ctx, &wg, a.cfg.GeoJSON, store, kvc, a.logger)
		if err := gj.StartController(); err != nil {
			return err
		}
	}

	a.startTrimmer(ctx, &wg, store)
	a.startSystemMetrics(ctx, &wg, kvc)

	a.logger.Info("application started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		a.logger.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down...")
	}

	cancel()

	a.logger.Info("waiting for all workers to terminate...")
	wg.Wait()
	a.logger.Info("shutdown complete")

	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return sqlite.Open(cfg.Storage.SQLitePath)
	case "timescaledb":
		return timescaledb.Open(cfg.Storage.ConnectionString)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

// startTrimmer bounds the event log on disk.
func (a *App) startTrimmer(ctx context.Context, wg *sync.WaitGroup, store storage.Store) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(a.cfg.Trimmer.Interval())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				deleted, err := store.TrimEvents(ctx, a.cfg.Trimmer.HighWaterBytes, a.cfg.Trimmer.LowWaterBytes)
				if err != nil {
					a.logger.Errorf("event log trim failed: %v", err)
					continue
				}
				if deleted > 0 {
					a.logger.Infof("trimmed %d events from the log", deleted)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// startSystemMetrics samples process stats onto the capped KV ring.
func (a *App) startSystemMetrics(ctx context.Context, wg *sync.WaitGroup, kvc *kv.Client) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(systemMetricsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				var mem runtime.MemStats
				runtime.ReadMemStats(&mem)
				entry := map[string]any{
					"wall_ts":          timefmt.Format(time.Now().UTC()),
					"goroutines":       runtime.NumGoroutine(),
					"heap_alloc_bytes": mem.HeapAlloc,
					"sys_bytes":        mem.Sys,
				}
				if err := kvc.PushMetric(ctx, systemRing, entry, systemRingLen); err != nil {
					a.logger.Debugf("system metric push failed: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
