// Package geojson exports device tracks from the event log as rolling
// GeoJSON FeatureCollection files. The job runs on a fixed cadence and holds
// a shared-KV lock so only one process exports at a time.
package geojson

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hoarderd/hoarderd/internal/kv"
	"github.com/hoarderd/hoarderd/internal/storage"
	"github.com/hoarderd/hoarderd/pkg/config"
)

const (
	queryBatchSize = 500
	lockName       = "geojson"
)

// Controller represents the GeoJSON snapshot controller.
type Controller struct {
	ctx    context.Context
	wg     *sync.WaitGroup
	cfg    config.GeoJSONConfig
	store  storage.Store
	kvc    *kv.Client
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewController creates a new GeoJSON snapshot controller.
func NewController(ctx context.Context, wg *sync.WaitGroup, cfg config.GeoJSONConfig,
	store storage.Store, kvc *kv.Client, logger *zap.SugaredLogger) *Controller {
	return &Controller{
		ctx:    ctx,
		wg:     wg,
		cfg:    cfg,
		store:  store,
		kvc:    kvc,
		logger: logger,
		now:    time.Now,
	}
}

// StartController runs the export loop on the configured cadence.
func (c *Controller) StartController() error {
	c.logger.Info("starting GeoJSON snapshot controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.RunOnce(c.ctx); err != nil {
					c.logger.Errorf("GeoJSON export failed: %v", err)
				}
			case <-c.ctx.Done():
				c.logger.Info("shutting down the GeoJSON snapshot controller...")
				return
			}
		}
	}()

	return nil
}

// RunOnce exports all events newer than the persisted high-water id. The
// run is skipped entirely when another process holds the export lock.
func (c *Controller) RunOnce(ctx context.Context) error {
	acquired, err := c.kvc.AcquireLock(ctx, lockName, c.cfg.Interval())
	if err != nil {
		return err
	}
	if !acquired {
		c.logger.Debug("GeoJSON export lock held elsewhere, skipping run")
		return nil
	}
	defer func() {
		if err := c.kvc.ReleaseLock(context.Background(), lockName); err != nil {
			c.logger.Warnf("GeoJSON lock release failed: %v", err)
		}
	}()

	lastID := loadLastProcessedID(c.statePath())

	w, err := newWriter(c.cfg.OutputDir, c.cfg.MaxFileBytes, c.now)
	if err != nil {
		return err
	}

	exported := 0
	for {
		events, err := c.store.EventsAfter(ctx, lastID, queryBatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			break
		}

		var features []feature
		for _, ev := range events {
			if f, ok := featureFromEvent(ev); ok {
				features = append(features, f)
			}
		}
		if len(features) > 0 {
			if err := w.writeFeatures(features); err != nil {
				return err
			}
			exported += len(features)
		}

		lastID = events[len(events)-1].ID
		if err := saveLastProcessedID(c.statePath(), lastID); err != nil {
			c.logger.Warnf("GeoJSON state save failed: %v", err)
		}
	}

	if err := w.finalize(); err != nil {
		return err
	}
	if exported > 0 {
		c.logger.Infof("exported %d GeoJSON features up to event %d", exported, lastID)
	}
	return nil
}

func (c *Controller) statePath() string {
	return filepath.Join(c.cfg.OutputDir, "state.json")
}
