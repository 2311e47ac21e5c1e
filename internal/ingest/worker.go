// Package ingest implements the stateful batch worker: timestamp
// reconstruction, per-device ordering, enrichment, freshness merging, and the
// single persistence call per batch.
package ingest

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hoarderd/hoarderd/internal/freshness"
	"github.com/hoarderd/hoarderd/internal/ipintel"
	"github.com/hoarderd/hoarderd/internal/kv"
	"github.com/hoarderd/hoarderd/internal/metrics"
	"github.com/hoarderd/hoarderd/internal/storage"
	"github.com/hoarderd/hoarderd/internal/timefmt"
	"github.com/hoarderd/hoarderd/internal/transform"
	"github.com/hoarderd/hoarderd/internal/weather"
)

// processingRing is the capped metrics ring for per-batch timings.
const (
	processingRing    = "processing"
	processingRingLen = 2000
)

// Record is one intake record as posted by the upstream ingest service.
type Record struct {
	ID             int64          `json:"id"`
	DeviceID       string         `json:"device_id"`
	Payload        map[string]any `json:"payload"`
	ReceivedAt     any            `json:"received_at,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	RequestHeaders map[string]any `json:"request_headers,omitempty"`
	Warnings       any            `json:"warnings,omitempty"`
}

func (r Record) clientIP() string {
	ip, _ := r.RequestHeaders["client_ip"].(string)
	return ip
}

// Worker processes batches end to end. Persistence faults abort the batch so
// the queue retries it; everything else degrades per record.
type Worker struct {
	store       storage.Store
	kvc         *kv.Client
	transformer *transform.Transformer
	weather     *weather.Coordinator
	intel       *ipintel.Client
	logger      *zap.SugaredLogger
	now         func() time.Time
}

func NewWorker(store storage.Store, kvc *kv.Client, transformer *transform.Transformer,
	coord *weather.Coordinator, intel *ipintel.Client, logger *zap.SugaredLogger) *Worker {
	return &Worker{
		store:       store,
		kvc:         kvc,
		transformer: transformer,
		weather:     coord,
		intel:       intel,
		logger:      logger,
		now:         time.Now,
	}
}

type resolvedRecord struct {
	rec     Record
	eventTS time.Time
}

// Process runs one batch: group by device, order by reconstructed event time,
// enrich and transform each record against the evolving in-memory state, and
// persist everything in one call.
func (w *Worker) Process(ctx context.Context, records []Record) error {
	started := w.now()

	byDevice := make(map[string][]resolvedRecord)
	for _, rec := range records {
		if rec.DeviceID == "" {
			metrics.RecordsSkipped.WithLabelValues("no_device").Inc()
			continue
		}
		eventTS, ok := w.resolveEventTime(ctx, rec.DeviceID, rec)
		if !ok {
			metrics.RecordsSkipped.WithLabelValues("no_timestamp").Inc()
			w.logger.Debugf("record %d for %s has no placeable timestamp, skipping", rec.ID, rec.DeviceID)
			continue
		}
		byDevice[rec.DeviceID] = append(byDevice[rec.DeviceID], resolvedRecord{rec: rec, eventTS: eventTS})
	}

	var toSave []storage.SaveRecord
	for deviceID, group := range byDevice {
		sort.SliceStable(group, func(i, j int) bool { return group[i].eventTS.Before(group[j].eventTS) })

		saved, err := w.processDevice(ctx, deviceID, group)
		if err != nil {
			return err
		}
		toSave = append(toSave, saved...)
	}

	if len(toSave) > 0 {
		if err := w.store.SaveBatch(ctx, toSave); err != nil {
			return err
		}
	}

	metrics.BatchesProcessed.Inc()
	metrics.RecordsProcessed.Add(float64(len(toSave)))
	w.pushProcessingMetric(ctx, started, len(toSave))
	return nil
}

func (w *Worker) processDevice(ctx context.Context, deviceID string, group []resolvedRecord) ([]storage.SaveRecord, error) {
	latest, err := w.store.Latest(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	var priorFreshness freshness.Tree
	var lastKnown time.Time
	if latest != nil {
		priorFreshness = latest.Freshness
		if ts, err := timefmt.Parse(latest.LastUpdatedTS); err == nil {
			lastKnown = ts
		}
	}

	var out []storage.SaveRecord
	for _, rr := range group {
		raw, err := json.Marshal(rr.rec)
		if err != nil {
			return nil, err
		}

		priorPlain := freshness.Reconstruct(priorFreshness)
		w.carryForward(rr.rec.Payload, priorPlain)

		intel := w.intel.Lookup(ctx, rr.rec.clientIP())
		w.weather.Enrich(ctx, deviceID, rr.rec.Payload)

		newPlain := w.transformer.Apply(transform.Record{
			DeviceID:   deviceID,
			ClientIP:   rr.rec.clientIP(),
			RequestID:  rr.rec.RequestID,
			EventTS:    rr.eventTS,
			ReceivedAt: receivedAtTime(rr.rec.ReceivedAt),
			Headers:    rr.rec.RequestHeaders,
			Warnings:   rr.rec.Warnings,
			Payload:    rr.rec.Payload,
		}, priorPlain, intel)

		// The transformed plain is the full merged state, so keys the
		// transform deleted outright (a contradicted access point) are exactly
		// the ones missing from it. Prune mirrors those deletions onto the
		// tree before the merge.
		eventTS := timefmt.Format(rr.eventTS)
		nextFreshness := freshness.Update(freshness.Prune(priorFreshness, newPlain), newPlain, eventTS)

		out = append(out, storage.SaveRecord{
			IngestID:         rr.rec.ID,
			DeviceID:         deviceID,
			Historical:       newPlain,
			Freshness:        nextFreshness,
			EventTS:          eventTS,
			RequestSizeBytes: int64(len(raw)),
		})

		// An out-of-order record is logged historically, but only newer
		// events advance the in-memory state; the timestamp-guarded upsert
		// keeps the stored projection on the same rule.
		if rr.eventTS.After(lastKnown) {
			priorFreshness = nextFreshness
			lastKnown = rr.eventTS
		} else {
			metrics.RecordsSkipped.WithLabelValues("stale_for_projection").Inc()
		}
	}
	return out, nil
}

// carryForward patches the raw payload with prior values the downstream
// enrichment steps need to see before the transform merge runs.
func (w *Worker) carryForward(payload, priorPlain map[string]any) {
	if _, ok := payload["weather_fetch_ts"]; ok {
		return
	}
	diag, _ := priorPlain["diagnostics"].(map[string]any)
	priorWeather, _ := diag["weather"].(map[string]any)
	if ts, ok := priorWeather["fetch_ts"].(string); ok && ts != "" {
		payload["weather_fetch_ts"] = ts
		if lat, ok := priorWeather["fetch_lat"]; ok {
			payload["weather_fetch_lat"] = lat
		}
		if lon, ok := priorWeather["fetch_lon"]; ok {
			payload["weather_fetch_lon"] = lon
		}
	}
}

func receivedAtTime(v any) *time.Time {
	if t, ok := parseReceivedAt(v); ok {
		return &t
	}
	return nil
}

// pushProcessingMetric records one batch timing on the capped ring. Ring
// faults never fail the batch.
func (w *Worker) pushProcessingMetric(ctx context.Context, started time.Time, count int) {
	entry := map[string]any{
		"wall_ts":          timefmt.Format(started),
		"duration_seconds": w.now().Sub(started).Seconds(),
		"count":            count,
	}
	if err := w.kvc.PushMetric(ctx, processingRing, entry, processingRingLen); err != nil {
		w.logger.Debugf("processing metric push failed: %v", err)
	}
}
