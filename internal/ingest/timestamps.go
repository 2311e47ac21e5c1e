package ingest

import (
	"context"
	"strconv"
	"time"

	"github.com/hoarderd/hoarderd/internal/timefmt"
)

// resolveEventTime reconstructs the absolute event time of one record.
// An absolute `ts` is used directly and becomes the device's batch base for
// subsequent relative offsets. A `to` offset needs a cached base. The ingest
// receive time is the last resort and invalidates the base, since offsets
// after a gap would be anchored wrong. Records with none of these are
// unplaceable in time and get skipped.
func (w *Worker) resolveEventTime(ctx context.Context, deviceID string, rec Record) (time.Time, bool) {
	if abs, ok := numField(rec.Payload, "ts"); ok {
		ts := time.Unix(int64(abs), 0).UTC()
		if err := w.kvc.SetBatchBase(ctx, deviceID, int64(abs)); err != nil {
			w.logger.Warnf("batch base update failed for %s: %v", deviceID, err)
		}
		return ts, true
	}

	if offset, ok := numField(rec.Payload, "to"); ok {
		base, found, err := w.kvc.GetBatchBase(ctx, deviceID)
		if err != nil {
			w.logger.Warnf("batch base read failed for %s: %v", deviceID, err)
		} else if found {
			return time.Unix(base+int64(offset), 0).UTC(), true
		}
	}

	if received, ok := parseReceivedAt(rec.ReceivedAt); ok {
		if err := w.kvc.ClearBatchBase(ctx, deviceID); err != nil {
			w.logger.Warnf("batch base clear failed for %s: %v", deviceID, err)
		}
		return received, true
	}

	return time.Time{}, false
}

// parseReceivedAt accepts the upstream service's receive timestamp in epoch
// seconds, the stored layout, or RFC 3339.
func parseReceivedAt(v any) (time.Time, bool) {
	switch s := v.(type) {
	case float64:
		if s <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(s), 0).UTC(), true
	case string:
		if s == "" {
			return time.Time{}, false
		}
		if t, err := timefmt.Parse(s); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		if epoch, err := strconv.ParseFloat(s, 64); err == nil && epoch > 0 {
			return time.Unix(int64(epoch), 0).UTC(), true
		}
	}
	return time.Time{}, false
}

func numField(payload map[string]any, key string) (float64, bool) {
	switch n := payload[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
