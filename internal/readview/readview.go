// Package readview renders stored state for the read endpoints: the latest
// projection with per-field age annotations, and history pages where each
// event carries only its delta against the next-older event.
package readview

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hoarderd/hoarderd/internal/freshness"
	"github.com/hoarderd/hoarderd/internal/storage"
	"github.com/hoarderd/hoarderd/internal/timefmt"
	"github.com/hoarderd/hoarderd/internal/transform"
)

const ageSuffix = "_age_in_seconds"

// Latest renders a stored freshness tree: reconstruct the plain state, attach
// the ages tree under diagnostics.data_freshness, group app settings into
// their human form, collapse the weather ages to one actual-age field, and
// round coordinates to the decimals the recorded precision supports.
func Latest(tree freshness.Tree, now time.Time) *Document {
	plain, ages := freshness.ParseWithAges(tree, now)

	renameAppSettingAges(ages)
	if stored, ok := plain["app_settings"].(map[string]any); ok {
		if rendered := transform.RenderAppSettings(stored); rendered != nil {
			plain["app_settings"] = rendered
		}
	}

	collapseWeatherAges(plain, ages, now)
	roundCoordinates(plain)

	diag, ok := plain["diagnostics"].(map[string]any)
	if !ok {
		diag = make(map[string]any)
		plain["diagnostics"] = diag
	}
	diag["data_freshness"] = ages

	return &Document{Fields: plain}
}

// renameAppSettingAges rewrites the short-code age keys to their long display
// names so the ages tree matches the grouped rendering.
func renameAppSettingAges(ages map[string]any) {
	stored, ok := ages["app_settings"].(map[string]any)
	if !ok {
		return
	}
	renamed := make(map[string]any, len(stored))
	for k, v := range stored {
		short := strings.TrimSuffix(k, ageSuffix)
		renamed[transform.AppSettingLongName(short)+ageSuffix] = v
	}
	ages["app_settings"] = renamed
}

// collapseWeatherAges replaces the per-leaf weather ages with one field
// computed from the recorded fetch time. The per-leaf ages only say when a
// value last changed, which understates how current the weather block is.
func collapseWeatherAges(plain, ages map[string]any, now time.Time) {
	env, _ := plain["environment"].(map[string]any)
	wx, _ := env["weather"].(map[string]any)
	fetched, _ := wx["weather_request_timestamp_utc"].(string)
	if fetched == "" {
		return
	}
	ts, err := timefmt.Parse(fetched)
	if err != nil {
		return
	}
	agesEnv, ok := ages["environment"].(map[string]any)
	if !ok {
		return
	}
	agesEnv["weather"] = map[string]any{
		"weather_data_actual_age_in_seconds": int64(math.Round(now.Sub(ts).Seconds())),
	}
}

func roundCoordinates(plain map[string]any) {
	loc, ok := plain["location"].(map[string]any)
	if !ok {
		return
	}
	precision, ok := toFloat(loc["geohash_precision_in_meters"])
	if !ok {
		return
	}
	decimals := transform.CoordinateDecimals(precision)
	for _, key := range []string{"latitude", "longitude"} {
		if v, ok := toFloat(loc[key]); ok {
			loc[key] = roundTo(v, decimals)
		}
	}
}

// HistoryEntry is one event of a history page. Changes holds the delta
// against the next-older event in the page; the oldest entry carries the full
// state. The diagnostics subtree is lifted out of the delta and surfaced
// whole.
type HistoryEntry struct {
	ID               int64          `json:"id"`
	OriginalIngestID int64          `json:"original_ingest_id"`
	EventTimestamp   string         `json:"event_timestamp"`
	Changes          map[string]any `json:"changes"`
	EventDiagnostics map[string]any `json:"event_diagnostics,omitempty"`
}

// NextCursor addresses the next history page.
type NextCursor struct {
	TS  string `json:"ts"`
	ID  int64  `json:"id"`
	Raw string `json:"raw"`
}

type TimeRange struct {
	Newest string `json:"newest"`
	Oldest string `json:"oldest"`
}

type Pagination struct {
	Limit           int         `json:"limit"`
	RecordsReturned int         `json:"records_returned"`
	NextCursor      *NextCursor `json:"next_cursor"`
	TimeRange       *TimeRange  `json:"time_range,omitempty"`
}

type HistoryPage struct {
	Entries    []HistoryEntry `json:"data"`
	Pagination Pagination     `json:"pagination"`
}

// History renders a page from up to limit+1 stored events (newest first, as
// the store returns them). The extra row beyond limit only signals that a
// next page exists.
func History(rows []storage.Event, limit int) HistoryPage {
	page := rows
	hasMore := false
	if len(rows) > limit {
		page = rows[:limit]
		hasMore = true
	}

	entries := make([]HistoryEntry, 0, len(page))
	for i, ev := range page {
		var changes map[string]any
		if i+1 < len(page) {
			changes = freshness.Diff(ev.Payload, page[i+1].Payload)
		} else {
			changes = make(map[string]any, len(ev.Payload))
			for k, v := range ev.Payload {
				changes[k] = v
			}
		}

		diag, _ := ev.Payload["diagnostics"].(map[string]any)
		delete(changes, "diagnostics")

		entries = append(entries, HistoryEntry{
			ID:               ev.ID,
			OriginalIngestID: ev.OriginalIngestID,
			EventTimestamp:   ev.EventTS,
			Changes:          changes,
			EventDiagnostics: diag,
		})
	}

	p := Pagination{Limit: limit, RecordsReturned: len(page)}
	if hasMore {
		last := page[len(page)-1]
		p.NextCursor = &NextCursor{
			TS:  last.EventTS,
			ID:  last.ID,
			Raw: fmt.Sprintf("%s,%d", last.EventTS, last.ID),
		}
	}
	if len(page) > 0 {
		p.TimeRange = &TimeRange{
			Newest: page[0].EventTS,
			Oldest: page[len(page)-1].EventTS,
		}
	}
	return HistoryPage{Entries: entries, Pagination: p}
}

// ParseCursor parses the raw "ts,id" cursor form used on the wire.
func ParseCursor(raw string) (*storage.Cursor, error) {
	if raw == "" {
		return nil, nil
	}
	idx := strings.LastIndex(raw, ",")
	if idx <= 0 || idx == len(raw)-1 {
		return nil, fmt.Errorf("malformed cursor %q", raw)
	}
	ts := raw[:idx]
	if _, err := timefmt.Parse(ts); err != nil {
		return nil, fmt.Errorf("malformed cursor timestamp %q", ts)
	}
	var id int64
	if _, err := fmt.Sscanf(raw[idx+1:], "%d", &id); err != nil {
		return nil, fmt.Errorf("malformed cursor id %q", raw[idx+1:])
	}
	return &storage.Cursor{TS: ts, ID: id}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
