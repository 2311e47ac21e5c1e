// Package sqlite is the default storage backend, a single-file database
// accessed through the pure-Go driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/hoarderd/hoarderd/internal/storage"
)

const trimChunkRows = 1000

const schema = `
CREATE TABLE IF NOT EXISTS enriched_telemetry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	original_ingest_id INTEGER NOT NULL,
	device_id TEXT NOT NULL,
	enriched_payload TEXT NOT NULL,
	calculated_event_timestamp TEXT NOT NULL,
	request_size_bytes INTEGER NOT NULL DEFAULT 0,
	processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(original_ingest_id)
);
CREATE TABLE IF NOT EXISTS latest_enriched_state (
	device_id TEXT PRIMARY KEY,
	enriched_payload TEXT NOT NULL,
	last_updated_ts TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_enriched_device_event_time
	ON enriched_telemetry (device_id, calculated_event_timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_enriched_event_time
	ON enriched_telemetry (calculated_event_timestamp DESC);
`

type Store struct {
	db *sql.DB
}

// Open opens or creates the database and applies the idempotent schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// The driver serializes access per connection; a single connection also
	// keeps the WAL writer unique within this process.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveBatch(ctx context.Context, records []storage.SaveRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	insertEvent, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO enriched_telemetry
			(original_ingest_id, device_id, enriched_payload, calculated_event_timestamp, request_size_bytes)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertEvent.Close()

	upsertLatest, err := tx.PrepareContext(ctx, `
		INSERT INTO latest_enriched_state (device_id, enriched_payload, last_updated_ts)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			enriched_payload = excluded.enriched_payload,
			last_updated_ts = excluded.last_updated_ts
		WHERE excluded.last_updated_ts > latest_enriched_state.last_updated_ts`)
	if err != nil {
		return err
	}
	defer upsertLatest.Close()

	for _, rec := range records {
		historical, err := json.Marshal(rec.Historical)
		if err != nil {
			return fmt.Errorf("encoding historical payload: %w", err)
		}
		freshness, err := json.Marshal(rec.Freshness)
		if err != nil {
			return fmt.Errorf("encoding freshness payload: %w", err)
		}

		if _, err := insertEvent.ExecContext(ctx,
			rec.IngestID, rec.DeviceID, string(historical), rec.EventTS, rec.RequestSizeBytes); err != nil {
			return fmt.Errorf("inserting event %d: %w", rec.IngestID, err)
		}
		if _, err := upsertLatest.ExecContext(ctx,
			rec.DeviceID, string(freshness), rec.EventTS); err != nil {
			return fmt.Errorf("upserting latest state for %s: %w", rec.DeviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save transaction: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, deviceID string) (*storage.Latest, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT enriched_payload, last_updated_ts FROM latest_enriched_state WHERE device_id = ?", deviceID)

	var payload, ts string
	if err := row.Scan(&payload, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reading latest state: %w", err)
	}

	var freshness map[string]any
	if err := json.Unmarshal([]byte(payload), &freshness); err != nil {
		return nil, fmt.Errorf("decoding latest state for %s: %w", deviceID, err)
	}
	return &storage.Latest{DeviceID: deviceID, Freshness: freshness, LastUpdatedTS: ts}, nil
}

func (s *Store) History(ctx context.Context, deviceID string, limit int, cursor *storage.Cursor) ([]storage.Event, error) {
	query := `SELECT id, original_ingest_id, device_id, enriched_payload,
		calculated_event_timestamp, request_size_bytes, processed_at
		FROM enriched_telemetry WHERE 1=1`
	var args []any
	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}
	if cursor != nil {
		query += " AND (calculated_event_timestamp < ? OR (calculated_event_timestamp = ? AND id < ?))"
		args = append(args, cursor.TS, cursor.TS, cursor.ID)
	}
	query += " ORDER BY calculated_event_timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit+1)

	return s.queryEvents(ctx, query, args...)
}

func (s *Store) EventsAfter(ctx context.Context, afterID int64, limit int) ([]storage.Event, error) {
	return s.queryEvents(ctx, `SELECT id, original_ingest_id, device_id, enriched_payload,
		calculated_event_timestamp, request_size_bytes, processed_at
		FROM enriched_telemetry WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]storage.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []storage.Event
	for rows.Next() {
		var ev storage.Event
		var payload string
		var processedAt sql.NullString
		if err := rows.Scan(&ev.ID, &ev.OriginalIngestID, &ev.DeviceID, &payload,
			&ev.EventTS, &ev.RequestSizeBytes, &processedAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", ev.ID, err)
		}
		ev.ProcessedAt = processedAt.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) RecentDevices(ctx context.Context, limit int) ([]storage.DeviceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.device_id, l.last_updated_ts,
			COUNT(t.id), COALESCE(SUM(t.request_size_bytes), 0),
			COALESCE(MIN(t.calculated_event_timestamp), l.last_updated_ts)
		FROM latest_enriched_state l
		LEFT JOIN enriched_telemetry t ON t.device_id = l.device_id
		GROUP BY l.device_id
		ORDER BY l.last_updated_ts DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent devices: %w", err)
	}
	defer rows.Close()

	var devices []storage.DeviceSummary
	for rows.Next() {
		var d storage.DeviceSummary
		if err := rows.Scan(&d.DeviceID, &d.LastUpdatedTS, &d.TotalRecords, &d.TotalBytes, &d.FirstSeenTS); err != nil {
			return nil, fmt.Errorf("scanning device summary: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// TrimEvents deletes oldest events in chunks until the live data fits
// lowWater, then compacts the file. Free pages count as reclaimed space while
// trimming, so deletion progress is observable before the vacuum.
func (s *Store) TrimEvents(ctx context.Context, highWater, lowWater int64) (int64, error) {
	used, err := s.usedBytes(ctx)
	if err != nil {
		return 0, err
	}
	if used <= highWater {
		return 0, nil
	}

	var deleted int64
	for used > lowWater {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM enriched_telemetry WHERE id IN (
				SELECT id FROM enriched_telemetry
				ORDER BY calculated_event_timestamp ASC, id ASC
				LIMIT ?)`, trimChunkRows)
		if err != nil {
			return deleted, fmt.Errorf("trimming events: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			break
		}
		deleted += n

		if used, err = s.usedBytes(ctx); err != nil {
			return deleted, err
		}
	}

	if deleted > 0 {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			return deleted, fmt.Errorf("compacting after trim: %w", err)
		}
	}
	return deleted, nil
}

func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("reading page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("reading page size: %w", err)
	}
	return pageCount * pageSize, nil
}

// usedBytes excludes freelist pages so trim progress shows up immediately.
func (s *Store) usedBytes(ctx context.Context) (int64, error) {
	size, err := s.SizeBytes(ctx)
	if err != nil {
		return 0, err
	}
	var freePages, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA freelist_count").Scan(&freePages); err != nil {
		return 0, fmt.Errorf("reading freelist count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return size - freePages*pageSize, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
