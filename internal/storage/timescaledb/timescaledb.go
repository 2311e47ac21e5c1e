// Package timescaledb is the PostgreSQL/TimescaleDB storage backend, for
// deployments that outgrow the single-file default.
package timescaledb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgtype"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/hoarderd/hoarderd/internal/storage"
)

const trimChunkRows = 1000

type enrichedTelemetry struct {
	ID                       int64        `gorm:"primaryKey;autoIncrement"`
	OriginalIngestID         int64        `gorm:"uniqueIndex;not null"`
	DeviceID                 string       `gorm:"index:idx_enriched_device_event_time,priority:1;not null"`
	EnrichedPayload          pgtype.JSONB `gorm:"type:jsonb;not null"`
	CalculatedEventTimestamp string       `gorm:"index:idx_enriched_device_event_time,priority:2,sort:desc;index:idx_enriched_event_time,sort:desc;not null"`
	RequestSizeBytes         int64        `gorm:"not null;default:0"`
	ProcessedAt              time.Time    `gorm:"autoCreateTime"`
}

func (enrichedTelemetry) TableName() string { return "enriched_telemetry" }

type latestEnrichedState struct {
	DeviceID        string       `gorm:"primaryKey"`
	EnrichedPayload pgtype.JSONB `gorm:"type:jsonb;not null"`
	LastUpdatedTS   string       `gorm:"column:last_updated_ts;not null"`
}

func (latestEnrichedState) TableName() string { return "latest_enriched_state" }

type Store struct {
	db *gorm.DB
}

// Open connects and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to timescaledb: %w", err)
	}
	if err := db.AutoMigrate(&enrichedTelemetry{}, &latestEnrichedState{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

func jsonbFrom(m map[string]any) (pgtype.JSONB, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return pgtype.JSONB{}, err
	}
	var j pgtype.JSONB
	if err := j.Set(raw); err != nil {
		return pgtype.JSONB{}, err
	}
	return j, nil
}

func mapFrom(j pgtype.JSONB) (map[string]any, error) {
	var m map[string]any
	if j.Status != pgtype.Present {
		return nil, nil
	}
	if err := json.Unmarshal(j.Bytes, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) SaveBatch(ctx context.Context, records []storage.SaveRecord) error {
	if len(records) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			historical, err := jsonbFrom(rec.Historical)
			if err != nil {
				return fmt.Errorf("encoding historical payload: %w", err)
			}
			freshness, err := jsonbFrom(rec.Freshness)
			if err != nil {
				return fmt.Errorf("encoding freshness payload: %w", err)
			}

			event := enrichedTelemetry{
				OriginalIngestID:         rec.IngestID,
				DeviceID:                 rec.DeviceID,
				EnrichedPayload:          historical,
				CalculatedEventTimestamp: rec.EventTS,
				RequestSizeBytes:         rec.RequestSizeBytes,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "original_ingest_id"}},
				DoNothing: true,
			}).Create(&event).Error; err != nil {
				return fmt.Errorf("inserting event %d: %w", rec.IngestID, err)
			}

			latest := latestEnrichedState{
				DeviceID:        rec.DeviceID,
				EnrichedPayload: freshness,
				LastUpdatedTS:   rec.EventTS,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "device_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"enriched_payload", "last_updated_ts"}),
				Where: clause.Where{Exprs: []clause.Expression{
					clause.Expr{SQL: "excluded.last_updated_ts > latest_enriched_state.last_updated_ts"},
				}},
			}).Create(&latest).Error; err != nil {
				return fmt.Errorf("upserting latest state for %s: %w", rec.DeviceID, err)
			}
		}
		return nil
	})
}

func (s *Store) Latest(ctx context.Context, deviceID string) (*storage.Latest, error) {
	var row latestEnrichedState
	err := s.db.WithContext(ctx).First(&row, "device_id = ?", deviceID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest state: %w", err)
	}

	freshness, err := mapFrom(row.EnrichedPayload)
	if err != nil {
		return nil, fmt.Errorf("decoding latest state for %s: %w", deviceID, err)
	}
	return &storage.Latest{DeviceID: deviceID, Freshness: freshness, LastUpdatedTS: row.LastUpdatedTS}, nil
}

func (s *Store) History(ctx context.Context, deviceID string, limit int, cursor *storage.Cursor) ([]storage.Event, error) {
	q := s.db.WithContext(ctx).Model(&enrichedTelemetry{})
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}
	if cursor != nil {
		q = q.Where("(calculated_event_timestamp, id) < (?, ?)", cursor.TS, cursor.ID)
	}

	var rows []enrichedTelemetry
	if err := q.Order("calculated_event_timestamp DESC, id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	return toEvents(rows)
}

func (s *Store) EventsAfter(ctx context.Context, afterID int64, limit int) ([]storage.Event, error) {
	var rows []enrichedTelemetry
	if err := s.db.WithContext(ctx).
		Where("id > ?", afterID).Order("id ASC").Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying events after %d: %w", afterID, err)
	}
	return toEvents(rows)
}

func toEvents(rows []enrichedTelemetry) ([]storage.Event, error) {
	events := make([]storage.Event, 0, len(rows))
	for _, row := range rows {
		payload, err := mapFrom(row.EnrichedPayload)
		if err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", row.ID, err)
		}
		events = append(events, storage.Event{
			ID:               row.ID,
			OriginalIngestID: row.OriginalIngestID,
			DeviceID:         row.DeviceID,
			Payload:          payload,
			EventTS:          row.CalculatedEventTimestamp,
			RequestSizeBytes: row.RequestSizeBytes,
			ProcessedAt:      row.ProcessedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return events, nil
}

func (s *Store) RecentDevices(ctx context.Context, limit int) ([]storage.DeviceSummary, error) {
	var devices []storage.DeviceSummary
	err := s.db.WithContext(ctx).Raw(`
		SELECT l.device_id, l.last_updated_ts,
			COUNT(t.id) AS total_records,
			COALESCE(SUM(t.request_size_bytes), 0) AS total_bytes,
			COALESCE(MIN(t.calculated_event_timestamp), l.last_updated_ts) AS first_seen_ts
		FROM latest_enriched_state l
		LEFT JOIN enriched_telemetry t ON t.device_id = l.device_id
		GROUP BY l.device_id, l.last_updated_ts
		ORDER BY l.last_updated_ts DESC
		LIMIT ?`, limit).Scan(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("querying recent devices: %w", err)
	}
	return devices, nil
}

func (s *Store) TrimEvents(ctx context.Context, highWater, lowWater int64) (int64, error) {
	size, err := s.SizeBytes(ctx)
	if err != nil {
		return 0, err
	}
	if size <= highWater {
		return 0, nil
	}

	// Relation size only shrinks after a vacuum, so the target is computed
	// up front from the average row footprint.
	var total int64
	if err := s.db.WithContext(ctx).Model(&enrichedTelemetry{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	toDelete := (size - lowWater) * total / size

	var deleted int64
	for deleted < toDelete {
		res := s.db.WithContext(ctx).Exec(`
			DELETE FROM enriched_telemetry WHERE id IN (
				SELECT id FROM enriched_telemetry
				ORDER BY calculated_event_timestamp ASC, id ASC
				LIMIT ?)`, trimChunkRows)
		if res.Error != nil {
			return deleted, fmt.Errorf("trimming events: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			break
		}
		deleted += res.RowsAffected
	}

	if deleted > 0 {
		if err := s.db.WithContext(ctx).Exec("VACUUM enriched_telemetry").Error; err != nil {
			return deleted, fmt.Errorf("compacting after trim: %w", err)
		}
	}
	return deleted, nil
}

func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	var size int64
	if err := s.db.WithContext(ctx).
		Raw("SELECT pg_total_relation_size('enriched_telemetry')").Scan(&size).Error; err != nil {
		return 0, fmt.Errorf("reading relation size: %w", err)
	}
	return size, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
