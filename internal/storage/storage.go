// Package storage defines the persistence contract for the event log and the
// per-device latest projection, with SQLite and TimescaleDB backends under
// sqlite/ and timescaledb/.
package storage

import "context"

// SaveRecord is one processed event handed to the store: the full plain state
// for the historical log and the freshness tree for the latest projection.
type SaveRecord struct {
	IngestID         int64
	DeviceID         string
	Historical       map[string]any
	Freshness        map[string]any
	EventTS          string
	RequestSizeBytes int64
}

// Event is one row of the historical log.
type Event struct {
	ID               int64
	OriginalIngestID int64
	DeviceID         string
	Payload          map[string]any
	EventTS          string
	RequestSizeBytes int64
	ProcessedAt      string
}

// Latest is a device's stored projection.
type Latest struct {
	DeviceID      string
	Freshness     map[string]any
	LastUpdatedTS string
}

// DeviceSummary aggregates a device's footprint for the devices listing.
type DeviceSummary struct {
	DeviceID      string
	LastUpdatedTS string
	TotalRecords  int64
	TotalBytes    int64
	FirstSeenTS   string
}

// Cursor addresses a position in the (event_ts desc, id desc) ordering.
type Cursor struct {
	TS string
	ID int64
}

// Store is implemented by each database backend. SaveBatch runs as a single
// transaction: events are inserted with insert-or-ignore on the ingest id,
// and each latest projection is replaced only when the event timestamp
// strictly exceeds the stored one.
type Store interface {
	SaveBatch(ctx context.Context, records []SaveRecord) error

	// Latest returns nil when the device has no projection.
	Latest(ctx context.Context, deviceID string) (*Latest, error)

	// History returns up to limit+1 events strictly older than the cursor
	// (all events when the cursor is nil), newest first. The extra row lets
	// callers detect a next page.
	History(ctx context.Context, deviceID string, limit int, cursor *Cursor) ([]Event, error)

	// EventsAfter returns up to limit events with id greater than afterID in
	// ascending id order, for incremental consumers.
	EventsAfter(ctx context.Context, afterID int64, limit int) ([]Event, error)

	RecentDevices(ctx context.Context, limit int) ([]DeviceSummary, error)

	// TrimEvents deletes oldest events in chunks until the store fits
	// lowWater bytes, returning the number of deleted rows. A store below
	// highWater is left untouched.
	TrimEvents(ctx context.Context, highWater, lowWater int64) (int64, error)

	SizeBytes(ctx context.Context) (int64, error)
	Close() error
}
