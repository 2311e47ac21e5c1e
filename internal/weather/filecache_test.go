package weather

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileCacheRoundTrip(t *testing.T) {
	cache, err := NewFileCache(t.TempDir(), 100, 1024*1024)
	if err != nil {
		t.Fatal(err)
	}

	fields := map[string]any{"temperature": 4.2, "humidity": nil}
	if err := cache.Save(48.10, 11.60, fields, "2023-11-14 22:13:20"); err != nil {
		t.Fatal(err)
	}

	got, cachedAt, ok := cache.Find(48.105, 11.605)
	if !ok {
		t.Fatal("no match for point within a kilometer")
	}
	if cachedAt != "2023-11-14 22:13:20" {
		t.Errorf("cached_at = %q", cachedAt)
	}
	if got["temperature"] != 4.2 {
		t.Errorf("temperature = %v", got["temperature"])
	}
	if _, present := got["humidity"]; present {
		t.Error("nil field survived the save")
	}
}

func TestFileCacheNoMatchBeyondKilometer(t *testing.T) {
	cache, err := NewFileCache(t.TempDir(), 100, 1024*1024)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(48.10, 11.60, map[string]any{"temperature": 4.2}, "2023-11-14 22:00:00"); err != nil {
		t.Fatal(err)
	}

	// Roughly 11 km north.
	if _, _, ok := cache.Find(48.20, 11.60); ok {
		t.Error("matched a point more than a kilometer away")
	}
}

func TestFileCacheIgnoresExpiredEntries(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir, 100, 1024*1024)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(48.10, 11.60, map[string]any{"temperature": 4.2}, "2023-11-14 20:00:00"); err != nil {
		t.Fatal(err)
	}

	old := time.Now().Add(-2 * time.Hour)
	path := filepath.Join(dir, "48.10_11.60.mpk")
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := cache.Find(48.10, 11.60); ok {
		t.Error("expired entry served")
	}
}

func TestFileCacheEvictsOldestOverFileLimit(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir, 3, 1024*1024)
	if err != nil {
		t.Fatal(err)
	}

	coords := []struct{ lat, lon float64 }{
		{10.00, 10.00}, {20.00, 20.00}, {30.00, 30.00}, {40.00, 40.00},
	}
	for i, c := range coords {
		if err := cache.Save(c.lat, c.lon, map[string]any{"temperature": 1.0}, "2023-11-14 22:00:00"); err != nil {
			t.Fatal(err)
		}
		// Spread mtimes so eviction order is deterministic.
		ts := time.Now().Add(time.Duration(i-10) * time.Minute)
		name := filepath.Join(dir, entryName(c.lat, c.lon))
		if err := os.Chtimes(name, ts, ts); err != nil {
			t.Fatal(err)
		}
	}
	cache.enforceLimits()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("cache holds %d files, want 3", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, entryName(10.00, 10.00))); !os.IsNotExist(err) {
		t.Error("oldest entry survived eviction")
	}
}

func TestFileCacheEvictsOverByteLimit(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Save(10.00, 10.00, map[string]any{"temperature": 1.0}, "2023-11-14 22:00:00"); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("cache holds %d files over the byte limit, want 0", len(entries))
	}
}
