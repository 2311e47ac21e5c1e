package kv

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	c, err := New(ctx, mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPositionRoundTrip(t *testing.T) {
	c, mr := newMini(t)
	ctx := context.Background()

	got, err := c.GetPosition(ctx, "D")
	if err != nil || got != nil {
		t.Fatalf("GetPosition on empty store = (%v, %v), want (nil, nil)", got, err)
	}

	pos := DevicePosition{Lat: 48.1, Lon: 11.6, LastWeatherUpdate: "2023-11-14 22:13:20"}
	if err := c.SetPosition(ctx, "D", pos); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}

	got, err = c.GetPosition(ctx, "D")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got == nil || got.Lat != pos.Lat || got.Lon != pos.Lon || got.LastWeatherUpdate != pos.LastWeatherUpdate {
		t.Errorf("GetPosition = %+v, want %+v", got, pos)
	}

	if ttl := mr.TTL("device_pos:D"); ttl != PositionTTL {
		t.Errorf("position TTL = %v, want %v", ttl, PositionTTL)
	}
}

func TestBatchBase(t *testing.T) {
	c, mr := newMini(t)
	ctx := context.Background()

	if _, ok, err := c.GetBatchBase(ctx, "D"); err != nil || ok {
		t.Fatalf("GetBatchBase on empty store ok=%v err=%v, want absent", ok, err)
	}

	if err := c.SetBatchBase(ctx, "D", 1700000000); err != nil {
		t.Fatalf("SetBatchBase: %v", err)
	}
	base, ok, err := c.GetBatchBase(ctx, "D")
	if err != nil || !ok || base != 1700000000 {
		t.Fatalf("GetBatchBase = (%d, %v, %v), want (1700000000, true, nil)", base, ok, err)
	}
	if ttl := mr.TTL("batch_base:D"); ttl != BatchBaseTTL {
		t.Errorf("batch base TTL = %v, want %v", ttl, BatchBaseTTL)
	}

	if err := c.ClearBatchBase(ctx, "D"); err != nil {
		t.Fatalf("ClearBatchBase: %v", err)
	}
	if _, ok, _ := c.GetBatchBase(ctx, "D"); ok {
		t.Error("batch base survived ClearBatchBase")
	}
}

func TestQuota(t *testing.T) {
	c, mr := newMini(t)
	ctx := context.Background()

	used, err := c.QuotaUsed(ctx, "2023-11-14")
	if err != nil || used != 0 {
		t.Fatalf("QuotaUsed fresh = (%d, %v), want (0, nil)", used, err)
	}

	for i := 0; i < 3; i++ {
		if err := c.IncrQuota(ctx, "2023-11-14"); err != nil {
			t.Fatalf("IncrQuota: %v", err)
		}
	}
	used, _ = c.QuotaUsed(ctx, "2023-11-14")
	if used != 3 {
		t.Errorf("QuotaUsed = %d, want 3", used)
	}
	if ttl := mr.TTL("weather_quota:2023-11-14"); ttl != QuotaTTL {
		t.Errorf("quota TTL = %v, want %v", ttl, QuotaTTL)
	}
}

func TestMetricsRingCapped(t *testing.T) {
	c, _ := newMini(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := c.PushMetric(ctx, "processing", map[string]int{"count": i}, 5); err != nil {
			t.Fatalf("PushMetric: %v", err)
		}
	}

	entries, err := c.RecentMetrics(ctx, "processing", 100)
	if err != nil {
		t.Fatalf("RecentMetrics: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("ring length = %d, want 5 (capped)", len(entries))
	}
	if string(entries[0]) != `{"count":9}` {
		t.Errorf("newest entry = %s, want count 9", entries[0])
	}
}

func TestLock(t *testing.T) {
	c, _ := newMini(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "geojson", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first AcquireLock = (%v, %v), want (true, nil)", ok, err)
	}
	ok, _ = c.AcquireLock(ctx, "geojson", time.Minute)
	if ok {
		t.Error("second AcquireLock succeeded while lock held")
	}
	if err := c.ReleaseLock(ctx, "geojson"); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	ok, _ = c.AcquireLock(ctx, "geojson", time.Minute)
	if !ok {
		t.Error("AcquireLock failed after release")
	}
}
