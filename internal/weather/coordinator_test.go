package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/hoarderd/hoarderd/internal/kv"
	"github.com/hoarderd/hoarderd/internal/timefmt"
)

const openMeteoBody = `{"current":{"temperature_2m":4.2,"relative_humidity_2m":81,
"apparent_temperature":1.0,"precipitation":0.3,"weather_code":61,
"wind_speed_10m":3.4,"wind_direction_10m":200,"wind_gusts_10m":7.1,
"pressure_msl":1013.2,"cloud_cover":90}}`

type fixture struct {
	coord   *Coordinator
	kvc     *kv.Client
	primary *httptest.Server
	calls   *atomic.Int64
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	kvc, err := kv.New(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("kv.New: %v", err)
	}
	t.Cleanup(func() { _ = kvc.Close() })

	calls := &atomic.Int64{}
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, openMeteoBody)
	}))
	t.Cleanup(primary.Close)

	marine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"current":{"wave_height":0.4,"wave_direction":180,"wave_period":5.0}}`)
	}))
	t.Cleanup(marine.Close)

	cache, err := NewFileCache(t.TempDir(), 100, 50*1024*1024)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	now := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	coord := NewCoordinator(kvc, cache, 9000, zap.NewNop().Sugar())
	coord.openMeteoURL = primary.URL
	coord.marineURL = marine.URL
	coord.wttrURL = "http://127.0.0.1:1" // unused unless primary fails
	coord.now = func() time.Time { return now }

	return &fixture{coord: coord, kvc: kvc, primary: primary, calls: calls, now: now}
}

func TestEnrichFetchesForUnknownDevice(t *testing.T) {
	f := newFixture(t)
	raw := map[string]any{"y": "48.10", "x": "11.60"}

	f.coord.Enrich(context.Background(), "D", raw)

	if raw["temperature"] != 4.2 {
		t.Errorf("temperature = %v, want 4.2", raw["temperature"])
	}
	if raw["marine_wave_height"] != 0.4 {
		t.Errorf("marine_wave_height = %v, want 0.4", raw["marine_wave_height"])
	}
	if raw["weather_fetch_lat"] != 48.10 || raw["weather_fetch_lon"] != 11.60 {
		t.Errorf("fetch coords = (%v, %v)", raw["weather_fetch_lat"], raw["weather_fetch_lon"])
	}
	if raw["weather_fetch_ts"] != timefmt.Format(f.now) {
		t.Errorf("weather_fetch_ts = %v", raw["weather_fetch_ts"])
	}

	pos, err := f.kvc.GetPosition(context.Background(), "D")
	if err != nil || pos == nil {
		t.Fatalf("position not stored: %v %v", pos, err)
	}
	if pos.Lat != 48.10 || pos.Lon != 11.60 {
		t.Errorf("stored position = %+v", pos)
	}

	used, _ := f.kvc.QuotaUsed(context.Background(), "2023-11-14")
	if used != 1 {
		t.Errorf("quota used = %d, want 1", used)
	}
}

func TestEnrichCooldownSuppressesSecondFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := map[string]any{"y": "48.100", "x": "11.600"}
	f.coord.Enrich(ctx, "D", first)
	if f.calls.Load() != 1 {
		t.Fatalf("primary calls after first record = %d, want 1", f.calls.Load())
	}

	// Second record 100 m away inside the cooldown window: no fetch, no fields.
	second := map[string]any{"y": "48.101", "x": "11.601"}
	f.coord.Enrich(ctx, "D", second)
	if f.calls.Load() != 1 {
		t.Errorf("primary calls after second record = %d, want 1 (cooldown)", f.calls.Load())
	}
	if _, ok := second["temperature"]; ok {
		t.Error("second record got weather fields despite cooldown")
	}
}

func TestEnrichSkipsFreshNearbyPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.kvc.SetPosition(ctx, "D", kv.DevicePosition{
		Lat: 48.10, Lon: 11.60,
		LastWeatherUpdate: timefmt.Format(f.now.Add(-10 * time.Minute)),
	}); err != nil {
		t.Fatal(err)
	}

	raw := map[string]any{"y": "48.1005", "x": "11.6005"}
	f.coord.Enrich(ctx, "D", raw)
	if f.calls.Load() != 0 {
		t.Errorf("fetched despite fresh nearby position (%d calls)", f.calls.Load())
	}
}

func TestEnrichRefetchesWhenStaleOrMoved(t *testing.T) {
	tests := []struct {
		name string
		pos  kv.DevicePosition
	}{
		{
			name: "stale",
			pos:  kv.DevicePosition{Lat: 48.10, Lon: 11.60, LastWeatherUpdate: "2023-11-14 20:00:00"},
		},
		{
			name: "moved over a kilometer",
			pos:  kv.DevicePosition{Lat: 48.20, Lon: 11.60, LastWeatherUpdate: "2023-11-14 22:10:00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if err := f.kvc.SetPosition(ctx, "D", tt.pos); err != nil {
				t.Fatal(err)
			}

			raw := map[string]any{"y": "48.10", "x": "11.60"}
			f.coord.Enrich(ctx, "D", raw)
			if f.calls.Load() != 1 {
				t.Errorf("primary calls = %d, want 1", f.calls.Load())
			}
		})
	}
}

func TestEnrichQuotaExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.coord.dailyQuota = 2
	for i := 0; i < 2; i++ {
		if err := f.kvc.IncrQuota(ctx, "2023-11-14"); err != nil {
			t.Fatal(err)
		}
	}

	raw := map[string]any{"y": "48.10", "x": "11.60"}
	f.coord.Enrich(ctx, "D", raw)
	if f.calls.Load() != 0 {
		t.Errorf("fetched despite exhausted quota (%d calls)", f.calls.Load())
	}
	if _, ok := raw["temperature"]; ok {
		t.Error("weather attached despite exhausted quota")
	}
}

func TestEnrichServedFromCacheSkipsQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cachedAt := timefmt.Format(f.now.Add(-5 * time.Minute))
	if err := f.coord.cache.Save(48.10, 11.60, map[string]any{"temperature": 7.7}, cachedAt); err != nil {
		t.Fatal(err)
	}

	raw := map[string]any{"y": "48.1005", "x": "11.6005"}
	f.coord.Enrich(ctx, "NEW", raw)

	if f.calls.Load() != 0 {
		t.Errorf("primary calls = %d, want 0 (cache hit)", f.calls.Load())
	}
	if raw["temperature"] != 7.7 {
		t.Errorf("temperature = %v, want cached 7.7", raw["temperature"])
	}
	if raw["weather_fetch_ts"] != cachedAt {
		t.Errorf("weather_fetch_ts = %v, want cached_at %v", raw["weather_fetch_ts"], cachedAt)
	}
	used, _ := f.kvc.QuotaUsed(ctx, "2023-11-14")
	if used != 0 {
		t.Errorf("cache hit consumed quota: %d", used)
	}
}

func TestEnrichFallsBackToWttr(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wttr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"current_condition":[{"temp_C":"5","humidity":"70","FeelsLikeC":"2",
"precipMM":"0.0","windspeedKmph":"36","winddirDegree":"180","pressure":"1010","cloudcover":"50"}]}`)
	}))
	t.Cleanup(wttr.Close)

	f.coord.openMeteoURL = "http://127.0.0.1:1"
	f.coord.marineURL = "http://127.0.0.1:1"
	f.coord.wttrURL = wttr.URL

	raw := map[string]any{"y": "48.10", "x": "11.60"}
	f.coord.Enrich(ctx, "D", raw)

	if raw["temperature"] != 5.0 {
		t.Errorf("temperature = %v, want 5.0", raw["temperature"])
	}
	// 36 km/h converts to 10 m/s.
	if raw["wind_speed"] != 10.0 {
		t.Errorf("wind_speed = %v, want 10.0", raw["wind_speed"])
	}
}

func TestCoordFloat(t *testing.T) {
	if _, ok := coordFloat(""); ok {
		t.Error("empty string parsed as coordinate")
	}
	if _, ok := coordFloat(nil); ok {
		t.Error("nil parsed as coordinate")
	}
	if v, ok := coordFloat("48.5"); !ok || v != 48.5 {
		t.Errorf("coordFloat(\"48.5\") = (%v, %v)", v, ok)
	}
}
