package transform

import (
	"testing"
	"time"

	"github.com/hoarderd/hoarderd/internal/decode"
)

var eventTS = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

func newTransformer(t *testing.T) *Transformer {
	t.Helper()
	tr, err := New(decode.NewVendorDB())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func record(payload map[string]any) Record {
	return Record{
		DeviceID:  "D",
		RequestID: "req-1",
		EventTS:   eventTS,
		Payload:   payload,
	}
}

func TestApplyFreshDevice(t *testing.T) {
	tr := newTransformer(t)

	out := tr.Apply(record(map[string]any{
		"y": "48.1", "x": "11.6",
		"p": float64(50), "c": float64(40),
		"t": float64(4),
		"b": "ABEiM0RV",
		"r": "100",
	}), nil, nil)

	checks := []struct {
		path string
		want any
	}{
		{"power.battery_percent", 50},
		{"power.capacity_in_mah", 4000},
		{"power.calculated_leftover_capacity_in_mah", 2000},
		{"network.cellular.type", "LTE"},
		{"network.cellular.signal_strength_in_dbm", -100},
		{"network.wifi.bssid", "00:11:22:33:44:55"},
		{"identity.device_id", "D"},
		{"location.latitude", 48.1},
		{"location.longitude", 11.6},
		{"location.timezone", "Europe/Berlin"},
	}
	for _, c := range checks {
		if got := getPath(out, c.path); got != c.want {
			t.Errorf("%s = %v (%T), want %v", c.path, got, got, c.want)
		}
	}
	if got := out["currently_used_active_network"]; got != "Wi-Fi" {
		t.Errorf("currently_used_active_network = %v, want Wi-Fi", got)
	}
}

func TestApplyCarryForward(t *testing.T) {
	tr := newTransformer(t)

	prior := map[string]any{
		"network": map[string]any{
			"operator": "Telekom",
			"cellular": map[string]any{
				"type":                    "LTE",
				"signal_strength_in_dbm":  -90,
			},
		},
		"power": map[string]any{"battery_percent": 77},
	}

	tests := []struct {
		name    string
		payload map[string]any
		path    string
		want    any
	}{
		{"missing key inherits", map[string]any{"p": float64(50)}, "network.operator", "Telekom"},
		{"empty string sentinel inherits", map[string]any{"o": ""}, "network.operator", "Telekom"},
		{"minus one sentinel inherits", map[string]any{"r": float64(-1)}, "network.cellular.signal_strength_in_dbm", -90},
		{"fresh value wins", map[string]any{"o": "Vodafone"}, "network.operator", "Vodafone"},
		{"battery updates", map[string]any{"p": float64(42)}, "power.battery_percent", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tr.Apply(record(tt.payload), prior, nil)
			if got := getPath(out, tt.path); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestApplyUnparseableBSSIDDropsPrior(t *testing.T) {
	tr := newTransformer(t)

	prior := map[string]any{
		"network": map[string]any{
			"wifi": map[string]any{"bssid": "00:11:22:33:44:55", "vendor": "SOMEVENDOR", "ssid": "home"},
			"cellular": map[string]any{"type": "LTE"},
		},
	}

	out := tr.Apply(record(map[string]any{"b": "!!!notbase64!!!"}), prior, nil)

	if got := getPath(out, "network.wifi.bssid"); got != nil {
		t.Errorf("bssid survived contradiction: %v", got)
	}
	if got := getPath(out, "network.wifi.vendor"); got != nil {
		t.Errorf("vendor survived contradiction: %v", got)
	}
	if got := getPath(out, "network.wifi.ssid"); got != "home" {
		t.Errorf("ssid = %v, want inherited home", got)
	}
	// Without a usable BSSID the active network falls back to cellular.
	if got := out["currently_used_active_network"]; got != "LTE" {
		t.Errorf("currently_used_active_network = %v, want LTE", got)
	}
}

func TestApplyMissingBSSIDInherits(t *testing.T) {
	tr := newTransformer(t)
	prior := map[string]any{
		"network": map[string]any{
			"wifi": map[string]any{"bssid": "00:11:22:33:44:55"},
		},
	}

	out := tr.Apply(record(map[string]any{"p": float64(10)}), prior, nil)
	if got := getPath(out, "network.wifi.bssid"); got != "00:11:22:33:44:55" {
		t.Errorf("bssid = %v, want inherited", got)
	}
	if got := out["currently_used_active_network"]; got != "Wi-Fi" {
		t.Errorf("currently_used_active_network = %v, want Wi-Fi", got)
	}
}

func TestApplyWeatherDerivedFields(t *testing.T) {
	tr := newTransformer(t)

	out := tr.Apply(record(map[string]any{
		"temperature":      float64(5),
		"wind_speed":       float64(10),
		"wind_direction":   float64(200),
		"precipitation":    float64(1.2),
		"code":             float64(63),
		"weather_fetch_ts": "2023-11-14 22:13:20",
	}), nil, nil)

	if got := getPath(out, "environment.weather.description"); got != "Rain" {
		t.Errorf("description = %v", got)
	}
	if got := getPath(out, "environment.weather.precipitation_type"); got != "Rain" {
		t.Errorf("precipitation_type = %v", got)
	}
	if got := getPath(out, "environment.weather.precipitation_intensity"); got != "Light" {
		t.Errorf("precipitation_intensity = %v", got)
	}
	if got := getPath(out, "environment.weather.wind_direction_compass"); got != "SSW" {
		t.Errorf("compass = %v", got)
	}
	if got := getPath(out, "environment.weather.wind_description"); got != "Fresh Breeze" {
		t.Errorf("wind_description = %v", got)
	}
	if got := getPath(out, "environment.weather.wind_chill_in_celsius"); got == nil {
		t.Error("wind chill missing for 5 °C at 10 m/s")
	}
	if got := getPath(out, "environment.weather.weather_request_timestamp_utc"); got != "2023-11-14 22:13:20" {
		t.Errorf("weather_request_timestamp_utc = %v", got)
	}
	if got := getPath(out, "diagnostics.weather.fetch_ts"); got != "2023-11-14 22:13:20" {
		t.Errorf("diagnostics fetch_ts = %v", got)
	}
}

func TestApplyWindChillGate(t *testing.T) {
	tr := newTransformer(t)

	tests := []struct {
		name string
		temp float64
		wind float64
		want bool
	}{
		{"warm", 15, 10, false},
		{"calm", 5, 1.0, false},
		{"valid", 5, 10, true},
		{"boundary temp", 10, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tr.Apply(record(map[string]any{
				"temperature": tt.temp,
				"wind_speed":  tt.wind,
			}), nil, nil)
			got := getPath(out, "environment.weather.wind_chill_in_celsius")
			if (got != nil) != tt.want {
				t.Errorf("wind chill present = %v, want %v", got != nil, tt.want)
			}
		})
	}
}

func TestApplyPolarTimezone(t *testing.T) {
	tr := newTransformer(t)
	out := tr.Apply(record(map[string]any{"y": "90", "x": "0"}), nil, nil)
	if got := getPath(out, "location.timezone"); got != "UTC+0" {
		t.Errorf("timezone = %v, want UTC+0", got)
	}
}

func TestApplyGeohashFallback(t *testing.T) {
	tr := newTransformer(t)
	out := tr.Apply(record(map[string]any{"g": "u281z"}), nil, nil)

	lat, latOK := getPath(out, "location.latitude").(float64)
	if !latOK || lat < 48 || lat > 49 {
		t.Errorf("latitude = %v", getPath(out, "location.latitude"))
	}
	if got := getPath(out, "location.geohash_precision_in_meters"); got != 4900.0 {
		t.Errorf("precision = %v, want 4900", got)
	}
}

func TestApplyAppSettingsMerge(t *testing.T) {
	tr := newTransformer(t)
	prior := map[string]any{
		"app_settings": map[string]any{"lp": float64(1), "dm": float64(0)},
	}

	out := tr.Apply(record(map[string]any{
		"ad": map[string]any{"lp": float64(2), "gi": float64(60)},
	}), prior, nil)

	settings, ok := out["app_settings"].(map[string]any)
	if !ok {
		t.Fatal("app_settings missing")
	}
	if settings["lp"] != float64(2) {
		t.Errorf("lp = %v, want 2 (new wins)", settings["lp"])
	}
	if settings["dm"] != float64(0) {
		t.Errorf("dm = %v, want retained 0", settings["dm"])
	}
	if settings["gi"] != float64(60) {
		t.Errorf("gi = %v, want 60", settings["gi"])
	}
}

func TestApplyAirQuality(t *testing.T) {
	tr := newTransformer(t)

	out := tr.Apply(record(map[string]any{"us_aqi": float64(120)}), nil, nil)
	if got := getPath(out, "environment.air_quality.aqi_class"); got != "Unhealthy for Sensitive Groups" {
		t.Errorf("aqi_class = %v", got)
	}

	// Index derived from PM2.5 when the provider omits us_aqi.
	out = tr.Apply(record(map[string]any{"pm2_5": float64(8.0)}), nil, nil)
	if got := getPath(out, "environment.air_quality.aqi_class"); got != "Good" {
		t.Errorf("pm2.5-derived aqi_class = %v", got)
	}
	if got := getPath(out, "environment.air_quality.us_aqi"); got == nil {
		t.Error("derived us_aqi missing")
	}
}

func TestApplyDoesNotMutatePrior(t *testing.T) {
	tr := newTransformer(t)
	prior := map[string]any{
		"power": map[string]any{"battery_percent": 80},
	}

	tr.Apply(record(map[string]any{"p": float64(10)}), prior, nil)
	if prior["power"].(map[string]any)["battery_percent"] != 80 {
		t.Error("prior state mutated")
	}
}

func TestRenderAppSettings(t *testing.T) {
	stored := map[string]any{
		"lp": float64(2),
		"dm": float64(1),
		"gi": float64(60),
		"zz": float64(7),
	}

	out := RenderAppSettings(stored)

	perms, _ := out["permissions"].(map[string]any)
	if perms["location_permission"] != "Background" {
		t.Errorf("location_permission = %v", perms["location_permission"])
	}
	system, _ := out["system"].(map[string]any)
	if system["dark_mode"] != "Enabled" {
		t.Errorf("dark_mode = %v", system["dark_mode"])
	}
	collection, _ := out["collection"].(map[string]any)
	if collection["gps_interval_in_seconds"] != float64(60) {
		t.Errorf("gps_interval_in_seconds = %v", collection["gps_interval_in_seconds"])
	}
	other, _ := out["other"].(map[string]any)
	if other["zz"] != float64(7) {
		t.Errorf("unknown code zz = %v", other["zz"])
	}
}

func TestAppSettingLongName(t *testing.T) {
	if got := AppSettingLongName("lp"); got != "location_permission" {
		t.Errorf("lp → %q", got)
	}
	if got := AppSettingLongName("zz"); got != "zz" {
		t.Errorf("zz → %q", got)
	}
}

func TestDeriveTables(t *testing.T) {
	precCases := []struct {
		meters float64
		want   int
	}{{0, 7}, {5, 6}, {100, 5}, {1000, 4}, {5000, 3}}
	for _, c := range precCases {
		if got := precisionDecimals(c.meters); got != c.want {
			t.Errorf("precisionDecimals(%v) = %d, want %d", c.meters, got, c.want)
		}
	}

	if got := compassDirection(0); got != "N" {
		t.Errorf("compass(0) = %q", got)
	}
	if got := compassDirection(359); got != "N" {
		t.Errorf("compass(359) = %q", got)
	}
	if got := compassDirection(90); got != "E" {
		t.Errorf("compass(90) = %q", got)
	}

	if got := windDescription(0.2); got != "Calm" {
		t.Errorf("windDescription(0.2) = %q", got)
	}
	if got := windDescription(40); got != "Hurricane" {
		t.Errorf("windDescription(40) = %q", got)
	}

	if got := fallbackTimezoneName(11.6); got != "UTC+1" {
		t.Errorf("fallbackTimezoneName(11.6) = %q", got)
	}
	if got := fallbackTimezoneName(-122); got != "UTC-8" {
		t.Errorf("fallbackTimezoneName(-122) = %q", got)
	}
}
