// Package transform turns a compact wire record into the full structured
// state for one event. Fields the record omits (or marks with an error
// sentinel) are inherited from the device's prior state by a deep merge, so
// the emitted state is always complete.
package transform

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ringsaturn/tzf"

	"github.com/hoarderd/hoarderd/internal/analysis"
	"github.com/hoarderd/hoarderd/internal/decode"
	"github.com/hoarderd/hoarderd/internal/ipintel"
	"github.com/hoarderd/hoarderd/internal/timefmt"
	"github.com/hoarderd/hoarderd/pkg/aqi"
)

// Record is one ingest record after timestamp reconstruction and weather
// enrichment, ready for transformation.
type Record struct {
	DeviceID   string
	ClientIP   string
	RequestID  string
	EventTS    time.Time
	ReceivedAt *time.Time
	Headers    map[string]any
	Warnings   any
	Payload    map[string]any
}

// Transformer holds the static lookup state shared by all records.
type Transformer struct {
	vendors *decode.VendorDB
	finder  tzf.F
}

func New(vendors *decode.VendorDB) (*Transformer, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, err
	}
	return &Transformer{vendors: vendors, finder: finder}, nil
}

// sentinel marks the per-field "no reading" convention of the wire format.
type sentinel int

const (
	sentinelNone  sentinel = iota
	sentinelNeg            // -1 on integer readings
	sentinelEmpty          // "" on string readings
	sentinelZero           // 0 on quantities that are absent-when-zero
)

type fieldRule struct {
	rawKey string
	target string
	gate   sentinel
	mapVal func(any) any
}

var fieldRules = []fieldRule{
	{"n", "identity.device_name", sentinelEmpty, asStringVal},
	{"o", "network.operator", sentinelEmpty, asStringVal},
	{"t", "network.cellular.type", sentinelNeg, enumMapper(cellularTypeLabels)},
	{"r", "network.cellular.signal_strength_in_dbm", sentinelNeg, negatedDBm},
	{"rq", "network.cellular.quality", sentinelNeg, asIntVal},
	{"mc", "network.cellular.mcc", sentinelNeg, asIntVal},
	{"mn", "network.cellular.mnc", sentinelNeg, asIntVal},
	{"ci", "network.cellular.cell_id", sentinelEmpty, base62Val},
	{"tc", "network.cellular.tac", sentinelNeg, asIntVal},
	{"ta", "network.cellular.timing_advance", sentinelNeg, asIntVal},
	{"d", "network.bandwidth.download_mbps", sentinelZero, asFloatVal},
	{"u", "network.bandwidth.upload_mbps", sentinelZero, asFloatVal},
	{"wn", "network.wifi.ssid", sentinelEmpty, asStringVal},
	{"wf", "network.wifi.frequency_in_mhz", sentinelNeg, asIntVal},
	{"wr", "network.wifi.signal_strength_in_dbm", sentinelNeg, negatedDBm},
	{"ws", "network.wifi.standard", sentinelNeg, enumMapper(wifiStandardLabels)},
	{"wt", "network.wifi.link_speed_in_mbps", sentinelNeg, asIntVal},
	{"a", "location.altitude_in_meters", sentinelNone, asFloatVal},
	{"elevation", "location.elevation_in_meters", sentinelNone, asFloatVal},
	{"ac", "location.accuracy_in_meters", sentinelNeg, asFloatVal},
	{"s", "location.speed_in_kmh", sentinelNeg, asFloatVal},
	{"p", "power.battery_percent", sentinelNeg, asIntVal},
	{"c", "power.capacity_in_mah", sentinelZero, capacityMah},
	{"cs", "power.charging_state", sentinelNeg, enumMapper(chargingStateLabels)},
	{"pm", "power.power_save_mode", sentinelNeg, boolVal},
	{"us_aqi", "environment.air_quality.us_aqi", sentinelNone, asIntVal},
	{"pm2_5", "environment.air_quality.pm2_5", sentinelNone, asFloatVal},
	{"carbon_monoxide", "environment.air_quality.carbon_monoxide", sentinelNone, asFloatVal},
	{"nitrogen_dioxide", "environment.air_quality.nitrogen_dioxide", sentinelNone, asFloatVal},
	{"sulphur_dioxide", "environment.air_quality.sulphur_dioxide", sentinelNone, asFloatVal},
	{"ozone", "environment.air_quality.ozone", sentinelNone, asFloatVal},
	{"sc", "device_state.screen_state", sentinelNeg, onOffVal},
	{"vp", "device_state.volume_percent", sentinelNeg, asIntVal},
	{"nm", "device_state.network_metered", sentinelNeg, boolVal},
	{"da", "device_state.data_activity", sentinelNeg, enumMapper(dataActivityLabels)},
	{"au", "device_state.system_audio_state", sentinelNeg, enumMapper(systemAudioLabels)},
	{"ca", "device_state.camera_active", sentinelNeg, boolVal},
	{"fl", "device_state.flashlight_on", sentinelNeg, boolVal},
	{"pa", "device_state.phone_activity_state", sentinelNeg, enumMapper(phoneActivityLabels)},
	{"dt", "sensors.device_temperature_celsius", sentinelNone, asFloatVal},
	{"lx", "sensors.ambient_light_lux", sentinelNeg, asFloatVal},
	{"pr", "sensors.device_barometer_hpa", sentinelZero, asFloatVal},
	{"st", "sensors.step_count", sentinelNeg, asIntVal},
	{"px", "sensors.proximity_near", sentinelNeg, boolVal},
}

// Apply produces the full plain state for one event by mapping the record's
// compact keys and merging the result over the prior state.
func (t *Transformer) Apply(rec Record, prior map[string]any, intel *ipintel.Intel) map[string]any {
	fresh := make(map[string]any)

	for _, rule := range fieldRules {
		raw, ok := rec.Payload[rule.rawKey]
		if !ok || isSentinel(raw, rule.gate) {
			continue
		}
		if v := rule.mapVal(raw); v != nil {
			setPath(fresh, rule.target, v)
		}
	}

	setPath(fresh, "identity.device_id", rec.DeviceID)
	if rec.ClientIP != "" {
		setPath(fresh, "network.source_ip", rec.ClientIP)
	}

	t.applyLocation(rec.Payload, fresh)
	dropWifi := t.applyWifi(rec.Payload, fresh)
	t.applyWeather(rec.Payload, fresh)
	applyAirQualityClass(fresh)
	applyAppSettings(rec.Payload, fresh, prior)
	applyPower(fresh, prior)
	t.applyDiagnostics(rec, fresh)

	out := deepMerge(prior, fresh)

	if dropWifi {
		if wifi, ok := getPath(out, "network.wifi").(map[string]any); ok {
			delete(wifi, "bssid")
			delete(wifi, "vendor")
		}
	}
	applyActiveNetwork(out)

	if intel != nil {
		out["ip_intelligence"] = intel.AsMap()
	}

	cellAnalysis, cellProfile := analysis.Cellular(out, mapAt(prior, "diagnostics.profiles.cellular"))
	altAnalysis, altProfile := analysis.Altitude(out, mapAt(prior, "diagnostics.profiles.altitude"))
	setPath(out, "analysis.cellular", cellAnalysis)
	setPath(out, "analysis.altitude", altAnalysis)
	setPath(out, "diagnostics.profiles.cellular", cellProfile)
	setPath(out, "diagnostics.profiles.altitude", altProfile)

	return out
}

// applyLocation resolves coordinates from either the string-decimal pair or a
// geohash, then derives precision and the location's timezone.
func (t *Transformer) applyLocation(payload, fresh map[string]any) {
	lat, latOK := floatFrom(payload["y"])
	lon, lonOK := floatFrom(payload["x"])

	if g, ok := payload["g"].(string); ok && g != "" {
		ghLat, ghLon, precision, err := decode.Geohash(g)
		if err == nil {
			setPath(fresh, "location.geohash_precision_in_meters", precision)
			if !latOK || !lonOK {
				lat, lon = ghLat, ghLon
				latOK, lonOK = true, true
			}
		}
	}
	if !latOK || !lonOK {
		return
	}

	setPath(fresh, "location.latitude", lat)
	setPath(fresh, "location.longitude", lon)
	setPath(fresh, "location.timezone", t.timezoneName(lat, lon))
}

// timezoneName resolves a zone from the polygon index, treating the poles as
// UTC+0 and falling back to a longitude-derived offset.
func (t *Transformer) timezoneName(lat, lon float64) string {
	if math.Abs(lat) >= 89.9 {
		return "UTC+0"
	}
	if name := t.finder.GetTimezoneName(lon, lat); name != "" {
		return name
	}
	return fallbackTimezoneName(lon)
}

// applyWifi decodes the Base64 BSSID and resolves its vendor. Returns true
// when the record carried a BSSID that does not decode, which contradicts any
// inherited access point.
func (t *Transformer) applyWifi(payload, fresh map[string]any) bool {
	raw, ok := payload["b"].(string)
	if !ok || raw == "" {
		return false
	}

	mac, err := decode.BSSID(raw)
	if err != nil {
		return true
	}
	setPath(fresh, "network.wifi.bssid", mac)
	if t.vendors != nil {
		if vendor, found := t.vendors.Vendor(mac); found {
			setPath(fresh, "network.wifi.vendor", vendor)
		}
	}
	return false
}

func (t *Transformer) applyWeather(payload, fresh map[string]any) {
	temp, tempOK := floatFrom(payload["temperature"])
	if tempOK {
		setPath(fresh, "environment.weather.temperature_in_celsius", temp)
		setPath(fresh, "environment.weather.temperature_assessment", temperatureAssessment(temp))
	}
	if v, ok := floatFrom(payload["apparent_temp"]); ok {
		setPath(fresh, "environment.weather.apparent_temperature_in_celsius", v)
	}
	if v, ok := floatFrom(payload["humidity"]); ok {
		setPath(fresh, "environment.weather.humidity_percent", v)
	}
	if v, ok := floatFrom(payload["pressure_msl"]); ok {
		setPath(fresh, "environment.weather.pressure_in_hpa", v)
	}
	if v, ok := floatFrom(payload["cloud_cover"]); ok {
		setPath(fresh, "environment.weather.cloud_cover_percent", v)
	}
	if v, ok := floatFrom(payload["wind_gusts"]); ok {
		setPath(fresh, "environment.weather.wind_gusts_in_ms", v)
	}

	var description string
	if code, ok := floatFrom(payload["code"]); ok {
		description = weatherCodeDescriptions[int(code)]
		if description == "" {
			description = "Unknown"
		}
		setPath(fresh, "environment.weather.description", description)
	}

	wind, windOK := floatFrom(payload["wind_speed"])
	if windOK {
		setPath(fresh, "environment.weather.wind_speed_in_ms", wind)
		setPath(fresh, "environment.weather.wind_description", windDescription(wind))
	}
	if deg, ok := floatFrom(payload["wind_direction"]); ok {
		setPath(fresh, "environment.weather.wind_direction_in_degrees", deg)
		setPath(fresh, "environment.weather.wind_direction_compass", compassDirection(deg))
	}

	if mm, ok := floatFrom(payload["precipitation"]); ok {
		kind, intensity := precipitationInfo(description, mm)
		setPath(fresh, "environment.weather.precipitation_in_mm", mm)
		setPath(fresh, "environment.weather.precipitation_type", kind)
		setPath(fresh, "environment.weather.precipitation_intensity", intensity)
	}

	if tempOK && windOK {
		if chill, valid := windChill(temp, wind); valid {
			setPath(fresh, "environment.weather.wind_chill_in_celsius", chill)
		}
	}

	for raw, target := range map[string]string{
		"marine_wave_height":    "environment.weather.marine.wave_height_in_meters",
		"marine_wave_direction": "environment.weather.marine.wave_direction_in_degrees",
		"marine_wave_period":    "environment.weather.marine.wave_period_in_seconds",
	} {
		if v, ok := floatFrom(payload[raw]); ok {
			setPath(fresh, target, v)
		}
	}

	fetchTS, tsOK := payload["weather_fetch_ts"].(string)
	if !tsOK || fetchTS == "" {
		return
	}
	setPath(fresh, "environment.weather.weather_request_timestamp_utc", fetchTS)
	setPath(fresh, "diagnostics.weather.fetch_ts", fetchTS)
	if lat, ok := floatFrom(payload["weather_fetch_lat"]); ok {
		setPath(fresh, "diagnostics.weather.fetch_lat", lat)
	}
	if lon, ok := floatFrom(payload["weather_fetch_lon"]); ok {
		setPath(fresh, "diagnostics.weather.fetch_lon", lon)
	}

	if parsed, err := timefmt.Parse(fetchTS); err == nil {
		lat, latOK := floatFrom(payload["weather_fetch_lat"])
		lon, lonOK := floatFrom(payload["weather_fetch_lon"])
		if latOK && lonOK {
			setPath(fresh, "environment.weather.weather_request_local_time",
				timefmt.FormatLocal(parsed, t.locationZone(lat, lon)))
		}
	}
}

func (t *Transformer) locationZone(lat, lon float64) *time.Location {
	name := t.timezoneName(lat, lon)
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone(name, int(math.Round(lon/15))*3600)
}

// applyAirQualityClass derives the AQI category from the reported index, or
// computes the index from PM2.5 when the provider omitted it.
func applyAirQualityClass(fresh map[string]any) {
	if usAQI, ok := floatFrom(getPath(fresh, "environment.air_quality.us_aqi")); ok {
		setPath(fresh, "environment.air_quality.aqi_class", aqi.GetCategory(int32(usAQI)))
		return
	}
	if pm25, ok := floatFrom(getPath(fresh, "environment.air_quality.pm2_5")); ok {
		idx := aqi.CalculatePM25(float32(pm25))
		setPath(fresh, "environment.air_quality.us_aqi", int(idx))
		setPath(fresh, "environment.air_quality.aqi_class", aqi.GetCategory(idx))
	}
}

// applyPower derives leftover capacity when both percent and capacity are
// known, whether they arrived in this record or carry forward.
func applyPower(fresh, prior map[string]any) {
	pct, pctOK := floatFrom(firstOf(getPath(fresh, "power.battery_percent"), getPath(prior, "power.battery_percent")))
	cap, capOK := floatFrom(firstOf(getPath(fresh, "power.capacity_in_mah"), getPath(prior, "power.capacity_in_mah")))
	if pctOK && capOK {
		setPath(fresh, "power.calculated_leftover_capacity_in_mah", int(math.Round(pct*cap/100)))
	}
}

func applyActiveNetwork(out map[string]any) {
	if bssid, ok := getPath(out, "network.wifi.bssid").(string); ok && bssid != "" {
		out["currently_used_active_network"] = "Wi-Fi"
		return
	}
	if cellType, ok := getPath(out, "network.cellular.type").(string); ok && cellType != "" {
		out["currently_used_active_network"] = cellType
	}
}

func (t *Transformer) applyDiagnostics(rec Record, fresh map[string]any) {
	setPath(fresh, "diagnostics.ingest_request_id", rec.RequestID)
	setPath(fresh, "diagnostics.timestamps.device_event_timestamp_utc", timefmt.FormatDisplay(rec.EventTS))

	received := rec.EventTS
	if rec.ReceivedAt != nil {
		received = *rec.ReceivedAt
	}
	setPath(fresh, "diagnostics.timestamps.ingest_receive_timestamp_utc", timefmt.FormatDisplay(received))

	if len(rec.Headers) > 0 {
		setPath(fresh, "diagnostics.ingest_request_info", rec.Headers)
	}
	if rec.Warnings != nil {
		setPath(fresh, "diagnostics.ingest_warnings", rec.Warnings)
	}
}

// Value mappers for the field table. Each returns nil when the raw value is
// not usable.

func asStringVal(v any) any {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return nil
}

func asFloatVal(v any) any {
	if f, ok := floatFrom(v); ok {
		return f
	}
	return nil
}

func asIntVal(v any) any {
	if f, ok := floatFrom(v); ok {
		return int(f)
	}
	return nil
}

// negatedDBm renders signal readings transmitted as positive magnitudes.
func negatedDBm(v any) any {
	f, ok := floatFrom(v)
	if !ok {
		return nil
	}
	return -int(math.Abs(f))
}

func base62Val(v any) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	n, err := decode.Base62(s)
	if err != nil {
		return nil
	}
	return n.String()
}

// capacityMah expands the capacity-in-hundreds wire encoding.
func capacityMah(v any) any {
	if f, ok := floatFrom(v); ok {
		return int(f) * 100
	}
	return nil
}

func boolVal(v any) any {
	if f, ok := floatFrom(v); ok {
		return f != 0
	}
	return nil
}

func onOffVal(v any) any {
	f, ok := floatFrom(v)
	if !ok {
		return nil
	}
	if f != 0 {
		return "On"
	}
	return "Off"
}

func enumMapper(labels map[int]string) func(any) any {
	return func(v any) any {
		f, ok := floatFrom(v)
		if !ok {
			return nil
		}
		if label := enumLabel(labels, int(f)); label != "" {
			return label
		}
		return nil
	}
}

func isSentinel(v any, gate sentinel) bool {
	switch gate {
	case sentinelNeg:
		f, ok := floatFrom(v)
		return ok && f == -1
	case sentinelEmpty:
		s, ok := v.(string)
		return ok && s == ""
	case sentinelZero:
		f, ok := floatFrom(v)
		return ok && f == 0
	}
	return false
}

// floatFrom accepts the wire format's numeric encodings: JSON numbers and
// string decimals.
func floatFrom(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func firstOf(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// getPath walks a dotted path through nested maps.
func getPath(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func mapAt(m map[string]any, path string) map[string]any {
	sub, _ := getPath(m, path).(map[string]any)
	return sub
}

// setPath creates intermediate maps as needed.
func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// deepMerge overlays fresh onto prior without mutating either. Maps recurse;
// any other fresh value replaces the prior one.
func deepMerge(prior, fresh map[string]any) map[string]any {
	out := make(map[string]any, len(prior)+len(fresh))
	for k, v := range prior {
		out[k] = copyValue(v)
	}
	for k, v := range fresh {
		if freshSub, ok := v.(map[string]any); ok {
			if priorSub, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(priorSub, freshSub)
				continue
			}
		}
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	if sub, ok := v.(map[string]any); ok {
		return deepMerge(sub, nil)
	}
	return v
}
