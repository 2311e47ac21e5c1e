package geojson

import (
	"github.com/hoarderd/hoarderd/internal/storage"
	"github.com/hoarderd/hoarderd/pkg/aqi"
)

type geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// featureFromEvent projects one event onto a GeoJSON point. Events without a
// usable position are skipped.
func featureFromEvent(ev storage.Event) (feature, bool) {
	loc, _ := ev.Payload["location"].(map[string]any)
	lat, latOK := toFloat(loc["latitude"])
	lon, lonOK := toFloat(loc["longitude"])
	if !latOK || !lonOK {
		return feature{}, false
	}

	identity, _ := ev.Payload["identity"].(map[string]any)
	network, _ := ev.Payload["network"].(map[string]any)
	cellular, _ := network["cellular"].(map[string]any)
	power, _ := ev.Payload["power"].(map[string]any)
	env, _ := ev.Payload["environment"].(map[string]any)
	airQuality, _ := env["air_quality"].(map[string]any)

	props := map[string]any{
		"latitude":        lat,
		"longitude":       lon,
		"internal_id":     ev.ID,
		"timestamp_utc":   ev.EventTS,
		"device_id":       identity["device_id"],
		"device_name":     identity["device_name"],
		"active_network":  ev.Payload["currently_used_active_network"],
		"operator":        network["operator"],
		"battery_percent": power["battery_percent"],
		"speed":           loc["speed_in_kmh"],
		"altitude":        loc["altitude_in_meters"],
		"accuracy":        loc["accuracy_in_meters"],
		"signal_strength": cellular["signal_strength_in_dbm"],
	}
	if usAQI, ok := toFloat(airQuality["us_aqi"]); ok {
		props["us_aqi"] = usAQI
		props["aqi_color"] = aqi.GetCategoryColor(int32(usAQI))
	}
	for k, v := range props {
		if v == nil {
			delete(props, k)
		}
	}

	return feature{
		Type:       "Feature",
		Geometry:   geometry{Type: "Point", Coordinates: [2]float64{lon, lat}},
		Properties: props,
	}, true
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
