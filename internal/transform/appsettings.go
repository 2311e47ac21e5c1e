package transform

// App settings arrive as a flat short-code dict under `ad` and are stored
// that way; the union with the prior block (new values winning) happens here.
// The grouped, human-labeled rendering is a read-time projection driven by
// the tables below.

// applyAppSettings merges the record's `ad` dict over the prior block.
func applyAppSettings(payload, fresh, prior map[string]any) {
	raw, ok := payload["ad"].(map[string]any)
	if !ok || len(raw) == 0 {
		return
	}

	merged := make(map[string]any)
	if old, ok := prior["app_settings"].(map[string]any); ok {
		for k, v := range old {
			merged[k] = v
		}
	}
	for k, v := range raw {
		merged[k] = v
	}
	fresh["app_settings"] = merged
}

var permissionLabels = map[int]string{
	0: "Denied",
	1: "Foreground",
	2: "Background",
}

var enabledLabels = map[int]string{
	0: "Disabled",
	1: "Enabled",
}

// AppSetting describes one short-code setting for rendering.
type AppSetting struct {
	Short  string
	Label  string
	Values map[int]string // nil keeps the raw value
}

// AppSettingGroups is the fixed read-time projection of the stored
// short-code block into grouped human-labeled settings.
var AppSettingGroups = []struct {
	Group    string
	Settings []AppSetting
}{
	{
		Group: "permissions",
		Settings: []AppSetting{
			{"lp", "location_permission", permissionLabels},
			{"cp", "camera_permission", permissionLabels},
			{"mp", "microphone_permission", permissionLabels},
			{"np", "notification_permission", enabledLabels},
		},
	},
	{
		Group: "collection",
		Settings: []AppSetting{
			{"gi", "gps_interval_in_seconds", nil},
			{"ui", "upload_interval_in_seconds", nil},
			{"we", "weather_enrichment", enabledLabels},
			{"ba", "background_collection", enabledLabels},
		},
	},
	{
		Group: "system",
		Settings: []AppSetting{
			{"dm", "dark_mode", enabledLabels},
			{"bo", "battery_optimization_exempt", enabledLabels},
			{"an", "analytics_opt_in", enabledLabels},
		},
	},
}

// AppSettingLongName maps a stored short code to its long display key, for
// renaming freshness age keys at render time. Unknown codes map to themselves.
func AppSettingLongName(short string) string {
	for _, group := range AppSettingGroups {
		for _, s := range group.Settings {
			if s.Short == short {
				return s.Label
			}
		}
	}
	return short
}

// RenderAppSettings projects the stored short-code block into the grouped
// human form. Codes outside the tables land in an "other" group unchanged.
func RenderAppSettings(stored map[string]any) map[string]any {
	if len(stored) == 0 {
		return nil
	}

	out := make(map[string]any)
	seen := make(map[string]bool, len(stored))
	for _, group := range AppSettingGroups {
		rendered := make(map[string]any)
		for _, s := range group.Settings {
			raw, ok := stored[s.Short]
			if !ok {
				continue
			}
			seen[s.Short] = true
			if s.Values != nil {
				if code, numOK := floatFrom(raw); numOK {
					if label, found := s.Values[int(code)]; found {
						rendered[s.Label] = label
						continue
					}
				}
			}
			rendered[s.Label] = raw
		}
		if len(rendered) > 0 {
			out[group.Group] = rendered
		}
	}

	other := make(map[string]any)
	for k, v := range stored {
		if !seen[k] {
			other[k] = v
		}
	}
	if len(other) > 0 {
		out["other"] = other
	}
	return out
}
