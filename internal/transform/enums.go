package transform

// Coded enumerations carried on the compact wire format. Unknown codes fall
// through to the zero entry where one exists, otherwise the raw code is kept.

var cellularTypeLabels = map[int]string{
	0: "Other",
	1: "GSM",
	2: "GPRS/EDGE",
	3: "UMTS/HSPA",
	4: "LTE",
	5: "NR(5G)",
	6: "CDMA",
	7: "IDEN",
}

var chargingStateLabels = map[int]string{
	0: "Not Charging",
	1: "AC",
	2: "USB",
	3: "Wireless",
	4: "Full",
}

var wifiStandardLabels = map[int]string{
	1: "Other",
	4: "Wi-Fi 4",
	5: "Wi-Fi 5",
	6: "Wi-Fi 6",
}

var dataActivityLabels = map[int]string{
	0: "None",
	1: "In",
	2: "Out",
	3: "In/Out",
}

var systemAudioLabels = map[int]string{
	0: "Idle",
	1: "Media",
	2: "In Call",
}

var phoneActivityLabels = map[int]string{
	0: "Stable/Upside Down",
	1: "Stable",
	2: "Moving",
}

// weatherCodeDescriptions maps WMO weather interpretation codes as served by
// Open-Meteo to display strings.
var weatherCodeDescriptions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Rime fog",
	51: "Light drizzle",
	53: "Drizzle",
	55: "Dense drizzle",
	61: "Slight rain",
	63: "Rain",
	65: "Heavy rain",
	71: "Slight snow",
	73: "Snow",
	75: "Heavy snow",
	80: "Slight showers",
	81: "Showers",
	82: "Violent showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
}

func enumLabel(labels map[int]string, code int) string {
	if label, ok := labels[code]; ok {
		return label
	}
	if label, ok := labels[0]; ok {
		return label
	}
	return ""
}
