package transform

import (
	"fmt"
	"math"
	"strings"
)

// CoordinateDecimals maps a positional accuracy in meters to the number of
// coordinate decimals worth rendering. Read-time output rounds latitude and
// longitude with this table.
func CoordinateDecimals(meters float64) int {
	return precisionDecimals(meters)
}

func precisionDecimals(meters float64) int {
	switch {
	case meters <= 0:
		return 7
	case meters <= 5:
		return 6
	case meters <= 100:
		return 5
	case meters <= 1000:
		return 4
	default:
		return 3
	}
}

func temperatureAssessment(celsius float64) string {
	switch {
	case celsius <= -10:
		return "Freezing"
	case celsius <= 0:
		return "Very Cold"
	case celsius <= 10:
		return "Cold"
	case celsius <= 18:
		return "Cool"
	case celsius <= 24:
		return "Comfortable"
	case celsius <= 30:
		return "Warm"
	case celsius <= 35:
		return "Hot"
	default:
		return "Very Hot"
	}
}

// windDescription buckets a wind speed in m/s on the Beaufort scale.
func windDescription(ms float64) string {
	switch {
	case ms < 0.5:
		return "Calm"
	case ms < 1.6:
		return "Light Air"
	case ms < 3.4:
		return "Light Breeze"
	case ms < 5.5:
		return "Gentle Breeze"
	case ms < 8.0:
		return "Moderate Breeze"
	case ms < 10.8:
		return "Fresh Breeze"
	case ms < 13.9:
		return "Strong Breeze"
	case ms < 17.2:
		return "Near Gale"
	case ms < 20.8:
		return "Gale"
	case ms < 24.5:
		return "Strong Gale"
	case ms < 28.5:
		return "Storm"
	case ms < 32.7:
		return "Violent Storm"
	default:
		return "Hurricane"
	}
}

var compassPoints = []string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

func compassDirection(degrees float64) string {
	idx := int(math.Round(math.Mod(degrees, 360)/22.5)) % 16
	if idx < 0 {
		idx += 16
	}
	return compassPoints[idx]
}

// precipitationInfo classifies precipitation type from the weather code
// description and intensity from the measured millimeters.
func precipitationInfo(description string, mm float64) (string, string) {
	kind := "None"
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "thunderstorm"):
		kind = "Thunderstorm"
	case strings.Contains(lower, "snow"):
		kind = "Snow"
	case strings.Contains(lower, "rain"), strings.Contains(lower, "drizzle"), strings.Contains(lower, "showers"):
		kind = "Rain"
	}

	var intensity string
	switch {
	case mm <= 0:
		intensity = "None"
	case mm < 0.5:
		intensity = "Very Light"
	case mm < 2.5:
		intensity = "Light"
	case mm < 10:
		intensity = "Moderate"
	case mm < 50:
		intensity = "Heavy"
	default:
		intensity = "Violent"
	}

	if kind == "None" && mm > 0 {
		kind = "Rain"
	}
	return kind, intensity
}

const windChillMinWindMS = 1.34

// windChill computes the North American wind chill index. Only defined for
// temperatures at or below 10 °C with wind of at least 1.34 m/s.
func windChill(tempC, windMS float64) (float64, bool) {
	if tempC > 10 || windMS < windChillMinWindMS {
		return 0, false
	}
	vKmh := windMS * 3.6
	v16 := math.Pow(vKmh, 0.16)
	chill := 13.12 + 0.6215*tempC - 11.37*v16 + 0.3965*tempC*v16
	return math.Round(chill*10) / 10, true
}

// fallbackTimezoneName derives a crude UTC-offset zone from longitude for
// points the polygon index cannot resolve.
func fallbackTimezoneName(lon float64) string {
	offset := int(math.Round(lon / 15))
	if offset == 0 {
		return "UTC+0"
	}
	return fmt.Sprintf("UTC%+d", offset)
}
