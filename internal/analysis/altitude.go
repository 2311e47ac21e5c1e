package analysis

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/hoarderd/hoarderd/internal/timefmt"
)

const (
	profileHistoryLength     = 30
	floorHeightMeters        = 3.0
	refPressureExpiry        = 2 * time.Hour
	baroAltitudeConstant     = 44330.0
	baroAltitudeExponent     = 1 / 5.255
	groundLockGPSErrorMeters = 50.0
	metersPerHPa             = 8.3
)

// barometricAltitude converts a device pressure reading to altitude above sea
// level using the local sea-level pressure.
func barometricAltitude(devicePressure, seaLevelPressure float64) (float64, bool) {
	if devicePressure <= 0 || seaLevelPressure <= 0 {
		return 0, false
	}
	ratio := devicePressure / seaLevelPressure
	return baroAltitudeConstant * (1.0 - math.Pow(ratio, baroAltitudeExponent)), true
}

// Altitude estimates height above ground and floor changes by fusing GPS
// altitude, terrain elevation, and the device barometer. The profile carries
// a rolling surface-altitude history and a ground-reference pressure lock.
func Altitude(state map[string]any, priorProfile map[string]any) (map[string]any, map[string]any) {
	result := map[string]any{"altitude_source": "Unknown"}
	profile := map[string]any{}
	for k, v := range priorProfile {
		profile[k] = v
	}

	altitudeASL, altOK := floatAt(state, "location.altitude_in_meters")
	groundElevation, elevOK := floatAt(state, "location.elevation_in_meters")
	gpsAccuracy, accOK := floatAt(state, "location.accuracy_in_meters")
	devicePressure, pressOK := floatAt(state, "sensors.device_barometer_hpa")
	seaLevelPressure, seaOK := floatAt(state, "environment.weather.pressure_in_hpa")
	phoneActivity := stringAt(state, "device_state.phone_activity_state")
	eventTS := stringAt(state, "diagnostics.timestamps.device_event_timestamp_utc")

	var baroASL float64
	baroOK := false
	if pressOK && seaOK {
		baroASL, baroOK = barometricAltitude(devicePressure, seaLevelPressure)
	}

	var reliableASL float64
	reliableOK := false
	switch {
	case baroOK:
		reliableASL, reliableOK = baroASL, true
		result["altitude_source"] = "Barometer-Only"
	case altOK:
		reliableASL, reliableOK = altitudeASL, true
		result["altitude_source"] = "GPS+Baro (Fused)"
	}

	if reliableOK && elevOK {
		result["altitude_above_ground_level_meters"] = roundOne(reliableASL - groundElevation)
	}

	// Surface altitude blends GPS when accurate, barometer otherwise.
	var blended float64
	blendedOK := false
	if accOK && gpsAccuracy < 75 && altOK {
		blended, blendedOK = altitudeASL, true
	} else if baroOK {
		blended, blendedOK = baroASL, true
	}

	history := floatSlice(profile["surface_altitude_history"])
	if blendedOK {
		history = append(history, blended)
		if len(history) > profileHistoryLength {
			history = history[len(history)-profileHistoryLength:]
		}
		profile["surface_altitude_history"] = history
	}
	if len(history) > 0 && blendedOK {
		surface := stat.Mean(history, nil)
		result["height_above_surface_meters"] = roundOne(blended - surface)
	}

	grounded := altOK && elevOK &&
		math.Abs(altitudeASL-groundElevation) < groundLockGPSErrorMeters

	if phoneActivity == "Stable" && grounded && pressOK {
		profile["ground_reference_pressure_hpa"] = devicePressure
		profile["last_ground_reference_ts"] = eventTS
	}

	refPressure, refOK := toFloat(profile["ground_reference_pressure_hpa"])
	refTS, _ := profile["last_ground_reference_ts"].(string)

	if refOK && refTS != "" && eventTS != "" {
		refAt, refErr := timefmt.ParseDisplay(refTS)
		evtAt, evtErr := timefmt.ParseDisplay(eventTS)
		if refErr != nil || evtErr != nil {
			refOK = false
		} else if evtAt.Sub(refAt) > refPressureExpiry {
			delete(profile, "ground_reference_pressure_hpa")
			delete(profile, "last_ground_reference_ts")
			refOK = false
		}
	}

	if refOK && pressOK {
		relative := (refPressure - devicePressure) * metersPerHPa
		result["relative_altitude_change_meters"] = roundOne(relative)
		if math.Abs(relative) > 1.5 {
			result["estimated_floor"] = int(math.Round(relative / floorHeightMeters))
		} else {
			result["estimated_floor"] = 0
		}
	}

	return result, profile
}

func roundOne(v float64) float64 {
	return math.Round(v*10) / 10
}
