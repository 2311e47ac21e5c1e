// Package aqi converts particulate concentrations to US AQI values and maps
// AQI values to their EPA categories.
package aqi

import "math"

// pm25Breakpoints are the EPA 24-hour PM2.5 breakpoints: concentration range
// to index range.
var pm25Breakpoints = []struct {
	cLow, cHigh float64
	iLow, iHigh float64
}{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

// CalculatePM25 computes the US AQI from a PM2.5 concentration in μg/m³.
// Concentrations beyond the top breakpoint saturate at 500.
func CalculatePM25(pm25 float32) int32 {
	pm := float64(pm25)
	if pm < 0 {
		return 0
	}
	for _, bp := range pm25Breakpoints {
		if pm <= bp.cHigh {
			aqi := (bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow)*(pm-bp.cLow) + bp.iLow
			return int32(math.Round(aqi))
		}
	}
	return 500
}

// GetCategory returns the EPA category name for an AQI value.
func GetCategory(aqi int32) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Moderate"
	case aqi <= 150:
		return "Unhealthy for Sensitive Groups"
	case aqi <= 200:
		return "Unhealthy"
	case aqi <= 300:
		return "Very Unhealthy"
	default:
		return "Hazardous"
	}
}

// GetCategoryColor returns the standard EPA display color for an AQI value.
func GetCategoryColor(aqi int32) string {
	switch {
	case aqi <= 50:
		return "#00e400" // Green
	case aqi <= 100:
		return "#ffff00" // Yellow
	case aqi <= 150:
		return "#ff7e00" // Orange
	case aqi <= 200:
		return "#ff0000" // Red
	case aqi <= 300:
		return "#99004c" // Purple
	default:
		return "#7e0023" // Maroon
	}
}
