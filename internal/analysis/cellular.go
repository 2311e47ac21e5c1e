package analysis

import "math"

// Connection states emitted by the cellular health model.
const (
	StateStable    = "Stable"
	StateDegrading = "Degrading"
	StateCritical  = "Critical"
)

const scoreSmoothing = 0.6

// Heuristic model parameters, recalibrated against field captures.
var (
	qualityThresholds = struct{ good, fair float64 }{-10, -16}
	qualityScoreMod   = struct{ good, fair, poor float64 }{5, -15, -30}

	strengthThresholds = struct{ good, fair, poor float64 }{-95, -105, -115}
	strengthScoreMod   = struct{ good, fair, poor, critical float64 }{5, -20, -35, -50}

	stateThresholds = struct{ critical, degrading float64 }{60, 85}

	baseBandwidthMbps = map[string]float64{
		"NR(5G)":    40,
		"LTE":       25,
		"UMTS/HSPA": 4,
		"Other":     2,
	}
	qualityMultiplier  = struct{ good, fair, poor, unknown float64 }{1.0, 0.6, 0.25, 0.4}
	strengthMultiplier = struct{ good, fair, poor, critical, unknown float64 }{1.0, 0.7, 0.3, 0.1, 0.5}
)

// Cellular scores connection health from signal quality and strength with an
// EMA over the previous score, classifies the connection state, and predicts
// usable upload bandwidth. The returned profile carries the smoothed score.
func Cellular(state map[string]any, priorProfile map[string]any) (map[string]any, map[string]any) {
	strength, strengthOK := floatAt(state, "network.cellular.signal_strength_in_dbm")
	quality, qualityOK := floatAt(state, "network.cellular.quality")
	cellType := stringAt(state, "network.cellular.type")

	score := 100.0
	if qualityOK {
		switch {
		case quality > qualityThresholds.good:
			score += qualityScoreMod.good
		case quality > qualityThresholds.fair:
			score += qualityScoreMod.fair
		default:
			score += qualityScoreMod.poor
		}
	}
	if strengthOK {
		switch {
		case strength > strengthThresholds.good:
			score += strengthScoreMod.good
		case strength > strengthThresholds.fair:
			score += strengthScoreMod.fair
		case strength > strengthThresholds.poor:
			score += strengthScoreMod.poor
		default:
			score += strengthScoreMod.critical
		}
	}

	previous := 100.0
	if p, ok := toFloat(priorProfile["score"]); ok {
		previous = p
	}
	smoothed := previous*(1-scoreSmoothing) + score*scoreSmoothing

	connState := StateStable
	switch {
	case smoothed < stateThresholds.critical:
		connState = StateCritical
	case smoothed < stateThresholds.degrading:
		connState = StateDegrading
	}

	qMult := qualityMultiplier.unknown
	if qualityOK {
		switch {
		case quality > qualityThresholds.good:
			qMult = qualityMultiplier.good
		case quality > qualityThresholds.fair:
			qMult = qualityMultiplier.fair
		default:
			qMult = qualityMultiplier.poor
		}
	}
	sMult := strengthMultiplier.unknown
	if strengthOK {
		switch {
		case strength > strengthThresholds.good:
			sMult = strengthMultiplier.good
		case strength > strengthThresholds.fair:
			sMult = strengthMultiplier.fair
		case strength > strengthThresholds.poor:
			sMult = strengthMultiplier.poor
		default:
			sMult = strengthMultiplier.critical
		}
	}

	base, ok := baseBandwidthMbps[cellType]
	if !ok {
		base = baseBandwidthMbps["Other"]
	}
	predicted := base * qMult * sMult

	result := map[string]any{
		"health_score":          int(math.Round(smoothed)),
		"connection_state":      connState,
		"predicted_upload_mbps": math.Round(predicted*10) / 10,
	}
	profile := map[string]any{
		"score": smoothed,
		"state": connState,
	}
	return result, profile
}
