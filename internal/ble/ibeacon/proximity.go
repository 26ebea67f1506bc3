package ibeacon

import "math"

// Proximity is a coarse distance category.
type Proximity string

const (
	ProximityImmediate Proximity = "immediate"
	ProximityNear      Proximity = "near"
	ProximityFar       Proximity = "far"
)

// Category thresholds in meters.
const (
	immediateBelow = 0.5
	nearBelow      = 3.0
)

// Estimate is a derived distance and its category.
type Estimate struct {
	Distance  float64
	Proximity Proximity
}

// Distance converts an RSSI reading into meters using the empirical
// path-loss model calibrated by measuredPower (the RSSI at 1 meter).
// The constants are shared with deployed clients and must not change.
//
// A measuredPower of 0 carries no calibration; the result is +Inf.
func Distance(rssi, measuredPower int) float64 {
	if measuredPower == 0 {
		return math.Inf(1)
	}
	ratio := float64(rssi) / float64(measuredPower)
	if ratio < 1.0 {
		return math.Pow(ratio, 10)
	}
	return 0.89976*math.Pow(ratio, 7.7095) + 0.111
}

// ProximityFor buckets a distance in meters.
func ProximityFor(distance float64) Proximity {
	switch {
	case distance < immediateBelow:
		return ProximityImmediate
	case distance < nearBelow:
		return ProximityNear
	default:
		return ProximityFar
	}
}

// Estimate computes the distance and proximity for one observation.
func (o Observation) Estimate() Estimate {
	d := Distance(o.RSSI, int(o.MeasuredPower))
	return Estimate{Distance: d, Proximity: ProximityFor(d)}
}
