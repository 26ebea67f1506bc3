package ibeacon

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestDistanceAtCalibration(t *testing.T) {
	got := Distance(-59, -59)
	if !almostEqual(got, 1.01076) {
		t.Errorf("Distance(-59, -59) = %v, want 1.01076", got)
	}
}

func TestDistanceFarBranch(t *testing.T) {
	got := Distance(-70, -59)
	want := 0.89976*math.Pow(70.0/59.0, 7.7095) + 0.111
	if !almostEqual(got, want) {
		t.Errorf("Distance(-70, -59) = %v, want %v", got, want)
	}
	if got <= 1.01076 {
		t.Errorf("Distance(-70, -59) = %v, want more than the 1 m calibration distance", got)
	}
}

func TestDistanceNearBranch(t *testing.T) {
	got := Distance(-40, -59)
	want := math.Pow(40.0/59.0, 10)
	if !almostEqual(got, want) {
		t.Errorf("Distance(-40, -59) = %v, want %v", got, want)
	}
}

func TestDistanceWithoutCalibration(t *testing.T) {
	if got := Distance(-60, 0); !math.IsInf(got, 1) {
		t.Errorf("Distance(-60, 0) = %v, want +Inf", got)
	}
}

func TestProximityFor(t *testing.T) {
	tests := []struct {
		distance float64
		want     Proximity
	}{
		{0, ProximityImmediate},
		{0.49, ProximityImmediate},
		{0.5, ProximityNear},
		{2.99, ProximityNear},
		{3.0, ProximityFar},
		{42, ProximityFar},
		{math.Inf(1), ProximityFar},
	}
	for _, tt := range tests {
		if got := ProximityFor(tt.distance); got != tt.want {
			t.Errorf("ProximityFor(%v) = %q, want %q", tt.distance, got, tt.want)
		}
	}
}

func TestObservationEstimate(t *testing.T) {
	obs := Observation{Beacon: Beacon{MeasuredPower: -59}, RSSI: -59}
	est := obs.Estimate()
	if est.Proximity != ProximityNear {
		t.Errorf("Estimate().Proximity = %q, want %q", est.Proximity, ProximityNear)
	}
	if est.Distance != Distance(-59, -59) {
		t.Errorf("Estimate().Distance = %v, want %v", est.Distance, Distance(-59, -59))
	}
}
