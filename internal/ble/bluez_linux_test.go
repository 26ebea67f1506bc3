//go:build linux

package ble

import "testing"

func TestPowerState(t *testing.T) {
	tests := map[string]AdapterState{
		"on":           StateOn,
		"off":          StateOff,
		"off-enabling": StateTurningOn,
		"on-disabling": StateTurningOff,
		"off-blocked":  StateOff,
	}
	for in, want := range tests {
		if got := powerState(in); got != want {
			t.Errorf("powerState(%q) = %v, want %v", in, got, want)
		}
	}
}
