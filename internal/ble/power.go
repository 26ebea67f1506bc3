package ble

import (
	"log/slog"
	"sync"
)

// PowerTracker records the adapter's last observed power state and emits
// EventBTStatusChange when the adapter settles on or leaves StateOn.
// Transitional states count as enabled for precondition checks but never
// produce an event on their own.
type PowerTracker struct {
	sink EventSink

	mu    sync.Mutex
	state AdapterState
	known bool
}

// NewPowerTracker creates a tracker with no observation yet.
func NewPowerTracker(sink EventSink) *PowerTracker {
	if sink == nil {
		sink = discardSink{}
	}
	return &PowerTracker{sink: sink}
}

// Seed records the initial state without emitting an event.
func (p *PowerTracker) Seed(state AdapterState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.known = true
}

// Observe records a new state reported by the platform.
func (p *PowerTracker) Observe(state AdapterState) {
	p.mu.Lock()
	prev, known := p.state, p.known
	p.state = state
	p.known = true
	p.mu.Unlock()

	slog.Debug("[BLE] adapter state", "from", prev, "to", state)

	wasOn := known && prev == StateOn
	switch {
	case state == StateOn && !wasOn:
		p.sink.Emit(Event{Name: EventBTStatusChange, Payload: BTStatus{Enabled: true}})
	case state != StateOn && wasOn:
		p.sink.Emit(Event{Name: EventBTStatusChange, Payload: BTStatus{Enabled: false}})
	}
}

// Disabled reports whether the last observed state is off or turning off.
// With no observation yet the adapter is assumed usable.
func (p *PowerTracker) Disabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.known && (p.state == StateOff || p.state == StateTurningOff)
}

// State returns the last observed state.
func (p *PowerTracker) State() (AdapterState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.known
}
