package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Status is the lifecycle state of an advertisement handle.
type Status int

const (
	StatusStarting Status = iota
	StatusActive
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusActive:
		return "active"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pending is the single-shot completion of one advertisement start.
type Pending struct {
	id   string
	done chan struct{}
	once sync.Once

	settings AdvertiseSettings
	err      error
}

func newPending(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

// ID returns the advertisement identifier the completion belongs to.
func (p *Pending) ID() string { return p.id }

// Done is closed once the completion is resolved or rejected.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (p *Pending) Result() (AdvertiseSettings, error) {
	return p.settings, p.err
}

// Wait blocks until the platform answers or ctx is done.
func (p *Pending) Wait(ctx context.Context) (AdvertiseSettings, error) {
	select {
	case <-p.done:
		return p.settings, p.err
	case <-ctx.Done():
		return AdvertiseSettings{}, fmt.Errorf("ble: waiting for advertisement %s: %w", p.id, ctx.Err())
	}
}

// complete settles the completion; later calls are ignored.
func (p *Pending) complete(settings AdvertiseSettings, err error) bool {
	settled := false
	p.once.Do(func() {
		p.settings, p.err = settings, err
		close(p.done)
		settled = true
	})
	return settled
}

type handle struct {
	id         string
	advertiser Advertiser
	status     Status
	pending    *Pending
}

// Registry owns the active outgoing advertisements, keyed by identifier.
// At most one handle exists per identifier at any time.
type Registry struct {
	adapter Adapter
	power   *PowerTracker

	// opMu serializes Start and StopAll so platform calls never interleave.
	opMu sync.Mutex

	// mu protects handles; platform callbacks take only mu.
	mu      sync.Mutex
	handles map[string]*handle
}

// NewRegistry creates an empty registry. adapter may be nil when the host
// has no Bluetooth adapter.
func NewRegistry(adapter Adapter, power *PowerTracker) *Registry {
	if power == nil {
		power = NewPowerTracker(nil)
	}
	return &Registry{
		adapter: adapter,
		power:   power,
		handles: make(map[string]*handle),
	}
}

// Start advertises data under id, replacing any advertisement already
// registered for id. The returned completion resolves with the settings in
// effect once the platform confirms, or rejects with a start failure.
func (r *Registry) Start(id string, settings AdvertiseSettings, data AdvertiseData) (*Pending, error) {
	if r.adapter == nil {
		return nil, ErrAdapterUnavailable
	}
	if r.power.Disabled() {
		return nil, ErrAdapterDisabled
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	old := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if old != nil {
		slog.Info("[ADV] replacing advertisement", "id", id)
		r.stopHandle(old)
	}

	advertiser, err := r.adapter.NewAdvertiser()
	if err != nil || advertiser == nil {
		slog.Warn("[ADV] advertiser unavailable", "id", id, "error", err)
		return nil, ErrAdvertiserUnavailable
	}

	h := &handle{
		id:         id,
		advertiser: advertiser,
		status:     StatusStarting,
		pending:    newPending(id),
	}
	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()

	slog.Debug("[ADV] starting", "id", id, "mode", settings.Mode, "txPower", settings.TxPower)
	advertiser.Start(settings, data, func(effective AdvertiseSettings, err error) {
		r.finish(h, effective, err)
	})
	return h.pending, nil
}

// finish applies a platform start callback to h, unless h was replaced or
// stopped in the meantime.
func (r *Registry) finish(h *handle, effective AdvertiseSettings, err error) {
	r.mu.Lock()
	if r.handles[h.id] != h || h.status != StatusStarting {
		r.mu.Unlock()
		slog.Debug("[ADV] dropping stale start callback", "id", h.id)
		return
	}
	if err != nil {
		h.status = StatusFailed
		delete(r.handles, h.id)
	} else {
		h.status = StatusActive
	}
	r.mu.Unlock()

	if err != nil {
		slog.Warn("[ADV] advertising failed", "id", h.id, "error", err)
		h.pending.complete(AdvertiseSettings{}, fmt.Errorf("ble: start advertising %s: %w", h.id, err))
		return
	}
	slog.Info("[ADV] advertising", "id", h.id)
	h.pending.complete(effective, nil)
}

// StopAll stops every registered advertisement and returns their
// identifiers, sorted. It returns an empty list when nothing is registered.
func (r *Registry) StopAll() []string {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*handle)
	r.mu.Unlock()

	ids := make([]string, 0, len(handles))
	for id, h := range handles {
		r.stopHandle(h)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		slog.Info("[ADV] stopped advertisements", "ids", ids)
	}
	return ids
}

// stopHandle stops the platform advertiser of a handle that is no longer
// registered, and discards its completion if the platform never answered.
func (r *Registry) stopHandle(h *handle) {
	if err := h.advertiser.Stop(); err != nil {
		slog.Warn("[ADV] stop failed", "id", h.id, "error", err)
	}
	h.pending.complete(AdvertiseSettings{}, fmt.Errorf("ble: advertisement %s: %w", h.id, ErrCanceled))
}

// Status returns the state of the handle registered for id.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return 0, false
	}
	return h.status, true
}

// IDs returns the registered identifiers, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
