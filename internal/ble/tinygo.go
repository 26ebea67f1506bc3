package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/blebeacon/blebeacon/internal/ble/adv"
)

// PowerControl reads and changes the adapter power state. tinygo/bluetooth
// has no portable power API, so it is provided per platform.
type PowerControl interface {
	State() (AdapterState, error)
	SetPowered(on bool) error
	Watch(fn func(AdapterState)) error
	Close() error
}

// TinyGoAdapter implements Adapter on tinygo-org/bluetooth. The stack
// exposes a single advertisement per adapter, so only one advertiser can be
// started at a time; further starts fail with ErrTooManyAdvertisers.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	power   PowerControl

	// mu protects the fields below.
	mu      sync.Mutex
	enabled bool
	owner   *tinyGoAdvertiser // holder of the default advertisement
	scanner *tinyGoScanner
}

// NewTinyGoAdapter creates an adapter on bluetooth.DefaultAdapter. adapterID
// selects the BlueZ adapter (e.g. "hci0") where the platform supports it.
func NewTinyGoAdapter(adapterID string) *TinyGoAdapter {
	a := &TinyGoAdapter{adapter: bluetooth.DefaultAdapter}
	power, err := platformPower(adapterID)
	if err != nil {
		slog.Warn("[BLE] platform power control unavailable, using stack state", "error", err)
		power = &stackPower{a: a}
	}
	a.power = power
	a.scanner = &tinyGoScanner{stack: a.adapter}
	return a
}

// enable brings up the bluetooth stack once.
func (a *TinyGoAdapter) enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	a.enabled = true
	return nil
}

func (a *TinyGoAdapter) State() (AdapterState, error) { return a.power.State() }

func (a *TinyGoAdapter) Enable() error { return a.power.SetPowered(true) }

func (a *TinyGoAdapter) Disable() error { return a.power.SetPowered(false) }

func (a *TinyGoAdapter) WatchState(fn func(AdapterState)) error { return a.power.Watch(fn) }

func (a *TinyGoAdapter) NewAdvertiser() (Advertiser, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	return &tinyGoAdvertiser{a: a}, nil
}

func (a *TinyGoAdapter) Scanner() (Scanner, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	return a.scanner, nil
}

// Close releases the power control.
func (a *TinyGoAdapter) Close() error {
	return a.power.Close()
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoAdvertiser struct {
	a       *TinyGoAdapter
	stopped bool // guarded by a.mu
}

func (t *tinyGoAdvertiser) Start(settings AdvertiseSettings, data AdvertiseData, done func(AdvertiseSettings, error)) {
	go func() {
		if err := t.start(settings, data); err != nil {
			done(AdvertiseSettings{}, err)
			return
		}
		done(appliedSettings(settings), nil)
	}()
}

func (t *tinyGoAdvertiser) start(settings AdvertiseSettings, data AdvertiseData) error {
	t.a.mu.Lock()
	defer t.a.mu.Unlock()

	if t.stopped {
		return ErrCanceled
	}
	switch t.a.owner {
	case nil:
	case t:
		return ErrAlreadyStarted
	default:
		return ErrTooManyAdvertisers
	}

	name := ""
	if data.IncludeDeviceName {
		name, _ = os.Hostname()
	}
	if !legacyPacket(data, name).Fits() {
		return ErrDataTooLarge
	}

	if settings.TxPower != DefaultAdvertiseSettings().TxPower {
		slog.Debug("[ADV] tx power level not supported by stack, ignoring", "txPower", settings.TxPower)
	}
	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		LocalName:         name,
		Interval:          bluetooth.NewDuration(settings.Mode.Interval()),
	}
	if settings.Connectable {
		opts.AdvertisementType = bluetooth.AdvertisingTypeInd
	}
	for _, id := range data.ServiceUUIDs {
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, bluetooth.NewUUID([16]byte(id)))
	}
	if len(data.ServiceData) > 0 && len(data.ServiceUUIDs) > 0 {
		opts.ServiceData = []bluetooth.ServiceDataElement{{
			UUID: bluetooth.NewUUID([16]byte(data.ServiceUUIDs[0])),
			Data: data.ServiceData,
		}}
	}
	for _, md := range data.Manufacturer {
		opts.ManufacturerData = append(opts.ManufacturerData, bluetooth.ManufacturerDataElement{
			CompanyID: md.CompanyID,
			Data:      md.Data,
		})
	}

	advertisement := t.a.adapter.DefaultAdvertisement()
	if err := advertisement.Configure(opts); err != nil {
		return mapAdvertiseError(err)
	}
	if err := advertisement.Start(); err != nil {
		return mapAdvertiseError(err)
	}
	t.a.owner = t
	return nil
}

func (t *tinyGoAdvertiser) Stop() error {
	t.a.mu.Lock()
	defer t.a.mu.Unlock()
	t.stopped = true
	if t.a.owner != t {
		return nil
	}
	t.a.owner = nil
	return t.a.adapter.DefaultAdvertisement().Stop()
}

// appliedSettings reports what the stack actually advertises with. The
// stack has no tx power control, and BlueZ registers every advertisement as
// a non-connectable broadcast.
func appliedSettings(requested AdvertiseSettings) AdvertiseSettings {
	applied := requested
	applied.TxPower = DefaultAdvertiseSettings().TxPower
	if advertiseBroadcastOnly {
		applied.Connectable = false
	}
	return applied
}

// legacyPacket lays data out the way it goes on the air, for size checks.
func legacyPacket(data AdvertiseData, name string) adv.Packet {
	p := adv.Packet(nil).AppendFlags(adv.FlagsGeneralLEOnly).AppendUUIDs(data.ServiceUUIDs...)
	if len(data.ServiceData) > 0 && len(data.ServiceUUIDs) > 0 {
		p = p.AppendServiceData(data.ServiceUUIDs[0], data.ServiceData)
	}
	for _, md := range data.Manufacturer {
		p = p.AppendManufacturerData(md.CompanyID, md.Data)
	}
	if data.IncludeTxPower {
		p = p.AppendTxPower(0)
	}
	if name != "" {
		p = p.AppendCompleteName(name)
	}
	return p
}

// mapAdvertiseError classifies stack errors into advertise failure kinds.
func mapAdvertiseError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "notsupported"):
		return fmt.Errorf("%w: %v", ErrFeatureUnsupported, err)
	case strings.Contains(msg, "maximum"), strings.Contains(msg, "too many"):
		return fmt.Errorf("%w: %v", ErrTooManyAdvertisers, err)
	case strings.Contains(msg, "already"):
		return fmt.Errorf("%w: %v", ErrAlreadyStarted, err)
	case strings.Contains(msg, "too large"), strings.Contains(msg, "invalid length"):
		return fmt.Errorf("%w: %v", ErrDataTooLarge, err)
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

// scanStack is the part of bluetooth.Adapter the scanner drives.
type scanStack interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

const (
	stopScanRetry   = 20 * time.Millisecond
	stopScanTimeout = 5 * time.Second
)

// tinyGoScanner runs bluetooth.Adapter.Scan, which blocks until StopScan.
type tinyGoScanner struct {
	stack scanStack

	mu   sync.Mutex
	done chan struct{} // closed when the scan goroutine returns
	quit chan struct{} // stops the batch flusher
}

func (s *tinyGoScanner) Start(filters ScanFilters, settings ScanSettings, h ScanHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errors.New("ble: scan already running")
	}
	if settings.MatchMode != 0 || settings.NumOfMatches != 0 {
		slog.Debug("[SCAN] match settings not supported by stack, ignoring")
	}

	deliver := h.HandleResult
	s.quit = make(chan struct{})
	if settings.ReportDelay > 0 {
		b := &batcher{h: h}
		deliver = b.add
		go b.run(settings.ReportDelay, s.quit)
	}

	done := make(chan struct{})
	s.done = done
	go func() {
		defer close(done)
		err := s.stack.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			rec := scanRecord(res, filters)
			if filters.Admit(rec) {
				deliver(rec)
			}
		})
		if err != nil {
			h.HandleFailure(err)
		}
	}()
	return nil
}

func (s *tinyGoScanner) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return nil
	}
	err := s.stopStack()
	close(s.quit)
	s.done, s.quit = nil, nil
	return err
}

// stopStack cancels the running scan and waits for Scan to return. The
// stack rejects StopScan until Scan has set up its cancel path, so a
// rejected stop is retried while the scan goroutine is still running.
func (s *tinyGoScanner) stopStack() error {
	deadline := time.NewTimer(stopScanTimeout)
	defer deadline.Stop()
	retry := time.NewTicker(stopScanRetry)
	defer retry.Stop()

	var lastErr error
	for {
		select {
		case <-s.done:
			return nil
		default:
		}
		if lastErr = s.stack.StopScan(); lastErr == nil {
			select {
			case <-s.done:
				return nil
			case <-deadline.C:
				return errors.New("ble: scan did not stop")
			}
		}
		select {
		case <-s.done:
			return nil
		case <-retry.C:
		case <-deadline.C:
			return fmt.Errorf("ble: stop scan: %w", lastErr)
		}
	}
}

// batcher accumulates records and flushes them every report delay.
type batcher struct {
	h ScanHandler

	mu   sync.Mutex
	recs []ScanRecord
}

func (b *batcher) add(rec ScanRecord) {
	b.mu.Lock()
	b.recs = append(b.recs, rec)
	b.mu.Unlock()
}

func (b *batcher) run(every time.Duration, quit <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			b.mu.Lock()
			recs := b.recs
			b.recs = nil
			b.mu.Unlock()
			if len(recs) > 0 {
				b.h.HandleBatch(recs)
			}
		}
	}
}

// scanRecord converts a stack scan result. Raw payload bytes are parsed when
// the stack provides them; otherwise the structured service UUID list is
// used, falling back to probing the service UUID filter.
func scanRecord(res bluetooth.ScanResult, filters ScanFilters) ScanRecord {
	rec := ScanRecord{
		Address:          res.Address.String(),
		RSSI:             int(res.RSSI),
		Name:             res.LocalName(),
		ManufacturerData: make(map[uint16][]byte),
	}
	for _, md := range res.ManufacturerData() {
		rec.ManufacturerData[md.CompanyID] = md.Data
	}

	if raw := res.Bytes(); raw != nil {
		p := adv.Packet(raw)
		rec.ServiceUUIDs = p.UUIDs()
		if tx, ok := p.TxPower(); ok {
			rec.TxPower = &tx
		}
		if f, ok := p.Flags(); ok {
			flags := int(f)
			rec.Flags = &flags
		}
		return rec
	}

	for _, u := range res.ServiceUUIDs() {
		if id, err := uuid.Parse(u.String()); err == nil {
			rec.ServiceUUIDs = append(rec.ServiceUUIDs, id)
		}
	}
	if len(rec.ServiceUUIDs) == 0 {
		if id := filters.ServiceUUID; id != nil && res.HasServiceUUID(bluetooth.NewUUID([16]byte(*id))) {
			rec.ServiceUUIDs = []uuid.UUID{*id}
		}
	}
	return rec
}

// stackPower tracks power through the bluetooth stack alone: the adapter is
// on once the stack has been enabled, and cannot be turned off.
type stackPower struct {
	a *TinyGoAdapter

	mu sync.Mutex
	fn func(AdapterState)
}

func (p *stackPower) State() (AdapterState, error) {
	p.a.mu.Lock()
	defer p.a.mu.Unlock()
	if p.a.enabled {
		return StateOn, nil
	}
	return StateOff, nil
}

func (p *stackPower) SetPowered(on bool) error {
	if !on {
		return ErrFeatureUnsupported
	}
	if err := p.a.enable(); err != nil {
		return err
	}
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		fn(StateOn)
	}
	return nil
}

func (p *stackPower) Watch(fn func(AdapterState)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn = fn
	return nil
}

func (p *stackPower) Close() error { return nil }
