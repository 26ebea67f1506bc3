package ble

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/blebeacon/blebeacon/internal/ble/ibeacon"
	"github.com/blebeacon/blebeacon/internal/ble/region"
)

// Scan status strings returned to callers.
const (
	StatusScannerStarted    = "Scanner started"
	StatusScanningIBeacons  = "Scanning for iBeacons"
	StatusScannerStopped    = "Scanner stopped"
	StatusScannerNotStarted = "Scanner not started"
)

// ManufacturerFilter admits records carrying manufacturer data for
// CompanyID whose leading bytes equal Data.
type ManufacturerFilter struct {
	CompanyID uint16
	Data      []byte
}

// ScanFilters select which records a scan delivers. Set filters are ANDed;
// with none set every record is admitted.
type ScanFilters struct {
	ServiceUUID  *uuid.UUID
	Manufacturer *ManufacturerFilter
}

// Admit reports whether rec passes every set filter.
func (f ScanFilters) Admit(rec ScanRecord) bool {
	if f.ServiceUUID != nil {
		found := false
		for _, id := range rec.ServiceUUIDs {
			if id == *f.ServiceUUID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if m := f.Manufacturer; m != nil {
		data, ok := rec.ManufacturerData[m.CompanyID]
		if !ok || !bytes.HasPrefix(data, m.Data) {
			return false
		}
	}
	return true
}

// Empty reports whether no filter is set.
func (f ScanFilters) Empty() bool {
	return f.ServiceUUID == nil && f.Manufacturer == nil
}

// ScanOptions configure a ScanSession.
type ScanOptions struct {
	RecentDevices int // size of the recent-device cache, 0 disables it
}

// ScanSession owns the single active scan and turns its records into
// events. Starting a scan while one runs stops the old one first.
type ScanSession struct {
	adapter   Adapter
	power     *PowerTracker
	matcher   *region.Matcher
	sink      EventSink
	companyID *atomic.Uint32
	recent    *lru.Cache

	mu     sync.Mutex
	active *session
	seq    uint64
}

// session is one started scan. Its handler drops everything once stopped.
type session struct {
	s       *ScanSession
	id      uint64
	scanner Scanner
	filters ScanFilters

	// mu orders record delivery against stop.
	mu      sync.Mutex
	stopped bool
}

// NewScanSession creates an idle session. companyID is read on every record
// so changes made while scanning apply immediately.
func NewScanSession(adapter Adapter, power *PowerTracker, matcher *region.Matcher, sink EventSink, companyID *atomic.Uint32, opts ScanOptions) *ScanSession {
	if power == nil {
		power = NewPowerTracker(nil)
	}
	if matcher == nil {
		matcher = region.NewMatcher()
	}
	if sink == nil {
		sink = discardSink{}
	}
	if companyID == nil {
		companyID = new(atomic.Uint32)
	}
	s := &ScanSession{
		adapter:   adapter,
		power:     power,
		matcher:   matcher,
		sink:      sink,
		companyID: companyID,
	}
	if opts.RecentDevices > 0 {
		cache, err := lru.New(opts.RecentDevices)
		if err == nil {
			s.recent = cache
		}
	}
	return s
}

// Start replaces the active scan with a new one using filters and settings.
func (s *ScanSession) Start(filters ScanFilters, settings ScanSettings) error {
	if s.adapter == nil {
		return ErrAdapterUnavailable
	}
	if s.power.Disabled() {
		return ErrAdapterDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		slog.Info("[SCAN] stopping previous scan", "session", s.active.id)
		s.active.stop()
		s.active = nil
	}

	scanner, err := s.adapter.Scanner()
	if err != nil || scanner == nil {
		slog.Warn("[SCAN] scanner unavailable", "error", err)
		return ErrScannerUnavailable
	}

	s.seq++
	sess := &session{s: s, id: s.seq, scanner: scanner, filters: filters}
	if err := scanner.Start(filters, settings, sess); err != nil {
		return fmt.Errorf("ble: start scan: %w", err)
	}
	s.active = sess
	slog.Info("[SCAN] started", "session", sess.id, "filtered", !filters.Empty(), "mode", settings.Mode)
	return nil
}

// Stop ends the active scan. It reports whether a scan was running.
func (s *ScanSession) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	s.active.stop()
	slog.Info("[SCAN] stopped", "session", s.active.id)
	s.active = nil
	return true
}

// Active reports whether a scan is running.
func (s *ScanSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// RecentDevices returns the last device-found record of each recently seen
// address, most recent first.
func (s *ScanSession) RecentDevices() []DeviceFound {
	if s.recent == nil {
		return nil
	}
	keys := s.recent.Keys()
	out := make([]DeviceFound, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := s.recent.Peek(keys[i]); ok {
			out = append(out, v.(DeviceFound))
		}
	}
	return out
}

// stop halts the platform scan, then marks the session defunct so records
// already in flight are dropped.
func (sess *session) stop() {
	if err := sess.scanner.Stop(); err != nil {
		slog.Warn("[SCAN] stop failed", "session", sess.id, "error", err)
	}
	sess.mu.Lock()
	sess.stopped = true
	sess.mu.Unlock()
}

func (sess *session) HandleResult(rec ScanRecord) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.stopped {
		return
	}
	sess.s.process(rec)
}

func (sess *session) HandleBatch(recs []ScanRecord) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, rec := range recs {
		if sess.stopped {
			return
		}
		sess.s.process(rec)
	}
}

func (sess *session) HandleFailure(err error) {
	slog.Error("[SCAN] scan failed", "session", sess.id, "error", err)
}

// process turns one record into a device-found event and, when it carries
// an iBeacon, region events.
func (s *ScanSession) process(rec ScanRecord) {
	companyID := uint16(s.companyID.Load())

	found := DeviceFound{
		ServiceUUIDs:  make([]string, 0, len(rec.ServiceUUIDs)),
		RSSI:          rec.RSSI,
		TxPower:       rec.TxPower,
		DeviceName:    rec.Name,
		AdvFlags:      rec.Flags,
		DeviceAddress: rec.Address,
	}
	for _, id := range rec.ServiceUUIDs {
		found.ServiceUUIDs = append(found.ServiceUUIDs, id.String())
	}
	if data, ok := rec.ManufacturerData[companyID]; ok {
		found.CompanyID = &companyID
		found.ManufData = Bytes(data)
	}

	var events []Event
	if data, ok := rec.ManufacturerData[ibeacon.AppleCompanyID]; ok {
		if b, ok := ibeacon.Decode(ibeacon.AppleCompanyID, data); ok {
			obs := ibeacon.Observation{Beacon: b, RSSI: rec.RSSI}
			found.BeaconData = beaconData(b)
			if d, ok := finite(ibeacon.Distance(obs.RSSI, int(b.MeasuredPower))); ok {
				found.Distance = &d
			}
			events = regionEvents(s.matcher.Match(obs))
		}
	}

	slog.Debug("[SCAN] device found", "address", rec.Address, "rssi", rec.RSSI, "beacon", found.BeaconData != nil)
	if s.recent != nil && rec.Address != "" {
		s.recent.Add(rec.Address, found)
	}
	s.sink.Emit(Event{Name: EventDeviceFound, Payload: found})
	for _, ev := range events {
		s.sink.Emit(ev)
	}
}
