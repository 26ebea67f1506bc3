package ble

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blebeacon/blebeacon/internal/ble/ibeacon"
	"github.com/blebeacon/blebeacon/internal/ble/region"
)

// Beacon defaults used when options leave a field unset.
const (
	DefaultBeaconMajor         = 1
	DefaultBeaconMinor         = 1
	DefaultBeaconMeasuredPower = -59
)

// BroadcastOptions configure a broadcast. Nil fields keep platform defaults.
type BroadcastOptions struct {
	AdvertiseMode       *AdvertiseMode `json:"advertiseMode,omitempty"`
	TxPowerLevel        *TxPowerLevel  `json:"txPowerLevel,omitempty"`
	Connectable         *bool          `json:"connectable,omitempty"`
	IncludeDeviceName   *bool          `json:"includeDeviceName,omitempty"`
	IncludeTxPowerLevel *bool          `json:"includeTxPowerLevel,omitempty"`
}

func (o BroadcastOptions) settings() AdvertiseSettings {
	s := DefaultAdvertiseSettings()
	if o.AdvertiseMode != nil {
		s.Mode = *o.AdvertiseMode
	}
	if o.TxPowerLevel != nil {
		s.TxPower = *o.TxPowerLevel
	}
	if o.Connectable != nil {
		s.Connectable = *o.Connectable
	}
	return s
}

// BeaconOptions configure an iBeacon broadcast. Major and minor wider than
// 16 bits are truncated to their low 16 bits.
type BeaconOptions struct {
	BroadcastOptions
	Major         *int `json:"major,omitempty"`
	Minor         *int `json:"minor,omitempty"`
	MeasuredPower *int `json:"measuredPower,omitempty"`
}

// ScanRequestOptions configure a scan. Nil fields keep platform defaults.
type ScanRequestOptions struct {
	ScanMode        *ScanMode `json:"scanMode,omitempty"`
	MatchMode       *int      `json:"matchMode,omitempty"`
	NumberOfMatches *int      `json:"numberOfMatches,omitempty"`
	ReportDelay     *int      `json:"reportDelay,omitempty"` // milliseconds
}

func (o ScanRequestOptions) settings() ScanSettings {
	s := ScanSettings{Mode: ScanModeLowPower}
	if o.ScanMode != nil {
		s.Mode = *o.ScanMode
	}
	if o.MatchMode != nil {
		s.MatchMode = *o.MatchMode
	}
	if o.NumberOfMatches != nil {
		s.NumOfMatches = *o.NumberOfMatches
	}
	if o.ReportDelay != nil && *o.ReportDelay > 0 {
		s.ReportDelay = time.Duration(*o.ReportDelay) * time.Millisecond
	}
	return s
}

// RegionOptions configure a monitored or ranged region.
type RegionOptions struct {
	Identifier string `json:"identifier,omitempty"`
	Major      *int   `json:"major,omitempty"`
	Minor      *int   `json:"minor,omitempty"`
}

// RegionResponse acknowledges a region operation.
type RegionResponse struct {
	Message    string `json:"message"`
	Identifier string `json:"identifier"`
}

// RegionInfo describes a region for listing.
type RegionInfo struct {
	Identifier string  `json:"identifier"`
	UUID       string  `json:"uuid"`
	Major      *uint16 `json:"major,omitempty"`
	Minor      *uint16 `json:"minor,omitempty"`
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	CompanyID     uint16
	RecentDevices int
	ReportDelay   time.Duration // used when a scan request leaves reportDelay unset
}

// Manager exposes advertising, scanning, region and adapter operations
// over one adapter.
type Manager struct {
	adapter     Adapter
	power       *PowerTracker
	companyID   atomic.Uint32
	reportDelay time.Duration

	registry *Registry
	scan     *ScanSession
	matcher  *region.Matcher
}

// NewManager wires the registry, scan session and region matcher to
// adapter. A nil adapter yields a manager whose operations fail with
// ErrAdapterUnavailable.
func NewManager(adapter Adapter, sink EventSink, opts ManagerOptions) *Manager {
	if sink == nil {
		sink = discardSink{}
	}
	m := &Manager{
		adapter:     adapter,
		power:       NewPowerTracker(sink),
		matcher:     region.NewMatcher(),
		reportDelay: opts.ReportDelay,
	}
	m.companyID.Store(uint32(opts.CompanyID))
	m.registry = NewRegistry(adapter, m.power)
	m.scan = NewScanSession(adapter, m.power, m.matcher, sink, &m.companyID, ScanOptions{RecentDevices: opts.RecentDevices})

	if adapter != nil {
		if state, err := adapter.State(); err == nil {
			m.power.Seed(state)
		} else {
			slog.Warn("[BLE] reading adapter state", "error", err)
		}
		if err := adapter.WatchState(m.power.Observe); err != nil {
			slog.Warn("[BLE] watching adapter state", "error", err)
		}
	}
	return m
}

// Registry returns the advertisement registry.
func (m *Manager) Registry() *Registry { return m.registry }

// ScanSession returns the scan session.
func (m *Manager) ScanSession() *ScanSession { return m.scan }

// SetCompanyID sets the manufacturer ID used for custom payloads.
func (m *Manager) SetCompanyID(id uint16) {
	m.companyID.Store(uint32(id))
}

// CompanyID returns the manufacturer ID used for custom payloads.
func (m *Manager) CompanyID() uint16 {
	return uint16(m.companyID.Load())
}

// Broadcast advertises service UUID id with optional service data,
// replacing any advertisement already registered under id.
func (m *Manager) Broadcast(id string, serviceData []byte, opts BroadcastOptions) (*Pending, error) {
	if m.adapter == nil {
		return nil, ErrAdapterUnavailable
	}
	svc, err := parseUUID(id)
	if err != nil {
		return nil, err
	}
	data := AdvertiseData{
		ServiceUUIDs:      []uuid.UUID{svc},
		ServiceData:       serviceData,
		IncludeDeviceName: deref(opts.IncludeDeviceName),
		IncludeTxPower:    deref(opts.IncludeTxPowerLevel),
	}
	slog.Info("[ADV] broadcast", "id", id, "serviceData", len(serviceData))
	return m.registry.Start(id, opts.settings(), data)
}

// BroadcastAsBeacon advertises an iBeacon under its uuid string.
func (m *Manager) BroadcastAsBeacon(id string, opts BeaconOptions) (*Pending, error) {
	if m.adapter == nil {
		return nil, ErrAdapterUnavailable
	}
	u, err := parseUUID(id)
	if err != nil {
		return nil, err
	}
	b := ibeacon.Beacon{
		UUID:          u,
		Major:         uint16(intOr(opts.Major, DefaultBeaconMajor)),
		Minor:         uint16(intOr(opts.Minor, DefaultBeaconMinor)),
		MeasuredPower: int8(intOr(opts.MeasuredPower, DefaultBeaconMeasuredPower)),
	}
	data := AdvertiseData{
		Manufacturer: []ManufacturerData{{CompanyID: ibeacon.AppleCompanyID, Data: ibeacon.Encode(b)}},
	}
	slog.Info("[ADV] broadcast beacon", "uuid", u, "major", b.Major, "minor", b.Minor, "measuredPower", b.MeasuredPower)
	return m.registry.Start(id, opts.settings(), data)
}

// StopBroadcast stops every advertisement and returns their identifiers.
func (m *Manager) StopBroadcast() ([]string, error) {
	if m.adapter == nil {
		return nil, ErrAdapterUnavailable
	}
	return m.registry.StopAll(), nil
}

// Scan starts a scan for records carrying payload as the leading bytes of
// the manufacturer data under the configured company ID. A nil payload
// admits every record.
func (m *Manager) Scan(payload []byte, opts ScanRequestOptions) (string, error) {
	var filters ScanFilters
	if payload != nil {
		filters.Manufacturer = &ManufacturerFilter{CompanyID: m.CompanyID(), Data: payload}
	}
	return m.startScan(filters, opts, StatusScannerStarted)
}

// ScanByService starts a scan for records advertising service UUID id.
func (m *Manager) ScanByService(id string, opts ScanRequestOptions) (string, error) {
	svc, err := parseUUID(id)
	if err != nil {
		return "", err
	}
	return m.startScan(ScanFilters{ServiceUUID: &svc}, opts, StatusScannerStarted)
}

// ScanForIBeacons starts an unfiltered scan; iBeacons are picked out when
// records are decoded. id is validated when given but does not filter.
func (m *Manager) ScanForIBeacons(id string, opts ScanRequestOptions) (string, error) {
	if id != "" {
		if _, err := parseUUID(id); err != nil {
			return "", err
		}
	}
	return m.startScan(ScanFilters{}, opts, StatusScanningIBeacons)
}

func (m *Manager) startScan(filters ScanFilters, opts ScanRequestOptions, status string) (string, error) {
	settings := opts.settings()
	if opts.ReportDelay == nil {
		settings.ReportDelay = m.reportDelay
	}
	if err := m.scan.Start(filters, settings); err != nil {
		return "", err
	}
	return status, nil
}

// StopScan stops the active scan. Stopping an idle session succeeds.
func (m *Manager) StopScan() (string, error) {
	if m.adapter == nil {
		return "", ErrAdapterUnavailable
	}
	if m.scan.Stop() {
		return StatusScannerStopped, nil
	}
	return StatusScannerNotStarted, nil
}

// StartMonitoringForRegion adds a monitored region.
func (m *Manager) StartMonitoringForRegion(id string, opts RegionOptions) (RegionResponse, error) {
	r, err := newRegion(id, opts)
	if err != nil {
		return RegionResponse{}, err
	}
	m.matcher.Monitored.Add(r)
	return RegionResponse{Message: "Started monitoring region", Identifier: r.Identifier}, nil
}

// StopMonitoringForRegion removes a monitored region.
func (m *Manager) StopMonitoringForRegion(identifier string) (RegionResponse, error) {
	if _, err := m.matcher.Monitored.Remove(identifier); err != nil {
		return RegionResponse{}, err
	}
	return RegionResponse{Message: "Stopped monitoring region", Identifier: identifier}, nil
}

// MonitoredRegions lists the monitored regions.
func (m *Manager) MonitoredRegions() []RegionInfo {
	return regionInfos(m.matcher.Monitored.List())
}

// StartRangingBeaconsInRegion adds a ranged region.
func (m *Manager) StartRangingBeaconsInRegion(id string, opts RegionOptions) (RegionResponse, error) {
	r, err := newRegion(id, opts)
	if err != nil {
		return RegionResponse{}, err
	}
	m.matcher.Ranged.Add(r)
	return RegionResponse{Message: "Started ranging beacons", Identifier: r.Identifier}, nil
}

// StopRangingBeaconsInRegion removes a ranged region.
func (m *Manager) StopRangingBeaconsInRegion(identifier string) (RegionResponse, error) {
	if _, err := m.matcher.Ranged.Remove(identifier); err != nil {
		return RegionResponse{}, err
	}
	return RegionResponse{Message: "Stopped ranging beacons", Identifier: identifier}, nil
}

// RangedRegions lists the ranged regions.
func (m *Manager) RangedRegions() []RegionInfo {
	return regionInfos(m.matcher.Ranged.List())
}

// EnableAdapter requests power on unless the adapter is on or turning on.
func (m *Manager) EnableAdapter() error {
	if m.adapter == nil {
		return ErrAdapterUnavailable
	}
	state, err := m.adapter.State()
	if err != nil {
		return fmt.Errorf("ble: adapter state: %w", err)
	}
	if state == StateOn || state == StateTurningOn {
		return nil
	}
	return m.adapter.Enable()
}

// DisableAdapter requests power off unless the adapter is off or turning off.
func (m *Manager) DisableAdapter() error {
	if m.adapter == nil {
		return ErrAdapterUnavailable
	}
	state, err := m.adapter.State()
	if err != nil {
		return fmt.Errorf("ble: adapter state: %w", err)
	}
	if state == StateOff || state == StateTurningOff {
		return nil
	}
	return m.adapter.Disable()
}

// AdapterState returns the adapter state name, e.g. "STATE_ON".
func (m *Manager) AdapterState() (string, error) {
	if m.adapter == nil {
		return "", ErrAdapterUnavailable
	}
	state, err := m.adapter.State()
	if err != nil {
		return "", fmt.Errorf("ble: adapter state: %w", err)
	}
	return state.String(), nil
}

// IsActive reports whether the adapter is fully on.
func (m *Manager) IsActive() bool {
	if m.adapter == nil {
		return false
	}
	state, err := m.adapter.State()
	return err == nil && state == StateOn
}

// Close stops the scan and every advertisement.
func (m *Manager) Close() {
	if m.adapter == nil {
		return
	}
	m.scan.Stop()
	m.registry.StopAll()
}

// Constants returns the advertise and scan enum values by name.
func Constants() map[string]int {
	return map[string]int{
		"ADVERTISE_MODE_BALANCED":      int(AdvertiseModeBalanced),
		"ADVERTISE_MODE_LOW_LATENCY":   int(AdvertiseModeLowLatency),
		"ADVERTISE_MODE_LOW_POWER":     int(AdvertiseModeLowPower),
		"ADVERTISE_TX_POWER_HIGH":      int(TxPowerHigh),
		"ADVERTISE_TX_POWER_LOW":       int(TxPowerLow),
		"ADVERTISE_TX_POWER_MEDIUM":    int(TxPowerMedium),
		"ADVERTISE_TX_POWER_ULTRA_LOW": int(TxPowerUltraLow),
		"SCAN_MODE_BALANCED":           int(ScanModeBalanced),
		"SCAN_MODE_LOW_LATENCY":        int(ScanModeLowLatency),
		"SCAN_MODE_LOW_POWER":          int(ScanModeLowPower),
		"SCAN_MODE_OPPORTUNISTIC":      int(ScanModeOpportunistic),
		"MATCH_MODE_AGGRESSIVE":        MatchModeAggressive,
		"MATCH_MODE_STICKY":            MatchModeSticky,
		"MATCH_NUM_FEW_ADVERTISEMENT":  MatchNumFewAdvertisement,
		"MATCH_NUM_MAX_ADVERTISEMENT":  MatchNumMaxAdvertisement,
		"MATCH_NUM_ONE_ADVERTISEMENT":  MatchNumOneAdvertisement,
	}
}

func newRegion(id string, opts RegionOptions) (region.Region, error) {
	u, err := parseUUID(id)
	if err != nil {
		return region.Region{}, err
	}
	r := region.Region{Identifier: opts.Identifier, UUID: u}
	if r.Identifier == "" {
		r.Identifier = id
	}
	if r.Major, err = regionField(opts.Major); err != nil {
		return region.Region{}, err
	}
	if r.Minor, err = regionField(opts.Minor); err != nil {
		return region.Region{}, err
	}
	return r, nil
}

// regionField converts an optional major or minor. Unlike beacon
// broadcasts, regions do not truncate: a value no beacon can carry is
// rejected.
func regionField(v *int) (*uint16, error) {
	if v == nil {
		return nil, nil
	}
	if *v < 0 || *v > 0xffff {
		return nil, fmt.Errorf("ble: %d: %w", *v, ErrInvalidRegion)
	}
	u := uint16(*v)
	return &u, nil
}

func regionInfos(regions []region.Region) []RegionInfo {
	out := make([]RegionInfo, 0, len(regions))
	for _, r := range regions {
		out = append(out, RegionInfo{
			Identifier: r.Identifier,
			UUID:       r.UUID.String(),
			Major:      r.Major,
			Minor:      r.Minor,
		})
	}
	return out
}

// parseUUID accepts only the canonical 8-4-4-4-12 form.
func parseUUID(s string) (uuid.UUID, error) {
	if len(s) != 36 {
		return uuid.UUID{}, fmt.Errorf("ble: %q: %w", s, ErrInvalidUUID)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("ble: %q: %w", s, ErrInvalidUUID)
	}
	return u, nil
}

func deref(b *bool) bool {
	return b != nil && *b
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
