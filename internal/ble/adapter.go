// Package ble manages BLE advertising and scanning on one adapter: a registry
// of concurrent outgoing advertisements, a single incoming scan session, and
// the iBeacon decoding and region matching applied to scan results.
package ble

import (
	"time"

	"github.com/google/uuid"
)

// AdapterState is the power state of the Bluetooth adapter.
type AdapterState int

const (
	StateOff AdapterState = iota
	StateTurningOn
	StateOn
	StateTurningOff
)

func (s AdapterState) String() string {
	switch s {
	case StateOff:
		return "STATE_OFF"
	case StateTurningOn:
		return "STATE_TURNING_ON"
	case StateOn:
		return "STATE_ON"
	case StateTurningOff:
		return "STATE_TURNING_OFF"
	default:
		return "STATE_UNKNOWN"
	}
}

// AdvertiseMode trades advertising interval against power.
type AdvertiseMode int

// Values follow the Android numbering so existing clients can pass them through.
const (
	AdvertiseModeLowPower   AdvertiseMode = 0
	AdvertiseModeBalanced   AdvertiseMode = 1
	AdvertiseModeLowLatency AdvertiseMode = 2
)

// Interval returns the advertising interval used for the mode.
func (m AdvertiseMode) Interval() time.Duration {
	switch m {
	case AdvertiseModeLowLatency:
		return 100 * time.Millisecond
	case AdvertiseModeBalanced:
		return 250 * time.Millisecond
	default:
		return 1000 * time.Millisecond
	}
}

// TxPowerLevel selects the advertising transmit power.
type TxPowerLevel int

const (
	TxPowerUltraLow TxPowerLevel = 0
	TxPowerLow      TxPowerLevel = 1
	TxPowerMedium   TxPowerLevel = 2
	TxPowerHigh     TxPowerLevel = 3
)

// AdvertiseSettings are the radio settings of one advertisement.
type AdvertiseSettings struct {
	Mode        AdvertiseMode `json:"mode"`
	TxPower     TxPowerLevel  `json:"txPowerLevel"`
	Connectable bool          `json:"connectable"`
}

// DefaultAdvertiseSettings returns the platform defaults.
func DefaultAdvertiseSettings() AdvertiseSettings {
	return AdvertiseSettings{
		Mode:        AdvertiseModeLowPower,
		TxPower:     TxPowerMedium,
		Connectable: true,
	}
}

// ManufacturerData is manufacturer specific data under one company ID.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// AdvertiseData is the payload of one advertisement.
type AdvertiseData struct {
	ServiceUUIDs      []uuid.UUID
	ServiceData       []byte // attached to ServiceUUIDs[0] when set
	Manufacturer      []ManufacturerData
	IncludeDeviceName bool
	IncludeTxPower    bool
}

// ScanMode trades scan duty cycle against power.
type ScanMode int

const (
	ScanModeOpportunistic ScanMode = -1
	ScanModeLowPower      ScanMode = 0
	ScanModeBalanced      ScanMode = 1
	ScanModeLowLatency    ScanMode = 2
)

// Match modes and match counts for hardware filtering. Platforms without
// hardware filtering ignore them.
const (
	MatchModeAggressive = 1
	MatchModeSticky     = 2

	MatchNumOneAdvertisement = 1
	MatchNumFewAdvertisement = 2
	MatchNumMaxAdvertisement = 3
)

// ScanSettings configure a scan. Zero MatchMode, NumOfMatches and
// ReportDelay leave the platform default in place.
type ScanSettings struct {
	Mode         ScanMode
	MatchMode    int
	NumOfMatches int
	ReportDelay  time.Duration // > 0 asks for batched delivery
}

// ScanRecord is one received advertisement.
type ScanRecord struct {
	Address          string
	RSSI             int
	Name             string
	TxPower          *int
	Flags            *int
	ServiceUUIDs     []uuid.UUID
	ManufacturerData map[uint16][]byte
}

// ScanHandler receives scan callbacks from a Scanner. Calls may arrive on
// any goroutine.
type ScanHandler interface {
	HandleResult(rec ScanRecord)
	HandleBatch(recs []ScanRecord)
	HandleFailure(err error)
}

// Advertiser is one platform advertising instance.
type Advertiser interface {
	// Start begins advertising. The platform calls done exactly once, with
	// the settings in effect or a start failure. done must not be called
	// before Start returns.
	Start(settings AdvertiseSettings, data AdvertiseData, done func(AdvertiseSettings, error))
	// Stop ends advertising.
	Stop() error
}

// Scanner is the platform scanning capability.
type Scanner interface {
	// Start begins delivering records admitted by filters to h.
	Start(filters ScanFilters, settings ScanSettings, h ScanHandler) error
	// Stop ends the scan. No callbacks are delivered after it returns.
	Stop() error
}

// Adapter abstracts the Bluetooth adapter for testing.
type Adapter interface {
	// State returns the current power state.
	State() (AdapterState, error)
	// Enable requests power on. It does not wait for the transition.
	Enable() error
	// Disable requests power off.
	Disable() error
	// WatchState registers fn for power state transitions.
	WatchState(fn func(AdapterState)) error
	// NewAdvertiser returns an advertising instance.
	NewAdvertiser() (Advertiser, error)
	// Scanner returns the scanning capability.
	Scanner() (Scanner, error)
}
