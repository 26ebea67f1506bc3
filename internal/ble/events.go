package ble

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/blebeacon/blebeacon/internal/ble/ibeacon"
	"github.com/blebeacon/blebeacon/internal/ble/region"
)

// Event names delivered to an EventSink.
const (
	EventDeviceFound      = "onDeviceFound"
	EventBeaconDiscovered = "onBeaconDiscovered"
	EventRegionEnter      = "onRegionEnter"
	EventBTStatusChange   = "onBTStatusChange"
)

// Event is a named notification with a JSON-encodable payload.
type Event struct {
	Name    string
	Payload any
}

// EventSink receives events from scan callbacks and adapter state changes.
// Emit is called on platform goroutines and should not block for long.
type EventSink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

type discardSink struct{}

func (discardSink) Emit(Event) {}

// Bytes is encoded in JSON as an array of numbers instead of base64.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON accepts a JSON array of numbers in 0..255.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	if ints == nil {
		*b = nil
		return nil
	}
	out := make(Bytes, len(ints))
	for i, v := range ints {
		if v < 0 || v > 0xFF {
			return fmt.Errorf("ble: byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// unknownAccuracy stands in for a distance that cannot be estimated.
const unknownAccuracy = -1

func finite(d float64) (float64, bool) {
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return unknownAccuracy, false
	}
	return d, true
}

// BeaconData is the iBeacon block of a device-found event.
type BeaconData struct {
	UUID          string `json:"uuid"`
	Major         uint16 `json:"major"`
	Minor         uint16 `json:"minor"`
	MeasuredPower int8   `json:"measuredPower"`
	IsBeacon      bool   `json:"isBeacon"`
}

// DeviceFound is the payload of EventDeviceFound.
type DeviceFound struct {
	ServiceUUIDs  []string    `json:"serviceUuids"`
	RSSI          int         `json:"rssi"`
	TxPower       *int        `json:"txPower,omitempty"`
	DeviceName    string      `json:"deviceName"`
	AdvFlags      *int        `json:"advFlags,omitempty"`
	CompanyID     *uint16     `json:"companyId,omitempty"`
	ManufData     Bytes       `json:"manufData,omitempty"`
	BeaconData    *BeaconData `json:"beaconData,omitempty"`
	Distance      *float64    `json:"distance,omitempty"`
	DeviceAddress string      `json:"deviceAddress,omitempty"`
}

// RegionEnter is the payload of EventRegionEnter.
type RegionEnter struct {
	Identifier string `json:"identifier"`
	UUID       string `json:"uuid"`
	Major      uint16 `json:"major"`
	Minor      uint16 `json:"minor"`
}

// RangedBeacon is one entry of a BeaconDiscovered payload.
type RangedBeacon struct {
	UUID      string            `json:"uuid"`
	Major     uint16            `json:"major"`
	Minor     uint16            `json:"minor"`
	RSSI      int               `json:"rssi"`
	Accuracy  float64           `json:"accuracy"`
	Proximity ibeacon.Proximity `json:"proximity"`
}

// BeaconDiscovered is the payload of EventBeaconDiscovered.
type BeaconDiscovered struct {
	Identifier string         `json:"identifier"`
	Beacons    []RangedBeacon `json:"beacons"`
}

// BTStatus is the payload of EventBTStatusChange.
type BTStatus struct {
	Enabled bool `json:"enabled"`
}

func beaconData(b ibeacon.Beacon) *BeaconData {
	return &BeaconData{
		UUID:          b.UUID.String(),
		Major:         b.Major,
		Minor:         b.Minor,
		MeasuredPower: b.MeasuredPower,
		IsBeacon:      true,
	}
}

func regionEvents(res region.Result) []Event {
	events := make([]Event, 0, len(res.Entered)+len(res.Ranged))
	for _, e := range res.Entered {
		events = append(events, Event{Name: EventRegionEnter, Payload: RegionEnter{
			Identifier: e.Identifier,
			UUID:       e.Beacon.UUID.String(),
			Major:      e.Beacon.Major,
			Minor:      e.Beacon.Minor,
		}})
	}
	for _, r := range res.Ranged {
		beacons := make([]RangedBeacon, 0, len(r.Beacons))
		for _, b := range r.Beacons {
			accuracy, _ := finite(b.Distance)
			beacons = append(beacons, RangedBeacon{
				UUID:      b.Beacon.UUID.String(),
				Major:     b.Beacon.Major,
				Minor:     b.Beacon.Minor,
				RSSI:      b.RSSI,
				Accuracy:  accuracy,
				Proximity: b.Proximity,
			})
		}
		events = append(events, Event{Name: EventBeaconDiscovered, Payload: BeaconDiscovered{
			Identifier: r.Identifier,
			Beacons:    beacons,
		}})
	}
	return events
}
