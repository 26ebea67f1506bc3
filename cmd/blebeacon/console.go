package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/blebeacon/blebeacon/internal/ble"
)

var (
	cyan    = color.New(color.FgHiCyan).SprintFunc()
	green   = color.New(color.FgHiGreen).SprintFunc()
	magenta = color.New(color.FgHiMagenta).SprintFunc()
	yellow  = color.New(color.FgHiYellow).SprintFunc()
	red     = color.New(color.FgHiRed).SprintFunc()
)

// consoleSink prints events one per line. With beaconsOnly set, devices
// that are not iBeacons are skipped.
type consoleSink struct {
	beaconsOnly bool

	mu sync.Mutex
	w  io.Writer
}

func newConsoleSink(w io.Writer, beaconsOnly bool) *consoleSink {
	return &consoleSink{w: w, beaconsOnly: beaconsOnly}
}

func (s *consoleSink) Emit(ev ble.Event) {
	if found, ok := ev.Payload.(ble.DeviceFound); ok && s.beaconsOnly && found.BeaconData == nil {
		return
	}
	line := formatEvent(ev)
	if line == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

func formatEvent(ev ble.Event) string {
	switch p := ev.Payload.(type) {
	case ble.DeviceFound:
		var b strings.Builder
		fmt.Fprintf(&b, "%s %s rssi=%d", cyan("device"), p.DeviceAddress, p.RSSI)
		if p.DeviceName != "" {
			fmt.Fprintf(&b, " name=%q", p.DeviceName)
		}
		if len(p.ServiceUUIDs) > 0 {
			fmt.Fprintf(&b, " services=%s", strings.Join(p.ServiceUUIDs, ","))
		}
		if p.CompanyID != nil {
			fmt.Fprintf(&b, " company=0x%04x", *p.CompanyID)
		}
		if p.BeaconData != nil {
			fmt.Fprintf(&b, " %s %s %d/%d", magenta("ibeacon"), p.BeaconData.UUID, p.BeaconData.Major, p.BeaconData.Minor)
			if p.Distance != nil {
				fmt.Fprintf(&b, " ~%.2fm", *p.Distance)
			}
		}
		return b.String()
	case ble.RegionEnter:
		return fmt.Sprintf("%s %s %s %d/%d", green("enter"), p.Identifier, p.UUID, p.Major, p.Minor)
	case ble.BeaconDiscovered:
		var b strings.Builder
		fmt.Fprintf(&b, "%s %s", yellow("ranged"), p.Identifier)
		for _, r := range p.Beacons {
			fmt.Fprintf(&b, "\n  %d/%d rssi=%d accuracy=%.2f %s", r.Major, r.Minor, r.RSSI, r.Accuracy, r.Proximity)
		}
		return b.String()
	case ble.BTStatus:
		if p.Enabled {
			return green("bluetooth on")
		}
		return red("bluetooth off")
	}
	return ""
}
