package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/blebeacon/blebeacon/internal/ble"
	"github.com/blebeacon/blebeacon/internal/ble/ibeacon"
)

func TestFormatEvent(t *testing.T) {
	color.NoColor = true
	company := uint16(0x004c)
	distance := 1.5

	tests := []struct {
		name string
		ev   ble.Event
		want []string
	}{
		{
			name: "device",
			ev: ble.Event{Name: ble.EventDeviceFound, Payload: ble.DeviceFound{
				DeviceAddress: "AA:BB", RSSI: -60, DeviceName: "tag",
				CompanyID:  &company,
				BeaconData: &ble.BeaconData{UUID: "e2c56db5-dffb-48d2-b060-d0f5a71096e0", Major: 1, Minor: 2},
				Distance:   &distance,
			}},
			want: []string{"device AA:BB rssi=-60", `name="tag"`, "company=0x004c", "ibeacon e2c56db5-dffb-48d2-b060-d0f5a71096e0 1/2", "~1.50m"},
		},
		{
			name: "enter",
			ev:   ble.Event{Name: ble.EventRegionEnter, Payload: ble.RegionEnter{Identifier: "door", UUID: "u", Major: 3, Minor: 4}},
			want: []string{"enter door u 3/4"},
		},
		{
			name: "ranged",
			ev: ble.Event{Name: ble.EventBeaconDiscovered, Payload: ble.BeaconDiscovered{
				Identifier: "hall",
				Beacons:    []ble.RangedBeacon{{Major: 1, Minor: 1, RSSI: -70, Accuracy: 0.5, Proximity: ibeacon.ProximityNear}},
			}},
			want: []string{"ranged hall", "1/1 rssi=-70 accuracy=0.50 near"},
		},
		{
			name: "bluetooth off",
			ev:   ble.Event{Name: ble.EventBTStatusChange, Payload: ble.BTStatus{Enabled: false}},
			want: []string{"bluetooth off"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatEvent() = %q, want it to contain %q", got, w)
				}
			}
		})
	}
}

func TestConsoleSinkSkipsUnknownPayloads(t *testing.T) {
	var buf bytes.Buffer
	sink := newConsoleSink(&buf, false)
	sink.Emit(ble.Event{Name: "other", Payload: 42})
	if buf.Len() != 0 {
		t.Errorf("output = %q, want nothing", buf.String())
	}
	sink.Emit(ble.Event{Name: ble.EventBTStatusChange, Payload: ble.BTStatus{Enabled: true}})
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("output = %q, want one line", buf.String())
	}
}

func TestConsoleSinkBeaconsOnly(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	sink := newConsoleSink(&buf, true)

	sink.Emit(ble.Event{Name: ble.EventDeviceFound, Payload: ble.DeviceFound{DeviceAddress: "plain"}})
	sink.Emit(ble.Event{Name: ble.EventDeviceFound, Payload: ble.DeviceFound{
		DeviceAddress: "tag",
		BeaconData:    &ble.BeaconData{UUID: "u", Major: 1, Minor: 2, IsBeacon: true},
	}})
	sink.Emit(ble.Event{Name: ble.EventRegionEnter, Payload: ble.RegionEnter{Identifier: "door"}})

	out := buf.String()
	if strings.Contains(out, "plain") {
		t.Errorf("output = %q, want non-beacon device skipped", out)
	}
	if !strings.Contains(out, "device tag") || !strings.Contains(out, "enter door") {
		t.Errorf("output = %q, want beacon device and region enter", out)
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("company_id: 0x0590\nscan:\n  report_delay: 250ms\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	opts := managerOptions(cfg)
	if opts.CompanyID != 0x0590 || opts.ReportDelay.Milliseconds() != 250 {
		t.Errorf("managerOptions() = %+v", opts)
	}
}

func TestLoadConfigMissingExplicitPath(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("loadConfig() should fail for a missing explicit path")
	}
}

func TestListenUnixSocketReplacesStaleFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "bb")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "s.sock")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}

	ln, err := listen(path)
	if err != nil {
		t.Fatalf("listen() error = %v", err)
	}
	defer ln.Close()
	if ln.Addr().Network() != "unix" {
		t.Errorf("Network() = %q, want unix", ln.Addr().Network())
	}
}

func TestListenTCP(t *testing.T) {
	ln, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen() error = %v", err)
	}
	defer ln.Close()
	if ln.Addr().Network() != "tcp" {
		t.Errorf("Network() = %q, want tcp", ln.Addr().Network())
	}
}
