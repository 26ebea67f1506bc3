package region

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/blebeacon/blebeacon/internal/ble/ibeacon"
)

var (
	regionUUID = uuid.MustParse("E2C56DB5-DFFB-48D2-B060-D0F5A71096E0")
	otherUUID  = uuid.MustParse("B9407F30-F5F8-466E-AFF9-25556B57FE6D")
)

func u16(v uint16) *uint16 { return &v }

func TestRegionMatches(t *testing.T) {
	tests := []struct {
		name   string
		region Region
		beacon ibeacon.Beacon
		want   bool
	}{
		{"wildcards match any major/minor", Region{UUID: regionUUID}, ibeacon.Beacon{UUID: regionUUID, Major: 9, Minor: 42}, true},
		{"exact major and minor", Region{UUID: regionUUID, Major: u16(1), Minor: u16(2)}, ibeacon.Beacon{UUID: regionUUID, Major: 1, Minor: 2}, true},
		{"minor differs", Region{UUID: regionUUID, Major: u16(1), Minor: u16(2)}, ibeacon.Beacon{UUID: regionUUID, Major: 1, Minor: 3}, false},
		{"major differs", Region{UUID: regionUUID, Major: u16(1)}, ibeacon.Beacon{UUID: regionUUID, Major: 2, Minor: 2}, false},
		{"major only, any minor", Region{UUID: regionUUID, Major: u16(1)}, ibeacon.Beacon{UUID: regionUUID, Major: 1, Minor: 777}, true},
		{"uuid mismatch with wildcards", Region{UUID: regionUUID}, ibeacon.Beacon{UUID: otherUUID}, false},
		{"uuid mismatch with exact fields", Region{UUID: regionUUID, Major: u16(1), Minor: u16(1)}, ibeacon.Beacon{UUID: otherUUID, Major: 1, Minor: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.region.Matches(tt.beacon); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetAddReplaceRemove(t *testing.T) {
	s := NewSet("monitored")
	s.Add(Region{Identifier: "door", UUID: regionUUID})
	s.Add(Region{Identifier: "door", UUID: otherUUID})

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after re-adding the same identifier", s.Len())
	}
	if got := s.List()[0].UUID; got != otherUUID {
		t.Errorf("replaced region uuid = %s, want %s", got, otherUUID)
	}

	if _, err := s.Remove("door"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := s.Remove("door"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
}

func TestSetListSorted(t *testing.T) {
	s := NewSet("ranged")
	for _, id := range []string{"c", "a", "b"} {
		s.Add(Region{Identifier: id, UUID: regionUUID})
	}
	got := s.List()
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Identifier != want {
			t.Errorf("List()[%d] = %q, want %q", i, got[i].Identifier, want)
		}
	}
}

func TestNamespacesIndependent(t *testing.T) {
	m := NewMatcher()
	m.Monitored.Add(Region{Identifier: "x", UUID: regionUUID})
	m.Ranged.Add(Region{Identifier: "x", UUID: otherUUID})

	if _, err := m.Ranged.Remove("x"); err != nil {
		t.Fatalf("Ranged.Remove() error = %v", err)
	}
	if m.Monitored.Len() != 1 {
		t.Errorf("Monitored.Len() = %d, want 1", m.Monitored.Len())
	}
}

func TestMatchMonitoredMajorOnly(t *testing.T) {
	m := NewMatcher()
	m.Monitored.Add(Region{Identifier: "lobby", UUID: regionUUID, Major: u16(1)})

	res := m.Match(ibeacon.Observation{Beacon: ibeacon.Beacon{UUID: regionUUID, Major: 1, Minor: 5}, RSSI: -60})
	if len(res.Entered) != 1 || res.Entered[0].Identifier != "lobby" {
		t.Fatalf("Entered = %+v, want one event for lobby", res.Entered)
	}
	if res.Entered[0].Beacon.Minor != 5 {
		t.Errorf("Entered[0].Beacon.Minor = %d, want 5", res.Entered[0].Beacon.Minor)
	}

	res = m.Match(ibeacon.Observation{Beacon: ibeacon.Beacon{UUID: regionUUID, Major: 2, Minor: 5}, RSSI: -60})
	if len(res.Entered) != 0 {
		t.Errorf("Entered = %+v, want none for major=2", res.Entered)
	}
}

func TestMatchRepeatsEnter(t *testing.T) {
	m := NewMatcher()
	m.Monitored.Add(Region{Identifier: "lobby", UUID: regionUUID})
	obs := ibeacon.Observation{Beacon: ibeacon.Beacon{UUID: regionUUID}, RSSI: -60}

	for i := 0; i < 3; i++ {
		if got := len(m.Match(obs).Entered); got != 1 {
			t.Fatalf("Match #%d produced %d enters, want 1", i, got)
		}
	}
}

func TestMatchRangedSingleBeacon(t *testing.T) {
	m := NewMatcher()
	m.Ranged.Add(Region{Identifier: "desk", UUID: regionUUID})
	m.Ranged.Add(Region{Identifier: "floor", UUID: regionUUID, Minor: u16(3)})

	obs := ibeacon.Observation{Beacon: ibeacon.Beacon{UUID: regionUUID, Major: 1, Minor: 3, MeasuredPower: -59}, RSSI: -59}
	res := m.Match(obs)
	if len(res.Entered) != 0 {
		t.Errorf("Entered = %+v, want none without monitored regions", res.Entered)
	}
	if len(res.Ranged) != 2 {
		t.Fatalf("Ranged = %d events, want 2", len(res.Ranged))
	}
	for _, ev := range res.Ranged {
		if len(ev.Beacons) != 1 {
			t.Fatalf("%s: Beacons has %d entries, want 1", ev.Identifier, len(ev.Beacons))
		}
		b := ev.Beacons[0]
		if b.RSSI != -59 || b.Proximity != ibeacon.ProximityNear {
			t.Errorf("%s: beacon = %+v, want rssi -59 and proximity near", ev.Identifier, b)
		}
	}
}
