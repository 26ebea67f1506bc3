package region

import "github.com/blebeacon/blebeacon/internal/ble/ibeacon"

// Enter reports an observation inside a monitored region.
type Enter struct {
	Identifier string
	Beacon     ibeacon.Beacon
}

// Ranged reports an observation inside a ranged region. Beacons always
// holds exactly the one observation that matched.
type Ranged struct {
	Identifier string
	Beacons    []RangedBeacon
}

// RangedBeacon is one ranged observation with its distance estimate.
type RangedBeacon struct {
	Beacon ibeacon.Beacon
	RSSI   int
	ibeacon.Estimate
}

// Result holds everything one observation produced.
type Result struct {
	Entered []Enter
	Ranged  []Ranged
}

// Matcher tests observations against the monitored and ranged sets.
//
// Presence is not tracked: every matching observation yields a new Enter,
// and no exit is ever reported.
type Matcher struct {
	Monitored *Set
	Ranged    *Set
}

// NewMatcher creates a matcher with two empty sets.
func NewMatcher() *Matcher {
	return &Matcher{
		Monitored: NewSet("monitored"),
		Ranged:    NewSet("ranged"),
	}
}

// Match returns the region events for obs. The distance estimate is only
// computed when a ranged region matches.
func (m *Matcher) Match(obs ibeacon.Observation) Result {
	var res Result
	for _, r := range m.Monitored.matching(obs.Beacon) {
		res.Entered = append(res.Entered, Enter{Identifier: r.Identifier, Beacon: obs.Beacon})
	}
	ranged := m.Ranged.matching(obs.Beacon)
	if len(ranged) == 0 {
		return res
	}
	est := obs.Estimate()
	for _, r := range ranged {
		res.Ranged = append(res.Ranged, Ranged{
			Identifier: r.Identifier,
			Beacons:    []RangedBeacon{{Beacon: obs.Beacon, RSSI: obs.RSSI, Estimate: est}},
		})
	}
	return res
}
