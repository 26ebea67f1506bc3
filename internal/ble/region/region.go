// Package region keeps the beacon regions that scan results are matched
// against: a monitored set for presence and a ranged set for distance.
package region

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/blebeacon/blebeacon/internal/ble/ibeacon"
)

// ErrNotFound is returned when removing an identifier that is not in the set.
var ErrNotFound = errors.New("region not found")

// Region is a beacon identity pattern. A nil Major or Minor matches any value.
type Region struct {
	Identifier string
	UUID       uuid.UUID
	Major      *uint16
	Minor      *uint16
}

// Matches reports whether b belongs to the region.
func (r Region) Matches(b ibeacon.Beacon) bool {
	if r.UUID != b.UUID {
		return false
	}
	if r.Major != nil && *r.Major != b.Major {
		return false
	}
	if r.Minor != nil && *r.Minor != b.Minor {
		return false
	}
	return true
}

func (r Region) String() string {
	s := fmt.Sprintf("%s uuid=%s", r.Identifier, r.UUID)
	if r.Major != nil {
		s += fmt.Sprintf(" major=%d", *r.Major)
	}
	if r.Minor != nil {
		s += fmt.Sprintf(" minor=%d", *r.Minor)
	}
	return s
}

// Set is a keyed collection of regions. Identifiers are unique; adding an
// existing identifier replaces the previous region. Safe for concurrent use.
type Set struct {
	name string

	mu      sync.RWMutex
	regions map[string]Region
}

// NewSet creates an empty set. name is used in log output only.
func NewSet(name string) *Set {
	return &Set{name: name, regions: make(map[string]Region)}
}

// Add stores r under r.Identifier.
func (s *Set) Add(r Region) {
	s.mu.Lock()
	s.regions[r.Identifier] = r
	s.mu.Unlock()
	slog.Debug("[REGION] added", "set", s.name, "region", r.String())
}

// Remove deletes the region with the given identifier.
func (s *Set) Remove(id string) (Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[id]
	if !ok {
		return Region{}, fmt.Errorf("%s region %q: %w", s.name, id, ErrNotFound)
	}
	delete(s.regions, id)
	slog.Debug("[REGION] removed", "set", s.name, "region", r.String())
	return r, nil
}

// List returns the regions ordered by identifier.
func (s *Set) List() []Region {
	s.mu.RLock()
	out := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Len returns the number of regions.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions)
}

// matching returns the regions b belongs to, ordered by identifier.
func (s *Set) matching(b ibeacon.Beacon) []Region {
	var out []Region
	for _, r := range s.List() {
		if r.Matches(b) {
			out = append(out, r)
		}
	}
	return out
}
