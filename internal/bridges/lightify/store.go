package lightify

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// LightChanges summarises one light resync.
type LightChanges struct {
	Added   []Address
	Updated []Address
	Removed []Address
}

// Store holds the lights and groups last reported by the gateway.
//
// Lights are keyed by address and keep their identity across refreshes.
// Groups are keyed by name and replaced wholesale on every group refresh.
// All methods are safe for concurrent use.
type Store struct {
	cmd commander

	mu     sync.RWMutex
	lights map[Address]*Light
	groups map[string]*Group
}

// newStore returns an empty store whose entities issue commands through cmd.
func newStore(cmd commander) *Store {
	return &Store{
		cmd:    cmd,
		lights: make(map[Address]*Light),
		groups: make(map[string]*Group),
	}
}

// ApplyLightStatus resynchronises the light collection with a full status reply.
//
// A light whose address was already known is updated in place, so existing
// *Light references observe the new values. Unknown addresses get a new Light.
// Known addresses missing from records are dropped.
func (s *Store) ApplyLightStatus(records []LightRecord) LightChanges {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes LightChanges
	next := make(map[Address]*Light, len(records))

	for _, rec := range records {
		if light, ok := next[rec.Address]; ok {
			// Repeated address within one reply: last record wins.
			light.update(rec)
			continue
		}
		if light, ok := s.lights[rec.Address]; ok {
			light.update(rec)
			next[rec.Address] = light
			changes.Updated = append(changes.Updated, rec.Address)
			continue
		}
		next[rec.Address] = newLight(s.cmd, rec)
		changes.Added = append(changes.Added, rec.Address)
	}

	for addr := range s.lights {
		if _, ok := next[addr]; !ok {
			changes.Removed = append(changes.Removed, addr)
		}
	}
	slices.SortFunc(changes.Removed, compareAddress)

	s.lights = next
	return changes
}

// ReplaceGroups discards every held group and installs groups built from infos.
//
// When two groups share a name the one with the lower index is kept.
func (s *Store) ReplaceGroups(infos []GroupInfo) {
	sorted := slices.Clone(infos)
	slices.SortStableFunc(sorted, func(a, b GroupInfo) int {
		return int(a.Index) - int(b.Index)
	})

	next := make(map[string]*Group, len(sorted))
	for _, info := range sorted {
		if _, exists := next[info.Name]; exists {
			continue
		}
		next[info.Name] = newGroup(s.cmd, info)
	}

	s.mu.Lock()
	s.groups = next
	s.mu.Unlock()
}

// UpdateLightState replaces the cached state of one known light.
//
// Returns ErrNotFound if no light has that address.
func (s *Store) UpdateLightState(addr Address, state LightState) (*Light, error) {
	light, err := s.Light(addr)
	if err != nil {
		return nil, err
	}
	light.setState(state)
	return light, nil
}

// Lights returns every held light ordered by address.
func (s *Store) Lights() []*Light {
	s.mu.RLock()
	lights := lo.Values(s.lights)
	s.mu.RUnlock()

	slices.SortFunc(lights, func(a, b *Light) int {
		return compareAddress(a.addr, b.addr)
	})
	return lights
}

// Groups returns every held group ordered by index.
func (s *Store) Groups() []*Group {
	s.mu.RLock()
	groups := lo.Values(s.groups)
	s.mu.RUnlock()

	slices.SortFunc(groups, func(a, b *Group) int {
		return int(a.index) - int(b.index)
	})
	return groups
}

// Light returns the light with the given address.
//
// Returns ErrNotFound if no light has that address.
func (s *Store) Light(addr Address) (*Light, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	light, ok := s.lights[addr]
	if !ok {
		return nil, fmt.Errorf("%w: light %s", ErrNotFound, addr)
	}
	return light, nil
}

// LightByName returns a light with the given display name.
//
// Names are not unique on the gateway. When several lights share a name the
// one with the lowest address is returned.
//
// Returns ErrNotFound if no light has that name.
func (s *Store) LightByName(name string) (*Light, error) {
	light, ok := lo.Find(s.Lights(), func(l *Light) bool {
		return l.Name() == name
	})
	if !ok {
		return nil, fmt.Errorf("%w: light named %q", ErrNotFound, name)
	}
	return light, nil
}

// GroupByName returns the group with the given name.
//
// Returns ErrNotFound if no group has that name.
func (s *Store) GroupByName(name string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: group named %q", ErrNotFound, name)
	}
	return group, nil
}

// Members resolves a group's member addresses to held lights.
// Addresses with no matching light are skipped.
func (s *Store) Members(group *Group) []*Light {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.FilterMap(group.members, func(addr Address, _ int) (*Light, bool) {
		light, ok := s.lights[addr]
		return light, ok
	})
}

// Counts returns the number of held lights and groups.
func (s *Store) Counts() (lights, groups int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lights), len(s.groups)
}
