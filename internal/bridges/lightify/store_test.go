package lightify

import (
	"errors"
	"testing"
)

func record(addr Address, name string, lum uint8) LightRecord {
	return LightRecord{
		Address: addr,
		Name:    name,
		State:   LightState{On: true, Luminance: lum, Temperature: 2700},
	}
}

func TestStoreApplyLightStatusCreates(t *testing.T) {
	s := newStore(nil)

	changes := s.ApplyLightStatus([]LightRecord{
		record(addrDesk, "Desk", 100),
		record(addrHall, "Hall", 50),
	})

	if len(changes.Added) != 2 || len(changes.Updated) != 0 || len(changes.Removed) != 0 {
		t.Errorf("changes = %+v, want 2 added", changes)
	}

	light, err := s.Light(addrDesk)
	if err != nil {
		t.Fatalf("Light() error = %v", err)
	}
	if light.Name() != "Desk" || light.Luminance() != 100 || !light.On() {
		t.Errorf("light = %+v", light.Snapshot())
	}
}

func TestStoreRefreshPreservesIdentity(t *testing.T) {
	s := newStore(nil)
	s.ApplyLightStatus([]LightRecord{record(addrDesk, "Desk", 100)})

	held, err := s.Light(addrDesk)
	if err != nil {
		t.Fatalf("Light() error = %v", err)
	}

	changes := s.ApplyLightStatus([]LightRecord{record(addrDesk, "Desk", 30)})
	if len(changes.Updated) != 1 || changes.Updated[0] != addrDesk {
		t.Errorf("changes.Updated = %v, want [%v]", changes.Updated, addrDesk)
	}

	again, err := s.Light(addrDesk)
	if err != nil {
		t.Fatalf("Light() error = %v", err)
	}
	if again != held {
		t.Error("refresh replaced the *Light instead of updating it in place")
	}
	if held.Luminance() != 30 {
		t.Errorf("held.Luminance() = %d, want 30", held.Luminance())
	}
}

func TestStoreRepeatedAddressInOneReply(t *testing.T) {
	s := newStore(nil)
	s.ApplyLightStatus([]LightRecord{record(addrDesk, "Desk", 100)})
	held, _ := s.Light(addrDesk)

	changes := s.ApplyLightStatus([]LightRecord{
		record(addrDesk, "Desk", 10),
		record(addrDesk, "Desk", 20),
		record(addrHall, "Hall", 5),
		record(addrHall, "Hall", 6),
	})

	if len(changes.Updated) != 1 || changes.Updated[0] != addrDesk {
		t.Errorf("changes.Updated = %v, want [%v]", changes.Updated, addrDesk)
	}
	if len(changes.Added) != 1 || changes.Added[0] != addrHall {
		t.Errorf("changes.Added = %v, want [%v]", changes.Added, addrHall)
	}
	if held.Luminance() != 20 {
		t.Errorf("Desk luminance = %d, want last record 20", held.Luminance())
	}
	if hall, _ := s.Light(addrHall); hall.Luminance() != 6 {
		t.Errorf("Hall luminance = %d, want last record 6", hall.Luminance())
	}
}

func TestStoreRefreshRenames(t *testing.T) {
	s := newStore(nil)
	s.ApplyLightStatus([]LightRecord{record(addrDesk, "Desk", 100)})
	held, _ := s.Light(addrDesk)

	s.ApplyLightStatus([]LightRecord{record(addrDesk, "Office", 100)})
	if held.Name() != "Office" {
		t.Errorf("Name() = %q, want %q", held.Name(), "Office")
	}
	if _, err := s.LightByName("Desk"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LightByName(old name) error = %v, want ErrNotFound", err)
	}
}

func TestStoreRefreshDropsMissing(t *testing.T) {
	s := newStore(nil)
	s.ApplyLightStatus([]LightRecord{
		record(addrDesk, "Desk", 100),
		record(addrHall, "Hall", 50),
	})

	changes := s.ApplyLightStatus([]LightRecord{record(addrDesk, "Desk", 100)})
	if len(changes.Removed) != 1 || changes.Removed[0] != addrHall {
		t.Errorf("changes.Removed = %v, want [%v]", changes.Removed, addrHall)
	}
	if _, err := s.Light(addrHall); !errors.Is(err, ErrNotFound) {
		t.Errorf("Light(removed) error = %v, want ErrNotFound", err)
	}
	if n, _ := s.Counts(); n != 1 {
		t.Errorf("light count = %d, want 1", n)
	}
}

func TestStoreLightsOrdered(t *testing.T) {
	s := newStore(nil)
	s.ApplyLightStatus([]LightRecord{
		record(addrHall, "Hall", 1),
		record(addrDesk, "Desk", 1),
		record(addrCeiling, "Ceiling", 1),
	})

	lights := s.Lights()
	want := []Address{addrDesk, addrCeiling, addrHall}
	if len(lights) != len(want) {
		t.Fatalf("Lights() returned %d, want %d", len(lights), len(want))
	}
	for i, l := range lights {
		if l.Address() != want[i] {
			t.Errorf("Lights()[%d] = %v, want %v", i, l.Address(), want[i])
		}
	}
}

func TestStoreLightByName(t *testing.T) {
	s := newStore(nil)
	s.ApplyLightStatus([]LightRecord{
		record(addrHall, "Lamp", 1),
		record(addrDesk, "Lamp", 2),
		record(addrCeiling, "Ceiling", 3),
	})

	tests := []struct {
		name     string
		lookup   string
		wantAddr Address
		wantErr  bool
	}{
		{"unique", "Ceiling", addrCeiling, false},
		{"duplicate returns lowest address", "Lamp", addrDesk, false},
		{"missing", "Garage", Address{}, true},
		{"case sensitive", "lamp", Address{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LightByName(tt.lookup)
			if tt.wantErr {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("LightByName(%q) error = %v, want ErrNotFound", tt.lookup, err)
				}
				if got != nil {
					t.Errorf("LightByName(%q) returned a light alongside the error", tt.lookup)
				}
				return
			}
			if err != nil {
				t.Fatalf("LightByName(%q) error = %v", tt.lookup, err)
			}
			if got.Address() != tt.wantAddr {
				t.Errorf("LightByName(%q) = %v, want %v", tt.lookup, got.Address(), tt.wantAddr)
			}
		})
	}
}

func TestStoreReplaceGroups(t *testing.T) {
	s := newStore(nil)
	s.ReplaceGroups([]GroupInfo{
		{Index: 1, Name: "Kitchen", Members: []Address{addrDesk}},
		{Index: 2, Name: "Bedroom"},
	})

	kitchen, err := s.GroupByName("Kitchen")
	if err != nil {
		t.Fatalf("GroupByName() error = %v", err)
	}

	s.ReplaceGroups([]GroupInfo{
		{Index: 1, Name: "Kitchen", Members: []Address{addrDesk, addrHall}},
	})

	again, err := s.GroupByName("Kitchen")
	if err != nil {
		t.Fatalf("GroupByName() error = %v", err)
	}
	if again == kitchen {
		t.Error("group refresh should build new Group values")
	}
	if len(again.Members()) != 2 {
		t.Errorf("Members() = %v, want 2 addresses", again.Members())
	}
	if _, err := s.GroupByName("Bedroom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GroupByName(dropped) error = %v, want ErrNotFound", err)
	}
}

func TestStoreReplaceGroupsDuplicateName(t *testing.T) {
	s := newStore(nil)
	s.ReplaceGroups([]GroupInfo{
		{Index: 9, Name: "Upstairs"},
		{Index: 4, Name: "Upstairs"},
	})

	g, err := s.GroupByName("Upstairs")
	if err != nil {
		t.Fatalf("GroupByName() error = %v", err)
	}
	if g.Index() != 4 {
		t.Errorf("Index() = %d, want lowest index 4", g.Index())
	}
	if _, n := s.Counts(); n != 1 {
		t.Errorf("group count = %d, want 1", n)
	}
}

func TestStoreGroupsOrdered(t *testing.T) {
	s := newStore(nil)
	s.ReplaceGroups([]GroupInfo{
		{Index: 7, Name: "C"},
		{Index: 0, Name: "A"},
		{Index: 3, Name: "B"},
	})

	groups := s.Groups()
	for i, want := range []uint8{0, 3, 7} {
		if groups[i].Index() != want {
			t.Errorf("Groups()[%d].Index() = %d, want %d", i, groups[i].Index(), want)
		}
	}
}

func TestStoreMembers(t *testing.T) {
	s := newStore(nil)
	s.ApplyLightStatus([]LightRecord{
		record(addrDesk, "Desk", 1),
		record(addrHall, "Hall", 1),
	})
	s.ReplaceGroups([]GroupInfo{
		{Index: 1, Name: "Mixed", Members: []Address{addrHall, addrCeiling, addrDesk}},
	})

	g, _ := s.GroupByName("Mixed")
	members := s.Members(g)
	if len(members) != 2 {
		t.Fatalf("Members() returned %d lights, want 2 (unknown address skipped)", len(members))
	}
	if members[0].Address() != addrHall || members[1].Address() != addrDesk {
		t.Errorf("Members() order = [%v %v], want group order", members[0].Address(), members[1].Address())
	}
}

func TestStoreUpdateLightState(t *testing.T) {
	s := newStore(nil)
	s.ApplyLightStatus([]LightRecord{record(addrDesk, "Desk", 1)})

	want := LightState{On: false, Luminance: 80, Temperature: 4000, Red: 1, Green: 2, Blue: 3}
	light, err := s.UpdateLightState(addrDesk, want)
	if err != nil {
		t.Fatalf("UpdateLightState() error = %v", err)
	}
	if light.State() != want {
		t.Errorf("State() = %+v, want %+v", light.State(), want)
	}
	if light.Name() != "Desk" {
		t.Errorf("Name() = %q, state update should keep the name", light.Name())
	}

	if _, err := s.UpdateLightState(addrHall, want); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateLightState(unknown) error = %v, want ErrNotFound", err)
	}
}
