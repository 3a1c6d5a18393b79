package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-lightify/migrations"
)

var (
	addrDesk    = lightify.Address{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	addrCeiling = lightify.Address{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18}
)

// setupRepository opens a migrated database in a temporary directory.
func setupRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "lightify.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewRepository(db.DB)
}

func desk(lum uint8) lightify.LightSnapshot {
	return lightify.LightSnapshot{
		Address: addrDesk,
		Name:    "Desk",
		Type:    10,
		Online:  2,
		LightState: lightify.LightState{
			On: true, Luminance: lum, Temperature: 2700, Red: 255, Green: 128,
		},
	}
}

func TestRecordLightsUpserts(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	first := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return first }
	ceiling := lightify.LightSnapshot{Address: addrCeiling, Name: "Ceiling"}
	if err := repo.RecordLights(ctx, []lightify.LightSnapshot{desk(100), ceiling}); err != nil {
		t.Fatalf("RecordLights() error = %v", err)
	}

	second := first.Add(time.Minute)
	repo.now = func() time.Time { return second }
	if err := repo.RecordLights(ctx, []lightify.LightSnapshot{desk(20)}); err != nil {
		t.Fatalf("RecordLights() second error = %v", err)
	}

	lights, err := repo.ListLights(ctx)
	if err != nil {
		t.Fatalf("ListLights() error = %v", err)
	}
	if len(lights) != 2 {
		t.Fatalf("ListLights() = %d rows, want 2", len(lights))
	}

	got := lights[0]
	if got.LightSnapshot != desk(20) {
		t.Errorf("desk = %+v, want %+v", got.LightSnapshot, desk(20))
	}
	if !got.UpdatedAt.Equal(second) {
		t.Errorf("desk UpdatedAt = %v, want %v", got.UpdatedAt, second)
	}
	if lights[1].Address != addrCeiling || !lights[1].UpdatedAt.Equal(first) {
		t.Errorf("ceiling = %+v, want untouched row", lights[1])
	}
}

func TestLightByAddress(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	if err := repo.RecordLights(ctx, []lightify.LightSnapshot{desk(50)}); err != nil {
		t.Fatal(err)
	}

	got, err := repo.LightByAddress(ctx, addrDesk)
	if err != nil {
		t.Fatalf("LightByAddress() error = %v", err)
	}
	if got.Name != "Desk" || got.Luminance != 50 || !got.On {
		t.Errorf("LightByAddress() = %+v", got)
	}

	_, err = repo.LightByAddress(ctx, addrCeiling)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("LightByAddress(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRecordGroupsReplaces(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	if err := repo.RecordGroups(ctx, []lightify.GroupSnapshot{
		{Index: 2, Name: "Bedroom"},
		{Index: 1, Name: "Kitchen", Members: []lightify.Address{addrDesk, addrCeiling}},
	}); err != nil {
		t.Fatalf("RecordGroups() error = %v", err)
	}

	groups, err := repo.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if len(groups) != 2 || groups[0].Name != "Kitchen" || groups[1].Name != "Bedroom" {
		t.Fatalf("ListGroups() = %+v, want Kitchen then Bedroom", groups)
	}
	if len(groups[0].Members) != 2 || groups[0].Members[0] != addrDesk || groups[0].Members[1] != addrCeiling {
		t.Errorf("Kitchen members = %v", groups[0].Members)
	}
	if len(groups[1].Members) != 0 {
		t.Errorf("Bedroom members = %v, want none", groups[1].Members)
	}

	if err := repo.RecordGroups(ctx, []lightify.GroupSnapshot{{Index: 3, Name: "Hall"}}); err != nil {
		t.Fatalf("RecordGroups() second error = %v", err)
	}
	groups, err = repo.ListGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Name != "Hall" || groups[0].Index != 3 {
		t.Errorf("ListGroups() after replace = %+v, want only Hall", groups)
	}
}

func TestRecordEmpty(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	if err := repo.RecordLights(ctx, nil); err != nil {
		t.Errorf("RecordLights(nil) error = %v", err)
	}
	if err := repo.RecordGroups(ctx, nil); err != nil {
		t.Errorf("RecordGroups(nil) error = %v", err)
	}
	lights, err := repo.ListLights(ctx)
	if err != nil || len(lights) != 0 {
		t.Errorf("ListLights() = %v, %v; want empty", lights, err)
	}
}

func TestRecordCancelled(t *testing.T) {
	repo := setupRepository(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.RecordLights(ctx, []lightify.LightSnapshot{desk(1)}); err == nil {
		t.Error("RecordLights() with cancelled context should fail")
	}
}

var _ lightify.SnapshotRecorder = (*Repository)(nil)
