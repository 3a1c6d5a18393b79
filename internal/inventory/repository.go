package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify"
)

// ErrNotFound is returned when no snapshot exists for the requested light.
var ErrNotFound = errors.New("inventory: snapshot not found")

// LightRecord is a stored light snapshot.
type LightRecord struct {
	lightify.LightSnapshot
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupRecord is a stored group snapshot.
type GroupRecord struct {
	lightify.GroupSnapshot
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository stores light and group snapshots in SQLite.
// It satisfies lightify.SnapshotRecorder.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository on an open database whose migrations
// have been applied.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// RecordLights upserts every light by address in one transaction.
// Lights missing from lights keep their previous row.
func (r *Repository) RecordLights(ctx context.Context, lights []lightify.LightSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO light_snapshots
			(address, name, light_type, online, is_on, luminance, temperature, red, green, blue, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			light_type = excluded.light_type,
			online = excluded.online,
			is_on = excluded.is_on,
			luminance = excluded.luminance,
			temperature = excluded.temperature,
			red = excluded.red,
			green = excluded.green,
			blue = excluded.blue,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing light upsert: %w", err)
	}
	defer stmt.Close()

	updatedAt := r.now().Format(time.RFC3339Nano)
	for _, l := range lights {
		if _, err := stmt.ExecContext(ctx,
			l.Address.String(), l.Name, l.Type, l.Online, boolToInt(l.On),
			l.Luminance, l.Temperature, l.Red, l.Green, l.Blue,
			updatedAt,
		); err != nil {
			return fmt.Errorf("upserting light %s: %w", l.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing lights: %w", err)
	}
	return nil
}

// RecordGroups replaces every stored group with groups.
func (r *Repository) RecordGroups(ctx context.Context, groups []lightify.GroupSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_snapshots"); err != nil {
		return fmt.Errorf("clearing groups: %w", err)
	}

	updatedAt := r.now().Format(time.RFC3339Nano)
	for _, g := range groups {
		members, err := json.Marshal(lo.Map(g.Members, func(a lightify.Address, _ int) string {
			return a.String()
		}))
		if err != nil {
			return fmt.Errorf("marshalling members of %q: %w", g.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO group_snapshots (name, idx, members, updated_at) VALUES (?, ?, ?, ?)",
			g.Name, g.Index, string(members), updatedAt,
		); err != nil {
			return fmt.Errorf("inserting group %q: %w", g.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing groups: %w", err)
	}
	return nil
}

// ListLights returns every stored light ordered by address.
func (r *Repository) ListLights(ctx context.Context) ([]LightRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectLights+" ORDER BY address")
	if err != nil {
		return nil, fmt.Errorf("querying lights: %w", err)
	}
	defer rows.Close()

	var lights []LightRecord
	for rows.Next() {
		rec, err := scanLight(rows)
		if err != nil {
			return nil, err
		}
		lights = append(lights, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lights: %w", err)
	}
	return lights, nil
}

// LightByAddress returns the stored light with addr.
//
// Returns ErrNotFound if none is stored.
func (r *Repository) LightByAddress(ctx context.Context, addr lightify.Address) (LightRecord, error) {
	row := r.db.QueryRowContext(ctx, selectLights+" WHERE address = ?", addr.String())
	rec, err := scanLight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LightRecord{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return rec, err
}

// ListGroups returns every stored group ordered by index.
func (r *Repository) ListGroups(ctx context.Context) ([]GroupRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name, idx, members, updated_at FROM group_snapshots ORDER BY idx, name")
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []GroupRecord
	for rows.Next() {
		var (
			rec       GroupRecord
			members   string
			updatedAt string
		)
		if err := rows.Scan(&rec.Name, &rec.Index, &members, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		// Members are stored as hex strings; Address implements TextUnmarshaler.
		if err := json.Unmarshal([]byte(members), &rec.Members); err != nil {
			return nil, fmt.Errorf("decoding members of %q: %w", rec.Name, err)
		}
		if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at of %q: %w", rec.Name, err)
		}
		groups = append(groups, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}
	return groups, nil
}

const selectLights = `SELECT address, name, light_type, online, is_on, luminance,
	temperature, red, green, blue, updated_at FROM light_snapshots`

// rowScanner is implemented by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLight(scanner rowScanner) (LightRecord, error) {
	var (
		rec       LightRecord
		address   string
		on        int
		updatedAt string
	)
	err := scanner.Scan(
		&address, &rec.Name, &rec.Type, &rec.Online, &on,
		&rec.Luminance, &rec.Temperature, &rec.Red, &rec.Green, &rec.Blue,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return LightRecord{}, err
	}
	if err != nil {
		return LightRecord{}, fmt.Errorf("scanning light: %w", err)
	}

	if rec.Address, err = lightify.ParseAddress(address); err != nil {
		return LightRecord{}, fmt.Errorf("stored light: %w", err)
	}
	rec.On = on != 0
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return LightRecord{}, fmt.Errorf("parsing updated_at of %s: %w", address, err)
	}
	return rec, nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
