package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// openTestDB opens a WAL database in a temp dir, closed when the test ends.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		rel  string
	}{
		{"flat", "lightify.db"},
		{"nested directories", filepath.Join("data", "nested", "lightify.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.rel)
			db, err := Open(Config{Path: path, WALMode: true, BusyTimeout: 1})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // test cleanup

			if db.Path() != path {
				t.Errorf("Path() = %q, want %q", db.Path(), path)
			}
			if _, err := os.Stat(filepath.Dir(path)); err != nil {
				t.Errorf("directory not created: %v", err)
			}
			if err := db.HealthCheck(context.Background()); err != nil {
				t.Errorf("HealthCheck() error = %v", err)
			}
		})
	}
}

func TestOpen_Pragmas(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var journal string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if !strings.EqualFold(journal, "wal") {
		t.Errorf("journal_mode = %q, want wal", journal)
	}

	var fk int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}

func TestClose(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := (&DB{}).Close(); err != nil {
		t.Errorf("Close() on zero DB error = %v", err)
	}
}

func TestExecContext_WrapsErrors(t *testing.T) {
	db := openTestDB(t)

	_, err := db.ExecContext(context.Background(), "INSERT INTO no_such_table VALUES (1)")
	if err == nil || !strings.HasPrefix(err.Error(), "executing query:") {
		t.Errorf("ExecContext() error = %v, want wrapped query error", err)
	}
}

func TestBeginTx(t *testing.T) {
	tests := []struct {
		name      string
		commit    bool
		wantCount int
	}{
		{"commit keeps the row", true, 1},
		{"rollback discards the row", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			ctx := context.Background()

			if _, err := db.ExecContext(ctx, "CREATE TABLE lights (address TEXT PRIMARY KEY, name TEXT)"); err != nil {
				t.Fatalf("create: %v", err)
			}

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				t.Fatalf("BeginTx() error = %v", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO lights VALUES (?, ?)", "0102030405060708", "Desk"); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if tt.commit {
				err = tx.Commit()
			} else {
				err = tx.Rollback()
			}
			if err != nil {
				t.Fatalf("finish tx: %v", err)
			}

			var n int
			if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lights").Scan(&n); err != nil {
				t.Fatalf("count: %v", err)
			}
			if n != tt.wantCount {
				t.Errorf("rows = %d, want %d", n, tt.wantCount)
			}
		})
	}
}

func TestConfigDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"rollback journal", Config{Path: "/data/l.db", BusyTimeout: 5}, "file:/data/l.db?_busy_timeout=5000&_foreign_keys=on"},
		{"wal", Config{Path: "l.db", WALMode: true}, "file:l.db?_busy_timeout=0&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.dsn(); got != tt.want {
				t.Errorf("dsn() = %q, want %q", got, tt.want)
			}
		})
	}
}
