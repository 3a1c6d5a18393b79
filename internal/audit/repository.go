package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify"
)

// Command outcomes stored in the status column.
const (
	StatusApplied = "applied"
	StatusFailed  = "failed"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// CommandRecord is one executed command.
type CommandRecord struct {
	ID         string         `json:"id"`
	CommandID  string         `json:"command_id"`
	Luminary   string         `json:"luminary"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source,omitempty"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which records List returns.
type Filter struct {
	Luminary string // optional: exact luminary name
	Status   string // optional: applied or failed
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of command records.
type ListResult struct {
	Commands []CommandRecord `json:"commands"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// Repository defines the command log operations.
type Repository interface {
	Create(ctx context.Context, rec *CommandRecord) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores command records in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a command log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// RecordCommand stores the outcome of cmd against the named luminary.
// A nil cmdErr is recorded as applied.
func (r *SQLiteRepository) RecordCommand(ctx context.Context, cmd lightify.CommandMessage, name string, cmdErr error) error {
	rec := &CommandRecord{
		CommandID:  cmd.ID,
		Luminary:   name,
		Command:    cmd.Command,
		Parameters: cmd.Parameters,
		Source:     cmd.Source,
		Status:     StatusApplied,
	}
	if cmdErr != nil {
		rec.Status = StatusFailed
		rec.Error = cmdErr.Error()
	}
	return r.Create(ctx, rec)
}

// Create inserts rec. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, rec *CommandRecord) error {
	if rec.ID == "" {
		rec.ID = "cmd-" + uuid.NewString()[:8]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	if rec.Status != StatusApplied && rec.Status != StatusFailed {
		return fmt.Errorf("invalid command status %q", rec.Status)
	}

	var params *string
	if rec.Parameters != nil {
		b, err := json.Marshal(rec.Parameters)
		if err != nil {
			return fmt.Errorf("marshalling command parameters: %w", err)
		}
		s := string(b)
		params = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, command_id, luminary, command, parameters, source, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CommandID, rec.Luminary, rec.Command, params,
		rec.Source, rec.Status, nullableString(rec.Error),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting command record: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so nullable TEXT columns stay NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns records matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Luminary != "" {
		conditions = append(conditions, "luminary = ?")
		args = append(args, filter.Luminary)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_log %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command records: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, command_id, luminary, command, parameters, source, status, error, created_at
		 FROM command_log %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command records: %w", err)
	}
	defer rows.Close()

	records := []CommandRecord{}
	for rows.Next() {
		var rec CommandRecord
		var params, cmdErr sql.NullString
		var createdAt string

		if err := rows.Scan(&rec.ID, &rec.CommandID, &rec.Luminary, &rec.Command,
			&params, &rec.Source, &rec.Status, &cmdErr, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command record: %w", err)
		}
		if cmdErr.Valid {
			rec.Error = cmdErr.String
		}
		if params.Valid && params.String != "" {
			var p map[string]any
			if json.Unmarshal([]byte(params.String), &p) == nil {
				rec.Parameters = p
			}
		}

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing command timestamp %q: %w", createdAt, err)
		}
		rec.CreatedAt = t

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command records: %w", err)
	}

	return &ListResult{
		Commands: records,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}
