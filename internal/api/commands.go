package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-lightify/internal/audit"
)

// CommandLog lists executed commands. *audit.SQLiteRepository satisfies it.
type CommandLog interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// handleListCommands returns paginated command history, newest first.
//
// Query parameters:
//   - luminary: filter by light or group name
//   - status: applied or failed
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command log is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Luminary: q.Get("luminary"),
		Status:   q.Get("status"),
	}
	if filter.Status != "" && filter.Status != audit.StatusApplied && filter.Status != audit.StatusFailed {
		writeBadRequest(w, "status must be applied or failed")
		return
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.commands.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list commands", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
