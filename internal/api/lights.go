package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify"
)

// commandRequest is the body of POST /luminaries/{name}/command.
type commandRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleListLights returns the bridge's cached lights.
//
// Query parameters:
//   - name: case-insensitive exact name filter
//   - on: "true" or "false" to filter by power state
func (s *Server) handleListLights(w http.ResponseWriter, r *http.Request) {
	lights := s.bridge.LightSnapshots()

	if name := r.URL.Query().Get("name"); name != "" {
		lights = lo.Filter(lights, func(l lightify.LightSnapshot, _ int) bool {
			return strings.EqualFold(l.Name, name)
		})
	}
	if raw := r.URL.Query().Get("on"); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "on must be true or false")
			return
		}
		lights = lo.Filter(lights, func(l lightify.LightSnapshot, _ int) bool {
			return l.On == on
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lights": lights,
		"count":  len(lights),
	})
}

// handleGetLight returns one light. With ?refresh=true the light is
// re-read from the gateway first; otherwise the cached value is returned.
func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	addr, err := lightify.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh { //nolint:errcheck // absent or malformed means cached
		snap, err := s.bridge.LightStatus(r.Context(), addr)
		if err != nil {
			writeBridgeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, ok := lo.Find(s.bridge.LightSnapshots(), func(l lightify.LightSnapshot) bool {
		return l.Address == addr
	})
	if !ok {
		writeNotFound(w, "light not found: "+addr.String())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListGroups returns the bridge's cached groups.
func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.bridge.GroupSnapshots()
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

// handleRefresh re-reads groups and lights from the gateway.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := s.bridge.Refresh(r.Context())
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCommand applies an action to a named light or group. The command is
// acknowledged over MQTT exactly as if Core had published it.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "name")
	if err != nil || name == "" {
		writeBadRequest(w, "invalid luminary name")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "command is required")
		return
	}

	cmd := lightify.CommandMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		DeviceID:   name,
		Command:    req.Command,
		Parameters: req.Parameters,
		Source:     "api",
	}
	if err := s.bridge.ExecuteCommand(cmd, name); err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"command_id": cmd.ID,
		"luminary":   name,
		"command":    req.Command,
		"status":     "applied",
	})
}

// handleListLightSnapshots returns the persisted light inventory.
func (s *Server) handleListLightSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "inventory is not configured")
		return
	}
	lights, err := s.inventory.ListLights(r.Context())
	if err != nil {
		s.logger.Error("failed to list light snapshots", "error", err)
		writeInternalError(w, "failed to list light snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lights": lights,
		"count":  len(lights),
	})
}

// handleListGroupSnapshots returns the persisted group inventory.
func (s *Server) handleListGroupSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "inventory is not configured")
		return
	}
	groups, err := s.inventory.ListGroups(r.Context())
	if err != nil {
		s.logger.Error("failed to list group snapshots", "error", err)
		writeInternalError(w, "failed to list group snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

// pathParam returns the decoded value of a route parameter. chi matches on
// RawPath when the request has one, so only then is the value still escaped.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}
