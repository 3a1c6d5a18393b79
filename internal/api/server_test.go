package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify"
	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify/lightifytest"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lightify/internal/inventory"
)

var (
	addrDesk    = [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	addrCeiling = [8]byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18}
)

// bridgeMQTT satisfies lightify.MQTTClient and records publishes.
type bridgeMQTT struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (m *bridgeMQTT) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.published == nil {
		m.published = make(map[string][][]byte)
	}
	m.published[topic] = append(m.published[topic], append([]byte(nil), payload...))
	return nil
}

func (m *bridgeMQTT) Subscribe(string, byte, func(string, []byte)) error { return nil }

func (m *bridgeMQTT) IsConnected() bool { return true }

func (m *bridgeMQTT) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published[topic])
}

// stateSubscriber satisfies StateSubscriber and keeps the registered handler.
type stateSubscriber struct {
	mu      sync.Mutex
	topic   string
	handler mqtt.MessageHandler
}

func (s *stateSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topic = topic
	s.handler = handler
	return nil
}

func (s *stateSubscriber) IsConnected() bool { return true }

func (s *stateSubscriber) deliver(topic string, payload []byte) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	return h(topic, payload)
}

// fakeInventory is an in-memory Inventory with error injection.
type fakeInventory struct {
	lights []inventory.LightRecord
	groups []inventory.GroupRecord
	err    error
}

func (f *fakeInventory) ListLights(context.Context) ([]inventory.LightRecord, error) {
	return f.lights, f.err
}

func (f *fakeInventory) ListGroups(context.Context) ([]inventory.GroupRecord, error) {
	return f.groups, f.err
}

type fixture struct {
	srv    *Server
	router http.Handler
	gw     *lightifytest.Gateway
	mqtt   *bridgeMQTT
	states *stateSubscriber
	inv    *fakeInventory
	cmds   *fakeCommandLog
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer wires a Server to a started bridge on a simulated gateway.
func testServer(t *testing.T) *fixture {
	t.Helper()

	gw := lightifytest.NewGateway(t)
	gw.SetLights(
		lightifytest.Light{Address: addrDesk, Name: "Desk", On: true, Luminance: 100, Temperature: 2700},
		lightifytest.Light{Address: addrCeiling, Name: "Ceiling", Luminance: 20, Temperature: 4000},
	)
	gw.SetGroups(lightifytest.Group{Index: 1, Name: "Kitchen", Members: [][8]byte{addrDesk, addrCeiling}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := lightify.Connect(ctx, gw.Address(), lightify.TransportConfig{ReadTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	f := &fixture{
		gw:     gw,
		mqtt:   &bridgeMQTT{},
		states: &stateSubscriber{},
		inv:    &fakeInventory{},
		cmds:   &fakeCommandLog{},
	}
	bridge, err := lightify.NewBridge(lightify.BridgeOptions{
		Config:     lightify.BridgeConfig{ID: "lightify-test", HealthInterval: time.Hour},
		MQTTClient: f.mqtt,
		Gateway:    conn,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("bridge Start() error = %v", err)
	}
	t.Cleanup(bridge.Stop)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:      "127.0.0.1",
			Timeouts:  config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			WebSocket: config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		},
		Logger:     testLogger(),
		Bridge:     bridge,
		Inventory:  f.inv,
		CommandLog: f.cmds,
		MQTT:       f.states,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.srv = srv
	f.router = srv.buildRouter()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without bridge should fail")
	}
}

// ─── Health and Metrics ────────────────────────────────────────────

func TestHealth(t *testing.T) {
	f := testServer(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	gw, _ := resp["gateway"].(map[string]any)
	if gw["connected"] != true || gw["address"] != f.gw.Address() {
		t.Errorf("gateway = %v", gw)
	}
}

func TestHealth_DegradedWhenGatewayDown(t *testing.T) {
	f := testServer(t)
	if err := f.srv.bridge.Gateway().Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	resp := decode(t, f.do(t, http.MethodGet, "/api/v1/health", ""))
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

func TestMetrics(t *testing.T) {
	f := testServer(t)

	w := f.do(t, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Version != "test" || !m.MQTT.Connected {
		t.Errorf("metrics = %+v", m)
	}
	if !m.Gateway.Connected || m.Gateway.Lights != 2 || m.Gateway.Groups != 1 {
		t.Errorf("gateway metrics = %+v", m.Gateway)
	}
	if m.Gateway.FramesTx == 0 || m.Gateway.FramesRx == 0 {
		t.Errorf("frame counters not populated: %+v", m.Gateway)
	}
	if m.Gateway.LastLightRefresh == "" {
		t.Error("LastLightRefresh is empty after bridge start")
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	f := testServer(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	f := testServer(t)
	h := f.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	f := testServer(t)
	body := `{"command":"on","parameters":{"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}}`

	w := f.do(t, http.MethodPost, "/api/v1/luminaries/Desk/command", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRouting(t *testing.T) {
	f := testServer(t)

	if w := f.do(t, http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/groups", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /groups status = %d, want 405", w.Code)
	}
}

// ─── Lights and Groups ─────────────────────────────────────────────

func TestListLights(t *testing.T) {
	f := testServer(t)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantNames []string
	}{
		{"all", "", http.StatusOK, []string{"Desk", "Ceiling"}},
		{"by name", "?name=desk", http.StatusOK, []string{"Desk"}},
		{"only on", "?on=true", http.StatusOK, []string{"Desk"}},
		{"only off", "?on=false", http.StatusOK, []string{"Ceiling"}},
		{"no match", "?name=Porch", http.StatusOK, nil},
		{"bad on", "?on=maybe", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/lights"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp struct {
				Lights []lightify.LightSnapshot `json:"lights"`
				Count  int                      `json:"count"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Count != len(tt.wantNames) || len(resp.Lights) != len(tt.wantNames) {
				t.Fatalf("lights = %+v, want %v", resp.Lights, tt.wantNames)
			}
			for i, name := range tt.wantNames {
				if resp.Lights[i].Name != name {
					t.Errorf("lights[%d].Name = %q, want %q", i, resp.Lights[i].Name, name)
				}
			}
		})
	}
}

func TestGetLight(t *testing.T) {
	f := testServer(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantName string
	}{
		{"cached", "/api/v1/lights/0102030405060708", http.StatusOK, "Desk"},
		{"colon separated", "/api/v1/lights/11:12:13:14:15:16:17:18", http.StatusOK, "Ceiling"},
		{"refreshed", "/api/v1/lights/0102030405060708?refresh=true", http.StatusOK, "Desk"},
		{"unknown", "/api/v1/lights/ffffffffffffffff", http.StatusNotFound, ""},
		{"bad address", "/api/v1/lights/xyz", http.StatusBadRequest, ""},
		{"short address", "/api/v1/lights/0102", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tt.path, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantName == "" {
				return
			}
			var snap lightify.LightSnapshot
			if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if snap.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", snap.Name, tt.wantName)
			}
		})
	}
}

func TestGetLight_RefreshPublishesState(t *testing.T) {
	f := testServer(t)
	topic := lightify.StateTopic(lightify.Address(addrDesk))
	before := f.mqtt.count(topic)

	if w := f.do(t, http.MethodGet, "/api/v1/lights/0102030405060708?refresh=true", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if after := f.mqtt.count(topic); after != before+1 {
		t.Errorf("state publishes = %d, want %d", after, before+1)
	}
}

func TestListGroups(t *testing.T) {
	f := testServer(t)

	w := f.do(t, http.MethodGet, "/api/v1/groups", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Groups []lightify.GroupSnapshot `json:"groups"`
		Count  int                      `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.Groups[0].Name != "Kitchen" || len(resp.Groups[0].Members) != 2 {
		t.Errorf("groups = %+v", resp.Groups)
	}
}

func TestRefresh(t *testing.T) {
	f := testServer(t)
	f.gw.SetLights(lightifytest.Light{Address: addrDesk, Name: "Desk"})

	w := f.do(t, http.MethodPost, "/api/v1/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var result lightify.RefreshResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Lights != 1 || len(result.Removed) != 1 || result.Removed[0] != lightify.Address(addrCeiling) {
		t.Errorf("result = %+v", result)
	}
}

func TestRefresh_GatewayFailure(t *testing.T) {
	f := testServer(t)
	f.gw.HangUpOn(byte(lightify.CmdGroupList))

	w := f.do(t, http.MethodPost, "/api/v1/refresh", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body: %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["code"] != ErrCodeGateway {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeGateway)
	}
}

// ─── Commands ──────────────────────────────────────────────────────

func TestCommand(t *testing.T) {
	f := testServer(t)

	w := f.do(t, http.MethodPost, "/api/v1/luminaries/Desk/command", `{"command":"off"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["status"] != "applied" || resp["luminary"] != "Desk" || resp["command_id"] == "" {
		t.Errorf("response = %v", resp)
	}

	light, _ := f.gw.Light(addrDesk)
	if light.On {
		t.Error("gateway light still on after off command")
	}
	if n := f.mqtt.count(lightify.AckTopic("Desk")); n != 1 {
		t.Errorf("acks published = %d, want 1", n)
	}
}

func TestPathParam(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/luminaries/{name}", func(w http.ResponseWriter, r *http.Request) {
		name, err := pathParam(r, "name")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(name)) //nolint:errcheck // test handler
	})

	tests := []struct {
		target string
		want   string
	}{
		{"/luminaries/Desk", "Desk"},
		{"/luminaries/Living%20Room", "Living Room"},
		{"/luminaries/50%25", "50%"},
		{"/luminaries/%2541", "%41"},
		{"/luminaries/Desk%2FLeft", "Desk/Left"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if w.Code != http.StatusOK || w.Body.String() != tt.want {
				t.Errorf("status %d, name %q, want %q", w.Code, w.Body.String(), tt.want)
			}
		})
	}
}

func TestCommand_PercentInName(t *testing.T) {
	f := testServer(t)

	w := f.do(t, http.MethodPost, "/api/v1/luminaries/50%25/command", `{"command":"on"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for an unknown name; body: %s", w.Code, w.Body.String())
	}
}

func TestCommand_Dim(t *testing.T) {
	f := testServer(t)

	body := `{"command":"dim","parameters":{"level":42,"transition":5}}`
	if w := f.do(t, http.MethodPost, "/api/v1/luminaries/Ceiling/command", body); w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if light, _ := f.gw.Light(addrCeiling); light.Luminance != 42 {
		t.Errorf("Luminance = %d, want 42", light.Luminance)
	}
}

func TestCommand_Errors(t *testing.T) {
	f := testServer(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{"invalid json", "/api/v1/luminaries/Desk/command", `{`, http.StatusBadRequest},
		{"missing command", "/api/v1/luminaries/Desk/command", `{}`, http.StatusBadRequest},
		{"unknown command", "/api/v1/luminaries/Desk/command", `{"command":"explode"}`, http.StatusBadRequest},
		{"level out of range", "/api/v1/luminaries/Desk/command", `{"command":"dim","parameters":{"level":300}}`, http.StatusBadRequest},
		{"unknown luminary", "/api/v1/luminaries/Porch/command", `{"command":"on"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestWriteBridgeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid action", fmt.Errorf("%w: bad", lightify.ErrInvalidAction), http.StatusBadRequest},
		{"invalid address", lightify.ErrInvalidAddress, http.StatusBadRequest},
		{"lightify not found", lightify.ErrNotFound, http.StatusNotFound},
		{"inventory not found", inventory.ErrNotFound, http.StatusNotFound},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"connection", lightify.ErrConnectionClosed, http.StatusBadGateway},
		{"closed", lightify.ErrClosed, http.StatusBadGateway},
		{"framing", lightify.ErrFraming, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeBridgeError(w, tt.err)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Snapshots ─────────────────────────────────────────────────────

func TestSnapshots(t *testing.T) {
	f := testServer(t)
	f.inv.lights = []inventory.LightRecord{{
		LightSnapshot: lightify.LightSnapshot{Address: lightify.Address(addrDesk), Name: "Desk"},
		UpdatedAt:     time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}}
	f.inv.groups = []inventory.GroupRecord{{GroupSnapshot: lightify.GroupSnapshot{Index: 1, Name: "Kitchen"}}}

	resp := decode(t, f.do(t, http.MethodGet, "/api/v1/snapshots/lights", ""))
	lights, _ := resp["lights"].([]any)
	if len(lights) != 1 {
		t.Fatalf("lights = %v", resp["lights"])
	}
	first, _ := lights[0].(map[string]any)
	if first["address"] != "0102030405060708" || first["name"] != "Desk" || first["updated_at"] != "2026-10-16T09:00:00Z" {
		t.Errorf("light snapshot = %v", first)
	}

	resp = decode(t, f.do(t, http.MethodGet, "/api/v1/snapshots/groups", ""))
	if resp["count"] != float64(1) {
		t.Errorf("group count = %v, want 1", resp["count"])
	}
}

func TestSnapshots_Errors(t *testing.T) {
	f := testServer(t)
	f.inv.err = errors.New("disk full")

	if w := f.do(t, http.MethodGet, "/api/v1/snapshots/lights", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}

	f.srv.inventory = nil
	if w := f.do(t, http.MethodGet, "/api/v1/snapshots/groups", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status without inventory = %d, want 503", w.Code)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	subscribed := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelLightState: {}},
	}
	other := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelLightRemoved: {}},
	}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(ChannelLightState, map[string]any{"address": "0102030405060708"})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelLightState {
			t.Errorf("message = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())

	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: make(map[string]struct{})}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
	if hub.pingInterval != 30*time.Second || hub.pongWait != 10*time.Second {
		t.Errorf("defaults not applied: ping %v, pong %v", hub.pingInterval, hub.pongWait)
	}
}

func TestWebSocket_RelaysLightState(t *testing.T) {
	f := testServer(t)
	if err := f.srv.subscribeStateUpdates(); err != nil {
		t.Fatalf("subscribeStateUpdates() error = %v", err)
	}
	if f.states.topic != lightify.StateSubscribeTopic() {
		t.Fatalf("subscribed to %q", f.states.topic)
	}

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	readMsg := func() WSMessage {
		t.Helper()
		//nolint:errcheck // test deadline
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return msg
	}

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelLightState, ChannelLightRemoved}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMsg(); msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Fatalf("subscribe response = %+v", msg)
	}

	initial := map[string]bool{}
	for range 2 {
		msg := readMsg()
		payload, _ := msg.Payload.(map[string]any)
		if msg.EventType != ChannelLightState {
			t.Fatalf("initial event = %+v, want %s", msg, ChannelLightState)
		}
		addr, _ := payload["address"].(string)
		initial[addr] = true
	}
	if !initial["0102030405060708"] || !initial["1112131415161718"] {
		t.Errorf("initial state covered %v, want desk and ceiling", initial)
	}

	state, err := json.Marshal(lightify.StateMessage{DeviceID: "Desk", Protocol: lightify.Protocol, Address: "0102030405060708"})
	if err != nil {
		t.Fatal(err)
	}
	topic := lightify.StateTopic(lightify.Address(addrDesk))
	if err := f.states.deliver(topic, state); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if msg := readMsg(); msg.EventType != ChannelLightState {
		t.Errorf("event = %+v, want %s", msg, ChannelLightState)
	}

	if err := f.states.deliver(topic, nil); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	msg := readMsg()
	payload, _ := msg.Payload.(map[string]any)
	if msg.EventType != ChannelLightRemoved || payload["address"] != "0102030405060708" {
		t.Errorf("event = %+v, want removal of desk", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "2"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMsg(); msg.Type != WSTypePong || msg.ID != "2" {
		t.Errorf("ping reply = %+v", msg)
	}
}

func TestCurrentLightStates(t *testing.T) {
	f := testServer(t)

	if got := f.srv.currentLightStates(ChannelLightRemoved); got != nil {
		t.Errorf("removal channel initial state = %v, want nil", got)
	}
	got := f.srv.currentLightStates(ChannelLightState)
	if len(got) != 2 {
		t.Fatalf("initial state = %d events, want 2", len(got))
	}
	if _, ok := got[0].(lightify.StateMessage); !ok {
		t.Errorf("initial payload type = %T, want lightify.StateMessage", got[0])
	}
}

func TestRelayState_IgnoresMalformed(t *testing.T) {
	f := testServer(t)
	if err := f.srv.relayState("graylogic/state/lightify/x", []byte("{not json")); err != nil {
		t.Errorf("relayState() error = %v, want nil", err)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	f := testServer(t)
	f.srv.cfg.Port = 19081

	if err := f.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := f.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var resp *http.Response
	var err error
	for range 20 {
		resp, err = http.Get("http://127.0.0.1:19081/api/v1/health")
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := f.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	f := testServer(t)
	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWSClient_HandleMessage(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	hub.initialState = func(channel string) []any {
		if channel != ChannelLightState {
			return nil
		}
		return []any{map[string]string{"address": "0102030405060708"}}
	}
	client := &WSClient{hub: hub, send: make(chan []byte, 16), subscriptions: make(map[string]struct{})}

	next := func(t *testing.T) WSMessage {
		t.Helper()
		select {
		case data := <-client.send:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			return msg
		default:
			t.Fatal("no queued message")
			return WSMessage{}
		}
	}

	client.handleMessage([]byte(`{"type":"subscribe","id":"1","payload":{"channels":["light.state_changed"]}}`))
	if msg := next(t); msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Errorf("first message = %+v, want response to 1", msg)
	}
	if msg := next(t); msg.Type != WSTypeEvent || msg.EventType != ChannelLightState {
		t.Errorf("second message = %+v, want initial state event", msg)
	}

	// Already subscribed: acknowledged, no second initial sync.
	client.handleMessage([]byte(`{"type":"subscribe","id":"2","payload":{"channels":["light.state_changed"]}}`))
	next(t)
	if len(client.send) != 0 {
		t.Errorf("%d extra messages after repeat subscribe", len(client.send))
	}

	client.handleMessage([]byte(`{"type":"unsubscribe","id":"3","payload":{"channels":["light.state_changed"]}}`))
	next(t)
	if client.isSubscribed(ChannelLightState) {
		t.Error("still subscribed after unsubscribe")
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bad json", `{`, WSTypeError},
		{"missing payload", `{"type":"subscribe","id":"4"}`, WSTypeError},
		{"unknown type", `{"type":"dance","id":"5"}`, WSTypeError},
		{"ping", `{"type":"ping","id":"6"}`, WSTypePong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client.handleMessage([]byte(tt.in))
			if msg := next(t); msg.Type != tt.want {
				t.Errorf("type = %q, want %q", msg.Type, tt.want)
			}
		})
	}

	hub.Unregister(client)
	client.trySend([]byte("late"))
}
