package lightify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Bridge operation constants.
const (
	// minCommandTopicParts is graylogic/command/lightify/{name}.
	minCommandTopicParts = 4

	// defaultCommandTimeout bounds one command exchange with the gateway.
	defaultCommandTimeout = 5 * time.Second

	// defaultRefreshTimeout bounds a full groups + lights refresh.
	defaultRefreshTimeout = 30 * time.Second

	// lightMeasurement is the time-series measurement for light state points.
	lightMeasurement = "lightify_light"

	refreshKey = "refresh"
)

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// GatewayClient is the gateway session the bridge drives.
// *Connection satisfies it.
type GatewayClient interface {
	UpdateGroupList(ctx context.Context) error
	UpdateAllLightStatus(ctx context.Context) (LightChanges, error)
	UpdateLightStatus(ctx context.Context, addr Address) (*Light, error)
	Lights() []*Light
	Groups() []*Group
	Luminary(name string) (Luminary, error)
	IsConnected() bool
	Stats() ConnectionStats
	RemoteAddr() net.Addr
	Close() error
}

// SnapshotRecorder persists the last known lights and groups.
// It is optional; *inventory.Repository satisfies it.
type SnapshotRecorder interface {
	RecordLights(ctx context.Context, lights []LightSnapshot) error
	RecordGroups(ctx context.Context, groups []GroupSnapshot) error
}

// MetricsWriter receives one point per light state change.
// It is optional; *influxdb.Client satisfies it.
type MetricsWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// CommandAuditor records every executed command with its outcome.
// It is optional; *audit.SQLiteRepository satisfies it.
type CommandAuditor interface {
	RecordCommand(ctx context.Context, cmd CommandMessage, name string, cmdErr error) error
}

// BridgeConfig holds bridge behaviour settings.
type BridgeConfig struct {
	// ID identifies the bridge in health messages.
	ID string

	// HealthInterval is how often health is published. Default 30s.
	HealthInterval time.Duration

	// PollInterval is how often the gateway is re-read. Zero disables polling.
	PollInterval time.Duration

	// CommandRate limits commands sent to the gateway per second.
	// Zero or negative means unlimited.
	CommandRate float64

	// CommandTimeout bounds one command exchange. Default 5s.
	CommandTimeout time.Duration

	// RefreshTimeout bounds a full refresh. Default 30s.
	RefreshTimeout time.Duration
}

// BridgeOptions holds dependencies for creating a bridge.
type BridgeOptions struct {
	Config     BridgeConfig
	MQTTClient MQTTClient
	Gateway    GatewayClient

	// Version is reported in health messages.
	Version string

	Logger    Logger
	Snapshots SnapshotRecorder
	Metrics   MetricsWriter
	Audit     CommandAuditor
}

// RefreshResult summarises one refresh of lights and groups.
type RefreshResult struct {
	Lights  int       `json:"lights"`
	Groups  int       `json:"groups"`
	Added   []Address `json:"added,omitempty"`
	Removed []Address `json:"removed,omitempty"`
}

// Bridge connects a Lightify gateway session to Gray Logic Core over MQTT.
// It handles:
//   - Commands from Core, applied to named lights or groups
//   - Requests from Core (refresh, listings, single light status)
//   - Retained per-light state messages after every refresh
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       BridgeConfig
	mqtt      MQTTClient
	health    *HealthReporter
	snapshots SnapshotRecorder
	metrics   MetricsWriter
	audit     CommandAuditor
	limiter   *rate.Limiter
	refreshes singleflight.Group

	// gw is fixed for the bridge's lifetime. A lost session is not
	// replaced; health stays degraded until the process restarts.
	gw GatewayClient

	// Last published state per light, for change detection
	stateCache   map[Address]LightSnapshot
	stateCacheMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}

	cfg := opts.Config
	if cfg.ID == "" {
		cfg.ID = Protocol
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}

	limit := rate.Inf
	if cfg.CommandRate > 0 {
		limit = rate.Limit(cfg.CommandRate)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        cfg,
		mqtt:       opts.MQTTClient,
		snapshots:  opts.Snapshots,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		limiter:    rate.NewLimiter(limit, 1),
		gw:         opts.Gateway,
		stateCache: make(map[Address]LightSnapshot),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.ID,
		Version:   opts.Version,
		Interval:  cfg.HealthInterval,
		Publisher: opts.MQTTClient,
		Gateway:   gatewayStatus{b},
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start reads the gateway once, subscribes to command and request topics and
// starts health reporting and polling.
//
// A failed initial read is logged, not returned: the bridge still answers
// requests and the poll loop retries.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if _, err := b.Refresh(ctx); err != nil {
		b.logError("initial refresh failed", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)

	if b.cfg.PollInterval > 0 {
		b.wg.Add(1)
		go b.pollLoop(ctx)
	}

	stats := b.gateway().Stats()
	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"lights", stats.Lights,
		"groups", stats.Groups)
	return nil
}

// Stop gracefully shuts down the bridge. The gateway session is closed.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()

		if err := b.gateway().Close(); err != nil {
			b.logError("failed to close gateway session", err)
		}
		b.logInfo("bridge stopped")
	})
}

// Gateway returns the current gateway session.
func (b *Bridge) Gateway() GatewayClient {
	return b.gateway()
}

// PublishHealth publishes the current health status immediately, for example
// after the MQTT session reconnects.
func (b *Bridge) PublishHealth() error {
	return b.health.PublishNow()
}

func (b *Bridge) gateway() GatewayClient {
	return b.gw
}

// Refresh re-reads lights and groups from the gateway, publishes changed
// light states and records snapshots. Concurrent calls share one refresh.
func (b *Bridge) Refresh(ctx context.Context) (RefreshResult, error) {
	// The shared refresh runs on the bridge context so one caller giving up
	// does not fail the others.
	ch := b.refreshes.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(b.ctx, b.cfg.RefreshTimeout)
		defer cancel()
		return b.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			b.logDebug("refresh shared with concurrent caller")
		}
		if res.Err != nil {
			return RefreshResult{}, res.Err
		}
		return res.Val.(RefreshResult), nil
	}
}

func (b *Bridge) refresh(ctx context.Context) (RefreshResult, error) {
	gw := b.gateway()

	changes, err := gw.UpdateAllLightStatus(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("refresh lights: %w", err)
	}

	lights := gw.Lights()
	snaps := make([]LightSnapshot, len(lights))
	for i, l := range lights {
		snaps[i] = l.Snapshot()
		b.publishLightState(snaps[i])
	}
	for _, addr := range changes.Removed {
		b.clearLightState(addr)
	}
	if b.snapshots != nil {
		if err := b.snapshots.RecordLights(ctx, snaps); err != nil {
			b.logError("failed to record light snapshots", err)
		}
	}

	result := RefreshResult{
		Lights:  len(lights),
		Added:   changes.Added,
		Removed: changes.Removed,
	}

	if err := gw.UpdateGroupList(ctx); err != nil {
		return result, fmt.Errorf("refresh groups: %w", err)
	}

	groups := gw.Groups()
	result.Groups = len(groups)
	if b.snapshots != nil {
		gsnaps := make([]GroupSnapshot, len(groups))
		for i, g := range groups {
			gsnaps[i] = g.Snapshot()
		}
		if err := b.snapshots.RecordGroups(ctx, gsnaps); err != nil {
			b.logError("failed to record group snapshots", err)
		}
	}

	return result, nil
}

// pollLoop refreshes periodically while the gateway session is up. Ticks
// after the session is lost are skipped.
func (b *Bridge) pollLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			if !b.gateway().IsConnected() {
				continue
			}
			if _, err := b.Refresh(ctx); err != nil {
				b.logError("poll refresh failed", err)
			}
		}
	}
}

// handleMQTTMessage routes incoming MQTT messages to the right handler.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	select {
	case <-b.done:
		return
	default:
	}

	parts := strings.Split(topic, "/")
	if len(parts) < minCommandTopicParts-1 {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		if len(parts) < minCommandTopicParts {
			b.logError("command topic has no luminary", fmt.Errorf("topic: %s", topic))
			return
		}
		name, err := DecodeTopicName(strings.Join(parts[3:], "/"))
		if err != nil {
			b.logError("invalid luminary name in topic", err)
			return
		}
		b.handleCommand(name, payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand applies one command to the named luminary.
func (b *Bridge) handleCommand(name string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = name
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"luminary", name,
		"command", cmd.Command)

	if err := b.ExecuteCommand(cmd, name); err != nil {
		b.logError("command execution failed", err)
	}
}

// ExecuteCommand validates cmd, applies it to the named luminary and
// publishes the acknowledgments. The returned error has already been
// acknowledged as failed. The outcome is recorded when an auditor is set.
func (b *Bridge) ExecuteCommand(cmd CommandMessage, name string) error {
	err := b.executeCommand(cmd, name)
	b.recordCommand(cmd, name, err)
	return err
}

func (b *Bridge) recordCommand(cmd CommandMessage, name string, cmdErr error) {
	if b.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()
	if err := b.audit.RecordCommand(ctx, cmd, name, cmdErr); err != nil {
		b.logError("failed to record command", err, "command_id", cmd.ID)
	}
}

func (b *Bridge) executeCommand(cmd CommandMessage, name string) error {
	action, err := ActionFromParameters(cmd.Command, cmd.Parameters)
	if err != nil {
		code := ErrCodeInvalidParameters
		if !IsKnownCommand(cmd.Command) {
			code = ErrCodeInvalidCommand
		}
		b.publishAckError(cmd, name, code, err.Error())
		return err
	}

	lum, err := b.gateway().Luminary(name)
	if err != nil {
		b.publishAckError(cmd, name, ErrCodeNotFound, err.Error())
		return err
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.CommandTimeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		b.publishAckError(cmd, name, ErrCodeTimeout, fmt.Sprintf("rate limit wait: %v", err))
		return err
	}

	b.publishAck(cmd, name, AckAccepted)

	if err := action.Apply(ctx, lum); err != nil {
		code := ErrCodeDeviceUnreachable
		if errors.Is(err, context.DeadlineExceeded) {
			code = ErrCodeTimeout
		}
		b.publishAckError(cmd, name, code, fmt.Sprintf("send failed: %v", err))
		return err
	}

	// Group commands leave member caches untouched, so only lights
	// have a new state to report.
	if light, ok := lum.(*Light); ok {
		b.publishLightState(light.Snapshot())
	}
	return nil
}

// IsKnownCommand reports whether command names an action.
func IsKnownCommand(command string) bool {
	_, ok := actionAliases[strings.ToLower(strings.TrimSpace(command))]
	return ok
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, name string, status AckStatus) {
	b.publishJSON(AckTopic(name), NewAckMessage(cmd, status, name), false)
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, name, code, message string) {
	b.publishJSON(AckTopic(name), NewAckError(cmd, name, code, message), false)
	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message))
}

// publishLightState publishes a retained state message if the light changed
// since it was last published, and writes a metrics point.
func (b *Bridge) publishLightState(snap LightSnapshot) {
	b.stateCacheMu.Lock()
	prev, seen := b.stateCache[snap.Address]
	b.stateCache[snap.Address] = snap
	b.stateCacheMu.Unlock()

	if seen && prev == snap {
		return
	}

	b.publishJSON(StateTopic(snap.Address), NewStateMessage(snap), true)

	if b.metrics != nil {
		b.metrics.WritePoint(lightMeasurement,
			map[string]string{
				"address": snap.Address.String(),
				"name":    snap.Name,
			},
			map[string]interface{}{
				"on":          snap.On,
				"online":      int(snap.Online),
				"luminance":   int(snap.Luminance),
				"temperature": int(snap.Temperature),
				"red":         int(snap.Red),
				"green":       int(snap.Green),
				"blue":        int(snap.Blue),
			})
	}
}

// clearLightState removes the retained state of a light the gateway no
// longer reports.
func (b *Bridge) clearLightState(addr Address) {
	b.stateCacheMu.Lock()
	delete(b.stateCache, addr)
	b.stateCacheMu.Unlock()

	if err := b.mqtt.Publish(StateTopic(addr), nil, 1, true); err != nil {
		b.logError("failed to clear retained state", err)
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var (
		data map[string]any
		err  error
	)
	switch req.Action {
	case "refresh":
		data, err = b.handleRefresh()
	case "list_lights":
		data = map[string]any{"lights": b.LightSnapshots()}
	case "list_groups":
		data = map[string]any{"groups": b.GroupSnapshots()}
	case "light_status":
		data, err = b.handleLightStatus(req)
	default:
		err = fmt.Errorf("%w: unknown action %q", ErrInvalidAction, req.Action)
	}

	resp := ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   err == nil,
		Data:      data,
	}
	if err != nil {
		resp.Error = &ResponseError{Code: errorCode(err), Message: err.Error()}
	}

	b.publishJSON(ResponseTopic(req.RequestID), resp, false)
}

func (b *Bridge) handleRefresh() (map[string]any, error) {
	result, err := b.Refresh(b.ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"lights":  result.Lights,
		"groups":  result.Groups,
		"added":   len(result.Added),
		"removed": len(result.Removed),
	}, nil
}

func (b *Bridge) handleLightStatus(req RequestMessage) (map[string]any, error) {
	raw, _ := req.Parameters["address"].(string)
	if raw == "" {
		return nil, fmt.Errorf("%w: address parameter is required", ErrInvalidAddress)
	}
	addr, err := ParseAddress(raw)
	if err != nil {
		return nil, err
	}

	snap, err := b.LightStatus(b.ctx, addr)
	if err != nil {
		return nil, err
	}
	return map[string]any{"light": snap}, nil
}

// LightStatus queries one light, publishes its state and returns it.
func (b *Bridge) LightStatus(ctx context.Context, addr Address) (LightSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()

	light, err := b.gateway().UpdateLightStatus(ctx, addr)
	if err != nil {
		return LightSnapshot{}, err
	}
	snap := light.Snapshot()
	b.publishLightState(snap)
	return snap, nil
}

// LightSnapshots returns the held lights ordered by address.
func (b *Bridge) LightSnapshots() []LightSnapshot {
	lights := b.gateway().Lights()
	snaps := make([]LightSnapshot, len(lights))
	for i, l := range lights {
		snaps[i] = l.Snapshot()
	}
	return snaps
}

// GroupSnapshots returns the held groups ordered by index.
func (b *Bridge) GroupSnapshots() []GroupSnapshot {
	groups := b.gateway().Groups()
	snaps := make([]GroupSnapshot, len(groups))
	for i, g := range groups {
		snaps[i] = g.Snapshot()
	}
	return snaps
}

// errorCode maps an error to a bridge error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrInvalidAddress):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrInvalidAction):
		return ErrCodeInvalidCommand
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, ErrFraming), errors.Is(err, ErrDecode):
		return ErrCodeProtocolError
	case IsGatewayError(err):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.logError("failed to publish", err, "topic", topic)
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// gatewayStatus lets the health reporter follow session replacement.
type gatewayStatus struct {
	b *Bridge
}

func (s gatewayStatus) IsConnected() bool      { return s.b.gateway().IsConnected() }
func (s gatewayStatus) Stats() ConnectionStats { return s.b.gateway().Stats() }
func (s gatewayStatus) Address() string        { return addrString(s.b.gateway().RemoteAddr()) }

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
