package lightify

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionStats holds operational statistics for one gateway session.
type ConnectionStats struct {
	TransportStats

	Lights           int
	Groups           int
	Connected        bool
	LastLightRefresh time.Time
	LastGroupRefresh time.Time
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger for the connection and its transport.
func WithLogger(logger Logger) Option {
	return func(c *Connection) {
		c.SetLogger(logger)
	}
}

// Connection is one session with a Lightify gateway.
//
// It owns the transport, the sequence counter and the light and group
// collections. Every request sends exactly one frame and waits for exactly
// one reply; a single mutex serialises these exchanges so the Connection is
// safe for concurrent use without ever pipelining requests.
//
// There is no reconnection. After an I/O failure the Connection reports
// ErrClosed and a new one must be created.
type Connection struct {
	transport *Transport
	builder   *FrameBuilder
	store     *Store

	// exchangeMu serialises request/reply pairs on the wire.
	exchangeMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex

	lastLightRefresh atomic.Int64 // Unix timestamp, 0 if never
	lastGroupRefresh atomic.Int64 // Unix timestamp, 0 if never
}

// Connect dials the gateway and returns a ready Connection.
//
// Parameters:
//   - ctx: Context for cancellation of the dial
//   - address: Gateway host, with or without a port (default 4000)
//   - cfg: Socket timeouts
//   - opts: Optional settings such as WithLogger
//
// Returns:
//   - *Connection: Session with empty light and group collections
//   - error: ErrConnection if the gateway cannot be reached
func Connect(ctx context.Context, address string, cfg TransportConfig, opts ...Option) (*Connection, error) {
	transport, err := Dial(ctx, address, cfg)
	if err != nil {
		return nil, err
	}
	c := NewConnection(transport, opts...)
	c.logInfo("connected to gateway", "address", transport.RemoteAddr().String())
	return c, nil
}

// NewConnection wraps an existing transport. The Connection owns transport.
func NewConnection(transport *Transport, opts ...Option) *Connection {
	c := &Connection{
		transport: transport,
		builder:   NewFrameBuilder(),
	}
	c.store = newStore(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// roundTrip builds a frame, sends it and returns the single reply.
// The frame is built under the exchange lock so sequence numbers reach the
// wire in order.
func (c *Connection) roundTrip(ctx context.Context, want Command, build func() ([]byte, error)) ([]byte, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	frame, err := build()
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(ctx, frame); err != nil {
		return nil, err
	}
	reply, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}

	header, err := ParseHeader(reply)
	if err != nil {
		return nil, err
	}
	if header.Command != want {
		c.logWarn("reply command differs from request",
			"request", want.String(), "reply", header.Command.String())
	}
	return reply, nil
}

// command implements commander for the luminaries in this connection's store.
func (c *Connection) command(ctx context.Context, target Target, cmd Command, payload []byte) error {
	_, err := c.roundTrip(ctx, cmd, func() ([]byte, error) {
		return c.builder.Targeted(cmd, target, payload)
	})
	if err != nil {
		return fmt.Errorf("%s command: %w", cmd, err)
	}
	return nil
}

// BuildCommand builds a targeted frame for lum without sending it.
// It consumes a sequence number.
func (c *Connection) BuildCommand(lum Luminary, cmd Command, payload []byte) ([]byte, error) {
	return c.builder.Targeted(cmd, lum.Target(), payload)
}

// GroupList asks the gateway for every group index and name.
func (c *Connection) GroupList(ctx context.Context) (map[uint8]string, error) {
	reply, err := c.roundTrip(ctx, CmdGroupList, func() ([]byte, error) {
		return c.builder.Global(CmdGroupList, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("group list: %w", err)
	}
	return DecodeGroupList(reply)
}

// GroupInfo asks the gateway for one group's name and members.
func (c *Connection) GroupInfo(ctx context.Context, idx uint8) (GroupInfo, error) {
	reply, err := c.roundTrip(ctx, CmdGroupInfo, func() ([]byte, error) {
		return c.builder.Targeted(CmdGroupInfo, GroupTarget(idx), nil)
	})
	if err != nil {
		return GroupInfo{}, fmt.Errorf("group info %d: %w", idx, err)
	}
	return DecodeGroupInfo(reply)
}

// UpdateGroupList refreshes the group collection.
//
// It fetches the group list, then the members of each group in index order,
// and replaces the held groups only if every request succeeded.
func (c *Connection) UpdateGroupList(ctx context.Context) error {
	list, err := c.GroupList(ctx)
	if err != nil {
		return err
	}

	infos := make([]GroupInfo, 0, len(list))
	for _, idx := range slices.Sorted(maps.Keys(list)) {
		info, err := c.GroupInfo(ctx, idx)
		if err != nil {
			return err
		}
		infos = append(infos, GroupInfo{
			Index:   idx,
			Name:    list[idx],
			Members: info.Members,
		})
	}

	c.store.ReplaceGroups(infos)
	c.lastGroupRefresh.Store(time.Now().Unix())
	c.logInfo("groups refreshed", "groups", len(infos))
	return nil
}

// UpdateAllLightStatus resynchronises the light collection with the gateway.
//
// Known lights are updated in place, new ones are added and lights the
// gateway no longer reports are dropped.
func (c *Connection) UpdateAllLightStatus(ctx context.Context) (LightChanges, error) {
	reply, err := c.roundTrip(ctx, CmdAllLightStatus, func() ([]byte, error) {
		return c.builder.Global(CmdAllLightStatus, AllLightStatusPayload())
	})
	if err != nil {
		return LightChanges{}, fmt.Errorf("all light status: %w", err)
	}

	records, err := DecodeAllLightStatus(reply)
	if err != nil {
		return LightChanges{}, err
	}

	changes := c.store.ApplyLightStatus(records)
	c.lastLightRefresh.Store(time.Now().Unix())
	c.logInfo("lights refreshed",
		"lights", len(records),
		"added", len(changes.Added),
		"removed", len(changes.Removed))
	return changes, nil
}

// UpdateLightStatus queries one light and updates its cached state.
//
// Returns ErrNotFound without contacting the gateway if addr is not a held light.
func (c *Connection) UpdateLightStatus(ctx context.Context, addr Address) (*Light, error) {
	if _, err := c.store.Light(addr); err != nil {
		return nil, err
	}

	reply, err := c.roundTrip(ctx, CmdLightStatus, func() ([]byte, error) {
		return c.builder.Targeted(CmdLightStatus, LightTarget(addr), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("light status %s: %w", addr, err)
	}

	state, err := DecodeLightStatus(reply)
	if err != nil {
		return nil, err
	}
	return c.store.UpdateLightState(addr, state)
}

// Lights returns every held light ordered by address.
func (c *Connection) Lights() []*Light {
	return c.store.Lights()
}

// Groups returns every held group ordered by index.
func (c *Connection) Groups() []*Group {
	return c.store.Groups()
}

// Light returns the held light with the given address, or ErrNotFound.
func (c *Connection) Light(addr Address) (*Light, error) {
	return c.store.Light(addr)
}

// LightByName returns a held light with the given name, or ErrNotFound.
func (c *Connection) LightByName(name string) (*Light, error) {
	return c.store.LightByName(name)
}

// GroupByName returns the held group with the given name, or ErrNotFound.
func (c *Connection) GroupByName(name string) (*Group, error) {
	return c.store.GroupByName(name)
}

// Members resolves a group's members to held lights.
func (c *Connection) Members(group *Group) []*Light {
	return c.store.Members(group)
}

// Luminary resolves a name to a light, falling back to a group.
//
// Returns ErrNotFound if neither a light nor a group has that name.
func (c *Connection) Luminary(name string) (Luminary, error) {
	light, err := c.store.LightByName(name)
	if err == nil {
		return light, nil
	}
	group, gerr := c.store.GroupByName(name)
	if gerr == nil {
		return group, nil
	}
	return nil, fmt.Errorf("%w: no light or group named %q", ErrNotFound, name)
}

// Close ends the session. Safe to call multiple times.
func (c *Connection) Close() error {
	err := c.transport.Close()
	c.logInfo("gateway connection closed")
	return err
}

// IsConnected reports whether the session is still usable.
func (c *Connection) IsConnected() bool {
	return !c.transport.IsClosed()
}

// RemoteAddr returns the gateway's network address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.transport.RemoteAddr()
}

// HealthCheck reports ErrClosed once the session has failed or been closed.
func (c *Connection) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrClosed
	}
	return nil
}

// Stats returns current operational statistics.
func (c *Connection) Stats() ConnectionStats {
	lights, groups := c.store.Counts()
	return ConnectionStats{
		TransportStats:   c.transport.Stats(),
		Lights:           lights,
		Groups:           groups,
		Connected:        c.IsConnected(),
		LastLightRefresh: unixOrZero(c.lastLightRefresh.Load()),
		LastGroupRefresh: unixOrZero(c.lastGroupRefresh.Load()),
	}
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// SetLogger sets the logger for this connection and its transport.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.transport.SetLogger(logger)
}

func (c *Connection) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// logInfo logs an info message if logger is set.
func (c *Connection) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (c *Connection) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// IsGatewayError reports whether err came from the gateway session rather
// than from a lookup or argument problem.
func IsGatewayError(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrFraming) ||
		errors.Is(err, ErrDecode)
}
