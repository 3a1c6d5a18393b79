package lightify

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Luminary is anything the gateway can switch, dim or colour: a single
// Light or a Group of lights.
//
// The interface is sealed; *Light and *Group are its only implementations.
type Luminary interface {
	// Name is the display name reported by the gateway.
	Name() string

	// Target is the flag byte and 8-byte target used in command frames.
	Target() Target

	// SetOnOff switches the luminary on or off.
	SetOnOff(ctx context.Context, on bool) error

	// SetLuminance sets brightness with a transition time.
	SetLuminance(ctx context.Context, level uint8, transition uint16) error

	// SetTemperature sets colour temperature in kelvin with a transition time.
	SetTemperature(ctx context.Context, kelvin, transition uint16) error

	// SetRGB sets an RGB colour with a transition time.
	SetRGB(ctx context.Context, r, g, b uint8, transition uint16) error

	luminary()
}

// commander sends one targeted command and waits for its reply.
type commander interface {
	command(ctx context.Context, target Target, cmd Command, payload []byte) error
}

var (
	_ Luminary = (*Light)(nil)
	_ Luminary = (*Group)(nil)
)

// Light is one addressable light.
//
// A Light keeps its identity across refreshes: the same *Light is updated in
// place for as long as its address keeps appearing in status replies.
// Accessors are safe for concurrent use.
type Light struct {
	cmd  commander
	addr Address

	mu     sync.RWMutex
	name   string
	typ    uint8
	online uint8
	state  LightState
}

// LightSnapshot is a point-in-time copy of a Light.
type LightSnapshot struct {
	Address Address `json:"address"`
	Name    string  `json:"name"`
	Type    uint8   `json:"type"`
	Online  uint8   `json:"online"`
	LightState
}

func newLight(cmd commander, rec LightRecord) *Light {
	l := &Light{cmd: cmd, addr: rec.Address}
	l.update(rec)
	return l
}

// update copies a status record into the light.
func (l *Light) update(rec LightRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.name = rec.Name
	l.typ = rec.Type
	l.online = rec.Online
	l.state = rec.State
}

// setState replaces the cached state.
func (l *Light) setState(state LightState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
}

func (l *Light) luminary() {}

// Address returns the light's 8-byte address.
func (l *Light) Address() Address {
	return l.addr
}

// Name returns the light's display name.
func (l *Light) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// Type returns the raw light-type byte from the last status reply.
func (l *Light) Type() uint8 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.typ
}

// Online returns the raw online-status byte from the last status reply.
func (l *Light) Online() uint8 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.online
}

// State returns the cached on/off, luminance, temperature and colour.
func (l *Light) State() LightState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// On reports the cached power state.
func (l *Light) On() bool {
	return l.State().On
}

// Luminance returns the cached brightness level.
func (l *Light) Luminance() uint8 {
	return l.State().Luminance
}

// Temperature returns the cached colour temperature in kelvin.
func (l *Light) Temperature() uint16 {
	return l.State().Temperature
}

// RGB returns the cached colour channels.
func (l *Light) RGB() (r, g, b uint8) {
	s := l.State()
	return s.Red, s.Green, s.Blue
}

// Snapshot returns a copy of every cached field.
func (l *Light) Snapshot() LightSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LightSnapshot{
		Address:    l.addr,
		Name:       l.name,
		Type:       l.typ,
		Online:     l.online,
		LightState: l.state,
	}
}

// Target returns the light-targeted frame header fields.
func (l *Light) Target() Target {
	return LightTarget(l.addr)
}

// String implements fmt.Stringer.
func (l *Light) String() string {
	return fmt.Sprintf("<light: %s>", l.Name())
}

// SetOnOff switches the light. The cached state changes before the command
// is sent and stays changed if the exchange fails.
func (l *Light) SetOnOff(ctx context.Context, on bool) error {
	l.mu.Lock()
	l.state.On = on
	l.mu.Unlock()
	return send(ctx, l.cmd, l.Target(), CmdOnOff, OnOffPayload(on))
}

// SetLuminance sets brightness, updating the cache first.
func (l *Light) SetLuminance(ctx context.Context, level uint8, transition uint16) error {
	l.mu.Lock()
	l.state.Luminance = level
	l.mu.Unlock()
	return send(ctx, l.cmd, l.Target(), CmdLuminance, LuminancePayload(level, transition))
}

// SetTemperature sets colour temperature, updating the cache first.
func (l *Light) SetTemperature(ctx context.Context, kelvin, transition uint16) error {
	l.mu.Lock()
	l.state.Temperature = kelvin
	l.mu.Unlock()
	return send(ctx, l.cmd, l.Target(), CmdTemperature, TemperaturePayload(kelvin, transition))
}

// SetRGB sets the colour, updating the cache first.
func (l *Light) SetRGB(ctx context.Context, r, g, b uint8, transition uint16) error {
	l.mu.Lock()
	l.state.Red, l.state.Green, l.state.Blue = r, g, b
	l.mu.Unlock()
	return send(ctx, l.cmd, l.Target(), CmdColour, ColourPayload(r, g, b, transition))
}

// Group is a gateway-defined set of lights addressed by a one-byte index.
//
// Groups are rebuilt on every group refresh and are immutable once built.
// Member addresses are resolved against the light collection on demand.
type Group struct {
	cmd     commander
	index   uint8
	name    string
	members []Address
}

// GroupSnapshot is a JSON-friendly copy of a Group.
type GroupSnapshot struct {
	Index   uint8     `json:"index"`
	Name    string    `json:"name"`
	Members []Address `json:"members"`
}

func newGroup(cmd commander, info GroupInfo) *Group {
	return &Group{
		cmd:     cmd,
		index:   info.Index,
		name:    info.Name,
		members: slices.Clone(info.Members),
	}
}

func (g *Group) luminary() {}

// Index returns the group's gateway index.
func (g *Group) Index() uint8 {
	return g.index
}

// Name returns the group's display name.
func (g *Group) Name() string {
	return g.name
}

// Members returns a copy of the member addresses in gateway order.
func (g *Group) Members() []Address {
	return slices.Clone(g.members)
}

// Snapshot returns a copy of the group.
func (g *Group) Snapshot() GroupSnapshot {
	return GroupSnapshot{Index: g.index, Name: g.name, Members: g.Members()}
}

// Target returns the group-targeted frame header fields.
func (g *Group) Target() Target {
	return GroupTarget(g.index)
}

// String implements fmt.Stringer.
func (g *Group) String() string {
	return fmt.Sprintf("<group: %s, %d lights>", g.name, len(g.members))
}

// SetOnOff switches every light in the group. Member Light caches are not
// touched; refresh to observe the result.
func (g *Group) SetOnOff(ctx context.Context, on bool) error {
	return send(ctx, g.cmd, g.Target(), CmdOnOff, OnOffPayload(on))
}

// SetLuminance sets brightness for the group.
func (g *Group) SetLuminance(ctx context.Context, level uint8, transition uint16) error {
	return send(ctx, g.cmd, g.Target(), CmdLuminance, LuminancePayload(level, transition))
}

// SetTemperature sets colour temperature for the group.
func (g *Group) SetTemperature(ctx context.Context, kelvin, transition uint16) error {
	return send(ctx, g.cmd, g.Target(), CmdTemperature, TemperaturePayload(kelvin, transition))
}

// SetRGB sets the colour for the group.
func (g *Group) SetRGB(ctx context.Context, red, green, blue uint8, transition uint16) error {
	return send(ctx, g.cmd, g.Target(), CmdColour, ColourPayload(red, green, blue, transition))
}

// send issues a command through cmd, which is nil for detached luminaries.
func send(ctx context.Context, cmd commander, target Target, c Command, payload []byte) error {
	if cmd == nil {
		return fmt.Errorf("%w: %s command on a luminary without a connection", ErrClosed, c)
	}
	return cmd.command(ctx, target, c, payload)
}
