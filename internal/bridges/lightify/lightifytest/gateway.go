// Package lightifytest provides an in-process Lightify gateway for tests.
//
// The simulated gateway speaks the same length-prefixed little-endian
// frames as the real device. It answers group list, group info,
// all-light-status and light status requests from its configured state,
// and applies on/off, luminance, temperature and colour commands to that
// state so tests can observe their effect.
//
// Example:
//
//	gw := lightifytest.NewGateway(t)
//	gw.SetLights(lightifytest.Light{Address: addr, Name: "Desk"})
//	conn, err := lightify.Connect(ctx, gw.Address(), lightify.TransportConfig{})
package lightifytest

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
)

// Command codes understood by the simulator.
const (
	CmdAllLightStatus byte = 0x13
	CmdGroupList      byte = 0x1e
	CmdGroupInfo      byte = 0x26
	CmdLuminance      byte = 0x31
	CmdOnOff          byte = 0x32
	CmdTemperature    byte = 0x33
	CmdColour         byte = 0x36
	CmdLightStatus    byte = 0x68
)

const (
	nameWidth       = 16
	headerSize      = 8
	targetEnd       = headerSize + 8
	lightRecordSize = 42
	groupRecordSize = 18
	lightStatusSize = 51
)

// flagGroup marks group-targeted and global frames.
const flagGroup byte = 0x02

// Light is the simulated state of one light.
type Light struct {
	Address     [8]byte
	Name        string
	Type        uint8
	Online      uint8
	On          bool
	Luminance   uint8
	Temperature uint16
	Red         uint8
	Green       uint8
	Blue        uint8
}

// Group is a simulated gateway group.
type Group struct {
	Index   uint8
	Name    string
	Members [][8]byte
}

// Gateway is a simulated Lightify gateway listening on 127.0.0.1.
type Gateway struct {
	listener net.Listener

	mu       sync.Mutex
	lights   []Light
	groups   []Group
	requests [][]byte
	conns    []net.Conn
	hangup   map[byte]bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewGateway starts a simulated gateway. It is closed when the test ends.
func NewGateway(t testing.TB) *Gateway {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("lightifytest: listen: %v", err)
	}

	g := &Gateway{
		listener: listener,
		hangup:   make(map[byte]bool),
		done:     make(chan struct{}),
	}

	g.wg.Add(1)
	go g.acceptLoop()

	t.Cleanup(g.Close)
	return g
}

// Address returns the host:port the gateway listens on.
func (g *Gateway) Address() string {
	return g.listener.Addr().String()
}

// SetLights replaces the simulated lights.
func (g *Gateway) SetLights(lights ...Light) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lights = append([]Light(nil), lights...)
}

// SetGroups replaces the simulated groups.
func (g *Gateway) SetGroups(groups ...Group) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.groups = append([]Group(nil), groups...)
}

// Light returns the current simulated state of the light at addr.
func (g *Gateway) Light(addr [8]byte) (Light, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, l := range g.lights {
		if l.Address == addr {
			return l, true
		}
	}
	return Light{}, false
}

// HangUpOn makes the gateway close the connection instead of replying to cmd.
func (g *Gateway) HangUpOn(cmd byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hangup[cmd] = true
}

// Requests returns a copy of every frame received so far.
func (g *Gateway) Requests() [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]byte, len(g.requests))
	for i, r := range g.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Commands returns the command byte of every frame received so far.
func (g *Gateway) Commands() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]byte, 0, len(g.requests))
	for _, r := range g.requests {
		out = append(out, r[3])
	}
	return out
}

// Close stops the gateway and drops every open connection.
func (g *Gateway) Close() {
	select {
	case <-g.done:
		return
	default:
	}
	close(g.done)
	g.listener.Close()

	g.mu.Lock()
	for _, c := range g.conns {
		c.Close()
	}
	g.mu.Unlock()

	g.wg.Wait()
}

func (g *Gateway) acceptLoop() {
	defer g.wg.Done()
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.mu.Unlock()

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.Serve(conn)
		}()
	}
}

// Serve answers frames on conn until it closes. It can be used directly
// with one end of net.Pipe.
func (g *Gateway) Serve(conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return
		}

		g.mu.Lock()
		g.requests = append(g.requests, frame)
		hangup := len(frame) >= headerSize && g.hangup[frame[3]]
		g.mu.Unlock()

		if hangup || len(frame) < headerSize {
			return
		}

		if _, err := conn.Write(g.reply(frame)); err != nil {
			return
		}
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, 2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	frame := make([]byte, 2+int(binary.LittleEndian.Uint16(prefix)))
	copy(frame, prefix)
	if _, err := io.ReadFull(r, frame[2:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// reply builds the answer to one request and applies any state change.
func (g *Gateway) reply(req []byte) []byte {
	cmd := req[3]
	seq := binary.LittleEndian.Uint32(req[4:])

	g.mu.Lock()
	defer g.mu.Unlock()

	switch cmd {
	case CmdGroupList:
		return GroupListReply(seq, g.groups...)
	case CmdAllLightStatus:
		return AllLightStatusReply(seq, g.lights...)
	case CmdGroupInfo:
		idx := targetOf(req)[0]
		for _, grp := range g.groups {
			if grp.Index == idx {
				return GroupInfoReply(seq, grp)
			}
		}
		return GroupInfoReply(seq, Group{Index: idx})
	case CmdLightStatus:
		target := targetOf(req)
		for _, l := range g.lights {
			if l.Address == target {
				return LightStatusReply(seq, l)
			}
		}
		return LightStatusReply(seq, Light{Address: target})
	default:
		g.apply(req)
		return AckReply(seq, cmd, req[2], targetOf(req))
	}
}

func targetOf(req []byte) [8]byte {
	var target [8]byte
	if len(req) >= targetEnd {
		copy(target[:], req[headerSize:targetEnd])
	}
	return target
}

// apply updates the simulated lights addressed by a state command.
func (g *Gateway) apply(req []byte) {
	if len(req) < targetEnd {
		return
	}
	payload := req[targetEnd:]
	target := targetOf(req)

	var members [][8]byte
	if req[2] == flagGroup {
		for _, grp := range g.groups {
			if grp.Index == target[0] {
				members = grp.Members
			}
		}
	} else {
		members = [][8]byte{target}
	}

	for i := range g.lights {
		l := &g.lights[i]
		if !containsAddress(members, l.Address) {
			continue
		}
		switch {
		case req[3] == CmdOnOff && len(payload) >= 1:
			l.On = payload[0] != 0
		case req[3] == CmdLuminance && len(payload) >= 3:
			l.Luminance = payload[0]
		case req[3] == CmdTemperature && len(payload) >= 4:
			l.Temperature = binary.LittleEndian.Uint16(payload)
		case req[3] == CmdColour && len(payload) >= 6:
			l.Red, l.Green, l.Blue = payload[0], payload[1], payload[2]
		}
	}
}

func containsAddress(list [][8]byte, addr [8]byte) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

// newReply allocates a reply frame of size bytes with its header filled in.
func newReply(size int, flag, cmd byte, seq uint32) []byte {
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf, uint16(size-2))
	buf[2] = flag
	buf[3] = cmd
	binary.LittleEndian.PutUint32(buf[4:], seq)
	return buf
}

func putName(dst []byte, name string) {
	n := copy(dst[:nameWidth], name)
	for i := n; i < nameWidth; i++ {
		dst[i] = 0
	}
}

// GroupListReply encodes a group list reply.
// The u16 count sits at offset 7 and overlaps the top byte of the sequence.
func GroupListReply(seq uint32, groups ...Group) []byte {
	buf := newReply(11+len(groups)*groupRecordSize, flagGroup, CmdGroupList, seq)
	binary.LittleEndian.PutUint16(buf[7:], uint16(len(groups)))
	for i, grp := range groups {
		pos := 11 + i*groupRecordSize
		binary.LittleEndian.PutUint16(buf[pos:], uint16(grp.Index))
		putName(buf[pos+2:], grp.Name)
	}
	return buf
}

// GroupInfoReply encodes a group info reply.
func GroupInfoReply(seq uint32, grp Group) []byte {
	buf := newReply(26+len(grp.Members)*8, flagGroup, CmdGroupInfo, seq)
	binary.LittleEndian.PutUint16(buf[7:], uint16(grp.Index))
	putName(buf[9:], grp.Name)
	buf[25] = uint8(len(grp.Members))
	for i, m := range grp.Members {
		copy(buf[26+i*8:], m[:])
	}
	return buf
}

// AllLightStatusReply encodes an all-light-status reply.
func AllLightStatusReply(seq uint32, lights ...Light) []byte {
	buf := newReply(11+len(lights)*lightRecordSize, flagGroup, CmdAllLightStatus, seq)
	binary.LittleEndian.PutUint16(buf[9:], uint16(len(lights)))
	for i, l := range lights {
		rec := buf[11+i*lightRecordSize:]
		binary.LittleEndian.PutUint16(rec, uint16(i+1))
		copy(rec[2:10], l.Address[:])
		rec[10] = l.Type
		rec[15] = l.Online
		if l.On {
			rec[18] = 1
		}
		rec[19] = l.Luminance
		binary.LittleEndian.PutUint16(rec[20:], l.Temperature)
		rec[22] = l.Red
		rec[23] = l.Green
		rec[24] = l.Blue
		rec[25] = 0xFF
		putName(rec[26:], l.Name)
	}
	return buf
}

// LightStatusReply encodes a single light status reply.
func LightStatusReply(seq uint32, l Light) []byte {
	buf := newReply(lightStatusSize, 0x00, CmdLightStatus, seq)
	copy(buf[11:19], l.Address[:])
	if l.On {
		buf[27] = 1
	}
	buf[28] = l.Luminance
	binary.LittleEndian.PutUint16(buf[29:], l.Temperature)
	buf[31] = l.Red
	buf[32] = l.Green
	buf[33] = l.Blue
	buf[34] = 0xFF
	return buf
}

// AckReply encodes the gateway's answer to a state command.
func AckReply(seq uint32, cmd, flag byte, target [8]byte) []byte {
	buf := newReply(targetEnd+1, flag, cmd, seq)
	copy(buf[headerSize:], target[:])
	return buf
}

// ErrClosed is returned by Dial after Close.
var ErrClosed = errors.New("lightifytest: gateway closed")

// Dial returns the client end of an in-memory connection served by g.
func (g *Gateway) Dial() (net.Conn, error) {
	select {
	case <-g.done:
		return nil, ErrClosed
	default:
	}

	client, server := net.Pipe()
	g.mu.Lock()
	g.conns = append(g.conns, server)
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.Serve(server)
	}()
	return client, nil
}
