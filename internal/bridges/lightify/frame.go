package lightify

import (
	"fmt"
	"sync/atomic"
)

// Command is the gateway command code carried in byte 3 of every frame.
type Command uint8

// Gateway command codes.
const (
	// CmdAllLightStatus requests the status of every paired light (global).
	CmdAllLightStatus Command = 0x13

	// CmdGroupList requests the index and name of every group (global).
	CmdGroupList Command = 0x1e

	// CmdGroupInfo requests a group's name and member addresses (targeted at a group).
	CmdGroupInfo Command = 0x26

	// CmdLuminance sets brightness with a transition time.
	CmdLuminance Command = 0x31

	// CmdOnOff switches a light or group on or off.
	CmdOnOff Command = 0x32

	// CmdTemperature sets colour temperature in kelvin with a transition time.
	CmdTemperature Command = 0x33

	// CmdColour sets an RGB colour with a transition time.
	CmdColour Command = 0x36

	// CmdLightStatus requests the status of a single light (targeted at a light).
	CmdLightStatus Command = 0x68
)

// String returns a readable name for the command code.
func (c Command) String() string {
	switch c {
	case CmdAllLightStatus:
		return "all_light_status"
	case CmdGroupList:
		return "group_list"
	case CmdGroupInfo:
		return "group_info"
	case CmdLuminance:
		return "luminance"
	case CmdOnOff:
		return "onoff"
	case CmdTemperature:
		return "temperature"
	case CmdColour:
		return "colour"
	case CmdLightStatus:
		return "light_status"
	default:
		return fmt.Sprintf("0x%02x", uint8(c))
	}
}

// Frame flag byte values.
const (
	// FlagLight marks a frame targeted at a single light address.
	FlagLight byte = 0x00

	// FlagGroup marks a frame targeted at a group index. Global frames use it too.
	FlagGroup byte = 0x02
)

// Frame layout sizes.
const (
	// LengthPrefixSize is the size of the little-endian length field.
	LengthPrefixSize = 2

	// HeaderSize is the length prefix plus flag, command and sequence.
	HeaderSize = LengthPrefixSize + 6

	// globalBodySize counts flag, command and sequence.
	globalBodySize = 6

	// targetedBodySize adds the 8-byte target to globalBodySize.
	targetedBodySize = globalBodySize + AddressLen

	// maxBodyLength is the largest value the length field can hold.
	maxBodyLength = 0xFFFF

	// initialSequence seeds the counter; the first frame carries initialSequence+1.
	initialSequence = 1

	// colourAlpha is sent in the fourth colour byte.
	colourAlpha = 0xFF

	// allLightStatusFlag is the single payload byte of an all-light-status request.
	allLightStatusFlag = 0x01
)

// Target is the flag byte and 8-byte target field of a targeted frame.
type Target struct {
	Flag byte
	ID   [AddressLen]byte
}

// LightTarget targets a single light by address.
func LightTarget(addr Address) Target {
	return Target{Flag: FlagLight, ID: addr}
}

// GroupTarget targets a group. The index goes in byte 0; the rest stays zero.
func GroupTarget(idx uint8) Target {
	t := Target{Flag: FlagGroup}
	t.ID[0] = idx
	return t
}

// FrameBuilder lays out outbound frames and owns the sequence counter for one
// gateway session.
//
// Sequence numbers are strictly increasing and never repeat. The counter
// starts so that the first frame carries 2; the gateway has only been observed
// with that numbering.
type FrameBuilder struct {
	seq atomic.Uint32
}

// NewFrameBuilder returns a builder with a fresh sequence counter.
func NewFrameBuilder() *FrameBuilder {
	b := &FrameBuilder{}
	b.seq.Store(initialSequence)
	return b
}

// NextSequence advances the counter and returns the new value.
func (b *FrameBuilder) NextSequence() uint32 {
	return b.seq.Add(1)
}

// Global builds a broadcast frame:
//
//	u16 length | 0x02 | command | u32 sequence | payload
//
// Parameters:
//   - cmd: Command code
//   - payload: Command payload, may be nil
//
// Returns:
//   - []byte: Complete frame including the length prefix
//   - error: ErrFraming if the payload does not fit the length field
func (b *FrameBuilder) Global(cmd Command, payload []byte) ([]byte, error) {
	length := globalBodySize + len(payload)
	if length > maxBodyLength {
		return nil, fmt.Errorf("%w: %s payload of %d bytes exceeds frame limit", ErrFraming, cmd, len(payload))
	}

	w := NewWriter(LengthPrefixSize + length)
	w.PutUint16(uint16(length))
	w.PutUint8(FlagGroup)
	w.PutUint8(uint8(cmd))
	w.PutUint32(b.NextSequence())
	w.PutBytes(payload)
	return w.Bytes(), w.Err()
}

// Targeted builds a frame aimed at a light or a group:
//
//	u16 length | flag | command | u32 sequence | 8-byte target | payload
//
// Parameters:
//   - cmd: Command code
//   - target: LightTarget or GroupTarget
//   - payload: Command payload, may be nil
//
// Returns:
//   - []byte: Complete frame including the length prefix
//   - error: ErrFraming if the payload does not fit the length field
func (b *FrameBuilder) Targeted(cmd Command, target Target, payload []byte) ([]byte, error) {
	length := targetedBodySize + len(payload)
	if length > maxBodyLength {
		return nil, fmt.Errorf("%w: %s payload of %d bytes exceeds frame limit", ErrFraming, cmd, len(payload))
	}

	w := NewWriter(LengthPrefixSize + length)
	w.PutUint16(uint16(length))
	w.PutUint8(target.Flag)
	w.PutUint8(uint8(cmd))
	w.PutUint32(b.NextSequence())
	w.PutBytes(target.ID[:])
	w.PutBytes(payload)
	return w.Bytes(), w.Err()
}

// OnOffPayload encodes an on/off command: one byte, 1 or 0.
func OnOffPayload(on bool) []byte {
	if on {
		return []byte{1}
	}
	return []byte{0}
}

// LuminancePayload encodes a brightness command: level byte then u16 transition time.
func LuminancePayload(level uint8, transition uint16) []byte {
	w := NewWriter(3)
	w.PutUint8(level)
	w.PutUint16(transition)
	return w.Bytes()
}

// TemperaturePayload encodes a colour temperature command: u16 kelvin then u16 transition time.
func TemperaturePayload(kelvin, transition uint16) []byte {
	w := NewWriter(4)
	w.PutUint16(kelvin)
	w.PutUint16(transition)
	return w.Bytes()
}

// ColourPayload encodes an RGB command: red, green, blue, a constant 0xFF,
// then u16 transition time.
func ColourPayload(r, g, b uint8, transition uint16) []byte {
	w := NewWriter(6)
	w.PutUint8(r)
	w.PutUint8(g)
	w.PutUint8(b)
	w.PutUint8(colourAlpha)
	w.PutUint16(transition)
	return w.Bytes()
}

// AllLightStatusPayload is the payload of an all-light-status request.
func AllLightStatusPayload() []byte {
	return []byte{allLightStatusFlag}
}

// Header is the fixed leading part of every frame.
type Header struct {
	// Length is the declared byte count after the length field.
	Length uint16

	// Flag is the frame flag byte.
	Flag byte

	// Command is the command code.
	Command Command

	// Sequence is the sequence number.
	Sequence uint32
}

// ParseHeader decodes the first 8 bytes of a complete frame.
//
// Returns ErrFraming if the frame is shorter than a header or if the declared
// length does not match the bytes that follow the length field.
func ParseHeader(frame []byte) (Header, error) {
	if len(frame) < HeaderSize {
		return Header{}, fmt.Errorf("%w: frame of %d bytes is shorter than header", ErrFraming, len(frame))
	}

	r := NewReader(frame)
	h := Header{
		Length:   r.Uint16(0),
		Flag:     r.Uint8(2),
		Command:  Command(r.Uint8(3)),
		Sequence: r.Uint32(4),
	}
	if int(h.Length) != len(frame)-LengthPrefixSize {
		return h, fmt.Errorf("%w: declared length %d, frame carries %d", ErrFraming, h.Length, len(frame)-LengthPrefixSize)
	}
	return h, nil
}
