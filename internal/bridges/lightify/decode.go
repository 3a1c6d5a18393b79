package lightify

import (
	"fmt"
	"math"
)

// Reply layouts. All offsets are absolute from the start of the frame,
// including the 2-byte length prefix.
const (
	nameWidth = 16

	// Group list reply.
	groupListCountOffset  = 7
	groupListRecordOffset = 11
	groupListRecordSize   = 2 + nameWidth

	// Group info reply.
	groupInfoIndexOffset   = 7
	groupInfoNameOffset    = 9
	groupInfoCountOffset   = 25
	groupInfoMembersOffset = 26

	// All-light-status reply.
	allLightCountOffset  = 9
	allLightRecordOffset = 11
	allLightRecordSize   = 42

	// Positions inside one all-light-status record.
	recAddress     = 2
	recType        = 10
	recOnline      = 15
	recOn          = 18
	recLuminance   = 19
	recTemperature = 20
	recRed         = 22
	recGreen       = 23
	recBlue        = 24
	recName        = 26

	// Single light-status reply.
	lightStatusOn          = 27
	lightStatusLuminance   = 28
	lightStatusTemperature = 29
	lightStatusRed         = 31
	lightStatusGreen       = 32
	lightStatusBlue        = 33
	lightStatusMinLength   = 35
)

// LightState is the mutable state the gateway reports for a light.
type LightState struct {
	On          bool   `json:"on"`
	Luminance   uint8  `json:"luminance"`
	Temperature uint16 `json:"temperature"`
	Red         uint8  `json:"red"`
	Green       uint8  `json:"green"`
	Blue        uint8  `json:"blue"`
}

// LightRecord is one entry of an all-light-status reply.
type LightRecord struct {
	Address Address
	Name    string

	// Type is the raw light-type byte.
	Type uint8

	// Online is the raw online-status byte.
	Online uint8

	State LightState
}

// GroupInfo is the decoded reply to a group info request.
type GroupInfo struct {
	Index   uint8
	Name    string
	Members []Address
}

// DecodeGroupList parses a group list reply into a map of group index to name.
//
// Returns ErrFraming if the frame is shorter than its record count demands,
// and ErrDecode for an index that does not fit in a byte. Names never fail.
func DecodeGroupList(frame []byte) (map[uint8]string, error) {
	r := NewReader(frame)
	count := int(r.Uint16(groupListCountOffset))
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("group list count: %w", err)
	}
	if err := requireLength(frame, "group list", count, groupListRecordOffset, groupListRecordSize); err != nil {
		return nil, err
	}

	groups := make(map[uint8]string, count)
	for i := range count {
		pos := groupListRecordOffset + i*groupListRecordSize
		idx := r.Uint16(pos)
		name := r.Text(pos+2, nameWidth)
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("group list record %d: %w", i, err)
		}
		if idx > math.MaxUint8 {
			return nil, fmt.Errorf("%w: group list record %d: index %d out of range", ErrDecode, i, idx)
		}
		groups[uint8(idx)] = name
	}
	return groups, nil
}

// DecodeGroupInfo parses a group info reply.
//
// Returns ErrFraming if the frame is shorter than its member count demands,
// and ErrDecode for an out-of-range index.
func DecodeGroupInfo(frame []byte) (GroupInfo, error) {
	r := NewReader(frame)
	idx := r.Uint16(groupInfoIndexOffset)
	name := r.Text(groupInfoNameOffset, nameWidth)
	count := int(r.Uint8(groupInfoCountOffset))
	if err := r.Err(); err != nil {
		return GroupInfo{}, fmt.Errorf("group info header: %w", err)
	}
	if idx > math.MaxUint8 {
		return GroupInfo{}, fmt.Errorf("%w: group info index %d out of range", ErrDecode, idx)
	}
	if err := requireLength(frame, "group info", count, groupInfoMembersOffset, AddressLen); err != nil {
		return GroupInfo{}, err
	}

	info := GroupInfo{
		Index:   uint8(idx),
		Name:    name,
		Members: make([]Address, 0, count),
	}
	for i := range count {
		var addr Address
		copy(addr[:], r.Bytes(groupInfoMembersOffset+i*AddressLen, AddressLen))
		info.Members = append(info.Members, addr)
	}
	if err := r.Err(); err != nil {
		return GroupInfo{}, fmt.Errorf("group info members: %w", err)
	}
	return info, nil
}

// DecodeAllLightStatus parses an all-light-status reply into one record per light,
// in the order the gateway sent them.
//
// Returns ErrFraming if the frame is shorter than its record count demands.
// Unreadable name bytes decode as U+FFFD rather than failing the reply.
func DecodeAllLightStatus(frame []byte) ([]LightRecord, error) {
	r := NewReader(frame)
	count := int(r.Uint16(allLightCountOffset))
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("light status count: %w", err)
	}
	if err := requireLength(frame, "all light status", count, allLightRecordOffset, allLightRecordSize); err != nil {
		return nil, err
	}

	records := make([]LightRecord, 0, count)
	for i := range count {
		pos := allLightRecordOffset + i*allLightRecordSize

		var rec LightRecord
		copy(rec.Address[:], r.Bytes(pos+recAddress, AddressLen))
		rec.Type = r.Uint8(pos + recType)
		rec.Online = r.Uint8(pos + recOnline)
		rec.State = LightState{
			On:          r.Uint8(pos+recOn) != 0,
			Luminance:   r.Uint8(pos + recLuminance),
			Temperature: r.Uint16(pos + recTemperature),
			Red:         r.Uint8(pos + recRed),
			Green:       r.Uint8(pos + recGreen),
			Blue:        r.Uint8(pos + recBlue),
		}
		rec.Name = r.Text(pos+recName, nameWidth)

		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("light status record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// DecodeLightStatus parses the reply to a single light status request.
//
// Returns ErrFraming if the frame is too short to hold the state fields.
func DecodeLightStatus(frame []byte) (LightState, error) {
	if len(frame) < lightStatusMinLength {
		return LightState{}, fmt.Errorf("%w: light status reply of %d bytes, need %d",
			ErrFraming, len(frame), lightStatusMinLength)
	}

	r := NewReader(frame)
	state := LightState{
		On:          r.Uint8(lightStatusOn) != 0,
		Luminance:   r.Uint8(lightStatusLuminance),
		Temperature: r.Uint16(lightStatusTemperature),
		Red:         r.Uint8(lightStatusRed),
		Green:       r.Uint8(lightStatusGreen),
		Blue:        r.Uint8(lightStatusBlue),
	}
	if err := r.Err(); err != nil {
		return LightState{}, fmt.Errorf("light status: %w", err)
	}
	return state, nil
}

// requireLength checks that frame holds count records of size bytes from offset.
func requireLength(frame []byte, what string, count, offset, size int) error {
	if count == 0 {
		return nil
	}
	need := offset + count*size
	if len(frame) < need {
		return fmt.Errorf("%w: %s declares %d records, needs %d bytes, frame has %d",
			ErrFraming, what, count, need, len(frame))
	}
	return nil
}
