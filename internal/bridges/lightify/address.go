package lightify

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLen is the fixed size of a light address on the wire.
const AddressLen = 8

// Address is the opaque 8-byte identifier the gateway assigns to a light.
//
// Address is an array so it compares by content and can key a map directly.
type Address [AddressLen]byte

// AddressFromBytes copies b into an Address.
//
// Returns ErrInvalidAddress if b is not exactly 8 bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLen {
		return a, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidAddress, len(b), AddressLen)
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress parses the hex form produced by String.
//
// Colon and space separators are accepted, so "01:02:03:04:05:06:07:08",
// "01 02 03 04 05 06 07 08" and "0102030405060708" are equivalent.
func ParseAddress(s string) (Address, error) {
	clean := strings.NewReplacer(":", "", " ", "").Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, s, err)
	}
	return AddressFromBytes(b)
}

// String returns the address as 16 lowercase hex digits in wire order.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether every byte of the address is zero.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// compareAddress orders addresses bytewise.
func compareAddress(a, b Address) int {
	return bytes.Compare(a[:], b[:])
}
