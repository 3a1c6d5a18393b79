package lightify

import (
	"errors"
	"fmt"
)

// Domain errors for the Lightify gateway package.
var (
	// ErrConnection is returned when connecting to, writing to, or reading
	// from the gateway fails.
	ErrConnection = errors.New("lightify: gateway connection failed")

	// ErrConnectionClosed is returned when the gateway closes the stream
	// before a complete frame has been received.
	ErrConnectionClosed = fmt.Errorf("%w: closed by gateway", ErrConnection)

	// ErrFraming is returned when a frame's declared length does not match
	// its buffer, or a response is shorter than its record count demands.
	ErrFraming = errors.New("lightify: framing error")

	// ErrDecode is returned when a response field is malformed or out of range.
	ErrDecode = errors.New("lightify: decode error")

	// ErrNotFound is returned when a name or address lookup has no match.
	ErrNotFound = errors.New("lightify: not found")

	// ErrInvalidAddress is returned when a light address is not exactly 8 bytes.
	ErrInvalidAddress = errors.New("lightify: invalid light address")

	// ErrClosed is returned when an operation is attempted on a closed connection.
	ErrClosed = errors.New("lightify: connection closed")

	// ErrInvalidAction is returned when an action keyword or argument is not valid.
	ErrInvalidAction = errors.New("lightify: invalid action")
)
