package lightify

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPort is the TCP port the gateway listens on.
const DefaultPort = 4000

// defaultConnectTimeout bounds the TCP dial when the config leaves it unset.
const defaultConnectTimeout = 10 * time.Second

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// TransportConfig holds socket timeouts for a gateway session.
type TransportConfig struct {
	// ConnectTimeout bounds the TCP dial.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each Receive. Zero blocks until a frame arrives
	// or the context ends.
	ReadTimeout time.Duration

	// WriteTimeout bounds each Send. Zero blocks until the write completes
	// or the context ends.
	WriteTimeout time.Duration
}

// TransportStats holds frame counters for one session.
type TransportStats struct {
	FramesTx     uint64
	FramesRx     uint64
	BytesTx      uint64
	BytesRx      uint64
	ErrorsTotal  uint64
	LastActivity time.Time
}

// Transport moves whole frames over a TCP stream to the gateway.
//
// Thread Safety:
//   - Send and Receive must not be called concurrently with themselves;
//     Connection serialises them.
//   - Close and Stats are safe to call from any goroutine.
//
// A failed send or receive leaves the stream position unknown, so the
// transport closes itself and every later call returns ErrClosed.
type Transport struct {
	cfg  TransportConfig
	conn net.Conn

	done *closeOnce

	logger   Logger
	loggerMu sync.RWMutex

	framesTx     atomic.Uint64
	framesRx     atomic.Uint64
	bytesTx      atomic.Uint64
	bytesRx      atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

// Close closes the channel and reports whether this call did it.
func (c *closeOnce) Close() bool {
	first := false
	c.once.Do(func() {
		close(c.ch)
		first = true
	})
	return first
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Dial opens a TCP session to the gateway.
//
// Parameters:
//   - ctx: Context for cancellation of the dial
//   - address: Gateway host, with or without a port (default 4000)
//   - cfg: Socket timeouts
//
// Returns:
//   - *Transport: Connected transport
//   - error: ErrConnection if the dial fails
func Dial(ctx context.Context, address string, cfg TransportConfig) (*Transport, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	target := GatewayAddress(address)
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, target, err)
	}

	return NewTransport(conn, cfg), nil
}

// GatewayAddress appends the default port to a bare host.
func GatewayAddress(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort))
}

// NewTransport wraps an established connection. The transport owns conn.
func NewTransport(conn net.Conn, cfg TransportConfig) *Transport {
	t := &Transport{
		cfg:  cfg,
		conn: conn,
		done: newCloseOnce(),
	}
	t.lastActivity.Store(time.Now().Unix())
	return t
}

// Send writes one complete frame.
//
// Parameters:
//   - ctx: Context for cancellation; its deadline caps WriteTimeout
//   - frame: Complete frame including the length prefix
//
// Returns:
//   - error: ErrConnection on write failure or short write, ErrClosed after Close
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: send: %w", ErrConnection, err)
	}

	if err := t.conn.SetWriteDeadline(ioDeadline(ctx, t.cfg.WriteTimeout)); err != nil {
		return t.fail(fmt.Errorf("%w: set write deadline: %w", ErrConnection, err))
	}
	defer unblockOnCancel(ctx, t.conn.SetWriteDeadline)()

	t.logFrame("sending frame", frame)

	n, err := t.conn.Write(frame)
	if err != nil {
		return t.fail(fmt.Errorf("%w: write: %w", ErrConnection, causeOf(ctx, err)))
	}
	if n != len(frame) {
		return t.fail(fmt.Errorf("%w: wrote %d of %d bytes: %w", ErrConnection, n, len(frame), io.ErrShortWrite))
	}

	t.framesTx.Add(1)
	t.bytesTx.Add(uint64(n))
	t.lastActivity.Store(time.Now().Unix())
	return nil
}

// Receive reads exactly one frame.
//
// It reads the 2-byte little-endian length prefix, then exactly that many
// further bytes, accumulating across short reads. The returned buffer keeps
// the prefix so decoders can use frame-absolute offsets.
//
// Parameters:
//   - ctx: Context for cancellation; its deadline caps ReadTimeout
//
// Returns:
//   - []byte: Complete frame including the length prefix
//   - error: ErrConnectionClosed if the stream ends early, ErrConnection on
//     other read failures, ErrClosed after Close
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: receive: %w", ErrConnection, err)
	}

	if err := t.conn.SetReadDeadline(ioDeadline(ctx, t.cfg.ReadTimeout)); err != nil {
		return nil, t.fail(fmt.Errorf("%w: set read deadline: %w", ErrConnection, err))
	}
	defer unblockOnCancel(ctx, t.conn.SetReadDeadline)()

	prefix := make([]byte, LengthPrefixSize)
	if _, err := io.ReadFull(t.conn, prefix); err != nil {
		return nil, t.fail(readError(ctx, "length prefix", err))
	}

	length := binary.LittleEndian.Uint16(prefix)
	frame := make([]byte, LengthPrefixSize+int(length))
	copy(frame, prefix)

	if _, err := io.ReadFull(t.conn, frame[LengthPrefixSize:]); err != nil {
		return nil, t.fail(readError(ctx, "frame body", err))
	}

	t.logFrame("received frame", frame)

	t.framesRx.Add(1)
	t.bytesRx.Add(uint64(len(frame)))
	t.lastActivity.Store(time.Now().Unix())
	return frame, nil
}

// unblockOnCancel moves a deadline into the past when ctx ends, waking any
// blocked I/O. The returned release func must run before the next deadline is
// set: if the callback has already started, release waits for it, so a late
// past deadline can never land on the following exchange.
func unblockOnCancel(ctx context.Context, setDeadline func(time.Time) error) (release func()) {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		setDeadline(aLongTimeAgo) //nolint:errcheck // best-effort unblock
	})
	return func() {
		if !stop() {
			<-fired
		}
	}
}

// readError classifies a failed read.
func readError(ctx context.Context, what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: reading %s: %w", ErrConnectionClosed, what, err)
	}
	return fmt.Errorf("%w: reading %s: %w", ErrConnection, what, causeOf(ctx, err))
}

// causeOf prefers the context error when the context ended the I/O.
func causeOf(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// ioDeadline returns the earlier of now+timeout and the context deadline.
// A zero result clears the socket deadline.
func ioDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

// fail counts err and closes the transport.
func (t *Transport) fail(err error) error {
	t.errorsTotal.Add(1)
	t.logError("transport failure, closing", err)
	t.Close() //nolint:errcheck // the I/O error is what callers need
	return err
}

// Close closes the socket. Safe to call multiple times.
func (t *Transport) Close() error {
	if !t.done.Close() {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrConnection, err)
	}
	return nil
}

// IsClosed reports whether Close has been called or an I/O failure closed the transport.
func (t *Transport) IsClosed() bool {
	return t.isClosed()
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done.Done():
		return true
	default:
		return false
	}
}

// RemoteAddr returns the gateway's network address.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Stats returns current frame counters.
func (t *Transport) Stats() TransportStats {
	return TransportStats{
		FramesTx:     t.framesTx.Load(),
		FramesRx:     t.framesRx.Load(),
		BytesTx:      t.bytesTx.Load(),
		BytesRx:      t.bytesRx.Load(),
		ErrorsTotal:  t.errorsTotal.Load(),
		LastActivity: time.Unix(t.lastActivity.Load(), 0),
	}
}

// SetLogger sets the logger for this transport.
func (t *Transport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

func (t *Transport) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

// logFrame logs frame bytes as hex at debug level if logger is set.
func (t *Transport) logFrame(msg string, frame []byte) {
	if logger := t.getLogger(); logger != nil {
		logger.Debug(msg, "bytes", hex.EncodeToString(frame), "length", len(frame))
	}
}

// logError logs an error message if logger is set.
func (t *Transport) logError(msg string, err error) {
	if logger := t.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
