package lightify

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Printable ASCII range accepted by PutText.
const (
	minTextByte = 0x20
	maxTextByte = 0x7E
)

// Reader extracts little-endian fields from a frame at absolute byte offsets.
//
// The first out-of-range read is recorded and every later read
// returns a zero value, so a decoder can read a whole record and check Err once.
type Reader struct {
	buf []byte
	err error
}

// NewReader returns a Reader over buf. The buffer is not copied.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the length of the underlying buffer.
func (r *Reader) Len() int {
	return len(r.buf)
}

// Err returns the first error encountered, or nil.
func (r *Reader) Err() error {
	return r.err
}

// need reports whether n bytes are available at off, recording ErrFraming if not.
func (r *Reader) need(off, n int) bool {
	if r.err != nil {
		return false
	}
	if off < 0 || n < 0 || off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, frame has %d",
			ErrFraming, n, off, len(r.buf))
		return false
	}
	return true
}

// Uint8 reads one byte at off.
func (r *Reader) Uint8(off int) uint8 {
	if !r.need(off, 1) {
		return 0
	}
	return r.buf[off]
}

// Uint16 reads a little-endian uint16 at off.
func (r *Reader) Uint16(off int) uint16 {
	if !r.need(off, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(r.buf[off:])
}

// Uint32 reads a little-endian uint32 at off.
func (r *Reader) Uint32(off int) uint32 {
	if !r.need(off, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf[off:])
}

// Bytes returns a copy of n bytes starting at off.
func (r *Reader) Bytes(off, n int) []byte {
	if !r.need(off, n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[off:off+n])
	return out
}

// Text reads a fixed-width padded text field of width bytes at off.
// Decoding never fails; see decodeText.
func (r *Reader) Text(off, width int) string {
	if !r.need(off, width) {
		return ""
	}
	return decodeText(r.buf[off : off+width])
}

// decodeText converts a padded text field to a string.
//
// The field ends at the first NUL byte. Valid UTF-8 is kept and every other
// byte becomes U+FFFD. Spaces and control characters are then trimmed from
// both ends.
func decodeText(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}

	var sb strings.Builder
	sb.Grow(len(field))
	for len(field) > 0 {
		r, size := utf8.DecodeRune(field)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(field[:size])
		}
		field = field[size:]
	}
	return strings.TrimFunc(sb.String(), func(r rune) bool {
		return r <= ' ' || r == 0x7F
	})
}

// Writer lays out little-endian fields in an append-only buffer.
// Like Reader, it keeps the first error and ignores later writes.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns a Writer with room for capacity bytes.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// PutUint8 appends one byte.
func (w *Writer) PutUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

// PutUint16 appends a little-endian uint16.
func (w *Writer) PutUint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// PutUint32 appends a little-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// PutBytes appends b unchanged.
func (w *Writer) PutBytes(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

// PutText appends s as a NUL-padded field of exactly width bytes.
// Text longer than width or outside printable ASCII is an ErrFraming error.
func (w *Writer) PutText(s string, width int) {
	if w.err != nil {
		return
	}
	if len(s) > width {
		w.err = fmt.Errorf("%w: text %q exceeds field width %d", ErrFraming, s, width)
		return
	}
	for i := 0; i < len(s); i++ {
		if s[i] < minTextByte || s[i] > maxTextByte {
			w.err = fmt.Errorf("%w: text %q is not printable ASCII", ErrFraming, s)
			return
		}
	}
	w.buf = append(w.buf, s...)
	for i := len(s); i < width; i++ {
		w.buf = append(w.buf, 0)
	}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Err returns the first error encountered, or nil.
func (w *Writer) Err() error {
	return w.err
}
