// Package codec implements the binary primitives used to frame the
// server's datagram protocol: fixed-width little-endian integers, packed
// variable-length integers, length-prefixed byte slices and strings, and
// the fixed-point Vector2 encoding used by movement messages.
//
// The cursor-based Reader/Writer pair mirrors the teacher's own
// EasyStream (evr/core_stream.go, which is not part of this repository):
// a single struct that is either decoding from a byte slice or encoding
// into a growing buffer, with StreamX-style helpers for each primitive.
package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrMalformed is returned for any decode failure: truncation, an
// inconsistent inner length, or a continuation-bit varint that never
// terminates.
var ErrMalformed = errors.New("codec: malformed message")

// Reader decodes a byte slice cursor-by-cursor. It never panics; every
// method returns ErrMalformed (possibly wrapped) on truncation so the
// caller can fail fast per spec.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for decoding. The slice is not copied; callers must
// not mutate it while the Reader is in use.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// Pos returns the current read cursor.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns a slice of the unread tail without advancing the
// cursor.
func (r *Reader) Remaining() []byte { return r.buf[r.pos:] }

func (r *Reader) need(n int) error {
	if n < 0 || r.Len() < n {
		return ErrMalformed
	}
	return nil
}

// Byte reads a single unsigned byte.
func (r *Reader) Byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Bool reads a byte and interprets any non-zero value as true.
func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	return b != 0, err
}

// Uint16LE reads a little-endian u16.
func (r *Reader) Uint16LE() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint16BE reads a big-endian u16 (used for the transport nonce).
func (r *Reader) Uint16BE() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32LE reads a little-endian u32.
func (r *Reader) Uint32LE() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Int32LE reads a little-endian i32.
func (r *Reader) Int32LE() (int32, error) {
	v, err := r.Uint32LE()
	return int32(v), err
}

// PackedUint32 reads a 7-bit-group, high-bit-continuation varint.
func (r *Reader) PackedUint32() (uint32, error) {
	var value uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := r.Byte()
		if err != nil {
			return 0, err
		}
		value |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
	}
	return 0, ErrMalformed
}

// PackedInt32 reads a packed unsigned varint and reinterprets it as a
// signed 32-bit integer (two's complement), matching the wire's
// "packedI32" primitive used for ownerId.
func (r *Reader) PackedInt32() (int32, error) {
	v, err := r.PackedUint32()
	return int32(v), err
}

// Bytes reads a packed-length-prefixed byte slice.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.PackedUint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

// FixedBytes reads exactly n unread bytes without a length prefix.
func (r *Reader) FixedBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// String reads a packed-length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// vector2Sentinel is the raw u16 value that decodes to NaN on either axis.
const vector2Sentinel = 0xFFFF

// vector2Lo and vector2Hi bound the linear interpolation range used to
// recover a float from a packed axis value.
const (
	vector2Lo = -40.0
	vector2Hi = 40.0
)

// Vector2 reads the fixed-point two-u16 encoding: each axis is a u16
// linearly interpolated over [-40, 40], with 0xFFFF decoding to NaN.
func (r *Reader) Vector2() (x, y float32, err error) {
	rx, err := r.Uint16LE()
	if err != nil {
		return 0, 0, err
	}
	ry, err := r.Uint16LE()
	if err != nil {
		return 0, 0, err
	}
	return unlerpAxis(rx), unlerpAxis(ry), nil
}

func unlerpAxis(raw uint16) float32 {
	if raw == vector2Sentinel {
		return float32(math.NaN())
	}
	t := float64(raw) / float64(math.MaxUint16)
	return float32(vector2Lo + t*(vector2Hi-vector2Lo))
}

// Writer encodes primitives into a growing byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty encoder, optionally pre-sized.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the encoded buffer built so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Reset empties the buffer while keeping its backing array, letting a
// caller reuse one Writer across many small encodes instead of
// allocating a fresh one each time (config.optimizations.movement's
// reuseBuffer flag).
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Byte writes a single unsigned byte.
func (w *Writer) Byte(b byte) { w.buf = append(w.buf, b) }

// Bool writes a byte, 1 for true and 0 for false.
func (w *Writer) Bool(v bool) {
	if v {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

// Uint16LE writes a little-endian u16.
func (w *Writer) Uint16LE(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Uint16BE writes a big-endian u16 (the transport nonce).
func (w *Writer) Uint16BE(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Uint32LE writes a little-endian u32.
func (w *Writer) Uint32LE(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Int32LE writes a little-endian i32.
func (w *Writer) Int32LE(v int32) { w.Uint32LE(uint32(v)) }

// PackedUint32 writes a 7-bit-group, high-bit-continuation varint.
func (w *Writer) PackedUint32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			w.Byte(b | 0x80)
			continue
		}
		w.Byte(b)
		return
	}
}

// PackedInt32 writes the two's-complement bit pattern of v as a packed
// varint, matching PackedInt32's decode counterpart.
func (w *Writer) PackedInt32(v int32) { w.PackedUint32(uint32(v)) }

// WriteBytes writes a packed-length-prefixed byte slice.
func (w *Writer) WriteBytes(b []byte) {
	w.PackedUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// FixedBytes writes b verbatim, with no length prefix.
func (w *Writer) FixedBytes(b []byte) { w.buf = append(w.buf, b...) }

// WriteString writes a packed-length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

// Vector2 writes the fixed-point two-u16 encoding. NaN on either axis
// encodes to the 0xFFFF sentinel.
func (w *Writer) Vector2(x, y float32) {
	w.Uint16LE(lerpAxis(x))
	w.Uint16LE(lerpAxis(y))
}

func lerpAxis(v float32) uint16 {
	if math.IsNaN(float64(v)) {
		return vector2Sentinel
	}
	clamped := float64(v)
	if clamped < vector2Lo {
		clamped = vector2Lo
	}
	if clamped > vector2Hi {
		clamped = vector2Hi
	}
	t := (clamped - vector2Lo) / (vector2Hi - vector2Lo)
	raw := uint16(math.Round(t * float64(math.MaxUint16)))
	if raw == vector2Sentinel {
		// The upper bound would otherwise collide with the NaN sentinel.
		raw = vector2Sentinel - 1
	}
	return raw
}
