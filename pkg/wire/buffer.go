// Package wire implements the byte-level encoding shared by every replica
// message: little-endian fixed-width integers, IEEE floats, uvarint-prefixed
// strings and a few small value types.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrStringTooLong = errors.New("wire: string length exceeds remaining bytes")
	ErrBadBool       = errors.New("wire: invalid bool byte")
)

// Writer is an append-only encoding buffer. The zero value is ready to use.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) String() string {
	return fmt.Sprintf("Writer[len=%d cap=%d]", len(w.buf), cap(w.buf))
}

// Bytes returns the encoded bytes. The slice aliases the buffer until the
// next write or Reset.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteInt8(v int8) { w.buf = append(w.buf, byte(v)) }

func (w *Writer) WriteUint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

func (w *Writer) WriteUvarint(v uint64) { w.buf = binary.AppendUvarint(w.buf, v) }

func (w *Writer) WriteString(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes appends p verbatim, without a length prefix.
func (w *Writer) WriteBytes(p []byte) { w.buf = append(w.buf, p...) }

func (w *Writer) WriteVec2(v Vec2) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
}

func (w *Writer) WriteVec3(v Vec3) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

func (w *Writer) WriteVec4(v Vec4) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
	w.WriteFloat32(v.W)
}

func (w *Writer) WriteColor(c Color) {
	w.buf = append(w.buf, c.R, c.G, c.B, c.A)
}

// Reader decodes values from a byte slice. It never copies the source.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

func (r *Reader) String() string {
	return fmt.Sprintf("Reader[pos=%d len=%d]", r.pos, len(r.buf))
}

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) Position() int { return r.pos }

// Rest returns the unread bytes without consuming them.
func (r *Reader) Rest() []byte { return r.buf[r.pos:] }

func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return io.ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	p := r.buf[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, ErrBadBool
}

func (r *Reader) ReadUint8() (uint8, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.pos += n
	return v, nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(r.Remaining()) {
		return "", ErrStringTooLong
	}
	p, _ := r.take(int(n))
	return string(p), nil
}

// ReadBytes consumes exactly n bytes. The result aliases the source.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take(n)
}

func (r *Reader) ReadVec2() (v Vec2, err error) {
	if v.X, err = r.ReadFloat32(); err != nil {
		return
	}
	v.Y, err = r.ReadFloat32()
	return
}

func (r *Reader) ReadVec3() (v Vec3, err error) {
	if v.X, err = r.ReadFloat32(); err != nil {
		return
	}
	if v.Y, err = r.ReadFloat32(); err != nil {
		return
	}
	v.Z, err = r.ReadFloat32()
	return
}

func (r *Reader) ReadVec4() (v Vec4, err error) {
	if v.X, err = r.ReadFloat32(); err != nil {
		return
	}
	if v.Y, err = r.ReadFloat32(); err != nil {
		return
	}
	if v.Z, err = r.ReadFloat32(); err != nil {
		return
	}
	v.W, err = r.ReadFloat32()
	return
}

func (r *Reader) ReadColor() (Color, error) {
	p, err := r.take(4)
	if err != nil {
		return Color{}, err
	}
	return Color{R: p[0], G: p[1], B: p[2], A: p[3]}, nil
}
