package wire

import (
	"errors"
	"io"
	"math"
	"testing"
)

// TestMixedSequence tests that a mixed sequence of values reads back in order
func TestMixedSequence(t *testing.T) {
	w := NewWriter(64)
	w.WriteBool(true)
	w.WriteUint16(65534)
	w.WriteInt64(-9)
	w.WriteFloat32(1.5)
	w.WriteFloat64(math.Pi)
	w.WriteString("héllo")
	w.WriteVec3(Vec3{1, 2, 3})
	w.WriteColor(Color{10, 20, 30, 40})

	r := NewReader(w.Bytes())
	if v, err := r.ReadBool(); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 65534 {
		t.Fatalf("uint16: %v %v", v, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != -9 {
		t.Fatalf("int64: %v %v", v, err)
	}
	if v, err := r.ReadFloat32(); err != nil || v != 1.5 {
		t.Fatalf("float32: %v %v", v, err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != math.Pi {
		t.Fatalf("float64: %v %v", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "héllo" {
		t.Fatalf("string: %q %v", v, err)
	}
	if v, err := r.ReadVec3(); err != nil || v != (Vec3{1, 2, 3}) {
		t.Fatalf("vec3: %v %v", v, err)
	}
	if v, err := r.ReadColor(); err != nil || v != (Color{10, 20, 30, 40}) {
		t.Fatalf("color: %v %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected buffer to be drained, %d bytes left", r.Remaining())
	}
}

// TestLittleEndianLayout tests the byte layout of fixed-width integers
func TestLittleEndianLayout(t *testing.T) {
	w := &Writer{}
	w.WriteUint16(0x0102)
	w.WriteInt32(-2)

	want := []byte{0x02, 0x01, 0xfe, 0xff, 0xff, 0xff}
	got := w.Bytes()
	if len(got) != len(want) {
		t.Fatalf("len %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

// TestShortReads tests that truncated input reports io.ErrUnexpectedEOF
func TestShortReads(t *testing.T) {
	r := NewReader([]byte{1})
	if _, err := r.ReadUint16(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadUint16: got %v", err)
	}

	w := &Writer{}
	w.WriteUvarint(10)
	w.WriteBytes([]byte("abc"))
	if _, err := NewReader(w.Bytes()).ReadString(); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("ReadString: got %v", err)
	}

	if _, err := NewReader([]byte{7}).ReadBool(); !errors.Is(err, ErrBadBool) {
		t.Errorf("ReadBool: got %v", err)
	}
}

// TestDecimalCodec tests that decimals travel as doubles
func TestDecimalCodec(t *testing.T) {
	w := &Writer{}
	Dec.Write(w, Decimal(12.25))
	if w.Len() != 8 {
		t.Fatalf("decimal should encode to 8 bytes, got %d", w.Len())
	}
	v, err := Float64.Read(NewReader(w.Bytes()))
	if err != nil || v != 12.25 {
		t.Errorf("got %v %v", v, err)
	}
}
