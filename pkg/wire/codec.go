package wire

// Codec pairs the encoder and decoder of a single value type.
type Codec[T any] struct {
	Write func(w *Writer, v T)
	Read  func(r *Reader) (T, error)
}

var (
	Bool    = Codec[bool]{(*Writer).WriteBool, (*Reader).ReadBool}
	Uint8   = Codec[uint8]{(*Writer).WriteUint8, (*Reader).ReadUint8}
	Int8    = Codec[int8]{(*Writer).WriteInt8, (*Reader).ReadInt8}
	Uint16  = Codec[uint16]{(*Writer).WriteUint16, (*Reader).ReadUint16}
	Int16   = Codec[int16]{(*Writer).WriteInt16, (*Reader).ReadInt16}
	Uint32  = Codec[uint32]{(*Writer).WriteUint32, (*Reader).ReadUint32}
	Int32   = Codec[int32]{(*Writer).WriteInt32, (*Reader).ReadInt32}
	Uint64  = Codec[uint64]{(*Writer).WriteUint64, (*Reader).ReadUint64}
	Int64   = Codec[int64]{(*Writer).WriteInt64, (*Reader).ReadInt64}
	Float32 = Codec[float32]{(*Writer).WriteFloat32, (*Reader).ReadFloat32}
	Float64 = Codec[float64]{(*Writer).WriteFloat64, (*Reader).ReadFloat64}
	String  = Codec[string]{(*Writer).WriteString, (*Reader).ReadString}
	Vector2 = Codec[Vec2]{(*Writer).WriteVec2, (*Reader).ReadVec2}
	Vector3 = Codec[Vec3]{(*Writer).WriteVec3, (*Reader).ReadVec3}
	Vector4 = Codec[Vec4]{(*Writer).WriteVec4, (*Reader).ReadVec4}
	RGBA    = Codec[Color]{(*Writer).WriteColor, (*Reader).ReadColor}
	Dec     = Codec[Decimal]{
		func(w *Writer, v Decimal) { w.WriteFloat64(float64(v)) },
		func(r *Reader) (Decimal, error) {
			v, err := r.ReadFloat64()
			return Decimal(v), err
		},
	}
)
