package schema

import (
	"fmt"

	"github.com/QYUbit/replica/pkg/wire"
)

// Kind tags the wire type of a remote method argument.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindUint8
	KindInt8
	KindUint16
	KindInt16
	KindUint32
	KindInt32
	KindUint64
	KindInt64
	KindFloat32
	KindFloat64
	KindString
	KindVec2
	KindVec3
	KindVec4
	KindColor
	KindDecimal
	// KindEntity is a weak entity reference carried as its entity ID.
	KindEntity
	kindCount
)

var kindNames = [kindCount]string{
	"invalid", "bool", "uint8", "int8", "uint16", "int16", "uint32", "int32",
	"uint64", "int64", "float32", "float64", "string", "vec2", "vec3", "vec4",
	"color", "decimal", "entity",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinded lets types outside this package declare their argument kind.
type Kinded interface {
	NetKind() Kind
}

// KindOf classifies a value. It reports false for unsupported types.
func KindOf(v any) (Kind, bool) {
	switch x := v.(type) {
	case bool:
		return KindBool, true
	case uint8:
		return KindUint8, true
	case int8:
		return KindInt8, true
	case uint16:
		return KindUint16, true
	case int16:
		return KindInt16, true
	case uint32:
		return KindUint32, true
	case int32:
		return KindInt32, true
	case uint64:
		return KindUint64, true
	case int64:
		return KindInt64, true
	case float32:
		return KindFloat32, true
	case float64:
		return KindFloat64, true
	case string:
		return KindString, true
	case wire.Vec2:
		return KindVec2, true
	case wire.Vec3:
		return KindVec3, true
	case wire.Vec4:
		return KindVec4, true
	case wire.Color:
		return KindColor, true
	case wire.Decimal:
		return KindDecimal, true
	case Kinded:
		return x.NetKind(), true
	}
	return KindInvalid, false
}

// KindFor returns the kind of T, or KindInvalid.
func KindFor[T any]() Kind {
	var zero T
	k, _ := KindOf(any(zero))
	return k
}
