package schema

import (
	"fmt"

	"github.com/QYUbit/replica/pkg/wire"
)

// Adapter encodes and decodes argument values of one Kind.
type Adapter struct {
	Kind  Kind
	Write func(w *wire.Writer, v any)
	Read  func(r *wire.Reader) (any, error)
}

// Adapters is the type registry used to marshal remote call arguments.
type Adapters struct {
	byKind [kindCount]*Adapter
}

func adapt[T any](k Kind, c wire.Codec[T]) Adapter {
	return Adapter{
		Kind:  k,
		Write: func(w *wire.Writer, v any) { c.Write(w, v.(T)) },
		Read: func(r *wire.Reader) (any, error) {
			v, err := c.Read(r)
			if err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// DefaultAdapters covers every primitive and value kind except KindEntity,
// which depends on an entity registry.
func DefaultAdapters() *Adapters {
	a := &Adapters{}
	for _, ad := range []Adapter{
		adapt(KindBool, wire.Bool),
		adapt(KindUint8, wire.Uint8),
		adapt(KindInt8, wire.Int8),
		adapt(KindUint16, wire.Uint16),
		adapt(KindInt16, wire.Int16),
		adapt(KindUint32, wire.Uint32),
		adapt(KindInt32, wire.Int32),
		adapt(KindUint64, wire.Uint64),
		adapt(KindInt64, wire.Int64),
		adapt(KindFloat32, wire.Float32),
		adapt(KindFloat64, wire.Float64),
		adapt(KindString, wire.String),
		adapt(KindVec2, wire.Vector2),
		adapt(KindVec3, wire.Vector3),
		adapt(KindVec4, wire.Vector4),
		adapt(KindColor, wire.RGBA),
		adapt(KindDecimal, wire.Dec),
	} {
		a.Register(ad)
	}
	return a
}

// Register installs ad, replacing any adapter of the same kind.
func (a *Adapters) Register(ad Adapter) {
	if ad.Kind == KindInvalid || ad.Kind >= kindCount {
		panic(fmt.Sprintf("schema: cannot register adapter for %s", ad.Kind))
	}
	a.byKind[ad.Kind] = &ad
}

func (a *Adapters) Lookup(k Kind) (*Adapter, bool) {
	if k >= kindCount || a.byKind[k] == nil {
		return nil, false
	}
	return a.byKind[k], true
}

// Check resolves the adapter that would encode v.
func (a *Adapters) Check(v any) (*Adapter, error) {
	k, ok := KindOf(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNoAdapter, v)
	}
	ad, ok := a.Lookup(k)
	if !ok {
		return nil, fmt.Errorf("%w: %T (%s)", ErrNoAdapter, v, k)
	}
	return ad, nil
}
