package schema

import "github.com/QYUbit/replica/pkg/wire"

// Tracked is a field value that reports its own dirtiness instead of being
// compared against a cached copy. Weak entity references implement it.
type Tracked interface {
	Dirty() bool
	// WriteTo encodes the value. commit is false for snapshots sent to a
	// subset of peers, which must not clear the dirty state.
	WriteTo(w *wire.Writer, commit bool)
	ReadFrom(r *wire.Reader, full bool) error
}

type field struct {
	name      string
	id        uint8
	firstOnly bool
	tracked   bool
	bind      func(component any) (cell, error)
}

// cell is the per-instance half of a field: the live value plus the
// last-sent cache.
type cell interface {
	changed() bool
	write(w *wire.Writer, commit bool)
	read(r *wire.Reader, full, hooks bool) error
}

// FieldRef configures a field declared with Sync.
type FieldRef[B any, T comparable] struct {
	f    *field
	hook func(*B, T)
}

// FirstOnly limits the field to full snapshots. It never becomes dirty.
func (r *FieldRef[B, T]) FirstOnly() *FieldRef[B, T] {
	r.f.firstOnly = true
	return r
}

// Hook routes received values to fn instead of assigning the field. Hooks
// only run on the receiving side.
func (r *FieldRef[B, T]) Hook(fn func(*B, T)) *FieldRef[B, T] {
	r.hook = fn
	return r
}

// Sync declares a replicated field. get must return a pointer into the
// component so the same address is observed for its whole lifetime.
func Sync[B any, T comparable](d *Def[B], name string, codec wire.Codec[T], get func(*B) *T) *FieldRef[B, T] {
	ref := &FieldRef[B, T]{}
	f := d.c.addField(name)
	if f == nil {
		ref.f = &field{name: name}
		return ref
	}
	ref.f = f
	f.bind = func(component any) (cell, error) {
		b, ok := component.(*B)
		if !ok {
			return nil, ErrWrongComponent
		}
		p := get(b)
		return &valueCell[B, T]{comp: b, ptr: p, last: *p, codec: codec, hook: ref.hook}, nil
	}
	return ref
}

// SyncTracked declares a self-reporting field.
func SyncTracked[B any](d *Def[B], name string, get func(*B) Tracked) {
	f := d.c.addField(name)
	if f == nil {
		return
	}
	f.tracked = true
	f.bind = func(component any) (cell, error) {
		b, ok := component.(*B)
		if !ok {
			return nil, ErrWrongComponent
		}
		t := get(b)
		if t == nil {
			return nil, &ConfigError{Class: d.c.name, Msg: "tracked field " + name + " is nil"}
		}
		return trackedCell{t: t}, nil
	}
}

type valueCell[B any, T comparable] struct {
	comp  *B
	ptr   *T
	last  T
	codec wire.Codec[T]
	hook  func(*B, T)
}

func (c *valueCell[B, T]) changed() bool { return *c.ptr != c.last }

func (c *valueCell[B, T]) write(w *wire.Writer, commit bool) {
	v := *c.ptr
	c.codec.Write(w, v)
	if commit {
		c.last = v
	}
}

func (c *valueCell[B, T]) read(r *wire.Reader, _ bool, hooks bool) error {
	v, err := c.codec.Read(r)
	if err != nil {
		return err
	}
	c.last = v
	if hooks && c.hook != nil {
		c.hook(c.comp, v)
		return nil
	}
	*c.ptr = v
	return nil
}

type trackedCell struct {
	t Tracked
}

func (c trackedCell) changed() bool { return c.t.Dirty() }

func (c trackedCell) write(w *wire.Writer, commit bool) { c.t.WriteTo(w, commit) }

func (c trackedCell) read(r *wire.Reader, full, _ bool) error { return c.t.ReadFrom(r, full) }
