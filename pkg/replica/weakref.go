package replica

import (
	"github.com/QYUbit/replica/pkg/schema"
	"github.com/QYUbit/replica/pkg/wire"
)

// WeakRef is a by-ID reference to another entity. The zero value is an
// empty reference; it is attached to a runtime when its entity registers.
//
// Only the server sets a WeakRef. Clients resolve the received ID lazily and
// keep retrying on every Update while the target is not registered yet.
type WeakRef struct {
	rt       *Runtime
	id       uint16
	target   *Entity
	dirty    bool
	onChange func(*Entity)
}

var _ schema.Tracked = (*WeakRef)(nil)

func (w *WeakRef) attach(rt *Runtime) { w.rt = rt }

// OnChange registers fn to run on clients whenever the resolved target
// changes. fn may receive nil.
func (w *WeakRef) OnChange(fn func(*Entity)) { w.onChange = fn }

// Set points the reference at e. It is only valid on the server.
func (w *WeakRef) Set(e *Entity) error {
	if w.rt != nil && !w.rt.IsServer() {
		w.rt.logger.Error("weak reference set outside the server")
		return ErrNotServer
	}
	if w.target == e {
		return nil
	}
	w.target = e
	w.id = e.ID()
	w.dirty = true
	return nil
}

// Get returns the target, or nil when it is unset, unresolved or no longer
// registered.
func (w *WeakRef) Get() *Entity {
	if w.target == nil || w.target.id == 0 {
		return nil
	}
	return w.target
}

// ID is the last known target ID.
func (w *WeakRef) ID() uint16 { return w.id }

func (w *WeakRef) HasValue() bool { return w.Get() != nil }

// Dirty implements schema.Tracked.
func (w *WeakRef) Dirty() bool {
	return w.dirty || (w.target != nil && w.target.id != w.id)
}

// WriteTo implements schema.Tracked. The dirty flag clears only when the
// emitted ID matches the live target.
func (w *WeakRef) WriteTo(wr *wire.Writer, commit bool) {
	var sent uint16
	if w.target != nil {
		w.id = w.target.id
		sent = w.id
	}
	wr.WriteUint16(sent)
	if commit && sent == w.target.ID() {
		w.dirty = false
	}
}

// ReadFrom implements schema.Tracked.
func (w *WeakRef) ReadFrom(r *wire.Reader, full bool) error {
	id, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if id == w.id && !full {
		return nil
	}
	w.id = id
	found := w.resolve(id)
	if found != w.target || full {
		w.target = found
		w.fire()
	}
	return nil
}

// Update retries resolution on clients. It reports whether the reference
// is dirty on the server.
func (w *WeakRef) Update() bool {
	if w.rt != nil && w.rt.IsServer() {
		return w.Dirty()
	}
	if w.id == 0 {
		if w.target != nil {
			w.target = nil
			w.fire()
		}
		return false
	}
	if w.target == nil || w.target.id != w.id {
		if found := w.resolve(w.id); found != nil {
			w.target = found
			w.fire()
		}
	}
	return false
}

func (w *WeakRef) resolve(id uint16) *Entity {
	if w.rt == nil || id == 0 {
		return nil
	}
	e, _ := w.rt.registry.Entity(id)
	return e
}

func (w *WeakRef) fire() {
	if w.onChange != nil {
		w.onChange(w.target)
	}
}
