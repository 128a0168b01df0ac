package replica

import (
	"fmt"
	"time"

	"github.com/QYUbit/replica/pkg/schema"
	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/wire"
)

// Component is a replicated piece of entity state. NetClass returns the
// schema shared by every instance of the component type.
type Component interface {
	NetClass() *schema.Class
}

// Binder is implemented by components that want a handle on their
// Behavior, for example to invoke remote methods.
type Binder interface {
	BindBehavior(b *Behavior)
}

// CustomSerializer appends a component specific payload after the schema
// fields. first is set for spawns and world snapshots.
type CustomSerializer interface {
	SerializeExtra(w *wire.Writer, first bool)
	DeserializeExtra(r *wire.Reader, first bool) error
}

// Deliverer components choose the initial delivery method of their sweeps.
type Deliverer interface {
	Delivery() transport.DeliveryMethod
}

// Ticker components run once per Update on every peer.
type Ticker interface {
	NetUpdate(b *Behavior, dt time.Duration)
}

// Entity is a uniquely identified replicated object: an ID, an owner and an
// ordered list of behaviors.
type Entity struct {
	rt         *Runtime
	id         uint16
	prefabID   uint16
	ownerID    transport.ConnID
	scene      bool
	components []Component
	behaviors  []*Behavior
}

// NewEntity creates an unregistered entity. The order of components fixes
// the behavior indices on every peer.
func NewEntity(components ...Component) *Entity {
	return &Entity{components: components}
}

func (e *Entity) String() string {
	if e == nil {
		return "entity(nil)"
	}
	return fmt.Sprintf("entity(%d prefab=%d)", e.id, e.prefabID)
}

// NetKind lets entities travel as remote call arguments.
func (e *Entity) NetKind() schema.Kind { return schema.KindEntity }

// ID returns the entity ID, or 0 while unregistered.
func (e *Entity) ID() uint16 {
	if e == nil {
		return 0
	}
	return e.id
}

func (e *Entity) PrefabID() uint16 { return e.prefabID }

// OwnerID returns the owning connection, 0 when owned by the server.
func (e *Entity) OwnerID() transport.ConnID { return e.ownerID }

func (e *Entity) IsSceneResident() bool { return e.scene }

func (e *Entity) IsRegistered() bool { return e.id != 0 }

func (e *Entity) Components() []Component { return e.components }

func (e *Entity) Component(index int) (Component, bool) {
	if index < 0 || index >= len(e.components) {
		return nil, false
	}
	return e.components[index], true
}

// Runtime returns the runtime the entity is registered with, or nil.
func (e *Entity) Runtime() *Runtime { return e.rt }

// Behaviors returns the replicated behaviors. It is empty until the entity
// is registered.
func (e *Entity) Behaviors() []*Behavior { return e.behaviors }

func (e *Entity) Behavior(index int) (*Behavior, bool) {
	if index < 0 || index >= len(e.behaviors) {
		return nil, false
	}
	return e.behaviors[index], true
}

// HasAuthority reports whether this peer may mutate the entity and invoke
// its commands.
func (e *Entity) HasAuthority() bool {
	if e.rt == nil {
		return false
	}
	if e.rt.IsServer() {
		return true
	}
	return e.IsLocallyOwned()
}

// IsLocallyOwned reports whether the connected client owns the entity.
func (e *Entity) IsLocallyOwned() bool {
	if e.rt == nil || e.rt.client == nil || e.ownerID == 0 {
		return false
	}
	return e.ownerID == e.rt.client.LocalID()
}

// ComponentOf returns the first component of type T.
func ComponentOf[T Component](e *Entity) (T, bool) {
	for _, c := range e.components {
		if t, ok := c.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

func (e *Entity) writeFull(w *wire.Writer, tick uint64) {
	w.WriteInt64(int64(e.ownerID))
	for _, b := range e.behaviors {
		b.writeSnapshot(w, tick)
	}
}

func (e *Entity) readFull(r *wire.Reader, tick uint64) error {
	owner, err := r.ReadInt64()
	if err != nil {
		return err
	}
	e.ownerID = transport.ConnID(owner)
	for _, b := range e.behaviors {
		if err := b.readFull(r, true, tick); err != nil {
			return err
		}
	}
	return nil
}
