package replica

import (
	"fmt"
	"slices"
	"time"

	"github.com/QYUbit/replica/pkg/rlog"
	"github.com/QYUbit/replica/pkg/transport"
)

const (
	// MaxEntityID is the largest assignable entity ID. ID 0 marks an
	// unregistered entity.
	MaxEntityID = 65534
	// MaxBehaviors is the number of behavior indices per entity.
	MaxBehaviors = 256
)

// Registry owns the entity ID space and the list of active entities. It is
// only touched from inside Runtime.Update and the runtime's own methods.
type Registry struct {
	rt     *Runtime
	logger rlog.Logger
	slots  []*Entity
	active []*Entity
	cursor uint16
}

func newRegistry(rt *Runtime, logger rlog.Logger) *Registry {
	return &Registry{
		rt:     rt,
		logger: logger,
		slots:  make([]*Entity, MaxEntityID+1),
		cursor: 1,
	}
}

// ============================================================================
// Lookup
// ============================================================================

func (r *Registry) Entity(id uint16) (*Entity, bool) {
	if id == 0 || int(id) >= len(r.slots) {
		return nil, false
	}
	e := r.slots[id]
	return e, e != nil
}

// Entities returns the active entities in registration order. The slice
// must not be modified.
func (r *Registry) Entities() []*Entity { return r.active }

func (r *Registry) Count() int { return len(r.active) }

// ============================================================================
// Registration
// ============================================================================

// allocate scans the ID space once, starting after the last issued ID.
func (r *Registry) allocate() (uint16, bool) {
	for range MaxEntityID {
		id := r.cursor
		r.cursor++
		if r.cursor > MaxEntityID {
			r.cursor = 1
		}
		if r.slots[id] == nil {
			return id, true
		}
	}
	return 0, false
}

// Register assigns an ID to e and builds its behaviors. overrideID mirrors
// an ID chosen by the server and is 0 on the authoritative side. Nothing is
// changed when registration fails.
func (r *Registry) Register(e *Entity, overrideID uint16) error {
	if e.id != 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, e)
	}

	behaviors, err := r.buildBehaviors(e)
	if err != nil {
		r.logger.Error("entity refused", "prefab", e.prefabID, "error", err)
		return err
	}

	id := overrideID
	if id == 0 {
		var ok bool
		if id, ok = r.allocate(); !ok {
			r.logger.Error("entity ID space exhausted", "active", len(r.active))
			return ErrOutOfIDs
		}
	} else if int(id) > MaxEntityID || r.slots[id] != nil {
		r.logger.Error("override ID unavailable", "entity", id)
		return fmt.Errorf("%w: %d", ErrIDInUse, id)
	}

	e.id = id
	e.rt = r.rt
	e.behaviors = behaviors
	r.slots[id] = e
	r.active = append(r.active, e)

	for _, b := range behaviors {
		for _, t := range b.state.Tracked() {
			if ref, ok := t.(*WeakRef); ok {
				ref.attach(r.rt)
			}
		}
		if bc, ok := b.component.(Binder); ok {
			bc.BindBehavior(b)
		}
	}
	return nil
}

func (r *Registry) buildBehaviors(e *Entity) ([]*Behavior, error) {
	n := len(e.components)
	if n > MaxBehaviors {
		r.logger.Error("behavior limit exceeded, extra behaviors are not replicated",
			"prefab", e.prefabID, "behaviors", n, "limit", MaxBehaviors)
		n = MaxBehaviors
	}
	behaviors := make([]*Behavior, 0, n)
	for i, c := range e.components[:n] {
		class := c.NetClass()
		if class == nil {
			return nil, fmt.Errorf("%w: %T", ErrMissingSchema, c)
		}
		r.rt.reportClass(class)
		st, err := class.Bind(c)
		if err != nil {
			return nil, err
		}
		behaviors = append(behaviors, &Behavior{
			entity:    e,
			index:     uint8(i),
			component: c,
			state:     st,
			delivery:  defaultDelivery(c),
		})
	}
	return behaviors, nil
}

// Unregister frees the ID of e and zeroes it.
func (r *Registry) Unregister(e *Entity) error {
	if e.id == 0 || r.slots[e.id] != e {
		return fmt.Errorf("%w: %s", ErrNotRegistered, e)
	}
	r.slots[e.id] = nil
	if i := slices.Index(r.active, e); i >= 0 {
		r.active = slices.Delete(r.active, i, i+1)
	}
	e.id = 0
	return nil
}

// Reset unregisters everything and rewinds the ID cursor. It reports
// whether any entity was registered.
func (r *Registry) Reset() bool {
	freed := len(r.active) > 0
	for _, e := range r.active {
		r.slots[e.id] = nil
		e.id = 0
	}
	r.active = r.active[:0]
	r.cursor = 1
	return freed
}

// ============================================================================
// Tick
// ============================================================================

// tick runs component updates and dirty detection. On the server every
// behavior compares its fields with the last-sent cache, on clients weak
// references retry their resolution.
func (r *Registry) tick(dt time.Duration) {
	server := r.rt.IsServer()
	for _, e := range slices.Clone(r.active) {
		for _, b := range e.behaviors {
			if t, ok := b.component.(Ticker); ok {
				t.NetUpdate(b, dt)
			}
			if e.id == 0 {
				break
			}
			if server {
				b.state.Update()
				continue
			}
			for _, t := range b.state.Tracked() {
				if ref, ok := t.(*WeakRef); ok {
					ref.Update()
				}
			}
		}
	}
}

// serializeAllDirty sends one delta frame per dirty behavior to every
// connection except the host's own loopback connection.
func (r *Registry) serializeAllDirty() {
	s := r.rt.server
	if s == nil {
		return
	}
	tick := r.rt.tick
	for _, e := range r.active {
		for _, b := range e.behaviors {
			if !b.Dirty() {
				continue
			}
			w := newFrame(TagDelta)
			w.WriteUint16(e.id)
			w.WriteUint8(b.index)
			b.writeSweep(w, tick)
			s.broadcast(w.Bytes(), b.delivery, channelDelta)
		}
	}
}

func defaultDelivery(c Component) transport.DeliveryMethod {
	if d, ok := c.(Deliverer); ok {
		return d.Delivery()
	}
	return transport.ReliableOrdered
}
