package replica

import (
	"fmt"

	"github.com/QYUbit/replica/pkg/schema"
	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/wire"
)

// Behavior is the runtime side of one component: its index in the entity,
// its schema state and replication bookkeeping.
type Behavior struct {
	entity    *Entity
	index     uint8
	component Component
	state     *schema.State
	dirty     bool
	delivery  transport.DeliveryMethod

	lastSerialized   uint64
	lastDeserialized uint64
}

func (b *Behavior) String() string {
	return fmt.Sprintf("%s[%d:%s]", b.entity, b.index, b.state.Class().Name())
}

func (b *Behavior) Index() uint8 { return b.index }

func (b *Behavior) Entity() *Entity { return b.entity }

func (b *Behavior) Component() Component { return b.component }

func (b *Behavior) Class() *schema.Class { return b.state.Class() }

// Dirty reports whether the behavior will be sent in the next sweep.
func (b *Behavior) Dirty() bool { return b.dirty || b.state.Dirty() }

// MarkDirty forces the behavior into the next sweep even when no schema
// field changed. Components with a custom payload use it.
func (b *Behavior) MarkDirty() { b.dirty = true }

func (b *Behavior) LastSerializedTick() uint64 { return b.lastSerialized }

func (b *Behavior) LastDeserializedTick() uint64 { return b.lastDeserialized }

func (b *Behavior) Delivery() transport.DeliveryMethod { return b.delivery }

// SetDelivery selects how sweeps of this behavior travel. Unreliable
// behaviors always carry their full state.
func (b *Behavior) SetDelivery(d transport.DeliveryMethod) { b.delivery = d }

func (b *Behavior) writeSnapshot(w *wire.Writer, tick uint64) {
	b.state.WriteFull(w, false)
	if cs, ok := b.component.(CustomSerializer); ok {
		cs.SerializeExtra(w, true)
	}
	b.lastSerialized = tick
}

// writeSweep writes the payload of a delta frame and clears the dirty state.
func (b *Behavior) writeSweep(w *wire.Writer, tick uint64) {
	if b.delivery.Reliable() {
		w.WriteUint8(modeDelta)
		b.state.WriteDelta(w)
	} else {
		w.WriteUint8(modeFull)
		b.state.WriteFull(w, true)
	}
	if cs, ok := b.component.(CustomSerializer); ok {
		cs.SerializeExtra(w, false)
	}
	b.dirty = false
	b.lastSerialized = tick
}

func (b *Behavior) readFull(r *wire.Reader, first bool, tick uint64) error {
	if err := b.state.ReadFull(r, true); err != nil {
		return err
	}
	return b.readExtra(r, first, tick)
}

func (b *Behavior) readSweep(r *wire.Reader, tick uint64) error {
	mode, err := r.ReadUint8()
	if err != nil {
		return err
	}
	switch mode {
	case modeDelta:
		err = b.state.ReadDelta(r, true)
	case modeFull:
		err = b.state.ReadFull(r, true)
	default:
		err = fmt.Errorf("unknown delta mode %d", mode)
	}
	if err != nil {
		return err
	}
	return b.readExtra(r, false, tick)
}

func (b *Behavior) readExtra(r *wire.Reader, first bool, tick uint64) error {
	if cs, ok := b.component.(CustomSerializer); ok {
		if err := cs.DeserializeExtra(r, first); err != nil {
			return fmt.Errorf("%s extra payload: %w", b, err)
		}
	}
	b.lastDeserialized = tick
	return nil
}
