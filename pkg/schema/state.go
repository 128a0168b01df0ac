package schema

import (
	"fmt"
	"math/bits"

	"github.com/QYUbit/replica/pkg/wire"
)

// State binds a Class to one component instance. It owns the last-sent
// cache and the dirty bitmask of that instance.
type State struct {
	class     *Class
	component any
	cells     []cell
	tracked   []Tracked
	mask      uint64
}

// Bind creates the per-instance state of component. The cache starts out
// equal to the component's current values.
func (c *Class) Bind(component any) (*State, error) {
	if !c.accepts(component) {
		return nil, fmt.Errorf("%w: %T is not %s", ErrWrongComponent, component, c.name)
	}
	s := &State{class: c, component: component, cells: make([]cell, len(c.fields))}
	for i, f := range c.fields {
		cl, err := f.bind(component)
		if err != nil {
			return nil, fmt.Errorf("bind %s.%s: %w", c.name, f.name, err)
		}
		s.cells[i] = cl
		if tc, ok := cl.(trackedCell); ok {
			s.tracked = append(s.tracked, tc.t)
		}
	}
	return s, nil
}

func (s *State) Class() *Class { return s.class }

func (s *State) Component() any { return s.component }

// Tracked returns the self-reporting field values in declaration order.
func (s *State) Tracked() []Tracked { return s.tracked }

func (s *State) Mask() uint64 { return s.mask }

func (s *State) Dirty() bool { return s.mask != 0 }

// Update compares every delta-eligible field against the cache and sets the
// bits of those that changed. It reports whether any bit is set.
func (s *State) Update() bool {
	for i, f := range s.class.fields {
		if f.firstOnly {
			continue
		}
		if s.cells[i].changed() {
			s.mask |= 1 << uint(i)
		}
	}
	return s.mask != 0
}

// WriteFull writes the field count and then every field in declaration
// order. With commit the cache takes the written values and the mask is
// cleared; without it the instance state is left untouched, which is what a
// snapshot for a single joining peer needs.
func (s *State) WriteFull(w *wire.Writer, commit bool) {
	w.WriteUint8(uint8(len(s.cells)))
	for _, c := range s.cells {
		c.write(w, commit)
	}
	if commit {
		s.mask = 0
	}
}

// WriteDelta writes the number of set bits followed by (field id, value)
// for each of them in ascending order. The mask is cleared.
func (s *State) WriteDelta(w *wire.Writer) {
	w.WriteUint8(uint8(bits.OnesCount64(s.mask)))
	for m := s.mask; m != 0; m &= m - 1 {
		id := bits.TrailingZeros64(m)
		w.WriteUint8(uint8(id))
		s.cells[id].write(w, true)
	}
	s.mask = 0
}

// ReadFull applies a full snapshot. Hooks run when hooks is set.
func (s *State) ReadFull(r *wire.Reader, hooks bool) error {
	n, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if int(n) != len(s.cells) {
		return fmt.Errorf("%w: %s has %d fields, snapshot carries %d", ErrSchemaMismatch, s.class.name, len(s.cells), n)
	}
	for i, c := range s.cells {
		if err := c.read(r, true, hooks); err != nil {
			return fmt.Errorf("%s.%s: %w", s.class.name, s.class.fields[i].name, err)
		}
	}
	return nil
}

// ReadDelta applies a delta frame.
func (s *State) ReadDelta(r *wire.Reader, hooks bool) error {
	n, err := r.ReadUint8()
	if err != nil {
		return err
	}
	for range n {
		id, err := r.ReadUint8()
		if err != nil {
			return err
		}
		if int(id) >= len(s.cells) || s.class.fields[id].firstOnly {
			return fmt.Errorf("%w: %s has no delta field %d", ErrSchemaMismatch, s.class.name, id)
		}
		if err := s.cells[id].read(r, false, hooks); err != nil {
			return fmt.Errorf("%s.%s: %w", s.class.name, s.class.fields[id].name, err)
		}
	}
	return nil
}
