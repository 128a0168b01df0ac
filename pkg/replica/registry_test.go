package replica

import (
	"errors"
	"math/rand/v2"
	"testing"
)

// TestRegistryIDsStayUnique tests random register/unregister sequences
func TestRegistryIDsStayUnique(t *testing.T) {
	rt := New(Config{})
	reg := rt.Registry()
	rng := rand.New(rand.NewPCG(1, 2))
	var live []*Entity

	for i := range 5000 {
		if len(live) > 0 && rng.IntN(3) == 0 {
			j := rng.IntN(len(live))
			if err := reg.Unregister(live[j]); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			live = append(live[:j], live[j+1:]...)
			continue
		}
		e := NewEntity(&marker{})
		if err := reg.Register(e, 0); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		live = append(live, e)
	}

	seen := make(map[uint16]bool)
	for _, e := range live {
		if e.ID() == 0 {
			t.Fatal("active entity has ID 0")
		}
		if seen[e.ID()] {
			t.Fatalf("ID %d issued twice", e.ID())
		}
		seen[e.ID()] = true
		if got, _ := reg.Entity(e.ID()); got != e {
			t.Fatalf("slot %d holds %v", e.ID(), got)
		}
	}
	if reg.Count() != len(live) {
		t.Errorf("count = %d, want %d", reg.Count(), len(live))
	}
}

// TestRegistryExhaustion tests that the entity after the last free ID is
// refused without touching existing registrations
func TestRegistryExhaustion(t *testing.T) {
	rt := New(Config{})
	reg := rt.Registry()
	first := NewEntity(&marker{N: 9})
	if err := reg.Register(first, 0); err != nil {
		t.Fatal(err)
	}
	for range MaxEntityID - 1 {
		if err := reg.Register(NewEntity(&marker{}), 0); err != nil {
			t.Fatal(err)
		}
	}

	extra := NewEntity(&marker{})
	if err := reg.Register(extra, 0); !errors.Is(err, ErrOutOfIDs) {
		t.Fatalf("got %v, want ErrOutOfIDs", err)
	}
	if extra.ID() != 0 || extra.Behaviors() != nil {
		t.Error("refused entity was partially registered")
	}
	if reg.Count() != MaxEntityID {
		t.Errorf("count = %d", reg.Count())
	}
	if got, _ := reg.Entity(first.ID()); got != first {
		t.Error("existing registration was corrupted")
	}
}

// TestRegistryCursorRolls tests that freed IDs are not reused before the
// cursor wraps and that Reset rewinds it
func TestRegistryCursorRolls(t *testing.T) {
	rt := New(Config{})
	reg := rt.Registry()
	es := make([]*Entity, 3)
	for i := range es {
		es[i] = NewEntity(&marker{})
		reg.Register(es[i], 0)
	}
	reg.Unregister(es[1])
	if es[1].ID() != 0 {
		t.Fatal("unregistered entity kept its ID")
	}

	next := NewEntity(&marker{})
	reg.Register(next, 0)
	if next.ID() != 4 {
		t.Errorf("next ID = %d, want 4", next.ID())
	}

	if !reg.Reset() {
		t.Error("Reset reported an empty registry")
	}
	if reg.Reset() {
		t.Error("second Reset reported entities")
	}
	again := NewEntity(&marker{})
	reg.Register(again, 0)
	if again.ID() != 1 {
		t.Errorf("ID after reset = %d, want 1", again.ID())
	}
}

// TestRegistryOverrideID tests server chosen IDs on the client side
func TestRegistryOverrideID(t *testing.T) {
	rt := New(Config{})
	reg := rt.Registry()
	a := NewEntity(&marker{})
	if err := reg.Register(a, 700); err != nil || a.ID() != 700 {
		t.Fatalf("override: id %d, %v", a.ID(), err)
	}
	b := NewEntity(&marker{})
	if err := reg.Register(b, 700); !errors.Is(err, ErrIDInUse) {
		t.Fatalf("got %v, want ErrIDInUse", err)
	}
	if b.ID() != 0 || reg.Count() != 1 {
		t.Error("failed override changed the registry")
	}
	if err := reg.Register(a, 0); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("double register: %v", err)
	}
}

// TestRegistryRefusesMissingSchema tests that nothing is allocated for a
// component without a class
func TestRegistryRefusesMissingSchema(t *testing.T) {
	rt := New(Config{})
	reg := rt.Registry()
	bad := NewEntity(&marker{}, unschemed{})
	if err := reg.Register(bad, 0); !errors.Is(err, ErrMissingSchema) {
		t.Fatalf("got %v, want ErrMissingSchema", err)
	}
	good := NewEntity(&marker{})
	reg.Register(good, 0)
	if good.ID() != 1 {
		t.Errorf("refused entity consumed an ID, next is %d", good.ID())
	}
}

// TestBehaviorIndicesFollowComponents tests behavior construction
func TestBehaviorIndicesFollowComponents(t *testing.T) {
	rt := New(Config{})
	m := &mover{}
	e := NewEntity(&marker{}, m)
	if err := rt.Registry().Register(e, 0); err != nil {
		t.Fatal(err)
	}
	if len(e.Behaviors()) != 2 {
		t.Fatalf("behaviors = %d", len(e.Behaviors()))
	}
	if m.behavior == nil || m.behavior.Index() != 1 || m.behavior.Entity() != e {
		t.Errorf("mover bound to %v", m.behavior)
	}
	if _, ok := e.Behavior(2); ok {
		t.Error("behavior 2 should not exist")
	}
}
