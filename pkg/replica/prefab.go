package replica

import (
	"fmt"

	"github.com/QYUbit/replica/pkg/schema"
	"github.com/QYUbit/replica/pkg/wire"
)

// MaxPrefabID is the largest prefab ID. 0 means "not a prefab".
const MaxPrefabID = 65534

type prefab struct {
	name    string
	factory func() *Entity
}

type prefabTable struct {
	list   []prefab
	byName map[string]uint16
}

func newPrefabTable() prefabTable {
	return prefabTable{byName: make(map[string]uint16)}
}

// RegisterPrefab adds a template that peers instantiate when the server
// spawns it. IDs are handed out in registration order starting at 1, so
// every peer must register the same prefabs in the same order.
func (rt *Runtime) RegisterPrefab(name string, factory func() *Entity) (uint16, error) {
	if rt.disposed {
		return 0, ErrDisposed
	}
	if _, ok := rt.prefabs.byName[name]; ok {
		rt.logger.Error("duplicate prefab", "prefab", name)
		return 0, fmt.Errorf("%w: %s", ErrDuplicatePrefab, name)
	}
	if len(rt.prefabs.list) >= MaxPrefabID {
		return 0, ErrTooManyPrefabs
	}
	rt.prefabs.list = append(rt.prefabs.list, prefab{name: name, factory: factory})
	id := uint16(len(rt.prefabs.list))
	rt.prefabs.byName[name] = id
	return id, nil
}

func (rt *Runtime) PrefabID(name string) (uint16, bool) {
	id, ok := rt.prefabs.byName[name]
	return id, ok
}

func (rt *Runtime) PrefabName(id uint16) string {
	if id == 0 || int(id) > len(rt.prefabs.list) {
		return ""
	}
	return rt.prefabs.list[id-1].name
}

// Instantiate creates an unregistered entity from prefab id.
func (rt *Runtime) Instantiate(id uint16) (*Entity, error) {
	if id == 0 || int(id) > len(rt.prefabs.list) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPrefab, id)
	}
	p := rt.prefabs.list[id-1]
	e := p.factory()
	if e == nil {
		return nil, fmt.Errorf("prefab %s returned no entity", p.name)
	}
	if e.id != 0 {
		return nil, fmt.Errorf("prefab %s: %w", p.name, ErrAlreadyRegistered)
	}
	e.prefabID = id
	return e, nil
}

// ClearPrefabs forgets every prefab. It is refused while a role is active.
func (rt *Runtime) ClearPrefabs() error {
	if rt.server != nil || rt.IsClient() {
		return ErrRoleActive
	}
	rt.prefabs = newPrefabTable()
	return nil
}

// entityAdapter carries entities as remote call arguments by ID. Unknown
// IDs decode to a nil entity.
func entityAdapter(rt *Runtime) schema.Adapter {
	return schema.Adapter{
		Kind: schema.KindEntity,
		Write: func(w *wire.Writer, v any) {
			e, _ := v.(*Entity)
			w.WriteUint16(e.ID())
		},
		Read: func(r *wire.Reader) (any, error) {
			id, err := r.ReadUint16()
			if err != nil {
				return nil, err
			}
			e, _ := rt.registry.Entity(id)
			return e, nil
		},
	}
}
