package replica

import (
	"fmt"

	"github.com/QYUbit/replica/pkg/schema"
	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/wire"
)

func (b *Behavior) method(name string, dir schema.Direction) (*Runtime, *schema.Method, error) {
	rt := b.entity.rt
	if rt == nil || b.entity.id == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotRegistered, b.entity)
	}
	if rt.disposed {
		return nil, nil, ErrDisposed
	}
	m, ok := b.Class().Method(name)
	if !ok {
		return rt, nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, b.Class().Name(), name)
	}
	if m.Direction() != dir {
		return rt, nil, fmt.Errorf("%w: %s is a %s", ErrWrongDirection, m.Name(), m.Direction())
	}
	return rt, m, nil
}

func (b *Behavior) callFrame(rt *Runtime, m *schema.Method, args []any) (*wire.Writer, error) {
	w := newFrame(TagRemoteCall)
	w.WriteUint16(b.entity.id)
	w.WriteUint8(b.index)
	w.WriteUint8(m.ID())
	if err := m.Marshal(w, rt.adapters, args); err != nil {
		rt.logger.Error("remote call aborted", "entity", b.entity.id, "method", m.Name(), "error", err)
		return nil, err
	}
	return w, nil
}

// InvokeCommand calls a command method. On the server it runs in-process,
// on an owning client it is sent to the server.
func (b *Behavior) InvokeCommand(name string, args ...any) error {
	rt, m, err := b.method(name, schema.DirCommand)
	if err != nil {
		return err
	}

	if rt.IsServer() {
		// Marshal anyway so the arguments are held to the wire rules.
		if _, err := b.callFrame(rt, m, args); err != nil {
			return err
		}
		call := schema.Call{Local: true}
		if l := rt.server.local; l != nil {
			call.Sender = l.id
		}
		rt.invoke(b, m, call, args)
		return nil
	}

	c := rt.client
	if c == nil || c.status != transport.StatusConnected {
		if rt.player != nil {
			return ErrPlaybackActive
		}
		return ErrNotConnected
	}
	if !b.entity.IsLocallyOwned() {
		err := &AuthorityError{Entity: b.entity.id, Method: m.Name(), Sender: c.LocalID(), Owner: b.entity.ownerID}
		rt.logger.Error("command refused", "error", err)
		return err
	}
	w, err := b.callFrame(rt, m, args)
	if err != nil {
		return err
	}
	return c.send(w.Bytes(), m.Delivery(), channelRemote)
}

// InvokeObserver calls an observer method on every remote client. A host
// runs it once in-process as well.
func (b *Behavior) InvokeObserver(name string, args ...any) error {
	rt, m, err := b.method(name, schema.DirObserver)
	if err != nil {
		return err
	}
	if !rt.IsServer() {
		return ErrNotServer
	}
	w, err := b.callFrame(rt, m, args)
	if err != nil {
		return err
	}
	rt.server.broadcast(w.Bytes(), m.Delivery(), channelRemote)
	if rt.IsHost() {
		rt.invoke(b, m, schema.Call{Sender: rt.client.LocalID(), Local: true}, args)
	}
	return nil
}

// receiveRemoteCall decodes and runs one remote call frame. expectCommand
// is set on the server, where only commands may arrive.
func (rt *Runtime) receiveRemoteCall(sender transport.ConnID, r *wire.Reader, expectCommand bool) error {
	id, err := r.ReadUint16()
	if err != nil {
		return err
	}
	index, err := r.ReadUint8()
	if err != nil {
		return err
	}
	mid, err := r.ReadUint8()
	if err != nil {
		return err
	}

	e, ok := rt.registry.Entity(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	b, ok := e.Behavior(int(index))
	if !ok {
		return fmt.Errorf("%w: %d on entity %d", ErrUnknownBehavior, index, id)
	}
	m, ok := b.Class().MethodByID(mid)
	if !ok {
		return fmt.Errorf("%w: %d on %s", ErrUnknownMethod, mid, b)
	}

	want := schema.DirObserver
	if expectCommand {
		want = schema.DirCommand
	}
	if m.Direction() != want {
		return fmt.Errorf("%w: %s arrived as %s", ErrWrongDirection, m.Name(), want)
	}
	if expectCommand && e.ownerID != sender {
		return &AuthorityError{Entity: id, Method: m.Name(), Sender: sender, Owner: e.ownerID}
	}

	args, err := m.Unmarshal(r, rt.adapters)
	if err != nil {
		return fmt.Errorf("%s arguments: %w", m.Name(), err)
	}
	rt.invoke(b, m, schema.Call{Sender: sender}, args)
	return nil
}

// invoke runs a method handler. Panics are logged and swallowed.
func (rt *Runtime) invoke(b *Behavior, m *schema.Method, call schema.Call, args []any) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.Error("remote method panicked", "entity", b.entity.id, "method", m.Name(), "error", rec)
		}
	}()
	if err := m.Invoke(b.component, call, args); err != nil {
		rt.logger.Error("remote method not invoked", "entity", b.entity.id, "method", m.Name(), "error", err)
	}
}
