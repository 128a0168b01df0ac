package schema

import (
	"fmt"

	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/wire"
)

// Direction classifies a remote method.
type Direction uint8

const (
	// DirCommand methods travel client to server and require ownership.
	DirCommand Direction = iota
	// DirObserver methods travel server to every client.
	DirObserver
)

func (d Direction) String() string {
	if d == DirCommand {
		return "command"
	}
	return "observer"
}

// Call describes the origin of an invocation.
type Call struct {
	// Sender is the connection the call arrived on, 0 for in-process calls.
	Sender transport.ConnID
	Local  bool
}

type Method struct {
	class    *Class
	name     string
	id       uint8
	dir      Direction
	params   []Kind
	delivery transport.DeliveryMethod
	invoke   func(component any, call Call, args []any)
}

func (m *Method) Name() string                       { return m.name }
func (m *Method) ID() uint8                          { return m.id }
func (m *Method) Direction() Direction               { return m.dir }
func (m *Method) Params() []Kind                     { return m.params }
func (m *Method) Delivery() transport.DeliveryMethod { return m.delivery }

// Deliver sets the delivery method of the call. Sequenced methods are
// downgraded, a later call must never supersede an earlier one.
func (m *Method) Deliver(d transport.DeliveryMethod) *Method {
	switch d {
	case transport.ReliableSequenced:
		d = transport.ReliableOrdered
	case transport.UnreliableSequenced:
		d = transport.Unreliable
	default:
		m.delivery = d
		return m
	}
	if m.class != nil {
		m.class.issue(true, fmt.Sprintf("method %q: sequenced delivery downgraded to %s", m.name, d))
	}
	m.delivery = d
	return m
}

// Marshal validates args against the parameter list and writes them. Nothing
// is written when validation fails.
func (m *Method) Marshal(w *wire.Writer, ads *Adapters, args []any) error {
	if len(args) != len(m.params) {
		return fmt.Errorf("%w: %s expects %d, got %d", ErrArgCount, m.name, len(m.params), len(args))
	}
	resolved := make([]*Adapter, len(args))
	for i, a := range args {
		ad, err := ads.Check(a)
		if err != nil {
			return fmt.Errorf("%s argument %d: %w", m.name, i, err)
		}
		if ad.Kind != m.params[i] {
			return fmt.Errorf("%w: %s argument %d is %s, want %s", ErrArgKind, m.name, i, ad.Kind, m.params[i])
		}
		resolved[i] = ad
	}
	for i, ad := range resolved {
		ad.Write(w, args[i])
	}
	return nil
}

// Unmarshal decodes the arguments of one call.
func (m *Method) Unmarshal(r *wire.Reader, ads *Adapters) ([]any, error) {
	args := make([]any, len(m.params))
	for i, k := range m.params {
		ad, ok := ads.Lookup(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s argument %d (%s)", ErrNoAdapter, m.name, i, k)
		}
		v, err := ad.Read(r)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", m.name, i, err)
		}
		args[i] = v
	}
	return args, nil
}

// Invoke runs the method on component.
func (m *Method) Invoke(component any, call Call, args []any) error {
	if m.class == nil || !m.class.Accepts(component) {
		return ErrWrongComponent
	}
	m.invoke(component, call, args)
	return nil
}

func method[B any](d *Def[B], name string, dir Direction, params []Kind, fn func(*B, Call, []any)) *Method {
	return d.c.addMethod(&Method{
		name:     name,
		dir:      dir,
		params:   params,
		delivery: transport.ReliableOrdered,
		invoke: func(component any, call Call, args []any) {
			fn(component.(*B), call, args)
		},
	})
}

// Command declares a client to server method with an explicit parameter
// list. The typed CommandN helpers are usually more convenient.
func Command[B any](d *Def[B], name string, params []Kind, fn func(*B, Call, []any)) *Method {
	return method(d, name, DirCommand, params, fn)
}

// Observer declares a server to clients method.
func Observer[B any](d *Def[B], name string, params []Kind, fn func(*B, Call, []any)) *Method {
	return method(d, name, DirObserver, params, fn)
}

func Command0[B any](d *Def[B], name string, fn func(*B, Call)) *Method {
	return method(d, name, DirCommand, nil, func(b *B, c Call, _ []any) { fn(b, c) })
}

func Command1[B, A any](d *Def[B], name string, fn func(*B, Call, A)) *Method {
	return method(d, name, DirCommand, []Kind{KindFor[A]()}, func(b *B, c Call, args []any) {
		fn(b, c, args[0].(A))
	})
}

func Command2[B, A1, A2 any](d *Def[B], name string, fn func(*B, Call, A1, A2)) *Method {
	return method(d, name, DirCommand, []Kind{KindFor[A1](), KindFor[A2]()}, func(b *B, c Call, args []any) {
		fn(b, c, args[0].(A1), args[1].(A2))
	})
}

func Command3[B, A1, A2, A3 any](d *Def[B], name string, fn func(*B, Call, A1, A2, A3)) *Method {
	params := []Kind{KindFor[A1](), KindFor[A2](), KindFor[A3]()}
	return method(d, name, DirCommand, params, func(b *B, c Call, args []any) {
		fn(b, c, args[0].(A1), args[1].(A2), args[2].(A3))
	})
}

func Observer0[B any](d *Def[B], name string, fn func(*B, Call)) *Method {
	return method(d, name, DirObserver, nil, func(b *B, c Call, _ []any) { fn(b, c) })
}

func Observer1[B, A any](d *Def[B], name string, fn func(*B, Call, A)) *Method {
	return method(d, name, DirObserver, []Kind{KindFor[A]()}, func(b *B, c Call, args []any) {
		fn(b, c, args[0].(A))
	})
}

func Observer2[B, A1, A2 any](d *Def[B], name string, fn func(*B, Call, A1, A2)) *Method {
	return method(d, name, DirObserver, []Kind{KindFor[A1](), KindFor[A2]()}, func(b *B, c Call, args []any) {
		fn(b, c, args[0].(A1), args[1].(A2))
	})
}

func Observer3[B, A1, A2, A3 any](d *Def[B], name string, fn func(*B, Call, A1, A2, A3)) *Method {
	params := []Kind{KindFor[A1](), KindFor[A2](), KindFor[A3]()}
	return method(d, name, DirObserver, params, func(b *B, c Call, args []any) {
		fn(b, c, args[0].(A1), args[1].(A2), args[2].(A3))
	})
}
