package replica

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/QYUbit/replica/pkg/schema"
	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/transport/memory"
	"github.com/QYUbit/replica/pkg/wire"
)

const (
	step       = 16 * time.Millisecond
	moverPref  = 5
	serverAddr = "arena"
)

type mover struct {
	HP     int32
	Name   string
	Pos    wire.Vec2
	Target WeakRef

	behavior *Behavior
	hits     []int32
	callers  []transport.ConnID
	shouts   []string
	local    []bool
}

var moverClass = schema.Define("mover", func(d *schema.Def[mover]) {
	schema.Sync(d, "hp", wire.Int32, func(m *mover) *int32 { return &m.HP })
	schema.Sync(d, "name", wire.String, func(m *mover) *string { return &m.Name })
	schema.Sync(d, "pos", wire.Vector2, func(m *mover) *wire.Vec2 { return &m.Pos })
	schema.SyncTracked(d, "target", func(m *mover) schema.Tracked { return &m.Target })

	schema.Command1(d, "hit", func(m *mover, c schema.Call, dmg int32) {
		m.hits = append(m.hits, dmg)
		m.callers = append(m.callers, c.Sender)
	})
	schema.Observer1(d, "shout", func(m *mover, c schema.Call, s string) {
		m.shouts = append(m.shouts, s)
		m.local = append(m.local, c.Local)
	})
	schema.Command0(d, "explode", func(*mover, schema.Call) { panic("boom") })
})

func (m *mover) NetClass() *schema.Class { return moverClass }

func (m *mover) BindBehavior(b *Behavior) { m.behavior = b }

type marker struct{ N uint8 }

var markerClass = schema.Define("marker", func(d *schema.Def[marker]) {
	schema.Sync(d, "n", wire.Uint8, func(m *marker) *uint8 { return &m.N })
})

func (m *marker) NetClass() *schema.Class { return markerClass }

// unschemed has no class and can never be registered.
type unschemed struct{}

func (unschemed) NetClass() *schema.Class { return nil }

type logLine struct {
	level string
	msg   string
}

type captureLogger struct {
	lines []logLine
}

func (l *captureLogger) Info(msg string, _ ...any)  { l.lines = append(l.lines, logLine{"INFO", msg}) }
func (l *captureLogger) Error(msg string, _ ...any) { l.lines = append(l.lines, logLine{"ERROR", msg}) }
func (l *captureLogger) Debug(msg string, _ ...any) { l.lines = append(l.lines, logLine{"DEBUG", msg}) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.lines = append(l.lines, logLine{"WARN", msg}) }

func (l *captureLogger) count(level, substr string) int {
	n := 0
	for _, line := range l.lines {
		if line.level == level && strings.Contains(line.msg, substr) {
			n++
		}
	}
	return n
}

// newRuntime registers the same prefab table on every peer. mover is
// prefab 5.
func newRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	if cfg.PingInterval == 0 {
		cfg.PingInterval = time.Hour
	}
	rt := New(cfg)
	for _, name := range []string{"crate", "door", "lamp", "flag"} {
		if _, err := rt.RegisterPrefab(name, func() *Entity { return NewEntity(&marker{}) }); err != nil {
			t.Fatal(err)
		}
	}
	id, err := rt.RegisterPrefab("mover", func() *Entity { return NewEntity(&mover{}) })
	if err != nil || id != moverPref {
		t.Fatalf("mover prefab = %d, %v", id, err)
	}
	return rt
}

type session struct {
	t        *testing.T
	net      *memory.Network
	server   *Runtime
	clients  []*Runtime
	failures []error
}

func newSession(t *testing.T) *session {
	t.Helper()
	s := &session{t: t, net: memory.NewNetwork()}
	s.server = newRuntime(t, Config{OnMessageError: s.fail})
	if _, err := s.server.StartServer(context.Background(), s.net.NewServer(serverAddr), ServerCallbacks{}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.server.Dispose() })
	return s
}

func (s *session) fail(err error) { s.failures = append(s.failures, err) }

// join starts a remote client and connects it.
func (s *session) join(cfg Config) *Runtime {
	s.t.Helper()
	rt := newRuntime(s.t, cfg)
	c, err := rt.StartClient(s.net.NewClient(), ClientCallbacks{})
	if err != nil {
		s.t.Fatal(err)
	}
	if err := c.ConnectToRemote(context.Background(), serverAddr, nil); err != nil {
		s.t.Fatal(err)
	}
	s.clients = append(s.clients, rt)
	s.pump(2)
	if !rt.IsClient() {
		s.t.Fatalf("client did not connect, status %s", c.Status())
	}
	return rt
}

// pump runs n rounds of Update on every runtime, server first.
func (s *session) pump(n int) {
	s.t.Helper()
	for range n {
		if err := s.server.Update(step); err != nil {
			s.t.Fatal(err)
		}
		for _, c := range s.clients {
			if err := c.Update(step); err != nil {
				s.t.Fatal(err)
			}
		}
	}
}

func moverOf(t *testing.T, rt *Runtime, id uint16) *mover {
	t.Helper()
	e, ok := rt.Entity(id)
	if !ok {
		t.Fatalf("entity %d not registered", id)
	}
	m, ok := ComponentOf[*mover](e)
	if !ok {
		t.Fatalf("entity %d has no mover", id)
	}
	return m
}
