// Package replica replicates entity state from an authoritative server to
// its clients and dispatches remote calls between them.
//
// A Runtime is the whole replication context of one process: its entity
// registry, prefab table and the server and client roles it runs. All of
// it is driven by Update, which the host game loop calls once per tick from
// a single goroutine; nothing in this package blocks or locks.
package replica

import (
	"errors"
	"time"

	"github.com/QYUbit/replica/pkg/playback"
	"github.com/QYUbit/replica/pkg/rlog"
	"github.com/QYUbit/replica/pkg/schema"
	"github.com/QYUbit/replica/pkg/transport"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

type Config struct {
	Logger rlog.Logger
	// Meter receives traffic counters. Nil uses a no-op meter.
	Meter metric.Meter

	// ApprovalLimit caps connection attempts per remote host. Zero disables
	// the limit.
	ApprovalLimit rate.Limit
	ApprovalBurst int

	// PingInterval is how often a connected client measures its round trip.
	PingInterval time.Duration

	// OnTransportError receives transport faults. When nil they are returned
	// from Update.
	OnTransportError func(error)
	// OnMessageError is told about every dropped frame, after it was logged.
	OnMessageError func(error)
}

var DefaultConfig = Config{
	ApprovalBurst: 3,
	PingInterval:  time.Second,
}

type Runtime struct {
	cfg      Config
	logger   rlog.Logger
	metrics  *metrics
	registry *Registry
	adapters *schema.Adapters
	prefabs  prefabTable
	scene    []*Entity
	reported map[*schema.Class]bool

	server *Server
	client *Client

	recorder *playback.Recorder
	player   *playback.Player

	tick     uint64
	disposed bool
}

// New creates an independent runtime. Several runtimes may live in one
// process, each driven by its own Update.
func New(cfg Config) *Runtime {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig.PingInterval
	}
	rt := &Runtime{
		cfg:      cfg,
		logger:   rlog.OrNop(cfg.Logger),
		metrics:  newMetrics(cfg.Meter),
		adapters: schema.DefaultAdapters(),
		prefabs:  newPrefabTable(),
		reported: make(map[*schema.Class]bool),
	}
	rt.registry = newRegistry(rt, rlog.With(rt.logger, "component", "registry"))
	rt.adapters.Register(entityAdapter(rt))
	return rt
}

// Dispose shuts down both roles, stops recording and playback and frees
// every entity ID. Close failures of either transport are joined into the
// result; the runtime is disposed regardless.
func (rt *Runtime) Dispose() error {
	if rt.disposed {
		return ErrDisposed
	}
	var errs []error
	if rt.client != nil {
		errs = append(errs, rt.client.shutdown("runtime disposed"))
	}
	if rt.server != nil {
		errs = append(errs, rt.server.shutdown("runtime disposed"))
	}
	if rt.recorder != nil {
		rt.StopRecording()
	}
	rt.player = nil
	rt.registry.Reset()
	rt.disposed = true
	return errors.Join(errs...)
}

// ============================================================================
// Tick
// ============================================================================

// Update runs one cooperative step: it drains both roles, injects due
// playback frames, ticks every behavior and, on the server, sends deltas of
// dirty behaviors. It returns the first transport fault not taken by
// Config.OnTransportError.
func (rt *Runtime) Update(dt time.Duration) error {
	if rt.disposed {
		return ErrDisposed
	}
	rt.tick++

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if rt.server != nil {
		keep(rt.server.update(dt))
	}
	if rt.client != nil {
		keep(rt.client.update(dt))
	}
	if rt.player != nil {
		rt.advancePlayback(dt)
	}
	if rt.recorder != nil {
		rt.recorder.Advance(dt)
	}

	rt.registry.tick(dt)
	if rt.server != nil {
		rt.registry.serializeAllDirty()
	}
	return firstErr
}

// ============================================================================
// Queries
// ============================================================================

func (rt *Runtime) Logger() rlog.Logger { return rt.logger }

func (rt *Runtime) Registry() *Registry { return rt.registry }

// Adapters is the argument type registry of remote calls. Custom kinds can
// be registered before the first call.
func (rt *Runtime) Adapters() *schema.Adapters { return rt.adapters }

// Entity looks up an active entity.
func (rt *Runtime) Entity(id uint16) (*Entity, bool) { return rt.registry.Entity(id) }

// Tick counts Update calls.
func (rt *Runtime) Tick() uint64 { return rt.tick }

// Server returns the running server, or nil.
func (rt *Runtime) Server() *Server { return rt.server }

// Client returns the started client, or nil.
func (rt *Runtime) Client() *Client { return rt.client }

func (rt *Runtime) IsServer() bool { return rt.server != nil }

// IsClient reports whether the client is connected or replaying a log.
func (rt *Runtime) IsClient() bool {
	if rt.client == nil {
		return false
	}
	return rt.client.status == transport.StatusConnected || rt.player != nil
}

// IsHost reports whether this process runs the server and a client
// connected to it.
func (rt *Runtime) IsHost() bool {
	return rt.server != nil && rt.client != nil && rt.client.host && rt.client.status == transport.StatusConnected
}

func (rt *Runtime) IsRecording() bool { return rt.recorder != nil }

func (rt *Runtime) IsPlayback() bool { return rt.player != nil }

// ============================================================================
// Scene entities
// ============================================================================

// AddSceneEntity registers e as part of the scene. Scene entities exist on
// every peer without being spawned; they are registered in insertion order
// whenever a role starts so that all peers agree on their IDs.
func (rt *Runtime) AddSceneEntity(e *Entity) error {
	if rt.disposed {
		return ErrDisposed
	}
	if rt.server != nil || rt.IsClient() {
		return ErrRoleActive
	}
	e.scene = true
	rt.scene = append(rt.scene, e)
	return nil
}

func (rt *Runtime) SceneEntities() []*Entity { return rt.scene }

// resetWorld empties the registry and registers the scene again. notify,
// when set, sees every non-scene entity before it is dropped.
func (rt *Runtime) resetWorld(notify func(*Entity)) {
	if notify != nil {
		for _, e := range rt.registry.Entities() {
			if !e.scene {
				notify(e)
			}
		}
	}
	if rt.registry.Reset() {
		rt.logger.Warn("registry was not empty, previous entities were dropped")
	}
	for _, e := range rt.scene {
		if err := rt.registry.Register(e, 0); err != nil {
			rt.logger.Error("scene entity not registered", "error", err)
		}
	}
}

// ============================================================================
// Errors
// ============================================================================

func (rt *Runtime) reportClass(c *schema.Class) {
	if rt.reported[c] {
		return
	}
	rt.reported[c] = true
	for _, issue := range c.Issues() {
		if issue.Warning {
			rt.logger.Warn("class configuration", "class", issue.Class, "issue", issue.Msg)
		} else {
			rt.logger.Error("class configuration", "class", issue.Class, "issue", issue.Msg)
		}
	}
}

func (rt *Runtime) frameError(logger rlog.Logger, err error) {
	logger.Error("frame dropped", "error", err)
	rt.metrics.drop()
	if rt.cfg.OnMessageError != nil {
		rt.cfg.OnMessageError(err)
	}
}

// transportFault hands err to the configured handler, or returns it.
func (rt *Runtime) transportFault(err error) error {
	terr := &TransportError{Err: err}
	if rt.cfg.OnTransportError != nil {
		rt.cfg.OnTransportError(terr)
		return nil
	}
	return terr
}
