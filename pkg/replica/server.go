package replica

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"slices"
	"time"

	"github.com/QYUbit/replica/pkg/rlog"
	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/wire"
	"golang.org/x/time/rate"
)

type ServerCallbacks struct {
	// OnApproval decides on a connection request. hail is positioned after
	// the handshake fields. Nil accepts every request.
	OnApproval   func(remoteAddr string, hail *wire.Reader) (accept bool, reason string)
	OnConnect    func(c *Conn)
	OnDisconnect func(c *Conn, reason string)
	OnCustomData func(tag byte, c *Conn, r *wire.Reader)
}

// Server is the authoritative role. It owns one Conn per approved
// connection and is the only role that spawns entities.
type Server struct {
	rt       *Runtime
	logger   rlog.Logger
	tr       transport.Server
	cb       ServerCallbacks
	router   router
	conns    map[transport.ConnID]*Conn
	order    []*Conn
	local    *Conn
	hostKey  float64
	limiters map[string]*rate.Limiter
	traffic  *traffic
}

// StartServer starts listening on tr and registers the scene entities.
func (rt *Runtime) StartServer(ctx context.Context, tr transport.Server, cb ServerCallbacks) (*Server, error) {
	if rt.disposed {
		return nil, ErrDisposed
	}
	if rt.server != nil {
		return nil, ErrAlreadyStarted
	}
	if rt.player != nil {
		return nil, ErrPlaybackActive
	}
	if rt.IsClient() {
		return nil, ErrRoleActive
	}
	if err := tr.Listen(ctx); err != nil {
		return nil, &TransportError{Err: err}
	}

	s := &Server{
		rt:       rt,
		logger:   rlog.With(rt.logger, "role", "server"),
		tr:       tr,
		cb:       cb,
		conns:    make(map[transport.ConnID]*Conn),
		limiters: make(map[string]*rate.Limiter),
		traffic:  newTraffic(rt.metrics, "server"),
	}
	s.router = router{rt: rt, logger: s.logger}
	s.router.processors[TagPing] = s.processPing
	s.router.processors[TagRemoteCall] = s.processRemoteCall
	s.router.custom = s.processCustom

	rt.server = s
	rt.resetWorld(nil)
	s.logger.Info("server started", "addr", tr.Addr())
	return s, nil
}

// ShutdownServer disconnects every client, releases their entities and
// frees all entity IDs before returning.
func (rt *Runtime) ShutdownServer(reason string) error {
	if rt.server == nil {
		return ErrNotServer
	}
	return rt.server.shutdown(reason)
}

func (s *Server) shutdown(reason string) error {
	conns := s.order
	s.conns = make(map[transport.ConnID]*Conn)
	s.order = nil
	for _, c := range conns {
		if err := s.tr.Disconnect(c.id, reason); err != nil {
			s.logger.Debug("disconnect on shutdown", "conn", c.IDHex(), "error", err)
		}
		s.release(c)
	}
	s.local = nil
	err := s.tr.Close()
	s.rt.server = nil
	s.rt.registry.Reset()
	s.logger.Info("server stopped", "reason", reason)
	if err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// ============================================================================
// Queries
// ============================================================================

func (s *Server) Addr() string { return s.tr.Addr() }

// Conns returns the approved connections in approval order.
func (s *Server) Conns() []*Conn { return slices.Clone(s.order) }

func (s *Server) Conn(id transport.ConnID) (*Conn, bool) {
	c, ok := s.conns[id]
	return c, ok
}

// LocalConn returns the co-located host client's connection, or nil.
func (s *Server) LocalConn() *Conn { return s.local }

// Stats returns the traffic of the last full second.
func (s *Server) Stats() Stats { return s.traffic.last }

// GenNewHostKey issues the one-time key a co-located client echoes in its
// handshake.
func (s *Server) GenNewHostKey() float64 {
	for s.hostKey == 0 {
		s.hostKey = rand.Float64() * 1000
	}
	return s.hostKey
}

// ============================================================================
// Pump
// ============================================================================

func (s *Server) update(dt time.Duration) error {
	defer s.traffic.advance(dt)
	for {
		ev, ok := s.tr.Poll()
		if !ok {
			return nil
		}
		switch ev.Kind {
		case transport.EventApproval:
			s.approve(ev)
		case transport.EventStatus:
			s.statusChanged(ev)
		case transport.EventData:
			s.traffic.received(len(ev.Data))
			if _, ok := s.conns[ev.Conn]; !ok {
				s.logger.Debug("data from unknown connection", "conn", ev.Conn.Hex())
				continue
			}
			s.router.dispatch(ev.Conn, ev.Data)
		case transport.EventError:
			if err := s.rt.transportFault(ev.Err); err != nil {
				return err
			}
		}
	}
}

func (s *Server) approve(ev transport.Event) {
	r := wire.NewReader(ev.Data)
	isLocal, err := r.ReadBool()
	if err != nil {
		s.deny(ev, "malformed handshake")
		return
	}
	key, err := r.ReadFloat64()
	if err != nil {
		s.deny(ev, "malformed handshake")
		return
	}

	if !s.allow(ev.RemoteAddr) {
		s.deny(ev, "too many connection attempts")
		return
	}

	local := false
	if isLocal {
		switch {
		case key != s.hostKey || s.hostKey == 0:
			s.logger.Error("host key mismatch, treating connection as remote", "addr", ev.RemoteAddr)
		case s.local != nil:
			s.logger.Error("local connection already set", "addr", ev.RemoteAddr)
		default:
			local = true
			s.hostKey = 0
		}
	}

	if s.cb.OnApproval != nil {
		if accept, reason := s.cb.OnApproval(ev.RemoteAddr, r); !accept {
			s.deny(ev, reason)
			return
		}
	}

	if err := s.tr.Approve(ev.Conn); err != nil {
		s.logger.Error("approve failed", "conn", ev.Conn.Hex(), "error", err)
		return
	}
	c := &Conn{server: s, id: ev.Conn, remoteAddr: ev.RemoteAddr, local: local}
	s.conns[c.id] = c
	s.order = append(s.order, c)
	if local {
		s.local = c
	}
	s.logger.Debug("connection approved", "conn", c.IDHex(), "addr", c.remoteAddr, "local", local)
}

func (s *Server) deny(ev transport.Event, reason string) {
	s.logger.Info("connection denied", "addr", ev.RemoteAddr, "reason", reason)
	if err := s.tr.Deny(ev.Conn, reason); err != nil {
		s.logger.Debug("deny failed", "conn", ev.Conn.Hex(), "error", err)
	}
}

func (s *Server) allow(remoteAddr string) bool {
	limit := s.rt.cfg.ApprovalLimit
	if limit <= 0 {
		return true
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(limit, max(1, s.rt.cfg.ApprovalBurst))
		s.limiters[host] = l
	}
	return l.Allow()
}

func (s *Server) statusChanged(ev transport.Event) {
	c, ok := s.conns[ev.Conn]
	switch ev.Status {
	case transport.StatusConnected:
		if !ok {
			s.logger.Warn("connected without approval", "conn", ev.Conn.Hex())
			return
		}
		if !c.local {
			s.sendWorld(c)
		}
		s.logger.Info("client connected", "conn", c.IDHex(), "local", c.local)
		if s.cb.OnConnect != nil {
			s.cb.OnConnect(c)
		}
	case transport.StatusDisconnected:
		if !ok {
			return
		}
		delete(s.conns, c.id)
		if i := slices.Index(s.order, c); i >= 0 {
			s.order = slices.Delete(s.order, i, i+1)
		}
		s.release(c)
		s.logger.Info("client disconnected", "conn", c.IDHex(), "reason", ev.Reason)
		if s.cb.OnDisconnect != nil {
			s.cb.OnDisconnect(c, ev.Reason)
		}
	default:
		s.logger.Debug("connection status", "conn", ev.Conn.Hex(), "status", ev.Status)
	}
}

// release hands every entity owned by c back to the server. c may already
// be gone from the connection table.
func (s *Server) release(c *Conn) {
	if s.local == c {
		s.local = nil
	}
	for _, e := range slices.Clone(c.owned) {
		if err := s.SetOwner(e, 0); err != nil {
			s.logger.Error("releasing owned entity", "entity", e.id, "error", err)
		}
		c.removeOwned(e)
	}
}

func (s *Server) sendWorld(c *Conn) {
	w := newFrame(TagWorldSnapshot)
	entities := s.rt.registry.Entities()
	w.WriteInt32(int32(len(entities)))
	for _, e := range entities {
		w.WriteUint16(e.prefabID)
		w.WriteUint16(e.id)
		e.writeFull(w, s.rt.tick)
	}
	s.send(c.id, w.Bytes(), transport.ReliableOrdered, channelWorld)
}

// ============================================================================
// Send
// ============================================================================

func (s *Server) send(id transport.ConnID, data []byte, method transport.DeliveryMethod, channel int) error {
	if err := s.tr.Send(id, data, method, channel); err != nil {
		s.logger.Debug("send failed", "conn", id.Hex(), "error", err)
		return err
	}
	s.traffic.sent(len(data))
	return nil
}

// broadcast sends to every connection except the local one and except.
func (s *Server) broadcast(data []byte, method transport.DeliveryMethod, channel int, except ...transport.ConnID) {
	for _, c := range s.order {
		if c.local || slices.Contains(except, c.id) {
			continue
		}
		s.send(c.id, data, method, channel)
	}
}

// Send delivers a custom message built with NewMessage to one connection.
func (s *Server) Send(conn transport.ConnID, msg *wire.Writer, method transport.DeliveryMethod) error {
	if err := checkCustom(msg); err != nil {
		return err
	}
	if _, ok := s.conns[conn]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConn, conn.Hex())
	}
	return s.send(conn, msg.Bytes(), method, channelCustom)
}

// SendToAll delivers a custom message to every remote connection except
// the listed ones.
func (s *Server) SendToAll(msg *wire.Writer, method transport.DeliveryMethod, except ...transport.ConnID) error {
	if err := checkCustom(msg); err != nil {
		return err
	}
	s.broadcast(msg.Bytes(), method, channelCustom, except...)
	return nil
}

// Kick disconnects a client.
func (s *Server) Kick(conn transport.ConnID, reason string) error {
	if _, ok := s.conns[conn]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConn, conn.Hex())
	}
	return s.tr.Disconnect(conn, reason)
}

// ============================================================================
// Entities
// ============================================================================

// Spawn registers e, gives it to owner (0 for the server) and announces it
// to every remote client.
func (s *Server) Spawn(e *Entity, owner transport.ConnID) error {
	if s.rt.server != s {
		return ErrNotServer
	}
	if e.id != 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, e)
	}
	if e.prefabID == 0 && !e.scene {
		s.logger.Error("spawn refused", "error", ErrNoPrefab)
		return ErrNoPrefab
	}
	var oc *Conn
	if owner != 0 {
		var ok bool
		if oc, ok = s.conns[owner]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConn, owner.Hex())
		}
	}
	if err := s.rt.registry.Register(e, 0); err != nil {
		return err
	}
	e.ownerID = owner
	if oc != nil {
		oc.addOwned(e)
	}

	w := newFrame(TagSpawn)
	w.WriteUint16(e.prefabID)
	w.WriteUint16(e.id)
	e.writeFull(w, s.rt.tick)
	s.broadcast(w.Bytes(), transport.ReliableOrdered, channelWorld)
	return nil
}

// SpawnPrefab instantiates prefab id and spawns it.
func (s *Server) SpawnPrefab(id uint16, owner transport.ConnID) (*Entity, error) {
	e, err := s.rt.Instantiate(id)
	if err != nil {
		return nil, err
	}
	if err := s.Spawn(e, owner); err != nil {
		return nil, err
	}
	return e, nil
}

// Despawn removes e on every peer and frees its ID.
func (s *Server) Despawn(e *Entity) error {
	if s.rt.server != s {
		return ErrNotServer
	}
	if e.id == 0 || e.rt != s.rt {
		return fmt.Errorf("%w: %s", ErrNotRegistered, e)
	}
	if c, ok := s.conns[e.ownerID]; ok {
		c.removeOwned(e)
	}

	w := newFrame(TagDespawn)
	w.WriteUint16(e.id)
	s.broadcast(w.Bytes(), transport.ReliableOrdered, channelWorld)
	return s.rt.registry.Unregister(e)
}

// SetOwner transfers e to owner. Both owned-entity sets and the entity's
// owner change together.
func (s *Server) SetOwner(e *Entity, owner transport.ConnID) error {
	if s.rt.server != s {
		return ErrNotServer
	}
	if e.id == 0 || e.rt != s.rt {
		return fmt.Errorf("%w: %s", ErrNotRegistered, e)
	}
	if e.ownerID == owner {
		return nil
	}
	var next *Conn
	if owner != 0 {
		var ok bool
		if next, ok = s.conns[owner]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConn, owner.Hex())
		}
	}
	if prev, ok := s.conns[e.ownerID]; ok {
		prev.removeOwned(e)
	}
	if next != nil {
		next.addOwned(e)
	}
	e.ownerID = owner

	w := newFrame(TagSetOwner)
	w.WriteUint16(e.id)
	w.WriteInt64(int64(owner))
	s.broadcast(w.Bytes(), transport.ReliableOrdered, channelWorld)
	return nil
}

// ============================================================================
// Processors
// ============================================================================

func (s *Server) processPing(sender transport.ConnID, r *wire.Reader) error {
	w := newFrame(TagPing)
	w.WriteBytes(r.Rest())
	s.send(sender, w.Bytes(), transport.Unreliable, 0)
	return nil
}

func (s *Server) processRemoteCall(sender transport.ConnID, r *wire.Reader) error {
	return s.rt.receiveRemoteCall(sender, r, true)
}

func (s *Server) processCustom(tag byte, sender transport.ConnID, r *wire.Reader) {
	if s.cb.OnCustomData == nil {
		s.logger.Debug("custom frame without handler", "tag", tag)
		return
	}
	s.cb.OnCustomData(tag, s.conns[sender], r)
}
