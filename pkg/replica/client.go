package replica

import (
	"context"
	"fmt"
	"time"

	"github.com/QYUbit/replica/pkg/rlog"
	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/wire"
)

type ClientCallbacks struct {
	OnStatus        func(status transport.Status)
	OnConnect       func()
	OnDisconnect    func(reason string)
	OnWorldReceived func()
	OnSpawn         func(e *Entity)
	OnDespawn       func(e *Entity)
	OnCustomData    func(tag byte, r *wire.Reader)
}

// Client is the non-authoritative role. It mirrors the server's entities
// into the runtime's registry.
type Client struct {
	rt        *Runtime
	logger    rlog.Logger
	tr        transport.Client
	cb        ClientCallbacks
	router    router
	status    transport.Status
	host      bool
	epoch     time.Time
	rtt       time.Duration
	sincePing time.Duration
	traffic   *traffic
}

// StartClient prepares the client role. It does not connect.
func (rt *Runtime) StartClient(tr transport.Client, cb ClientCallbacks) (*Client, error) {
	if rt.disposed {
		return nil, ErrDisposed
	}
	if rt.client != nil {
		return nil, ErrAlreadyStarted
	}
	c := &Client{
		rt:      rt,
		logger:  rlog.With(rt.logger, "role", "client"),
		tr:      tr,
		cb:      cb,
		epoch:   time.Now(),
		traffic: newTraffic(rt.metrics, "client"),
	}
	c.router = router{rt: rt, logger: c.logger}
	c.router.processors[TagPing] = c.processPing
	c.router.processors[TagSpawn] = c.processSpawn
	c.router.processors[TagDespawn] = c.processDespawn
	c.router.processors[TagDelta] = c.processDelta
	c.router.processors[TagRemoteCall] = c.processRemoteCall
	c.router.processors[TagWorldSnapshot] = c.processWorldSnapshot
	c.router.processors[TagSetOwner] = c.processSetOwner
	c.router.custom = c.processCustom

	rt.client = c
	return c, nil
}

// ShutdownClient disconnects, drops every mirrored entity and closes the
// transport.
func (rt *Runtime) ShutdownClient(reason string) error {
	if rt.client == nil {
		return ErrNotClient
	}
	return rt.client.shutdown(reason)
}

func (c *Client) shutdown(reason string) error {
	if c.status != transport.StatusDisconnected {
		if err := c.tr.Disconnect(0, reason); err != nil {
			c.logger.Debug("disconnect on shutdown", "error", err)
		}
		c.onDisconnected(reason)
	}
	if c.rt.player != nil {
		c.rt.StopPlayback()
	}
	err := c.tr.Close()
	c.rt.client = nil
	c.logger.Info("client stopped", "reason", reason)
	if err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// ============================================================================
// Connection
// ============================================================================

// ConnectToRemote starts connecting to a server in another process. hail
// is appended to the handshake and read by the server's OnApproval.
func (c *Client) ConnectToRemote(ctx context.Context, addr string, hail []byte) error {
	return c.dial(ctx, addr, false, remoteHostKey, hail)
}

// ConnectToHost connects to the server of the same runtime. The server
// recognizes the connection by a one-time key and leaves it out of every
// broadcast.
func (c *Client) ConnectToHost(ctx context.Context, hail []byte) error {
	s := c.rt.server
	if s == nil {
		return ErrNotServer
	}
	return c.dial(ctx, s.Addr(), true, s.GenNewHostKey(), hail)
}

func (c *Client) dial(ctx context.Context, addr string, local bool, key float64, hail []byte) error {
	if c.rt.client != c {
		return ErrNotClient
	}
	if c.rt.player != nil {
		return ErrPlaybackActive
	}
	if c.status != transport.StatusDisconnected {
		return ErrAlreadyConnected
	}

	w := wire.NewWriter(9 + len(hail))
	w.WriteBool(local)
	w.WriteFloat64(key)
	w.WriteBytes(hail)

	c.host = local
	if !c.rt.IsServer() {
		c.rt.resetWorld(nil)
	}
	c.setStatus(transport.StatusConnecting)
	if err := c.tr.Dial(ctx, addr, w.Bytes()); err != nil {
		c.host = false
		c.setStatus(transport.StatusDisconnected)
		return &TransportError{Err: err}
	}
	c.logger.Info("connecting", "addr", addr, "local", local)
	return nil
}

// Disconnect starts closing the connection. The registry is emptied once
// the transport reports the disconnect.
func (c *Client) Disconnect(reason string) error {
	if c.status != transport.StatusConnected && c.status != transport.StatusConnecting {
		return ErrNotConnected
	}
	c.setStatus(transport.StatusDisconnecting)
	if err := c.tr.Disconnect(0, reason); err != nil {
		c.onDisconnected(reason)
		return &TransportError{Err: err}
	}
	return nil
}

func (c *Client) Status() transport.Status { return c.status }

// IsHost reports whether the client is connected to its own runtime's server.
func (c *Client) IsHost() bool { return c.host }

// LocalID is the connection ID the server assigned, 0 while disconnected.
func (c *Client) LocalID() transport.ConnID { return c.tr.LocalID() }

// RTT returns the last measured round trip, or the transport's estimate
// before the first pong.
func (c *Client) RTT() time.Duration {
	if c.rtt > 0 {
		return c.rtt
	}
	return c.tr.RTT(0)
}

// Stats returns the traffic of the last full second.
func (c *Client) Stats() Stats { return c.traffic.last }

func (c *Client) setStatus(s transport.Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.logger.Info("status changed", "status", s)
	if c.cb.OnStatus != nil {
		c.cb.OnStatus(s)
	}
}

func (c *Client) onDisconnected(reason string) {
	if c.status == transport.StatusDisconnected {
		return
	}
	c.setStatus(transport.StatusDisconnected)
	c.host = false
	c.rtt = 0
	if !c.rt.IsServer() && c.rt.player == nil {
		c.rt.resetWorld(c.cb.OnDespawn)
	}
	if c.cb.OnDisconnect != nil {
		c.cb.OnDisconnect(reason)
	}
}

// ============================================================================
// Send
// ============================================================================

func (c *Client) send(data []byte, method transport.DeliveryMethod, channel int) error {
	if c.status != transport.StatusConnected {
		return ErrNotConnected
	}
	if err := c.tr.Send(0, data, method, channel); err != nil {
		return &TransportError{Err: err}
	}
	c.traffic.sent(len(data))
	return nil
}

// Send delivers a custom message built with NewMessage to the server.
func (c *Client) Send(msg *wire.Writer, method transport.DeliveryMethod) error {
	if err := checkCustom(msg); err != nil {
		return err
	}
	return c.send(msg.Bytes(), method, channelCustom)
}

func (c *Client) ping() {
	w := newFrame(TagPing)
	w.WriteInt64(int64(time.Since(c.epoch)))
	if err := c.send(w.Bytes(), transport.Unreliable, 0); err != nil {
		c.logger.Debug("ping not sent", "error", err)
	}
}

// ============================================================================
// Pump
// ============================================================================

func (c *Client) update(dt time.Duration) error {
	defer c.traffic.advance(dt)
	for {
		ev, ok := c.tr.Poll()
		if !ok {
			break
		}
		switch ev.Kind {
		case transport.EventStatus:
			switch ev.Status {
			case transport.StatusConnected:
				c.sincePing = 0
				c.setStatus(transport.StatusConnected)
				if c.cb.OnConnect != nil {
					c.cb.OnConnect()
				}
			case transport.StatusDisconnected:
				c.logger.Info("disconnected", "reason", ev.Reason)
				c.onDisconnected(ev.Reason)
			default:
				c.setStatus(ev.Status)
			}
		case transport.EventData:
			c.traffic.received(len(ev.Data))
			if c.status != transport.StatusConnected {
				c.logger.Debug("frame outside a connection dropped", "status", c.status)
				continue
			}
			if c.rt.recorder != nil {
				if err := c.rt.recorder.Log(ev.Data); err != nil {
					c.logger.Error("frame not recorded", "error", err)
				}
			}
			c.router.dispatch(ev.Conn, ev.Data)
		case transport.EventError:
			if err := c.rt.transportFault(ev.Err); err != nil {
				return err
			}
		}
	}

	if c.status == transport.StatusConnected {
		c.sincePing += dt
		if c.sincePing >= c.rt.cfg.PingInterval {
			c.sincePing = 0
			c.ping()
		}
	}
	return nil
}

// ============================================================================
// Processors
// ============================================================================

// The server and a host client share one registry, so the host skips
// every frame that would mirror server state.

func (c *Client) processPing(_ transport.ConnID, r *wire.Reader) error {
	sent, err := r.ReadInt64()
	if err != nil {
		return err
	}
	if c.rt.player != nil {
		return nil
	}
	if rtt := time.Since(c.epoch) - time.Duration(sent); rtt >= 0 {
		c.rtt = rtt
	}
	return nil
}

func (c *Client) processSpawn(_ transport.ConnID, r *wire.Reader) error {
	if c.rt.IsServer() {
		return nil
	}
	prefabID, err := r.ReadUint16()
	if err != nil {
		return err
	}
	id, err := r.ReadUint16()
	if err != nil {
		return err
	}
	e, err := c.mirror(prefabID, id, r)
	if err != nil {
		return err
	}
	c.logger.Debug("entity spawned", "entity", id, "prefab", prefabID)
	if c.cb.OnSpawn != nil {
		c.cb.OnSpawn(e)
	}
	return nil
}

// mirror instantiates prefabID under id and applies its full state. Prefab
// 0 refers to an already registered scene entity.
func (c *Client) mirror(prefabID, id uint16, r *wire.Reader) (*Entity, error) {
	tick := c.rt.tick
	if prefabID == 0 {
		e, ok := c.rt.registry.Entity(id)
		if !ok || !e.scene {
			return nil, fmt.Errorf("%w: scene entity %d", ErrUnknownEntity, id)
		}
		return e, e.readFull(r, tick)
	}

	e, err := c.rt.Instantiate(prefabID)
	if err != nil {
		return nil, err
	}
	if err := c.rt.registry.Register(e, id); err != nil {
		return nil, err
	}
	if err := e.readFull(r, tick); err != nil {
		c.rt.registry.Unregister(e)
		return nil, err
	}
	return e, nil
}

func (c *Client) processDespawn(_ transport.ConnID, r *wire.Reader) error {
	if c.rt.IsServer() {
		return nil
	}
	id, err := r.ReadUint16()
	if err != nil {
		return err
	}
	e, ok := c.rt.registry.Entity(id)
	if !ok {
		c.logger.Warn("despawn of unknown entity", "entity", id)
		return nil
	}
	if c.cb.OnDespawn != nil {
		c.cb.OnDespawn(e)
	}
	return c.rt.registry.Unregister(e)
}

func (c *Client) processDelta(_ transport.ConnID, r *wire.Reader) error {
	if c.rt.IsServer() {
		return nil
	}
	id, err := r.ReadUint16()
	if err != nil {
		return err
	}
	index, err := r.ReadUint8()
	if err != nil {
		return err
	}
	e, ok := c.rt.registry.Entity(id)
	if !ok {
		c.logger.Warn("delta for unknown entity", "entity", id, "behavior", index)
		return nil
	}
	b, ok := e.Behavior(int(index))
	if !ok {
		return fmt.Errorf("%w: %d on entity %d", ErrUnknownBehavior, index, id)
	}
	return b.readSweep(r, c.rt.tick)
}

func (c *Client) processRemoteCall(sender transport.ConnID, r *wire.Reader) error {
	if c.rt.IsServer() {
		return nil
	}
	return c.rt.receiveRemoteCall(sender, r, false)
}

func (c *Client) processWorldSnapshot(_ transport.ConnID, r *wire.Reader) error {
	if c.rt.IsServer() {
		return nil
	}
	count, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if count < 0 || count > MaxEntityID {
		return fmt.Errorf("entity count %d out of range", count)
	}

	for _, e := range c.rt.registry.Entities() {
		if !e.scene {
			c.logger.Warn("world snapshot over a populated registry, entities dropped", "entities", c.rt.registry.Count())
			c.rt.resetWorld(c.cb.OnDespawn)
			break
		}
	}

	for range count {
		prefabID, err := r.ReadUint16()
		if err != nil {
			return err
		}
		id, err := r.ReadUint16()
		if err != nil {
			return err
		}
		e, err := c.mirror(prefabID, id, r)
		if err != nil {
			return fmt.Errorf("world entity %d: %w", id, err)
		}
		if prefabID != 0 && c.cb.OnSpawn != nil {
			c.cb.OnSpawn(e)
		}
	}
	c.logger.Info("world received", "entities", count)
	if c.cb.OnWorldReceived != nil {
		c.cb.OnWorldReceived()
	}
	return nil
}

func (c *Client) processSetOwner(_ transport.ConnID, r *wire.Reader) error {
	if c.rt.IsServer() {
		return nil
	}
	id, err := r.ReadUint16()
	if err != nil {
		return err
	}
	owner, err := r.ReadInt64()
	if err != nil {
		return err
	}
	e, ok := c.rt.registry.Entity(id)
	if !ok {
		c.logger.Warn("owner change for unknown entity", "entity", id)
		return nil
	}
	e.ownerID = transport.ConnID(owner)
	return nil
}

func (c *Client) processCustom(tag byte, _ transport.ConnID, r *wire.Reader) {
	if c.cb.OnCustomData == nil {
		c.logger.Debug("custom frame without handler", "tag", tag)
		return
	}
	c.cb.OnCustomData(tag, r)
}
