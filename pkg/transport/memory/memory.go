// Package memory is an in-process transport. Everything happens
// synchronously inside the calls, so a server and its clients driven from
// one goroutine behave deterministically.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/QYUbit/replica/pkg/transport"
)

var (
	ErrAddrInUse    = errors.New("memory: address in use")
	ErrNoListener   = errors.New("memory: nobody listens on address")
	ErrNotConnected = errors.New("memory: not connected")
	ErrDialing      = errors.New("memory: client already has a connection")
)

// Network connects servers and clients created from it.
type Network struct {
	mu      sync.Mutex
	servers map[string]*Server
	lastID  transport.ConnID

	// DropUnreliable discards every frame not sent with a reliable method.
	DropUnreliable bool
	// Latency is reported as every connection's RTT.
	Latency time.Duration
}

func NewNetwork() *Network {
	return &Network{servers: make(map[string]*Server)}
}

func (n *Network) NewServer(addr string) *Server {
	return &Server{net: n, addr: addr}
}

func (n *Network) NewClient() *Client {
	return &Client{net: n}
}

func (n *Network) deliver(method transport.DeliveryMethod) bool {
	return method.Reliable() || !n.DropUnreliable
}

type queue []transport.Event

func (q *queue) push(ev transport.Event) { *q = append(*q, ev) }

func (q *queue) pop() (transport.Event, bool) {
	if len(*q) == 0 {
		return transport.Event{}, false
	}
	ev := (*q)[0]
	(*q)[0] = transport.Event{}
	*q = (*q)[1:]
	return ev, true
}

func status(conn transport.ConnID, s transport.Status, reason string) transport.Event {
	return transport.Event{Kind: transport.EventStatus, Conn: conn, Status: s, Reason: reason}
}

// ============================================================================
// Server
// ============================================================================

type Server struct {
	net       *Network
	addr      string
	listening bool
	closed    bool
	pending   map[transport.ConnID]*Client
	conns     map[transport.ConnID]*Client
	events    queue
}

var _ transport.Server = (*Server)(nil)

func (s *Server) Listen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	if s.listening {
		return transport.ErrStarted
	}
	if _, ok := s.net.servers[s.addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddrInUse, s.addr)
	}
	s.net.servers[s.addr] = s
	s.pending = make(map[transport.ConnID]*Client)
	s.conns = make(map[transport.ConnID]*Client)
	s.listening = true
	return nil
}

func (s *Server) Addr() string { return s.addr }

func (s *Server) Poll() (transport.Event, bool) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	return s.events.pop()
}

func (s *Server) Approve(conn transport.ConnID) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	c, ok := s.pending[conn]
	if !ok {
		return transport.ErrNotPending
	}
	delete(s.pending, conn)
	s.conns[conn] = c
	c.id = conn
	c.events.push(status(conn, transport.StatusConnected, ""))
	s.events.push(status(conn, transport.StatusConnected, ""))
	return nil
}

func (s *Server) Deny(conn transport.ConnID, reason string) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	c, ok := s.pending[conn]
	if !ok {
		return transport.ErrNotPending
	}
	delete(s.pending, conn)
	c.server = nil
	c.events.push(status(0, transport.StatusDisconnected, reason))
	return nil
}

func (s *Server) Send(conn transport.ConnID, data []byte, method transport.DeliveryMethod, channel int) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	c, ok := s.conns[conn]
	if !ok {
		return transport.ErrUnknownConn
	}
	if s.net.deliver(method) {
		c.events.push(transport.Event{Kind: transport.EventData, Conn: conn, Data: slices.Clone(data)})
	}
	return nil
}

func (s *Server) Disconnect(conn transport.ConnID, reason string) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	c, ok := s.conns[conn]
	if !ok {
		return transport.ErrUnknownConn
	}
	s.drop(c, reason)
	return nil
}

// drop removes c on both ends. The caller holds the network lock.
func (s *Server) drop(c *Client, reason string) {
	delete(s.conns, c.id)
	s.events.push(status(c.id, transport.StatusDisconnected, reason))
	c.events.push(status(c.id, transport.StatusDisconnected, reason))
	c.server = nil
	c.id = 0
}

func (s *Server) RTT(transport.ConnID) time.Duration { return s.net.Latency }

// Fail queues err as a transport fault, the way a real transport reports a
// broken listener.
func (s *Server) Fail(err error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	s.events.push(transport.Event{Kind: transport.EventError, Err: err})
}

// Close disconnects every client and frees the address.
func (s *Server) Close() error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	s.closed = true
	for _, c := range s.pending {
		c.server = nil
		c.events.push(status(0, transport.StatusDisconnected, "server closed"))
	}
	for _, c := range s.conns {
		s.drop(c, "server closed")
	}
	if s.listening {
		delete(s.net.servers, s.addr)
	}
	return nil
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	net    *Network
	server *Server
	id     transport.ConnID
	dialID transport.ConnID
	closed bool
	events queue
}

var _ transport.Client = (*Client)(nil)

func (c *Client) Dial(ctx context.Context, addr string, hail []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.server != nil {
		return ErrDialing
	}
	s, ok := c.net.servers[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoListener, addr)
	}
	c.net.lastID++
	c.dialID = c.net.lastID
	c.server = s
	s.pending[c.dialID] = c
	c.events.push(status(0, transport.StatusConnecting, ""))
	s.events.push(transport.Event{
		Kind:       transport.EventApproval,
		Conn:       c.dialID,
		Data:       slices.Clone(hail),
		RemoteAddr: fmt.Sprintf("mem:%d", c.dialID),
	})
	return nil
}

func (c *Client) LocalID() transport.ConnID {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.id
}

func (c *Client) Poll() (transport.Event, bool) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.events.pop()
}

func (c *Client) Send(_ transport.ConnID, data []byte, method transport.DeliveryMethod, channel int) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.server == nil || c.id == 0 {
		return ErrNotConnected
	}
	if c.net.deliver(method) {
		c.server.events.push(transport.Event{Kind: transport.EventData, Conn: c.id, Data: slices.Clone(data)})
	}
	return nil
}

func (c *Client) Disconnect(_ transport.ConnID, reason string) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.disconnect(reason)
}

func (c *Client) disconnect(reason string) error {
	s := c.server
	if s == nil {
		return ErrNotConnected
	}
	if c.id == 0 {
		delete(s.pending, c.dialID)
		c.server = nil
		c.events.push(status(0, transport.StatusDisconnected, reason))
		return nil
	}
	s.drop(c, reason)
	return nil
}

func (c *Client) RTT(transport.ConnID) time.Duration { return c.net.Latency }

// Fail queues err as a transport fault.
func (c *Client) Fail(err error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.events.push(transport.Event{Kind: transport.EventError, Err: err})
}

func (c *Client) Close() error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.server != nil {
		c.disconnect("client closed")
	}
	c.closed = true
	return nil
}
