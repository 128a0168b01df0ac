package hub

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/replica/pkg/rlog"
	"github.com/QYUbit/replica/pkg/transport"
)

type ServerConfig struct {
	Logger rlog.Logger
	// HandshakeTimeout bounds the wait for a new link's hail frame.
	HandshakeTimeout time.Duration
	// ApprovalTimeout denies connections the owner did not decide on.
	ApprovalTimeout time.Duration
	// PingInterval is how often RTT probes are sent. Zero disables them.
	PingInterval time.Duration
	SendQueue    int
	EventQueue   int
	// NewID assigns connection IDs. Defaults to NewConnID.
	NewID func() transport.ConnID
}

var DefaultServerConfig = ServerConfig{
	HandshakeTimeout: 5 * time.Second,
	ApprovalTimeout:  10 * time.Second,
	PingInterval:     time.Second,
	SendQueue:        256,
	EventQueue:       1024,
}

func (cfg ServerConfig) withDefaults() ServerConfig {
	d := DefaultServerConfig
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = d.HandshakeTimeout
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = d.ApprovalTimeout
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = d.SendQueue
	}
	if cfg.EventQueue <= 0 {
		cfg.EventQueue = d.EventQueue
	}
	if cfg.NewID == nil {
		cfg.NewID = NewConnID
	}
	cfg.Logger = rlog.OrNop(cfg.Logger)
	return cfg
}

// Server implements transport.Server over links produced by a ListenFunc.
type Server struct {
	cfg    ServerConfig
	logger rlog.Logger
	listen ListenFunc

	acceptor Acceptor
	events   chan transport.Event

	mu      sync.RWMutex
	local   []transport.Event
	pending map[transport.ConnID]*conn
	conns   map[transport.ConnID]*conn

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	closed  atomic.Bool
}

var _ transport.Server = (*Server)(nil)

func NewServer(listen ListenFunc, cfg ServerConfig) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		listen:  listen,
		events:  make(chan transport.Event, cfg.EventQueue),
		pending: make(map[transport.ConnID]*conn),
		conns:   make(map[transport.ConnID]*conn),
	}
}

// Listen opens the acceptor and starts accepting in the background. The
// server stops when ctx is cancelled or Close is called.
func (s *Server) Listen(ctx context.Context) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return transport.ErrStarted
	}
	a, err := s.listen(ctx)
	if err != nil {
		s.started.Store(false)
		return err
	}
	s.acceptor = a
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.acceptLinks()
	s.logger.Info("listening", "addr", a.Addr())
	return nil
}

func (s *Server) Addr() string {
	if s.acceptor == nil {
		return ""
	}
	return s.acceptor.Addr()
}

func (s *Server) acceptLinks() {
	for {
		link, err := s.acceptor.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.emit(transport.Event{Kind: transport.EventError, Err: err})
			continue
		}
		go s.handshake(link)
	}
}

func (s *Server) handshake(link Link) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	p, err := link.ReadFrame(ctx)
	cancel()
	if err != nil {
		s.logger.Debug("handshake failed", "addr", link.RemoteAddr(), "error", err)
		link.Close("handshake failed")
		return
	}
	kind, r, err := splitFrame(p)
	if err != nil || kind != frameHail {
		s.logger.Debug("handshake failed", "addr", link.RemoteAddr(), "error", ErrBadHandshake)
		link.Close("bad handshake")
		return
	}

	c := newConn(s.ctx, s.cfg.NewID(), link, s, s.logger, s.cfg.SendQueue, s.cfg.PingInterval)
	s.mu.Lock()
	s.pending[c.id] = c
	s.mu.Unlock()

	time.AfterFunc(s.cfg.ApprovalTimeout, func() {
		if s.Deny(c.id, "approval timed out") == nil {
			s.emit(transport.Event{Kind: transport.EventStatus, Conn: c.id, Status: transport.StatusDisconnected, Reason: "approval timed out"})
		}
	})

	s.emit(transport.Event{
		Kind:       transport.EventApproval,
		Conn:       c.id,
		Data:       r.Rest(),
		RemoteAddr: link.RemoteAddr(),
	})
}

// ============================================================================
// Events
// ============================================================================

// emit is called by pumps. It blocks while the queue is full.
func (s *Server) emit(ev transport.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// post queues an event raised by the owner's own call, which must not
// block on the queue it drains.
func (s *Server) post(ev transport.Event) {
	s.mu.Lock()
	s.local = append(s.local, ev)
	s.mu.Unlock()
}

func (s *Server) Poll() (transport.Event, bool) {
	s.mu.Lock()
	if len(s.local) > 0 {
		ev := s.local[0]
		s.local = s.local[1:]
		s.mu.Unlock()
		return ev, true
	}
	s.mu.Unlock()

	select {
	case ev := <-s.events:
		return ev, true
	default:
		return transport.Event{}, false
	}
}

func (s *Server) dropped(c *conn, reason string) {
	s.mu.Lock()
	_, live := s.conns[c.id]
	delete(s.conns, c.id)
	delete(s.pending, c.id)
	s.mu.Unlock()
	if live {
		s.emit(transport.Event{Kind: transport.EventStatus, Conn: c.id, Status: transport.StatusDisconnected, Reason: reason})
	}
}

// ============================================================================
// Connections
// ============================================================================

func (s *Server) Approve(id transport.ConnID) error {
	s.mu.Lock()
	c, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return transport.ErrNotPending
	}
	delete(s.pending, id)
	s.conns[id] = c
	s.local = append(s.local, transport.Event{Kind: transport.EventStatus, Conn: id, Status: transport.StatusConnected})
	s.mu.Unlock()

	c.enqueue(outgoing{kind: sendFrame, payload: acceptFrame(int64(id))})
	c.start()
	return nil
}

func (s *Server) Deny(id transport.ConnID, reason string) error {
	s.mu.Lock()
	c, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return transport.ErrNotPending
	}
	c.abort(reason)
	return nil
}

func (s *Server) Send(id transport.ConnID, data []byte, method transport.DeliveryMethod, channel int) error {
	s.mu.RLock()
	c, ok := s.conns[id]
	s.mu.RUnlock()
	if !ok {
		return transport.ErrUnknownConn
	}
	return c.queueData(data, method, channel)
}

func (s *Server) Disconnect(id transport.ConnID, reason string) error {
	s.mu.RLock()
	c, ok := s.conns[id]
	s.mu.RUnlock()
	if !ok {
		if s.Deny(id, reason) == nil {
			return nil
		}
		return transport.ErrUnknownConn
	}
	c.closeWith(reason)
	return nil
}

func (s *Server) RTT(id transport.ConnID) time.Duration {
	s.mu.RLock()
	c, ok := s.conns[id]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.RTT()
}

// Close stops accepting and closes every connection without reporting
// them as disconnected.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return transport.ErrClosed
	}
	if !s.started.Load() {
		return nil
	}

	s.mu.Lock()
	all := make([]*conn, 0, len(s.conns)+len(s.pending))
	for _, c := range s.conns {
		all = append(all, c)
	}
	for _, c := range s.pending {
		all = append(all, c)
	}
	s.conns = make(map[transport.ConnID]*conn)
	s.pending = make(map[transport.ConnID]*conn)
	s.mu.Unlock()

	for _, c := range all {
		c.abort("server closed")
	}
	s.cancel()
	return s.acceptor.Close()
}
