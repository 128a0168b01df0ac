package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/replica/pkg/rlog"
	"github.com/QYUbit/replica/pkg/transport"
)

type ClientConfig struct {
	Logger rlog.Logger
	// HandshakeTimeout bounds the wait for the server's decision.
	HandshakeTimeout time.Duration
	// PingInterval is how often RTT probes are sent. Zero disables them.
	PingInterval time.Duration
	SendQueue    int
	EventQueue   int
}

var DefaultClientConfig = ClientConfig{
	HandshakeTimeout: 15 * time.Second,
	PingInterval:     time.Second,
	SendQueue:        256,
	EventQueue:       1024,
}

// Client implements transport.Client over a link produced by a DialFunc.
type Client struct {
	cfg    ClientConfig
	logger rlog.Logger
	dial   DialFunc
	events chan transport.Event

	mu    sync.Mutex
	local []transport.Event
	conn  *conn
	id    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

var _ transport.Client = (*Client)(nil)

func (cfg ClientConfig) withDefaults() ClientConfig {
	d := DefaultClientConfig
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = d.HandshakeTimeout
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = d.SendQueue
	}
	if cfg.EventQueue <= 0 {
		cfg.EventQueue = d.EventQueue
	}
	cfg.Logger = rlog.OrNop(cfg.Logger)
	return cfg
}

func NewClient(dial DialFunc, cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		dial:   dial,
		events: make(chan transport.Event, cfg.EventQueue),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dial establishes the link and sends the hail. The server's answer
// arrives as a status event.
func (c *Client) Dial(ctx context.Context, addr string, hail []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	c.mu.Lock()
	busy := c.conn != nil
	c.mu.Unlock()
	if busy {
		return transport.ErrStarted
	}

	link, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}
	if err := link.WriteFrame(controlFrame(frameHail, hail)); err != nil {
		link.Close("hail failed")
		return err
	}

	cn := newConn(c.ctx, 0, link, c, c.logger, c.cfg.SendQueue, c.cfg.PingInterval)
	c.mu.Lock()
	c.conn = cn
	c.mu.Unlock()
	go c.await(cn)
	return nil
}

// await reads the server's verdict on the hail.
func (c *Client) await(cn *conn) {
	ctx, cancel := context.WithTimeout(cn.ctx, c.cfg.HandshakeTimeout)
	p, err := cn.link.ReadFrame(ctx)
	cancel()

	reason := "handshake failed"
	if err == nil {
		kind, r, ferr := splitFrame(p)
		switch {
		case ferr != nil:
		case kind == frameAccept:
			id, err := r.ReadInt64()
			if err != nil || id == 0 {
				break
			}
			cn.id = transport.ConnID(id)
			c.id.Store(id)
			cn.start()
			c.emit(transport.Event{Kind: transport.EventStatus, Conn: cn.id, Status: transport.StatusConnected})
			return
		case kind == frameClose:
			if s, err := r.ReadString(); err == nil && s != "" {
				reason = s
			} else {
				reason = "denied"
			}
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		reason = ErrHandshakeExpiry.Error()
	}

	if cn.ctx.Err() != nil {
		// Disconnect or Close already reported it.
		return
	}
	cn.abort(reason)
	c.detach(cn)
	c.emit(transport.Event{Kind: transport.EventStatus, Status: transport.StatusDisconnected, Reason: reason})
}

func (c *Client) detach(cn *conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != cn {
		return false
	}
	c.conn = nil
	c.id.Store(0)
	return true
}

func (c *Client) emit(ev transport.Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Client) dropped(cn *conn, reason string) {
	if c.detach(cn) {
		c.emit(transport.Event{Kind: transport.EventStatus, Conn: cn.id, Status: transport.StatusDisconnected, Reason: reason})
	}
}

func (c *Client) Poll() (transport.Event, bool) {
	c.mu.Lock()
	if len(c.local) > 0 {
		ev := c.local[0]
		c.local = c.local[1:]
		c.mu.Unlock()
		return ev, true
	}
	c.mu.Unlock()

	select {
	case ev := <-c.events:
		return ev, true
	default:
		return transport.Event{}, false
	}
}

func (c *Client) current() *conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) LocalID() transport.ConnID { return transport.ConnID(c.id.Load()) }

func (c *Client) Send(_ transport.ConnID, data []byte, method transport.DeliveryMethod, channel int) error {
	cn := c.current()
	if cn == nil || c.id.Load() == 0 {
		return ErrNotConnected
	}
	return cn.queueData(data, method, channel)
}

func (c *Client) Disconnect(_ transport.ConnID, reason string) error {
	cn := c.current()
	if cn == nil {
		return ErrNotConnected
	}
	if c.id.Load() != 0 {
		cn.closeWith(reason)
		return nil
	}
	// Still waiting for approval, the pumps are not running.
	cn.abort(reason)
	if c.detach(cn) {
		c.mu.Lock()
		c.local = append(c.local, transport.Event{Kind: transport.EventStatus, Status: transport.StatusDisconnected, Reason: reason})
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) RTT(transport.ConnID) time.Duration {
	if cn := c.current(); cn != nil {
		return cn.RTT()
	}
	return 0
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return transport.ErrClosed
	}
	if cn := c.current(); cn != nil {
		cn.abort("client closed")
		c.detach(cn)
	}
	c.cancel()
	return nil
}
