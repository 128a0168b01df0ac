// Package websockets provides hub transports over gorilla websockets.
// Websockets are reliable only, so unreliable sends ride the same stream.
package websockets

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/QYUbit/replica/pkg/transport/hub"
	"github.com/gorilla/websocket"
)

var ErrAcceptorClosed = errors.New("websocket acceptor is closed")

type Link struct {
	conn *websocket.Conn
}

var _ hub.Link = (*Link)(nil)

func NewLink(conn *websocket.Conn) *Link {
	return &Link{conn: conn}
}

func (l *Link) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { l.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		kind, p, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Text != "" {
				return hub.CloseFrame(closeErr.Text), nil
			}
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			return p, nil
		}
	}
}

func (l *Link) WriteFrame(p []byte) error {
	return l.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (l *Link) Datagrams() bool { return false }

func (l *Link) SendDatagram([]byte) error { return hub.ErrNoDatagrams }

func (l *Link) ReceiveDatagram(context.Context) ([]byte, error) { return nil, hub.ErrNoDatagrams }

func (l *Link) RemoteAddr() string { return l.conn.RemoteAddr().String() }

func (l *Link) Close(reason string) error {
	var lastErr error

	err := l.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second),
	)
	if err != nil {
		lastErr = err
	}

	if err := l.conn.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

// Acceptor hands out links for requests upgraded by ServeHTTP.
type Acceptor struct {
	upgrader *websocket.Upgrader
	links    chan hub.Link
	addr     string

	mu     sync.Mutex
	srv    *http.Server
	done   chan struct{}
	closed bool
}

var _ http.Handler = (*Acceptor)(nil)

func NewAcceptor(upgrader *websocket.Upgrader, addr string) *Acceptor {
	if upgrader == nil {
		upgrader = &websocket.Upgrader{}
	}
	return &Acceptor{
		upgrader: upgrader,
		links:    make(chan hub.Link, 16),
		addr:     addr,
		done:     make(chan struct{}),
	}
}

func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case a.links <- NewLink(conn):
	case <-a.done:
		conn.Close()
	case <-r.Context().Done():
		conn.Close()
	}
}

func (a *Acceptor) Accept(ctx context.Context) (hub.Link, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, net.ErrClosed
	case l := <-a.links:
		return l, nil
	}
}

func (a *Acceptor) Addr() string { return a.addr }

func (a *Acceptor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAcceptorClosed
	}
	a.closed = true
	close(a.done)
	if a.srv != nil {
		return a.srv.Close()
	}
	return nil
}

// NewServer returns a hub server that upgrades requests to path on addr.
func NewServer(addr, path string, upgrader *websocket.Upgrader, scfg hub.ServerConfig) *hub.Server {
	return hub.NewServer(func(ctx context.Context) (hub.Acceptor, error) {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		a := NewAcceptor(upgrader, ln.Addr().String())
		mux := http.NewServeMux()
		mux.Handle(path, a)
		a.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go a.srv.Serve(ln)
		return a, nil
	}, scfg)
}

// NewClient returns a hub client dialing websocket URLs.
func NewClient(dialer *websocket.Dialer, ccfg hub.ClientConfig) *hub.Client {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return hub.NewClient(func(ctx context.Context, url string) (hub.Link, error) {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return NewLink(conn), nil
	}, ccfg)
}
