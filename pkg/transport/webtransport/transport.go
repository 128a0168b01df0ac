// Package webtransport provides hub transports over WebTransport sessions,
// which makes servers reachable from browsers. Reliable frames use one
// bidirectional stream opened by the client, unreliable ones datagrams.
package webtransport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/QYUbit/replica/pkg/transport/hub"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

const closeCode webtransport.SessionErrorCode = 0x100

var ErrAcceptorClosed = errors.New("webtransport acceptor is closed")

type Config struct {
	// Path is the URL path upgraded to WebTransport.
	Path string
	// StreamTimeout bounds the wait for a new session's control stream.
	StreamTimeout time.Duration
	// CheckOrigin is passed to the webtransport server. nil allows all.
	CheckOrigin func(r *http.Request) bool
}

var DefaultConfig = Config{
	Path:          "/replica",
	StreamTimeout: time.Second,
}

func (cfg Config) withDefaults() Config {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig.Path
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultConfig.StreamTimeout
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}
	return cfg
}

func newLink(session *webtransport.Session, stream *webtransport.Stream, remote string) *hub.StreamLink {
	l := hub.NewStreamLink(stream, session, remote)
	l.CloseFunc = func(reason string) error {
		stream.Close()
		return session.CloseWithError(closeCode, reason)
	}
	l.PeerReason = peerReason
	return l
}

func peerReason(err error) (string, bool) {
	var sessErr *webtransport.SessionError
	if errors.As(err, &sessErr) && sessErr.Remote && sessErr.ErrorCode == closeCode {
		return sessErr.Message, true
	}
	return "", false
}

// getAddress returns the peer's host:port, preferring a proxy's X-Real-IP.
func getAddress(r *http.Request) string {
	host, port, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if xRealIP := r.Header.Get("X-Real-IP"); xRealIP != "" {
		if ip := net.ParseIP(xRealIP); ip != nil {
			host = xRealIP
		}
	}
	return net.JoinHostPort(host, port)
}

// Acceptor upgrades requests and hands out a link per session.
type Acceptor struct {
	cfg    Config
	server *webtransport.Server
	links  chan hub.Link
	done   chan struct{}
	once   sync.Once
}

var _ http.Handler = (*Acceptor)(nil)

func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := a.server.Upgrade(w, r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.StreamTimeout)
	stream, err := session.AcceptStream(ctx)
	cancel()
	if err != nil {
		session.CloseWithError(closeCode, "no control stream")
		return
	}

	select {
	case a.links <- newLink(session, stream, getAddress(r)):
	case <-a.done:
		session.CloseWithError(closeCode, "server closed")
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

func (a *Acceptor) Addr() string { return a.server.H3.Addr }

func (a *Acceptor) Close() error {
	err := ErrAcceptorClosed
	a.once.Do(func() {
		close(a.done)
		err = a.server.Close()
	})
	return err
}

// NewServer returns a hub server serving WebTransport on addr.
func NewServer(addr string, tlsConf *tls.Config, cfg Config, scfg hub.ServerConfig) *hub.Server {
	cfg = cfg.withDefaults()
	return hub.NewServer(func(ctx context.Context) (hub.Acceptor, error) {
		mux := http.NewServeMux()
		srv := &webtransport.Server{
			H3: http3.Server{
				Addr:      addr,
				TLSConfig: http3.ConfigureTLSConfig(tlsConf),
				Handler:   mux,
			},
			CheckOrigin: cfg.CheckOrigin,
		}
		a := &Acceptor{
			cfg:    cfg,
			server: srv,
			links:  make(chan hub.Link, 16),
			done:   make(chan struct{}),
		}
		mux.Handle(cfg.Path, a)

		udp, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		srv.H3.Addr = udp.LocalAddr().String()
		go srv.Serve(udp)
		return a, nil
	}, scfg)
}

// NewClient returns a hub client dialing https URLs.
func NewClient(tlsConf *tls.Config, ccfg hub.ClientConfig) *hub.Client {
	d := &webtransport.Dialer{
		TLSClientConfig: tlsConf,
		QUICConfig:      &quic.Config{EnableDatagrams: true},
	}
	return hub.NewClient(func(ctx context.Context, url string) (hub.Link, error) {
		_, session, err := d.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		stream, err := session.OpenStreamSync(ctx)
		if err != nil {
			session.CloseWithError(closeCode, "no control stream")
			return nil, err
		}
		return newLink(session, stream, session.RemoteAddr().String()), nil
	}, ccfg)
}
