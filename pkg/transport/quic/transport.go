// Package quic provides hub transports over quic-go connections. Each
// connection opens one bidirectional control stream for reliable frames
// and uses QUIC datagrams for unreliable delivery.
package quic

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/QYUbit/replica/pkg/transport/hub"
	"github.com/quic-go/quic-go"
)

type Config struct {
	// QUIC is passed to quic-go. EnableDatagrams is forced on.
	QUIC *quic.Config
	// StreamTimeout bounds the wait for a new connection's control stream.
	StreamTimeout time.Duration
}

var DefaultConfig = Config{
	QUIC: &quic.Config{
		MaxIdleTimeout:  10 * time.Second,
		KeepAlivePeriod: 2 * time.Second,
	},
	StreamTimeout: time.Second,
}

func (cfg Config) quicConfig() *quic.Config {
	var qc quic.Config
	if cfg.QUIC != nil {
		qc = *cfg.QUIC.Clone()
	}
	qc.EnableDatagrams = true
	return &qc
}

// NewServer returns a hub server listening on addr.
func NewServer(addr string, tlsConf *tls.Config, cfg Config, scfg hub.ServerConfig) *hub.Server {
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultConfig.StreamTimeout
	}
	qc := cfg.quicConfig()
	return hub.NewServer(func(ctx context.Context) (hub.Acceptor, error) {
		l, err := quic.ListenAddr(addr, tlsConf, qc)
		if err != nil {
			return nil, err
		}
		return &acceptor{listener: l, timeout: cfg.StreamTimeout, datagrams: true}, nil
	}, scfg)
}

// NewClient returns a hub client dialing QUIC addresses.
func NewClient(tlsConf *tls.Config, cfg Config, ccfg hub.ClientConfig) *hub.Client {
	qc := cfg.quicConfig()
	return hub.NewClient(func(ctx context.Context, addr string) (hub.Link, error) {
		conn, err := quic.DialAddr(ctx, addr, tlsConf, qc)
		if err != nil {
			return nil, err
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			conn.CloseWithError(closeCode, "no control stream")
			return nil, err
		}
		return newLink(conn, stream, true), nil
	}, ccfg)
}
