package quic

import (
	"context"
	"errors"
	"time"

	"github.com/QYUbit/replica/pkg/transport/hub"
	"github.com/quic-go/quic-go"
)

const closeCode quic.ApplicationErrorCode = 0x100

// newLink turns a QUIC connection and its control stream into a hub link.
// Reliable frames use the stream, unreliable ones datagrams.
func newLink(conn *quic.Conn, stream *quic.Stream, datagrams bool) *hub.StreamLink {
	var dg hub.Datagrammer
	if datagrams {
		dg = conn
	}
	l := hub.NewStreamLink(stream, dg, conn.RemoteAddr().String())
	l.CloseFunc = func(reason string) error {
		stream.Close()
		return conn.CloseWithError(closeCode, reason)
	}
	l.PeerReason = peerReason
	return l
}

func peerReason(err error) (string, bool) {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == closeCode {
		return appErr.ErrorMessage, true
	}
	return "", false
}

type acceptor struct {
	listener  *quic.Listener
	timeout   time.Duration
	datagrams bool
}

func (a *acceptor) Accept(ctx context.Context) (hub.Link, error) {
	for {
		conn, err := a.listener.Accept(ctx)
		if err != nil {
			return nil, err
		}

		sctx, cancel := context.WithTimeout(ctx, a.timeout)
		stream, err := conn.AcceptStream(sctx)
		cancel()
		if err != nil {
			// A peer that never opens its control stream is not an
			// acceptor failure.
			conn.CloseWithError(closeCode, "no control stream")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return newLink(conn, stream, a.datagrams), nil
	}
}

func (a *acceptor) Addr() string { return a.listener.Addr().String() }

func (a *acceptor) Close() error { return a.listener.Close() }
