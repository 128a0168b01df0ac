package hub

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// MaxFrameSize bounds a single frame read from a byte stream.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("hub: frame exceeds MaxFrameSize")

// Stream is a reliable byte stream whose reads can be interrupted.
type Stream interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// Datagrammer sends and receives unreliable messages next to a Stream.
type Datagrammer interface {
	SendDatagram(p []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
}

// StreamLink carries frames over a Stream with uvarint length prefixes.
type StreamLink struct {
	stream Stream
	r      *bufio.Reader
	dg     Datagrammer
	remote string

	// CloseFunc closes the underlying connection.
	CloseFunc func(reason string) error
	// PeerReason extracts the reason from an error that reports a
	// close initiated by the peer.
	PeerReason func(err error) (string, bool)
}

var _ Link = (*StreamLink)(nil)

// NewStreamLink wraps stream. dg may be nil when the connection has no
// datagram support.
func NewStreamLink(stream Stream, dg Datagrammer, remote string) *StreamLink {
	return &StreamLink{
		stream: stream,
		r:      bufio.NewReader(stream),
		dg:     dg,
		remote: remote,
	}
}

func (l *StreamLink) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { l.stream.SetReadDeadline(time.Now()) })
	defer stop()

	p, err := l.readFrame()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if l.PeerReason != nil {
			if reason, ok := l.PeerReason(err); ok {
				return closeFrame(reason), nil
			}
		}
		return nil, err
	}
	return p, nil
}

func (l *StreamLink) readFrame() ([]byte, error) {
	n, err := binary.ReadUvarint(l.r)
	if err != nil {
		return nil, err
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(l.r, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (l *StreamLink) WriteFrame(p []byte) error {
	if len(p) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := binary.AppendUvarint(make([]byte, 0, len(p)+binary.MaxVarintLen32), uint64(len(p)))
	_, err := l.stream.Write(append(buf, p...))
	return err
}

func (l *StreamLink) Datagrams() bool { return l.dg != nil }

func (l *StreamLink) SendDatagram(p []byte) error {
	if l.dg == nil {
		return ErrNoDatagrams
	}
	return l.dg.SendDatagram(p)
}

func (l *StreamLink) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	if l.dg == nil {
		return nil, ErrNoDatagrams
	}
	return l.dg.ReceiveDatagram(ctx)
}

func (l *StreamLink) RemoteAddr() string { return l.remote }

func (l *StreamLink) Close(reason string) error {
	if l.CloseFunc == nil {
		if c, ok := l.stream.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}
	return l.CloseFunc(reason)
}
