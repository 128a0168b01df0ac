// Package hub turns message oriented network links into transport.Server
// and transport.Client implementations. Every connection runs a read, a
// datagram and a write pump; the owner consumes the results through one
// buffered event queue with Poll.
package hub

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/QYUbit/replica/pkg/transport"
	"github.com/google/uuid"
)

var (
	ErrNoDatagrams     = errors.New("hub: link does not support datagrams")
	ErrQueueFull       = errors.New("hub: send queue is full")
	ErrNotConnected    = errors.New("hub: not connected")
	ErrBadHandshake    = errors.New("hub: unexpected handshake frame")
	ErrHandshakeExpiry = errors.New("hub: handshake timed out")
)

// Link is one established network connection. ReadFrame and WriteFrame
// carry reliable, ordered frames. WriteFrame and SendDatagram are only
// called from one goroutine at a time, and so are the receive methods.
type Link interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(p []byte) error
	// Datagrams reports whether SendDatagram and ReceiveDatagram work.
	Datagrams() bool
	SendDatagram(p []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	RemoteAddr() string
	Close(reason string) error
}

// Acceptor yields incoming links until it is closed.
type Acceptor interface {
	Accept(ctx context.Context) (Link, error)
	Addr() string
	Close() error
}

// ListenFunc opens an Acceptor.
type ListenFunc func(ctx context.Context) (Acceptor, error)

// DialFunc establishes a Link to addr.
type DialFunc func(ctx context.Context, addr string) (Link, error)

// NewConnID derives a positive, non-zero connection ID from a random UUID.
func NewConnID() transport.ConnID {
	u := uuid.New()
	id := transport.ConnID(binary.LittleEndian.Uint64(u[:8]) &^ (1 << 63))
	if id == 0 {
		id = 1
	}
	return id
}
