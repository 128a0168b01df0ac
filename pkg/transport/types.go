// Package transport is the narrow boundary between the replication core and
// a datagram transport. Implementations own all blocking I/O; the core only
// polls them from its tick.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrClosed      = errors.New("transport is closed")
	ErrUnknownConn = errors.New("unknown connection")
	ErrNotPending  = errors.New("connection is not awaiting approval")
	ErrNotStarted  = errors.New("transport has not been started")
	ErrStarted     = errors.New("transport is already started")
)

// ConnID identifies one connection. 0 is never a valid connection.
type ConnID int64

// Hex formats the identity as four dash-separated 16-bit groups.
func (id ConnID) Hex() string {
	u := uint64(id)
	return fmt.Sprintf("%04X:%04X:%04X:%04X", u>>48&0xffff, u>>32&0xffff, u>>16&0xffff, u&0xffff)
}

// DeliveryMethod selects reliability and ordering of a send.
type DeliveryMethod uint8

const (
	Unreliable DeliveryMethod = iota
	UnreliableSequenced
	ReliableUnordered
	ReliableSequenced
	ReliableOrdered
)

func (d DeliveryMethod) Reliable() bool {
	return d >= ReliableUnordered
}

// Sequenced reports whether late arrivals are dropped rather than delivered.
func (d DeliveryMethod) Sequenced() bool {
	return d == UnreliableSequenced || d == ReliableSequenced
}

func (d DeliveryMethod) String() string {
	switch d {
	case Unreliable:
		return "unreliable"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableSequenced:
		return "reliable-sequenced"
	case ReliableOrdered:
		return "reliable-ordered"
	}
	return fmt.Sprintf("delivery(%d)", uint8(d))
}

// Status is the lifecycle state of a connection.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

type EventKind uint8

const (
	// EventStatus reports a status transition of Conn.
	EventStatus EventKind = iota
	// EventApproval asks the server to approve or deny Conn. Data holds the
	// hail payload sent by the client.
	EventApproval
	// EventData carries one inbound frame.
	EventData
	// EventError reports a transport level failure in Err.
	EventError
)

type Event struct {
	Kind       EventKind
	Conn       ConnID
	Status     Status
	Reason     string
	Data       []byte
	RemoteAddr string
	Err        error
}

// Peer is the part shared by both ends of a connection.
type Peer interface {
	// Poll returns the next pending event without blocking.
	Poll() (Event, bool)
	Send(conn ConnID, data []byte, method DeliveryMethod, channel int) error
	Disconnect(conn ConnID, reason string) error
	// RTT returns the latest round-trip estimate, or 0 when unknown.
	RTT(conn ConnID) time.Duration
	Close() error
}

// Server accepts connections. Every new connection is reported with an
// EventApproval and stays pending until Approve or Deny is called.
type Server interface {
	Peer
	Listen(ctx context.Context) error
	Approve(conn ConnID) error
	Deny(conn ConnID, reason string) error
	Addr() string
}

// Client holds at most one connection to a server.
type Client interface {
	Peer
	// Dial starts connecting and returns without waiting for the handshake.
	Dial(ctx context.Context, addr string, hail []byte) error
	// LocalID is the identity the server assigned to this client, or 0
	// before approval.
	LocalID() ConnID
}
