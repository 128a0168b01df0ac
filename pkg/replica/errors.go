package replica

import (
	"errors"
	"fmt"

	"github.com/QYUbit/replica/pkg/transport"
)

var (
	ErrDisposed          = errors.New("runtime is disposed")
	ErrAlreadyStarted    = errors.New("role has already started")
	ErrRoleActive        = errors.New("not allowed while a role is active")
	ErrNotServer         = errors.New("server is not running")
	ErrNotClient         = errors.New("client has not been started")
	ErrNotConnected      = errors.New("client is not connected")
	ErrAlreadyConnected  = errors.New("client is not disconnected")
	ErrNoAuthority       = errors.New("no authority over entity")
	ErrOutOfIDs          = errors.New("out of entity IDs")
	ErrIDInUse           = errors.New("entity ID is in use")
	ErrAlreadyRegistered = errors.New("entity is already registered")
	ErrNotRegistered     = errors.New("entity is not registered")
	ErrMissingSchema     = errors.New("component has no schema")
	ErrNoPrefab          = errors.New("entity is neither a prefab instance nor scene resident")
	ErrUnknownPrefab     = errors.New("unknown prefab")
	ErrDuplicatePrefab   = errors.New("prefab is already registered")
	ErrTooManyPrefabs    = errors.New("prefab ID space exhausted")
	ErrUnknownConn       = errors.New("unknown connection")
	ErrUnknownEntity     = errors.New("unknown entity")
	ErrUnknownBehavior   = errors.New("unknown behavior")
	ErrUnknownMethod     = errors.New("unknown method")
	ErrWrongDirection    = errors.New("method direction does not match")
	ErrReservedTag       = errors.New("message tag is reserved")
	ErrEmptyFrame        = errors.New("empty frame")
	ErrNoProcessor       = errors.New("no processor for message tag")
	ErrRecordingActive   = errors.New("recording is active")
	ErrPlaybackActive    = errors.New("playback is active")
)

// ProtocolError reports a malformed or unexpected frame. The frame is
// dropped and the connection kept.
type ProtocolError struct {
	Tag byte
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (tag %d): %v", e.Tag, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthorityError reports a command sent by a connection that does not own
// the target entity.
type AuthorityError struct {
	Entity uint16
	Method string
	Sender transport.ConnID
	Owner  transport.ConnID
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("command %s on entity %d from %s, owner is %s",
		e.Method, e.Entity, e.Sender.Hex(), e.Owner.Hex())
}

func (e *AuthorityError) Unwrap() error { return ErrNoAuthority }

// TransportError wraps a failure reported by the transport.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }
