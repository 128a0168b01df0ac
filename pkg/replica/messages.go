package replica

import (
	"math"

	"github.com/QYUbit/replica/pkg/wire"
)

// Leading byte of every frame. Tags below ReservedTags are handled by the
// runtime, the rest are handed to the custom data callbacks.
const (
	TagPing byte = iota
	TagSpawn
	TagDespawn
	TagDelta
	TagRemoteCall
	TagWorldSnapshot
	TagSetOwner
	ReservedTags
)

// Sequence channels used for the different frame families.
const (
	channelWorld  = 0
	channelDelta  = 1
	channelRemote = 24
	channelCustom = 31
)

// Payload modes of a delta frame.
const (
	modeDelta uint8 = 0
	modeFull  uint8 = 1
)

// Hail written by clients that are not the co-located host.
const remoteHostKey = -math.MaxFloat64

var tagNames = [ReservedTags]string{"ping", "spawn", "despawn", "delta", "remote-call", "world-snapshot", "set-owner"}

// TagName returns a readable name for internal tags.
func TagName(tag byte) string {
	if tag < ReservedTags {
		return tagNames[tag]
	}
	return "custom"
}

func newFrame(tag byte) *wire.Writer {
	w := wire.NewWriter(64)
	w.WriteUint8(tag)
	return w
}

// NewMessage starts a custom message. tag must be at least ReservedTags.
func NewMessage(tag byte) *wire.Writer {
	return newFrame(tag)
}

func checkCustom(msg *wire.Writer) error {
	b := msg.Bytes()
	if len(b) == 0 {
		return ErrEmptyFrame
	}
	if b[0] < ReservedTags {
		return ErrReservedTag
	}
	return nil
}
