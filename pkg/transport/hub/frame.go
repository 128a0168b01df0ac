package hub

import (
	"fmt"

	"github.com/QYUbit/replica/pkg/wire"
)

// Frames on the reliable stream.
const (
	frameHail byte = iota
	frameAccept
	frameData
	framePing
	framePong
	frameClose
)

// Datagram kinds.
const (
	datagramUnreliable byte = iota
	datagramSequenced
)

func controlFrame(kind byte, payload []byte) []byte {
	w := wire.NewWriter(1 + len(payload))
	w.WriteUint8(kind)
	w.WriteBytes(payload)
	return w.Bytes()
}

func acceptFrame(id int64) []byte {
	w := wire.NewWriter(9)
	w.WriteUint8(frameAccept)
	w.WriteInt64(id)
	return w.Bytes()
}

func timeFrame(kind byte, t int64) []byte {
	w := wire.NewWriter(9)
	w.WriteUint8(kind)
	w.WriteInt64(t)
	return w.Bytes()
}

func closeFrame(reason string) []byte {
	w := wire.NewWriter(2 + len(reason))
	w.WriteUint8(frameClose)
	w.WriteString(reason)
	return w.Bytes()
}

// CloseFrame encodes the frame a peer sends before closing. Links that
// learn the peer's reason out of band return it from ReadFrame.
func CloseFrame(reason string) []byte { return closeFrame(reason) }

func unreliableDatagram(payload []byte) []byte {
	w := wire.NewWriter(1 + len(payload))
	w.WriteUint8(datagramUnreliable)
	w.WriteBytes(payload)
	return w.Bytes()
}

func sequencedDatagram(channel uint8, seq uint16, payload []byte) []byte {
	w := wire.NewWriter(4 + len(payload))
	w.WriteUint8(datagramSequenced)
	w.WriteUint8(channel)
	w.WriteUint16(seq)
	w.WriteBytes(payload)
	return w.Bytes()
}

func splitFrame(p []byte) (byte, *wire.Reader, error) {
	if len(p) == 0 {
		return 0, nil, fmt.Errorf("hub: empty frame")
	}
	return p[0], wire.NewReader(p[1:]), nil
}

// newer reports whether seq follows last in wrapping 16-bit order.
func newer(seq, last uint16) bool {
	return int16(seq-last) > 0
}
