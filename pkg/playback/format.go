// Package playback records inbound frames to a log file and replays them
// on a virtual clock.
//
// A log is a sequence of records:
//
//	elapsed_seconds f32 | bit_length i32 | payload [ceil(bit_length/8)]byte
//
// all little-endian. A log may be wrapped in an lz4 frame, which Load
// detects by its magic number.
package playback

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrFileExists = errors.New("recording file already exists")
	ErrClosed     = errors.New("recorder is closed")
	ErrCorrupt    = errors.New("corrupt recording")
)

var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

// Record is one captured frame.
type Record struct {
	Elapsed float32
	Bits    int32
	Payload []byte
}

// WriteRecord encodes one record. The bit length is derived from the
// payload length.
func WriteRecord(w io.Writer, elapsed float32, payload []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], math.Float32bits(elapsed))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)*8))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadRecords decodes every record of a plain log.
func ReadRecords(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	var out []Record
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("%w: record %d header: %v", ErrCorrupt, len(out), err)
		}
		rec := Record{
			Elapsed: math.Float32frombits(binary.LittleEndian.Uint32(hdr[0:4])),
			Bits:    int32(binary.LittleEndian.Uint32(hdr[4:8])),
		}
		if rec.Bits < 0 {
			return out, fmt.Errorf("%w: record %d has %d bits", ErrCorrupt, len(out), rec.Bits)
		}
		rec.Payload = make([]byte, (int(rec.Bits)+7)/8)
		if _, err := io.ReadFull(br, rec.Payload); err != nil {
			return out, fmt.Errorf("%w: record %d payload: %v", ErrCorrupt, len(out), err)
		}
		out = append(out, rec)
	}
}

// decode reads a log that may be lz4 compressed.
func decode(data []byte) ([]Record, error) {
	if bytes.HasPrefix(data, lz4Magic) {
		return ReadRecords(lz4.NewReader(bytes.NewReader(data)))
	}
	return ReadRecords(bytes.NewReader(data))
}
