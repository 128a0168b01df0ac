package playback

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRecordLayout tests the on-disk layout of a single record
func TestRecordLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRecord(&buf, 0.5, []byte{0xaa, 0xbb}); err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x00, 0x00, 0x00, 0x3f, // 0.5
		0x10, 0x00, 0x00, 0x00, // 16 bits
		0xaa, 0xbb,
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("got % x, want % x", buf.Bytes(), want)
	}
}

// TestReplayFollowsRecordedTime tests that frames are injected on the tick they were captured
func TestReplayFollowsRecordedTime(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	dt := 50 * time.Millisecond

	// tick 0: two frames, tick 1: none, tick 2: one frame
	rec.Log([]byte{1})
	rec.Log([]byte{2})
	rec.Advance(dt)
	rec.Advance(dt)
	rec.Log([]byte{3})
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	p, err := NewPlayer(&buf)
	if err != nil {
		t.Fatal(err)
	}

	var got [][]byte
	perTick := []int{}
	for !p.Done() {
		n := p.Advance(dt, func(b []byte) { got = append(got, b) })
		perTick = append(perTick, n)
	}

	if len(perTick) != 3 || perTick[0] != 2 || perTick[1] != 0 || perTick[2] != 1 {
		t.Errorf("injections per tick = %v", perTick)
	}
	if len(got) != 3 || got[0][0] != 1 || got[1][0] != 2 || got[2][0] != 3 {
		t.Errorf("payloads = %v", got)
	}
}

// TestCreateRefusesExistingFile tests the overwrite guard
func TestCreateRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rec")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Create(path, Options{}); !errors.Is(err, ErrFileExists) {
		t.Fatalf("got %v, want ErrFileExists", err)
	}
	r, err := Create(path, Options{DeleteExisting: true})
	if err != nil {
		t.Fatal(err)
	}
	r.Close()
}

// TestCompressedFileRoundTrip tests that lz4 logs are detected on load
func TestCompressedFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rec")
	r, err := Create(path, Options{Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte("delta"), 100)
	for range 10 {
		if err := r.Log(payload); err != nil {
			t.Fatal(err)
		}
		r.Advance(time.Second / 30)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Log(payload); !errors.Is(err, ErrClosed) {
		t.Errorf("log after close: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if !bytes.HasPrefix(raw, lz4Magic) {
		t.Fatal("file is not lz4 framed")
	}

	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Remaining() != 10 {
		t.Fatalf("loaded %d records", p.Remaining())
	}
	p.Advance(0, func(b []byte) {
		if !bytes.Equal(b, payload) {
			t.Error("payload mismatch")
		}
	})
}

// TestTruncatedLogIsCorrupt tests detection of a cut-off payload
func TestTruncatedLogIsCorrupt(t *testing.T) {
	var buf bytes.Buffer
	WriteRecord(&buf, 0, []byte{1, 2, 3})
	data := buf.Bytes()[:buf.Len()-1]
	if _, err := ReadRecords(bytes.NewReader(data)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("got %v", err)
	}
}
