package replica

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/QYUbit/replica/pkg/playback"
)

type frameTrace struct {
	count  int
	hp     int32
	shouts int
}

func traceOf(rt *Runtime) frameTrace {
	tr := frameTrace{count: rt.Registry().Count()}
	if e, ok := rt.Entity(1); ok {
		m, _ := ComponentOf[*mover](e)
		tr.hp = m.HP
		tr.shouts = len(m.shouts)
	}
	return tr
}

// TestRecordThenReplay tests that a replayed log reproduces the live
// client's state tick by tick
func TestRecordThenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.rec")
	s := newSession(t)
	live := s.join(Config{})
	if err := live.StartRecording(path, playback.Options{Compress: true}); err != nil {
		t.Fatal(err)
	}

	srv := s.server.Server()
	var liveTrace []frameTrace
	run := func(n int) {
		for range n {
			s.pump(1)
			liveTrace = append(liveTrace, traceOf(live))
		}
	}

	run(2)
	e, _ := srv.SpawnPrefab(moverPref, 0)
	m, _ := ComponentOf[*mover](e)
	run(3)
	for i := range 5 {
		m.HP = int32(10 * i)
		if i%2 == 0 {
			b, _ := e.Behavior(0)
			b.InvokeObserver("shout", "tick")
		}
		run(1)
	}
	srv.SpawnPrefab(moverPref, 0)
	run(2)
	srv.Despawn(e)
	run(2)

	if err := live.StopRecording(); err != nil {
		t.Fatal(err)
	}

	replay := newRuntime(t, Config{})
	if _, err := replay.StartClient(s.net.NewClient(), ClientCallbacks{}); err != nil {
		t.Fatal(err)
	}
	if err := replay.StartRecording(filepath.Join(t.TempDir(), "x.rec"), playback.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := replay.StartPlayback(path); !errors.Is(err, ErrRecordingActive) {
		t.Fatalf("playback while recording: %v", err)
	}
	replay.StopRecording()

	if err := replay.StartPlayback(path); err != nil {
		t.Fatal(err)
	}
	if !replay.IsClient() || !replay.IsPlayback() {
		t.Fatal("playback did not start")
	}
	var replayTrace []frameTrace
	for range liveTrace {
		if err := replay.Update(step); err != nil {
			t.Fatal(err)
		}
		replayTrace = append(replayTrace, traceOf(replay))
	}

	if !slices.Equal(liveTrace, replayTrace) {
		t.Errorf("replay diverged\nlive   %v\nreplay %v", liveTrace, replayTrace)
	}
	if replay.IsPlayback() {
		t.Error("playback did not stop after the log drained")
	}
}

// TestPlaybackNeedsIdleClient tests the playback preconditions
func TestPlaybackNeedsIdleClient(t *testing.T) {
	s := newSession(t)
	if err := s.server.StartPlayback("missing.rec"); !errors.Is(err, ErrNotClient) {
		t.Errorf("server playback: %v", err)
	}
	client := s.join(Config{})
	if err := client.StartPlayback("missing.rec"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("connected playback: %v", err)
	}
}
