package replica

import (
	"io"
	"time"

	"github.com/QYUbit/replica/pkg/playback"
	"github.com/QYUbit/replica/pkg/transport"
)

// StartRecording logs every frame the client receives while connected to
// the file at path.
func (rt *Runtime) StartRecording(path string, opts playback.Options) error {
	if err := rt.canRecord(); err != nil {
		return err
	}
	rec, err := playback.Create(path, opts)
	if err != nil {
		rt.logger.Error("recording not started", "path", path, "error", err)
		return err
	}
	rt.recorder = rec
	rt.logger.Info("recording started", "path", path, "compressed", opts.Compress)
	return nil
}

// StartRecordingTo records into w. Closing w stays with the caller.
func (rt *Runtime) StartRecordingTo(w io.Writer) error {
	if err := rt.canRecord(); err != nil {
		return err
	}
	rt.recorder = playback.NewRecorder(w)
	rt.logger.Info("recording started")
	return nil
}

func (rt *Runtime) canRecord() error {
	switch {
	case rt.disposed:
		return ErrDisposed
	case rt.player != nil:
		return ErrPlaybackActive
	case rt.recorder != nil:
		return ErrRecordingActive
	}
	return nil
}

// StopRecording flushes and closes the log.
func (rt *Runtime) StopRecording() error {
	if rt.recorder == nil {
		return nil
	}
	rec := rt.recorder
	rt.recorder = nil
	err := rec.Close()
	rt.logger.Info("recording stopped", "frames", rec.Count(), "elapsed", rec.Elapsed())
	return err
}

// StartPlayback replays the log at path through the client's frame
// processors. The client must be started and disconnected.
func (rt *Runtime) StartPlayback(path string) error {
	if err := rt.canPlay(); err != nil {
		return err
	}
	p, err := playback.Load(path)
	if err != nil {
		rt.logger.Error("playback not started", "path", path, "error", err)
		return err
	}
	rt.play(p)
	return nil
}

// StartPlaybackFrom replays a log read from r.
func (rt *Runtime) StartPlaybackFrom(r io.Reader) error {
	if err := rt.canPlay(); err != nil {
		return err
	}
	p, err := playback.NewPlayer(r)
	if err != nil {
		return err
	}
	rt.play(p)
	return nil
}

func (rt *Runtime) canPlay() error {
	switch {
	case rt.disposed:
		return ErrDisposed
	case rt.recorder != nil:
		return ErrRecordingActive
	case rt.player != nil:
		return ErrPlaybackActive
	case rt.client == nil:
		return ErrNotClient
	case rt.server != nil:
		return ErrRoleActive
	case rt.client.status != transport.StatusDisconnected:
		return ErrAlreadyConnected
	}
	return nil
}

func (rt *Runtime) play(p *playback.Player) {
	rt.resetWorld(nil)
	rt.player = p
	rt.logger.Info("playback started", "frames", p.Remaining())
}

// StopPlayback ends playback early and drops every replayed entity.
func (rt *Runtime) StopPlayback() error {
	if rt.player == nil {
		return nil
	}
	rt.player = nil
	rt.resetWorld(nil)
	rt.logger.Info("playback stopped")
	return nil
}

// advancePlayback injects the frames due at the current clock. Playback
// stops by itself once the log is drained, leaving the replayed state in
// place.
func (rt *Runtime) advancePlayback(dt time.Duration) {
	c := rt.client
	p := rt.player
	p.Advance(dt, func(payload []byte) {
		c.traffic.received(len(payload))
		c.router.dispatch(0, payload)
	})
	if p.Done() {
		rt.player = nil
		rt.logger.Info("playback finished", "clock", p.Clock())
	}
}
