package playback

import (
	"bufio"
	"errors"
	"io"
	"os"
	"time"

	"github.com/pierrec/lz4/v4"
)

type Options struct {
	// DeleteExisting replaces a file already present at the path.
	DeleteExisting bool
	// Compress wraps the log in an lz4 frame.
	Compress bool
}

// Recorder appends inbound frames to a log. Time only moves through
// Advance, so a recording is independent of wall-clock jitter.
type Recorder struct {
	file    *os.File
	buf     *bufio.Writer
	zw      *lz4.Writer
	out     io.Writer
	elapsed time.Duration
	count   int
	closed  bool
}

// Create opens a new log file at path.
func Create(path string, opts Options) (*Recorder, error) {
	if _, err := os.Stat(path); err == nil {
		if !opts.DeleteExisting {
			return nil, ErrFileExists
		}
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	r := &Recorder{file: f, buf: bufio.NewWriter(f)}
	r.out = r.buf
	if opts.Compress {
		r.zw = lz4.NewWriter(r.buf)
		r.out = r.zw
	}
	return r, nil
}

// NewRecorder records into w without compression.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{buf: bufio.NewWriter(w)}
	r.out = r.buf
	return r
}

// Advance moves the recording clock forward.
func (r *Recorder) Advance(dt time.Duration) { r.elapsed += dt }

func (r *Recorder) Elapsed() time.Duration { return r.elapsed }

// Count returns the number of records written.
func (r *Recorder) Count() int { return r.count }

// Log appends payload stamped with the current recording time.
func (r *Recorder) Log(payload []byte) error {
	if r.closed {
		return ErrClosed
	}
	if err := WriteRecord(r.out, float32(r.elapsed.Seconds()), payload); err != nil {
		return err
	}
	r.count++
	return nil
}

// Close flushes the log and closes the file it was created with.
func (r *Recorder) Close() error {
	if r.closed {
		return ErrClosed
	}
	r.closed = true

	var errs []error
	if r.zw != nil {
		errs = append(errs, r.zw.Close())
	}
	errs = append(errs, r.buf.Flush())
	if r.file != nil {
		errs = append(errs, r.file.Close())
	}
	return errors.Join(errs...)
}
