package playback

import (
	"io"
	"os"
	"time"
)

// Player replays a loaded log on a virtual clock.
type Player struct {
	queue []Record
	next  int
	clock time.Duration
}

// Load reads a whole log file into memory.
func Load(path string) (*Player, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	recs, err := decode(data)
	if err != nil {
		return nil, err
	}
	return &Player{queue: recs}, nil
}

// NewPlayer reads a log from r.
func NewPlayer(r io.Reader) (*Player, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	recs, err := decode(data)
	if err != nil {
		return nil, err
	}
	return &Player{queue: recs}, nil
}

// Advance hands every record whose time has been reached to inject, then
// moves the clock forward by dt. It returns the number of injected records.
func (p *Player) Advance(dt time.Duration, inject func(payload []byte)) int {
	now := float32(p.clock.Seconds())
	n := 0
	for p.next < len(p.queue) && p.queue[p.next].Elapsed <= now {
		rec := p.queue[p.next]
		p.next++
		n++
		inject(rec.Payload)
	}
	p.clock += dt
	return n
}

// Done reports whether every record was injected.
func (p *Player) Done() bool { return p.next >= len(p.queue) }

func (p *Player) Remaining() int { return len(p.queue) - p.next }

func (p *Player) Clock() time.Duration { return p.clock }
