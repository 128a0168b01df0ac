package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/replica/pkg/rlog"
	"github.com/QYUbit/replica/pkg/transport"
)

// MaxChannels is the number of independent sequence channels per connection.
const MaxChannels = 256

type owner interface {
	emit(ev transport.Event)
	dropped(c *conn, reason string)
}

type sendKind uint8

const (
	sendFrame sendKind = iota
	sendUnreliable
	sendSequenced
)

type outgoing struct {
	kind    sendKind
	payload []byte
	channel uint8
	seq     uint16
	// close shuts the connection down once payload is written.
	close  bool
	reason string
}

type conn struct {
	id     transport.ConnID
	link   Link
	owner  owner
	logger rlog.Logger
	send   chan outgoing
	ping   time.Duration
	epoch  time.Time
	rtt    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	seqOut [MaxChannels]uint16
	wmu    sync.Mutex

	seqIn  [MaxChannels]uint16
	seenIn [MaxChannels]bool

	closed    atomic.Bool
	closeOnce sync.Once
}

func newConn(ctx context.Context, id transport.ConnID, link Link, o owner, logger rlog.Logger, queue int, ping time.Duration) *conn {
	ctx, cancel := context.WithCancel(ctx)
	return &conn{
		id:     id,
		link:   link,
		owner:  o,
		logger: logger,
		send:   make(chan outgoing, queue),
		ping:   ping,
		epoch:  time.Now(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *conn) start() {
	go c.readPump()
	if c.link.Datagrams() {
		go c.datagramPump()
	}
	go c.writePump()
}

func (c *conn) RTT() time.Duration { return time.Duration(c.rtt.Load()) }

func (c *conn) enqueue(msg outgoing) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// queueData picks the framing for method. Unreliable data rides the
// reliable stream when the link has no datagrams.
func (c *conn) queueData(data []byte, method transport.DeliveryMethod, channel int) error {
	if method.Reliable() || !c.link.Datagrams() {
		return c.enqueue(outgoing{kind: sendFrame, payload: controlFrame(frameData, data)})
	}
	if !method.Sequenced() {
		return c.enqueue(outgoing{kind: sendUnreliable, payload: data})
	}
	if channel < 0 || channel >= MaxChannels {
		return fmt.Errorf("hub: channel %d out of range", channel)
	}
	c.mu.Lock()
	c.seqOut[channel]++
	seq := c.seqOut[channel]
	c.mu.Unlock()
	return c.enqueue(outgoing{kind: sendSequenced, payload: data, channel: uint8(channel), seq: seq})
}

// closeWith sends a close frame and shuts down after it was written.
func (c *conn) closeWith(reason string) {
	if err := c.enqueue(outgoing{kind: sendFrame, payload: closeFrame(reason), close: true, reason: reason}); err != nil {
		go c.shutdown(reason)
	}
}

// shutdown tears the connection down and tells the owner, once.
func (c *conn) shutdown(reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.link.Close(reason)
		c.owner.dropped(c, reason)
	})
}

// abort closes the link without telling the owner. It is used before the
// pumps run.
func (c *conn) abort(reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.writeFrame(closeFrame(reason))
		c.link.Close(reason)
	})
}

// ============================================================================
// Pumps
// ============================================================================

func (c *conn) readPump() {
	reason := "connection lost"
	defer func() { c.shutdown(reason) }()

	for {
		p, err := c.link.ReadFrame(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("read failed", "conn", c.id.Hex(), "error", err)
			}
			return
		}
		kind, r, err := splitFrame(p)
		if err != nil {
			continue
		}

		switch kind {
		case frameData:
			c.owner.emit(transport.Event{Kind: transport.EventData, Conn: c.id, Data: r.Rest()})
		case framePing:
			if t, err := r.ReadInt64(); err == nil {
				c.enqueue(outgoing{kind: sendFrame, payload: timeFrame(framePong, t)})
			}
		case framePong:
			t, err := r.ReadInt64()
			if err != nil {
				continue
			}
			if rtt := time.Since(c.epoch) - time.Duration(t); rtt >= 0 {
				c.rtt.Store(int64(rtt))
			}
		case frameClose:
			reason = "closed by peer"
			if s, err := r.ReadString(); err == nil && s != "" {
				reason = s
			}
			return
		default:
			c.logger.Debug("unexpected frame", "conn", c.id.Hex(), "kind", kind)
		}
	}
}

func (c *conn) datagramPump() {
	for {
		p, err := c.link.ReceiveDatagram(c.ctx)
		if err != nil {
			return
		}
		kind, r, err := splitFrame(p)
		if err != nil {
			continue
		}

		switch kind {
		case datagramUnreliable:
			c.owner.emit(transport.Event{Kind: transport.EventData, Conn: c.id, Data: r.Rest()})
		case datagramSequenced:
			ch, err := r.ReadUint8()
			if err != nil {
				continue
			}
			seq, err := r.ReadUint16()
			if err != nil {
				continue
			}
			if c.seenIn[ch] && !newer(seq, c.seqIn[ch]) {
				continue
			}
			c.seenIn[ch] = true
			c.seqIn[ch] = seq
			c.owner.emit(transport.Event{Kind: transport.EventData, Conn: c.id, Data: r.Rest()})
		}
	}
}

func (c *conn) writePump() {
	defer func() {
		if err := recover(); err != nil {
			c.logger.Error("write pump panicked", "conn", c.id.Hex(), "error", err)
			c.shutdown("internal error")
		}
	}()

	var tick <-chan time.Time
	if c.ping > 0 {
		t := time.NewTicker(c.ping)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-tick:
			if err := c.writeFrame(timeFrame(framePing, int64(time.Since(c.epoch)))); err != nil {
				c.shutdown("write failed")
				return
			}

		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.logger.Debug("write failed", "conn", c.id.Hex(), "error", err)
				c.shutdown("write failed")
				return
			}
			if msg.close {
				c.shutdown(msg.reason)
				return
			}
		}
	}
}

func (c *conn) writeFrame(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.link.WriteFrame(p)
}

func (c *conn) write(msg outgoing) error {
	var dg []byte
	switch msg.kind {
	case sendFrame:
		return c.writeFrame(msg.payload)
	case sendUnreliable:
		dg = unreliableDatagram(msg.payload)
	case sendSequenced:
		dg = sequencedDatagram(msg.channel, msg.seq, msg.payload)
	}
	c.wmu.Lock()
	err := c.link.SendDatagram(dg)
	c.wmu.Unlock()
	if err != nil {
		// Oversized datagrams fall back to the stream.
		c.logger.Debug("datagram not sent, using stream", "conn", c.id.Hex(), "error", err)
		return c.writeFrame(controlFrame(frameData, msg.payload))
	}
	return nil
}
