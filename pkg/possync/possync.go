// Package possync replicates a 2D position and optional rotation at a
// fixed rate and interpolates between received states on clients.
package possync

import (
	"time"

	"github.com/QYUbit/replica/pkg/replica"
	"github.com/QYUbit/replica/pkg/schema"
	"github.com/QYUbit/replica/pkg/transport"
	"github.com/QYUbit/replica/pkg/wire"
)

// DefaultSendRate is the send rate in Hz used when SendRate is negative.
const DefaultSendRate = 10

// PositionSync is a component. The server moves Position and Angle, clients
// render them. SyncRotation and SendRate must match on every peer.
type PositionSync struct {
	Position     wire.Vec2
	Angle        float32
	SyncRotation bool
	// SendRate is how often per second a moved position is sent. Zero sends
	// on every tick and disables interpolation.
	SendRate float32
	// Curve shapes the interpolation. Nil uses DefaultCurve.
	Curve Curve

	lastSentPos   wire.Vec2
	lastSentAngle float32
	sendTimer     time.Duration

	oldPos, newPos wire.Vec2
	oldRot, newRot float32
	sinceReceived  time.Duration
}

var class = schema.Define("possync", func(*schema.Def[PositionSync]) {})

// New returns a component sending at rate Hz.
func New(rate float32, syncRotation bool) *PositionSync {
	return &PositionSync{SendRate: rate, SyncRotation: syncRotation}
}

func (p *PositionSync) NetClass() *schema.Class { return class }

// Delivery implements replica.Deliverer. Every sweep carries the full
// position, so a lost or late one is simply superseded.
func (p *PositionSync) Delivery() transport.DeliveryMethod { return transport.UnreliableSequenced }

func (p *PositionSync) interval() time.Duration {
	rate := p.SendRate
	if rate < 0 {
		rate = DefaultSendRate
	}
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(rate))
}

// NetUpdate implements replica.Ticker.
func (p *PositionSync) NetUpdate(b *replica.Behavior, dt time.Duration) {
	rt := b.Entity().Runtime()
	if rt == nil {
		return
	}
	if rt.IsServer() {
		p.serverUpdate(b, dt)
		return
	}
	if rt.IsClient() {
		p.clientUpdate(dt)
	}
}

func (p *PositionSync) serverUpdate(b *replica.Behavior, dt time.Duration) {
	p.sendTimer += dt
	if p.sendTimer < p.interval() {
		return
	}
	p.sendTimer = 0
	if p.Position != p.lastSentPos || (p.SyncRotation && p.Angle != p.lastSentAngle) {
		b.MarkDirty()
	}
}

func (p *PositionSync) clientUpdate(dt time.Duration) {
	p.sinceReceived += dt
	iv := p.interval()
	if iv == 0 {
		p.Position = p.newPos
		if p.SyncRotation {
			p.Angle = p.newRot
		}
		return
	}

	curve := p.Curve
	if curve == nil {
		curve = DefaultCurve
	}
	x := curve.Evaluate(float32(p.sinceReceived) / float32(iv))
	p.Position = p.oldPos.Lerp(p.newPos, x)
	if p.SyncRotation {
		p.Angle = LerpAngle(p.oldRot, p.newRot, x)
	}
}

// SerializeExtra implements replica.CustomSerializer. Only sweeps reach
// every peer, so snapshots leave the last sent state alone.
func (p *PositionSync) SerializeExtra(w *wire.Writer, first bool) {
	w.WriteVec2(p.Position)
	if p.SyncRotation {
		w.WriteFloat32(p.Angle)
	}
	if !first {
		p.lastSentPos = p.Position
		p.lastSentAngle = p.Angle
	}
}

// DeserializeExtra implements replica.CustomSerializer. The first state
// is applied without interpolation.
func (p *PositionSync) DeserializeExtra(r *wire.Reader, first bool) error {
	pos, err := r.ReadVec2()
	if err != nil {
		return err
	}
	p.oldPos, p.newPos = p.Position, pos
	if p.SyncRotation {
		angle, err := r.ReadFloat32()
		if err != nil {
			return err
		}
		p.oldRot, p.newRot = p.Angle, angle
	}
	if first {
		p.oldPos, p.Position = pos, pos
		if p.SyncRotation {
			p.oldRot, p.Angle = p.newRot, p.newRot
		}
	}
	p.sinceReceived = 0
	return nil
}
