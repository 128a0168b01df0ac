package replica

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	frames  metric.Int64Counter
	bytes   metric.Int64Counter
	dropped metric.Int64Counter
}

func newMetrics(m metric.Meter) *metrics {
	if m == nil {
		m = noop.NewMeterProvider().Meter("replica")
	}
	return &metrics{
		frames:  counter(m, "replica.frames", "Frames sent and received", "{frame}"),
		bytes:   counter(m, "replica.bytes", "Frame bytes sent and received", "By"),
		dropped: counter(m, "replica.frames.dropped", "Inbound frames dropped by the runtime", "{frame}"),
	}
}

func counter(m metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (m *metrics) drop() {
	m.dropped.Add(context.Background(), 1)
}

// Stats summarises the traffic of one role over the last full second.
type Stats struct {
	FramesIn  int
	FramesOut int
	BytesIn   int
	BytesOut  int
}

type traffic struct {
	m      *metrics
	in     metric.AddOption
	out    metric.AddOption
	cur    Stats
	last   Stats
	window time.Duration
}

func newTraffic(m *metrics, role string) *traffic {
	return &traffic{
		m:   m,
		in:  metric.WithAttributeSet(attribute.NewSet(attribute.String("role", role), attribute.String("direction", "in"))),
		out: metric.WithAttributeSet(attribute.NewSet(attribute.String("role", role), attribute.String("direction", "out"))),
	}
}

func (t *traffic) received(n int) {
	t.cur.FramesIn++
	t.cur.BytesIn += n
	ctx := context.Background()
	t.m.frames.Add(ctx, 1, t.in)
	t.m.bytes.Add(ctx, int64(n), t.in)
}

func (t *traffic) sent(n int) {
	t.cur.FramesOut++
	t.cur.BytesOut += n
	ctx := context.Background()
	t.m.frames.Add(ctx, 1, t.out)
	t.m.bytes.Add(ctx, int64(n), t.out)
}

func (t *traffic) advance(dt time.Duration) {
	t.window += dt
	if t.window >= time.Second {
		t.last = t.cur
		t.cur = Stats{}
		t.window = 0
	}
}
