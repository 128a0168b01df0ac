package hub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/QYUbit/replica/pkg/transport"
)

type pipeLink struct {
	in, out    chan []byte
	done, peer chan struct{}
	once       *sync.Once
	remote     string
}

func newPipe() (*pipeLink, *pipeLink) {
	ab, ba := make(chan []byte, 64), make(chan []byte, 64)
	da, db := make(chan struct{}), make(chan struct{})
	a := &pipeLink{in: ba, out: ab, done: da, peer: db, once: new(sync.Once), remote: "pipe:b"}
	b := &pipeLink{in: ab, out: ba, done: db, peer: da, once: new(sync.Once), remote: "pipe:a"}
	return a, b
}

func (l *pipeLink) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case p := <-l.in:
		return p, nil
	default:
	}
	select {
	case p := <-l.in:
		return p, nil
	case <-l.done:
		return nil, io.ErrClosedPipe
	case <-l.peer:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *pipeLink) WriteFrame(p []byte) error {
	select {
	case <-l.done:
		return io.ErrClosedPipe
	case <-l.peer:
		return io.ErrClosedPipe
	default:
	}
	l.out <- append([]byte(nil), p...)
	return nil
}

func (l *pipeLink) Datagrams() bool                                { return false }
func (l *pipeLink) SendDatagram([]byte) error                      { return ErrNoDatagrams }
func (l *pipeLink) ReceiveDatagram(context.Context) ([]byte, error) { return nil, ErrNoDatagrams }
func (l *pipeLink) RemoteAddr() string                             { return l.remote }

func (l *pipeLink) Close(string) error {
	l.once.Do(func() { close(l.done) })
	return nil
}

type pipeAcceptor struct {
	links chan Link
	done  chan struct{}
}

func (a *pipeAcceptor) Accept(ctx context.Context) (Link, error) {
	select {
	case l := <-a.links:
		return l, nil
	case <-a.done:
		return nil, errors.New("acceptor closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *pipeAcceptor) Addr() string { return "pipe" }

func (a *pipeAcceptor) Close() error {
	close(a.done)
	return nil
}

func newPair(t *testing.T, scfg ServerConfig) (*Server, *Client) {
	t.Helper()
	acc := &pipeAcceptor{links: make(chan Link, 8), done: make(chan struct{})}
	srv := NewServer(func(context.Context) (Acceptor, error) { return acc, nil }, scfg)
	cli := NewClient(func(ctx context.Context, addr string) (Link, error) {
		a, b := newPipe()
		acc.links <- b
		return a, nil
	}, ClientConfig{})

	if err := srv.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() {
		cli.Close()
		srv.Close()
	})
	return srv, cli
}

func waitEvent(t *testing.T, p transport.Peer, match func(transport.Event) bool) transport.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, ok := p.Poll()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if match(ev) {
			return ev
		}
	}
	t.Fatal("timed out waiting for event")
	return transport.Event{}
}

func isKind(k transport.EventKind) func(transport.Event) bool {
	return func(ev transport.Event) bool { return ev.Kind == k }
}

func isStatus(s transport.Status) func(transport.Event) bool {
	return func(ev transport.Event) bool { return ev.Kind == transport.EventStatus && ev.Status == s }
}

func connect(t *testing.T, srv *Server, cli *Client) transport.ConnID {
	t.Helper()
	if err := cli.Dial(context.Background(), "pipe", []byte("hail")); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ev := waitEvent(t, srv, isKind(transport.EventApproval))
	if string(ev.Data) != "hail" {
		t.Fatalf("hail = %q", ev.Data)
	}
	if err := srv.Approve(ev.Conn); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	waitEvent(t, srv, isStatus(transport.StatusConnected))
	waitEvent(t, cli, isStatus(transport.StatusConnected))
	return ev.Conn
}

// TestApproveConnects tests that an approved client learns its identity and exchanges data
func TestApproveConnects(t *testing.T) {
	srv, cli := newPair(t, ServerConfig{})
	id := connect(t, srv, cli)

	if cli.LocalID() != id {
		t.Fatalf("LocalID = %v, want %v", cli.LocalID(), id)
	}

	if err := cli.Send(0, []byte("up"), transport.ReliableOrdered, 0); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	ev := waitEvent(t, srv, isKind(transport.EventData))
	if ev.Conn != id || string(ev.Data) != "up" {
		t.Fatalf("server got %v %q", ev.Conn, ev.Data)
	}

	// Without datagrams unreliable data rides the stream.
	if err := srv.Send(id, []byte("down"), transport.UnreliableSequenced, 1); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	ev = waitEvent(t, cli, isKind(transport.EventData))
	if string(ev.Data) != "down" {
		t.Fatalf("client got %q", ev.Data)
	}
}

// TestDenyReportsReason tests that a denied client is disconnected with the server's reason
func TestDenyReportsReason(t *testing.T) {
	srv, cli := newPair(t, ServerConfig{})
	if err := cli.Dial(context.Background(), "pipe", nil); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	id := waitEvent(t, srv, isKind(transport.EventApproval)).Conn
	if err := srv.Deny(id, "server full"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	ev := waitEvent(t, cli, isStatus(transport.StatusDisconnected))
	if ev.Reason != "server full" {
		t.Fatalf("reason = %q", ev.Reason)
	}
	if cli.LocalID() != 0 {
		t.Fatal("denied client kept an identity")
	}
	if err := srv.Approve(id); !errors.Is(err, transport.ErrNotPending) {
		t.Fatalf("Approve after Deny = %v", err)
	}
}

// TestApprovalTimeout tests that undecided connections are denied after the approval timeout
func TestApprovalTimeout(t *testing.T) {
	srv, cli := newPair(t, ServerConfig{ApprovalTimeout: 20 * time.Millisecond})
	if err := cli.Dial(context.Background(), "pipe", nil); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitEvent(t, srv, isKind(transport.EventApproval))
	ev := waitEvent(t, srv, isStatus(transport.StatusDisconnected))
	if ev.Reason != "approval timed out" {
		t.Fatalf("server reason = %q", ev.Reason)
	}
	waitEvent(t, cli, isStatus(transport.StatusDisconnected))
}

// TestDisconnectReachesPeer tests that a client side disconnect is reported on both ends
func TestDisconnectReachesPeer(t *testing.T) {
	srv, cli := newPair(t, ServerConfig{})
	id := connect(t, srv, cli)

	if err := cli.Disconnect(0, "bye"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	ev := waitEvent(t, srv, isStatus(transport.StatusDisconnected))
	if ev.Conn != id || ev.Reason != "bye" {
		t.Fatalf("server saw %v %q", ev.Conn, ev.Reason)
	}
	waitEvent(t, cli, isStatus(transport.StatusDisconnected))

	if err := cli.Send(0, []byte("late"), transport.ReliableOrdered, 0); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send after disconnect = %v", err)
	}
	if err := srv.Send(id, []byte("late"), transport.ReliableOrdered, 0); !errors.Is(err, transport.ErrUnknownConn) {
		t.Fatalf("server Send after disconnect = %v", err)
	}
}

// TestServerKick tests that a server side disconnect carries its reason to the client
func TestServerKick(t *testing.T) {
	srv, cli := newPair(t, ServerConfig{})
	id := connect(t, srv, cli)

	if err := srv.Disconnect(id, "kicked"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	ev := waitEvent(t, cli, isStatus(transport.StatusDisconnected))
	if ev.Reason != "kicked" {
		t.Fatalf("client reason = %q", ev.Reason)
	}
	waitEvent(t, srv, isStatus(transport.StatusDisconnected))
}

// TestNewer tests wrapping sequence comparison
func TestNewer(t *testing.T) {
	tests := []struct {
		seq, last uint16
		want      bool
	}{
		{2, 1, true},
		{1, 1, false},
		{1, 2, false},
		{0, 65535, true},
		{65535, 0, false},
		{100, 65500, true},
	}
	for _, tt := range tests {
		if got := newer(tt.seq, tt.last); got != tt.want {
			t.Errorf("newer(%d, %d) = %v, want %v", tt.seq, tt.last, got, tt.want)
		}
	}
}

// TestNewConnID tests that generated identities are positive and distinct
func TestNewConnID(t *testing.T) {
	seen := make(map[transport.ConnID]bool)
	for range 1000 {
		id := NewConnID()
		if id <= 0 {
			t.Fatalf("NewConnID() = %d", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %v", id)
		}
		seen[id] = true
	}
}

// TestSplitFrame tests frame kind extraction
func TestSplitFrame(t *testing.T) {
	if _, _, err := splitFrame(nil); err == nil {
		t.Fatal("empty frame accepted")
	}
	kind, r, err := splitFrame(closeFrame("done"))
	if err != nil || kind != frameClose {
		t.Fatalf("splitFrame = %d, %v", kind, err)
	}
	if s, err := r.ReadString(); err != nil || s != "done" {
		t.Fatalf("reason = %q, %v", s, err)
	}
}

// TestStreamLinkFraming tests length prefixed frames over a byte stream
func TestStreamLinkFraming(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	la := NewStreamLink(a, nil, "a")
	lb := NewStreamLink(b, nil, "b")

	frames := [][]byte{{1, 2, 3}, {}, bytes.Repeat([]byte{7}, 300)}
	go func() {
		for _, f := range frames {
			la.WriteFrame(f)
		}
	}()

	for i, want := range frames {
		got, err := lb.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d = %v, want %v", i, got, want)
		}
	}

	if la.Datagrams() {
		t.Fatal("link without datagrammer reports datagrams")
	}
	if err := la.SendDatagram([]byte{1}); !errors.Is(err, ErrNoDatagrams) {
		t.Fatalf("SendDatagram = %v", err)
	}
}

// TestStreamLinkReadCancel tests that a cancelled context interrupts a blocked read
func TestStreamLinkReadCancel(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	l := NewStreamLink(b, nil, "b")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.ReadFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadFrame = %v, want deadline exceeded", err)
	}
}

// TestStreamLinkPeerReason tests that a peer close error becomes a close frame
func TestStreamLinkPeerReason(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	l := NewStreamLink(b, nil, "b")
	l.PeerReason = func(err error) (string, bool) { return "gone", errors.Is(err, io.EOF) }

	a.Close()
	p, err := l.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	kind, r, _ := splitFrame(p)
	if kind != frameClose {
		t.Fatalf("kind = %d", kind)
	}
	if s, _ := r.ReadString(); s != "gone" {
		t.Fatalf("reason = %q", s)
	}
}
