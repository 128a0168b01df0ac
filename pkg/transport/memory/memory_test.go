package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/QYUbit/replica/pkg/transport"
)

func mustPoll(t *testing.T, p transport.Peer) transport.Event {
	t.Helper()
	ev, ok := p.Poll()
	if !ok {
		t.Fatal("expected an event")
	}
	return ev
}

func connect(t *testing.T, n *Network) (*Server, *Client) {
	t.Helper()
	ctx := context.Background()
	s := n.NewServer("arena")
	if err := s.Listen(ctx); err != nil {
		t.Fatal(err)
	}
	c := n.NewClient()
	if err := c.Dial(ctx, "arena", []byte("hi")); err != nil {
		t.Fatal(err)
	}
	ev := mustPoll(t, s)
	if ev.Kind != transport.EventApproval || string(ev.Data) != "hi" {
		t.Fatalf("unexpected approval event %+v", ev)
	}
	if err := s.Approve(ev.Conn); err != nil {
		t.Fatal(err)
	}
	if ev := mustPoll(t, s); ev.Status != transport.StatusConnected {
		t.Fatalf("server status %v", ev.Status)
	}
	mustPoll(t, c) // connecting
	if ev := mustPoll(t, c); ev.Status != transport.StatusConnected {
		t.Fatalf("client status %v", ev.Status)
	}
	return s, c
}

// TestApprovalAssignsIdentity tests that the approved client learns its
// server side ID.
func TestApprovalAssignsIdentity(t *testing.T) {
	s, c := connect(t, NewNetwork())
	if c.LocalID() == 0 {
		t.Fatal("client has no identity after approval")
	}
	if err := s.Send(c.LocalID(), []byte{1, 2}, transport.ReliableOrdered, 0); err != nil {
		t.Fatal(err)
	}
	ev := mustPoll(t, c)
	if ev.Kind != transport.EventData || len(ev.Data) != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

// TestDenyDisconnectsClient tests that a denied client sees the reason.
func TestDenyDisconnectsClient(t *testing.T) {
	n := NewNetwork()
	s := n.NewServer("arena")
	s.Listen(context.Background())
	c := n.NewClient()
	c.Dial(context.Background(), "arena", nil)
	ev := mustPoll(t, s)
	if err := s.Deny(ev.Conn, "full"); err != nil {
		t.Fatal(err)
	}
	mustPoll(t, c)
	ev = mustPoll(t, c)
	if ev.Status != transport.StatusDisconnected || ev.Reason != "full" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if err := s.Approve(ev.Conn); !errors.Is(err, transport.ErrNotPending) {
		t.Fatalf("approve after deny: %v", err)
	}
}

// TestDropUnreliable tests that the lossy switch only affects unreliable
// frames.
func TestDropUnreliable(t *testing.T) {
	n := NewNetwork()
	n.DropUnreliable = true
	s, c := connect(t, n)
	c.Send(0, []byte{1}, transport.UnreliableSequenced, 1)
	c.Send(0, []byte{2}, transport.ReliableOrdered, 1)
	ev := mustPoll(t, s)
	if ev.Data[0] != 2 {
		t.Fatalf("got frame %v", ev.Data)
	}
	if _, ok := s.Poll(); ok {
		t.Fatal("unreliable frame was delivered")
	}
}

// TestDisconnectNotifiesBothEnds tests client initiated disconnects.
func TestDisconnectNotifiesBothEnds(t *testing.T) {
	s, c := connect(t, NewNetwork())
	id := c.LocalID()
	if err := c.Disconnect(0, "bye"); err != nil {
		t.Fatal(err)
	}
	if ev := mustPoll(t, s); ev.Status != transport.StatusDisconnected || ev.Conn != id {
		t.Fatalf("server event %+v", ev)
	}
	if ev := mustPoll(t, c); ev.Reason != "bye" {
		t.Fatalf("client event %+v", ev)
	}
	if err := s.Send(id, nil, transport.ReliableOrdered, 0); !errors.Is(err, transport.ErrUnknownConn) {
		t.Fatalf("send after disconnect: %v", err)
	}
}

// TestAddressInUse tests that two servers cannot share an address.
func TestAddressInUse(t *testing.T) {
	n := NewNetwork()
	n.NewServer("a").Listen(context.Background())
	if err := n.NewServer("a").Listen(context.Background()); !errors.Is(err, ErrAddrInUse) {
		t.Fatalf("got %v", err)
	}
}

// TestFailQueuesError tests fault injection on both ends.
func TestFailQueuesError(t *testing.T) {
	s, c := connect(t, NewNetwork())
	broken := errors.New("socket gone")
	s.Fail(broken)
	c.Fail(broken)
	for _, p := range []transport.Peer{s, c} {
		ev := mustPoll(t, p)
		if ev.Kind != transport.EventError || !errors.Is(ev.Err, broken) {
			t.Errorf("event %+v", ev)
		}
	}
}
