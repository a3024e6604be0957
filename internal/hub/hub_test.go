package hub

import (
	"bytes"
	"testing"
	"time"

	"lanlink/internal/netx"
	"lanlink/internal/proto"
)

func newTestHub(t *testing.T, maxPeers int) *Hub {
	t.Helper()
	h := New(Config{
		Network:  netx.NewTCPNetwork(),
		BindAddr: "127.0.0.1:0",
		MaxPeers: maxPeers,
	})
	if err := h.Start(); err != nil {
		t.Fatalf("hub start: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

type testClient struct {
	t    *testing.T
	conn netx.Conn
}

func dialHub(t *testing.T, h *Hub) *testClient {
	t.Helper()
	conn, err := netx.NewTCPNetwork().Dial(h.Addr())
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func join(t *testing.T, h *Hub, name string) *testClient {
	t.Helper()
	c := dialHub(t, h)
	c.send(&proto.Packet{Type: proto.MsgHello, Payload: proto.HelloPayload(name)})
	return c
}

func (c *testClient) send(pkt *proto.Packet) {
	c.t.Helper()
	if err := proto.WritePacket(c.conn, pkt); err != nil {
		c.t.Fatalf("write packet: %v", err)
	}
}

func (c *testClient) recv(timeout time.Duration) *proto.Packet {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})
	pkt, err := proto.ReadPacket(c.conn)
	if err != nil {
		c.t.Fatalf("read packet: %v", err)
	}
	return pkt
}

func (c *testClient) recvNone(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})
	if pkt, err := proto.ReadPacket(c.conn); err == nil {
		c.t.Fatalf("unexpected packet %s", proto.TypeName(pkt.Type))
	}
}

// closed reports whether the hub has shut this connection down.
func (c *testClient) closed(timeout time.Duration) bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})
	buf := make([]byte, 1)
	_, err := c.conn.Read(buf)
	ne, ok := err.(interface{ Timeout() bool })
	return err != nil && !(ok && ne.Timeout())
}

func waitRegistered(t *testing.T, h *Hub, names ...string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		have := make(map[string]bool)
		for _, n := range h.PeerNames() {
			have[n] = true
		}
		all := true
		for _, n := range names {
			if !have[n] {
				all = false
			}
		}
		if all {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("peers %v never registered, have %v", names, h.PeerNames())
}

func waitGone(t *testing.T, h *Hub, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		found := false
		for _, n := range h.PeerNames() {
			if n == name {
				found = true
			}
		}
		if !found {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("peer %s never left", name)
}

func TestChatUnicastRewritesSender(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	carol := join(t, h, "carol")
	waitRegistered(t, h, "alice", "bob", "carol")

	alice.send(&proto.Packet{Type: proto.MsgChat, Seq: 7, Payload: proto.ChatPayload("bob", "hi bob")})

	pkt := bob.recv(2 * time.Second)
	if pkt.Type != proto.MsgChat || pkt.Seq != 7 {
		t.Fatalf("bob got type=%d seq=%d", pkt.Type, pkt.Seq)
	}
	sender, msg, err := proto.ParseChat(pkt.Payload)
	if err != nil || sender != "alice" || msg != "hi bob" {
		t.Fatalf("bob got %q/%q (%v)", sender, msg, err)
	}

	// Unicast means carol stays quiet.
	carol.recvNone(300 * time.Millisecond)
}

func TestChatUnknownRecipientBroadcasts(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	carol := join(t, h, "carol")
	waitRegistered(t, h, "alice", "bob", "carol")

	alice.send(&proto.Packet{Type: proto.MsgChat, Payload: proto.ChatPayload("mallory", "anyone?")})

	for _, c := range []*testClient{bob, carol} {
		pkt := c.recv(2 * time.Second)
		sender, msg, err := proto.ParseChat(pkt.Payload)
		if err != nil || sender != "alice" || msg != "anyone?" {
			t.Fatalf("got %q/%q (%v)", sender, msg, err)
		}
	}
	alice.recvNone(300 * time.Millisecond) // never echoed to the origin
}

func TestByeUnregistersPeer(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	carol := join(t, h, "carol")
	waitRegistered(t, h, "alice", "bob", "carol")

	bob.send(&proto.Packet{Type: proto.MsgBye})
	waitGone(t, h, "bob")

	// Routing to the departed name now falls back to broadcast.
	alice.send(&proto.Packet{Type: proto.MsgChat, Payload: proto.ChatPayload("bob", "still there?")})
	pkt := carol.recv(2 * time.Second)
	if sender, _, _ := proto.ParseChat(pkt.Payload); sender != "alice" {
		t.Fatalf("carol got sender %q", sender)
	}
}

func TestBadFrameDropsOnlyThatPeer(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	mallory := join(t, h, "mallory")
	waitRegistered(t, h, "alice", "bob", "mallory")

	// A header declaring more payload than ever follows.
	hdr := []byte{proto.MsgChat, 0, 0, 0, 1, 0xFF, 0xFF}
	if _, err := mallory.conn.Write(hdr); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = mallory.conn.Close()
	waitGone(t, h, "mallory")

	// The rest of the session is unharmed.
	alice.send(&proto.Packet{Type: proto.MsgChat, Payload: proto.ChatPayload("bob", "ok?")})
	pkt := bob.recv(2 * time.Second)
	if sender, msg, _ := proto.ParseChat(pkt.Payload); sender != "alice" || msg != "ok?" {
		t.Fatalf("bob got %q/%q", sender, msg)
	}
}

func TestDuplicateNameLastWriterWins(t *testing.T) {
	h := newTestHub(t, 0)
	first := join(t, h, "alice")
	bob := join(t, h, "bob")
	waitRegistered(t, h, "alice", "bob")

	second := join(t, h, "alice")
	if !first.closed(2 * time.Second) {
		t.Fatalf("previous holder of the name was not dropped")
	}

	bob.send(&proto.Packet{Type: proto.MsgChat, Payload: proto.ChatPayload("alice", "which one?")})
	pkt := second.recv(2 * time.Second)
	if sender, _, _ := proto.ParseChat(pkt.Payload); sender != "bob" {
		t.Fatalf("second conn got sender %q", sender)
	}
}

func TestFileMetaForwardedVerbatim(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	waitRegistered(t, h, "alice", "bob")

	payload := proto.MetaPayload(proto.Meta{
		Recipient:   "bob",
		Filename:    "notes.txt",
		TotalChunks: 3,
		FileSize:    150000,
	})
	alice.send(&proto.Packet{Type: proto.MsgFileMeta, Seq: 5, Payload: payload})

	pkt := bob.recv(2 * time.Second)
	if pkt.Type != proto.MsgFileMeta || pkt.Seq != 5 {
		t.Fatalf("got type=%d seq=%d", pkt.Type, pkt.Seq)
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Fatalf("meta payload was rewritten")
	}
}

func TestTransferTrafficFansOut(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "alice")
	bob := join(t, h, "bob")
	waitRegistered(t, h, "alice", "bob")

	alice.send(&proto.Packet{Type: proto.MsgFileAck, Seq: 2, Payload: proto.ControlPayload(9)})

	pkt := bob.recv(2 * time.Second)
	if pkt.Type != proto.MsgFileAck || pkt.Seq != 2 {
		t.Fatalf("got type=%d seq=%d", pkt.Type, pkt.Seq)
	}
	if id, err := proto.ParseControl(pkt.Payload); err != nil || id != 9 {
		t.Fatalf("got id=%d err=%v", id, err)
	}
}

func TestCapacityRejectsExtraConnections(t *testing.T) {
	h := newTestHub(t, 2)
	join(t, h, "alice")
	join(t, h, "bob")
	waitRegistered(t, h, "alice", "bob")

	extra := dialHub(t, h)
	if !extra.closed(2 * time.Second) {
		t.Fatalf("connection beyond the cap was not closed")
	}
}

func TestPacketBeforeHelloDropsConnection(t *testing.T) {
	h := newTestHub(t, 0)
	c := dialHub(t, h)
	c.send(&proto.Packet{Type: proto.MsgChat, Payload: proto.ChatPayload("bob", "sneaky")})
	if !c.closed(2 * time.Second) {
		t.Fatalf("unregistered sender was not dropped")
	}
}
