package client

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lanlink/internal/hub"
	"lanlink/internal/netx"
	"lanlink/internal/proto"
	"lanlink/internal/transfer"
)

func newTestHub(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.New(hub.Config{Network: netx.NewTCPNetwork(), BindAddr: "127.0.0.1:0"})
	if err := h.Start(); err != nil {
		t.Fatalf("hub start: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func newTestAgent(t *testing.T, h *hub.Hub, name string) *Agent {
	t.Helper()
	a, err := Dial(Config{
		Network:    netx.NewTCPNetwork(),
		HubAddr:    h.Addr(),
		Name:       name,
		SaveDir:    t.TempDir(),
		AckTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("dial agent %s: %v", name, err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// waitEvent polls until an event of the wanted type shows up.
func waitEvent(t *testing.T, a *Agent, typ EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ev, ok := a.PollEvent(); ok {
			if ev.Type == typ {
				return ev
			}
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no event of type %d within %v", typ, timeout)
	return Event{}
}

func waitTransferState(t *testing.T, a *Agent, id uint32, want transfer.State, timeout time.Duration) transfer.Status {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st, ok := a.Transfer(id); ok && st.State == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := a.Transfer(id)
	t.Fatalf("transfer %d never reached %v, have %+v", id, want, st)
	return transfer.Status{}
}

func TestChatEndToEnd(t *testing.T) {
	h := newTestHub(t)
	alice := newTestAgent(t, h, "alice")
	bob := newTestAgent(t, h, "bob")

	// Registration is async; retry until the hub routes by name.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := alice.SendChat("bob", "hello bob"); err != nil {
			t.Fatalf("SendChat: %v", err)
		}
		ev, ok := bob.PollEvent()
		if ok && ev.Type == EventChat {
			if ev.From != "alice" || ev.Message != "hello bob" {
				t.Fatalf("bob got %q from %q", ev.Message, ev.From)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("chat never arrived")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestFileTransferEndToEnd(t *testing.T) {
	h := newTestHub(t)
	alice := newTestAgent(t, h, "alice")
	bob := newTestAgent(t, h, "bob")

	const size = 150000
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	path := filepath.Join(t.TempDir(), "photo.raw")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	id, err := alice.SendFile(path, "bob")
	if err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	st := waitTransferState(t, alice, id, transfer.StateDone, 10*time.Second)
	if st.TotalChunks != 3 {
		t.Fatalf("TotalChunks = %d, want 3 for %d bytes", st.TotalChunks, size)
	}
	waitTransferState(t, bob, id, transfer.StateDone, 10*time.Second)

	got, err := os.ReadFile(filepath.Join(bob.cfg.SaveDir, "photo.raw"))
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("received file differs from source")
	}

	// Both ends observed transfer progress.
	ev := waitEvent(t, bob, EventTransfer, time.Second)
	if ev.Transfer.ID != id {
		t.Fatalf("transfer event for id %d, want %d", ev.Transfer.ID, id)
	}
}

func TestMetaForOtherRecipientIgnored(t *testing.T) {
	h := newTestHub(t)
	alice := newTestAgent(t, h, "alice")
	bob := newTestAgent(t, h, "bob")

	path := filepath.Join(t.TempDir(), "secret.bin")
	if err := os.WriteFile(path, []byte("for carol only"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	// Carol is not connected, so the announcement fans out to bob, who
	// must stay silent. With nobody acking, the send eventually fails.
	id, err := alice.SendFile(path, "carol")
	if err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	waitTransferState(t, alice, id, transfer.StateFailed, 15*time.Second)

	if len(bob.Transfers()) != 0 {
		t.Fatalf("bob accepted a transfer addressed to carol")
	}
	if _, err := os.Stat(filepath.Join(bob.cfg.SaveDir, "secret.bin")); !os.IsNotExist(err) {
		t.Fatalf("bob wrote a file addressed to carol")
	}
}

func TestConnectionLossFailsTransfers(t *testing.T) {
	h := newTestHub(t)
	alice := newTestAgent(t, h, "alice")

	meta := proto.Meta{Recipient: "alice", Filename: "wip.bin", TotalChunks: 4,
		FileSize: uint64(4 * proto.ChunkSize)}
	if err := alice.engine.RecvMeta(3, "bob", meta); err != nil {
		t.Fatalf("RecvMeta: %v", err)
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("hub stop: %v", err)
	}

	ev := waitEvent(t, alice, EventConnLost, 5*time.Second)
	_ = ev
	waitTransferState(t, alice, 3, transfer.StateFailed, 5*time.Second)

	select {
	case <-alice.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("read loop never exited")
	}
}

func TestEventRingDropsOldestFirst(t *testing.T) {
	var r eventRing
	for i := 0; i < eventBacklog+10; i++ {
		r.push(Event{Type: EventChat, Message: string(rune('A' + i%26))})
	}
	if r.droppedCount() != 10 {
		t.Fatalf("dropped = %d, want 10", r.droppedCount())
	}

	// First poll yields the oldest surviving event, number 10.
	ev, ok := r.poll()
	if !ok || ev.Message != string(rune('A'+10%26)) {
		t.Fatalf("got %q", ev.Message)
	}

	n := 1
	for {
		if _, ok := r.poll(); !ok {
			break
		}
		n++
	}
	if n != eventBacklog {
		t.Fatalf("polled %d events, want %d", n, eventBacklog)
	}
}
