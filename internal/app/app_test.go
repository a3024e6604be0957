package app

import (
	"testing"
	"time"

	"lanlink/internal/client"
)

func newHostApp(t *testing.T) *App {
	t.Helper()
	a, err := New(Config{
		Name:          "host",
		Host:          true,
		BindAddr:      "127.0.0.1:0",
		DiscoveryPort: 15560,
		DataDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(a.Stop)
	return a
}

func TestHostAndJoinChat(t *testing.T) {
	host := newHostApp(t)

	guest, err := New(Config{
		Name:          "guest",
		HubAddr:       string(host.hub.Addr()),
		DiscoveryPort: 15560,
		DataDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := guest.Start(); err != nil {
		t.Fatalf("guest start: %v", err)
	}
	t.Cleanup(guest.Stop)

	// Registration is async; keep sending until the chat lands.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := guest.SendChat("host", "knock knock"); err != nil {
			t.Fatalf("SendChat: %v", err)
		}
		if ev, ok := host.PollEvent(); ok && ev.Type == client.EventChat {
			if ev.From != "guest" || ev.Message != "knock knock" {
				t.Fatalf("host got %q from %q", ev.Message, ev.From)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("chat never reached the host")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The hosting side sees both registered names.
	deadline = time.Now().Add(2 * time.Second)
	for {
		names := host.Peers()
		have := make(map[string]bool, len(names))
		for _, n := range names {
			have[n] = true
		}
		if have["host"] && have["guest"] {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("directory incomplete: %v", names)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNewRequiresName(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing name")
	}
}
