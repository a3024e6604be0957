package discovery

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegistryUpsertAndRefresh(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRegistry(4)
	r.now = func() time.Time { return now }

	r.Upsert("den", "192.168.1.10", 5557)
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}

	// Re-announce from the same IP updates in place.
	now = now.Add(3 * time.Second)
	r.Upsert("den-renamed", "192.168.1.10", 6000)
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1 after refresh", r.Len())
	}
	h := r.Snapshot()[0]
	if h.Name != "den-renamed" || h.Port != 6000 || !h.LastSeen.Equal(now) {
		t.Fatalf("got %+v", h)
	}
}

func TestRegistryBounded(t *testing.T) {
	r := NewRegistry(2)
	r.Upsert("a", "10.0.0.1", 1)
	r.Upsert("b", "10.0.0.2", 2)
	r.Upsert("c", "10.0.0.3", 3) // over capacity, dropped
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
	for _, h := range r.Snapshot() {
		if h.IP == "10.0.0.3" {
			t.Fatalf("over-capacity host was admitted")
		}
	}

	// A known IP still refreshes at capacity.
	r.Upsert("a2", "10.0.0.1", 9)
	if r.Len() != 2 {
		t.Fatalf("len = %d after refresh, want 2", r.Len())
	}
}

func TestRegistryExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRegistry(8)
	r.now = func() time.Time { return now }

	r.Upsert("stale", "10.0.0.1", 1)

	now = now.Add(8 * time.Second)
	r.Upsert("fresh", "10.0.0.2", 2) // re-announced inside the window

	now = now.Add(3 * time.Second) // stale is 11s old, fresh 3s
	if removed := r.Expire(10 * time.Second); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	hosts := r.Snapshot()
	if len(hosts) != 1 || hosts[0].Name != "fresh" {
		t.Fatalf("got %+v", hosts)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(32)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.Upsert("h", fmt.Sprintf("10.0.%d.%d", i%4, i%16), 5557)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = r.Snapshot()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = r.Expire(time.Millisecond)
		}
	}()

	wg.Wait()
}

func TestAnnouncerStopsWithinInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0 // ephemeral target port; nobody needs to hear these
	cfg.Interval = 50 * time.Millisecond

	a, err := StartAnnouncer(cfg, "test-host", 5557)
	if err != nil {
		t.Fatalf("StartAnnouncer: %v", err)
	}

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * cfg.Interval):
		t.Fatalf("announcer did not stop within one interval")
	}
}
