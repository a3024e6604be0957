// Package discovery implements UDP broadcast peer discovery: hosts
// announce themselves every couple of seconds and peers collect the
// beacons into a registry that expires silent entries.
//
// Broadcast is a deliberate tradeoff: it gives zero-configuration reach
// inside one subnet and nothing beyond it.
package discovery

import (
	"sync"
	"time"
)

// Host is one reachable hub seen on the LAN.
type Host struct {
	Name     string
	IP       string
	Port     int
	LastSeen time.Time
}

// Registry is the bounded, mutex-guarded set of discovered hosts,
// deduplicated by IP. Callers only ever see copies.
type Registry struct {
	mu    sync.Mutex
	max   int
	hosts map[string]Host

	now func() time.Time // test hook
}

func NewRegistry(max int) *Registry {
	return &Registry{
		max:   max,
		hosts: make(map[string]Host),
		now:   time.Now,
	}
}

// Upsert records a beacon. A host already known by IP gets its name, port
// and LastSeen refreshed; a new host is inserted unless the registry is
// full, in which case the announcement is dropped.
func (r *Registry) Upsert(name, ip string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hosts[ip]; !ok && len(r.hosts) >= r.max {
		return
	}
	r.hosts[ip] = Host{Name: name, IP: ip, Port: port, LastSeen: r.now()}
}

// Expire removes every host not seen within ttl and returns how many
// were removed.
func (r *Registry) Expire(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-ttl)
	removed := 0
	for ip, h := range r.hosts {
		if h.LastSeen.Before(cutoff) {
			delete(r.hosts, ip)
			removed++
		}
	}
	return removed
}

// Snapshot returns a copy of the current host set.
func (r *Registry) Snapshot() []Host {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosts)
}
