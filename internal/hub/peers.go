package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/netx"
	"lanlink/internal/proto"
)

// peerConn is one agent connection. Writes are serialized by wmu so
// concurrent relays never interleave frames.
type peerConn struct {
	conn   netx.Conn
	joined time.Time

	wmu sync.Mutex

	// name is set once HELLO arrives; guarded by the hub mutex.
	name string
}

func (p *peerConn) write(pkt *proto.Packet) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return proto.WritePacket(p.conn, pkt)
}

// admit adds a fresh connection, enforcing the peer cap.
func (h *Hub) admit(p *peerConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.peers) >= h.cfg.MaxPeers {
		return false
	}
	h.peers[p] = struct{}{}
	return true
}

// register binds a name to a connection. A reused name wins over the
// previous holder, whose connection is closed.
func (h *Hub) register(p *peerConn, name string) {
	h.mu.Lock()
	prev := h.byName[name]
	if prev == p {
		prev = nil
	}
	if p.name != "" && p.name != name {
		delete(h.byName, p.name)
	}
	p.name = name
	h.byName[name] = p
	h.mu.Unlock()

	if prev != nil {
		h.cfg.Logger.Warn("hub: name re-registered, dropping previous holder",
			zap.String("name", name),
			zap.String("remote", string(prev.conn.RemoteAddr())))
		h.removePeer(prev)
	}
}

// removePeer drops a connection from the directory and closes it.
func (h *Hub) removePeer(p *peerConn) {
	h.mu.Lock()
	_, live := h.peers[p]
	delete(h.peers, p)
	if p.name != "" && h.byName[p.name] == p {
		delete(h.byName, p.name)
	}
	name := p.name
	h.mu.Unlock()

	if !live {
		return
	}
	_ = p.conn.Close()
	if name != "" {
		h.cfg.Logger.Info("hub: peer left", zap.String("name", name))
	}
}

func (h *Hub) lookup(name string) *peerConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byName[name]
}

// PeerNames returns a snapshot of registered peer names.
func (h *Hub) PeerNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byName))
	for name := range h.byName {
		out = append(out, name)
	}
	return out
}

// PeerCount returns the number of live connections, registered or not.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// unicast delivers to one registered peer, reporting whether it was
// found. A write failure drops the recipient.
func (h *Hub) unicast(name string, pkt *proto.Packet) bool {
	p := h.lookup(name)
	if p == nil {
		return false
	}
	if err := p.write(pkt); err != nil {
		h.cfg.Logger.Warn("hub: write failed, dropping peer",
			zap.String("name", name), zap.Error(err))
		h.removePeer(p)
	}
	return true
}

// broadcast relays to every registered peer except the origin.
func (h *Hub) broadcast(from *peerConn, pkt *proto.Packet) {
	h.mu.RLock()
	targets := make([]*peerConn, 0, len(h.byName))
	for _, p := range h.byName {
		if p != from {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		if err := p.write(pkt); err != nil {
			h.cfg.Logger.Warn("hub: write failed, dropping peer",
				zap.String("name", p.name), zap.Error(err))
			h.removePeer(p)
		}
	}
}
