// Package hub implements the message relay at the center of a LAN
// session. Agents connect over TCP, register a name with HELLO, and the
// hub routes chat and file traffic between them: named recipients get a
// unicast, everything else falls back to broadcast.
package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/netx"
	"lanlink/internal/proto"
)

// registerGrace is how long a connection may sit unregistered before
// housekeeping drops it.
const registerGrace = 10 * time.Second

type Config struct {
	Network  netx.Network
	BindAddr string // e.g. ":5557"
	MaxPeers int    // defaults to proto.MaxPeers
	Logger   *zap.Logger
}

// Hub accepts agent connections and relays packets between them. Each
// connection gets its own reader goroutine; the peer directory is
// guarded by one mutex.
type Hub struct {
	cfg  Config
	addr netx.Addr

	mu     sync.RWMutex
	peers  map[*peerConn]struct{} // every live connection, named or not
	byName map[string]*peerConn   // registered peers only

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = proto.MaxPeers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:    cfg,
		peers:  make(map[*peerConn]struct{}),
		byName: make(map[string]*peerConn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Addr returns where the hub is listening. Valid after Start.
func (h *Hub) Addr() netx.Addr { return h.addr }

// Start brings the hub online.
func (h *Hub) Start() error {
	addr, err := h.cfg.Network.Listen(h.cfg.BindAddr)
	if err != nil {
		return err
	}
	h.addr = addr
	h.cfg.Logger.Info("hub: listening", zap.String("addr", string(addr)))

	h.wg.Add(2)
	go h.acceptLoop()
	go h.housekeeping()
	return nil
}

// Stop closes the listener and every peer connection, then waits for
// the reader goroutines to drain.
func (h *Hub) Stop() error {
	h.cancel()
	err := h.cfg.Network.Close()

	h.mu.Lock()
	for p := range h.peers {
		_ = p.conn.Close()
	}
	h.mu.Unlock()

	h.wg.Wait()
	return err
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		default:
		}

		conn, err := h.cfg.Network.Accept()
		if err != nil {
			select {
			case <-h.ctx.Done():
			default:
				h.cfg.Logger.Warn("hub: accept error", zap.Error(err))
			}
			return
		}

		p := &peerConn{conn: conn, joined: time.Now()}
		if !h.admit(p) {
			h.cfg.Logger.Warn("hub: at capacity, rejecting",
				zap.String("remote", string(conn.RemoteAddr())),
				zap.Int("max", h.cfg.MaxPeers))
			_ = conn.Close()
			continue
		}

		h.wg.Add(1)
		go h.handleConn(p)
	}
}

// housekeeping drops connections that never sent HELLO.
func (h *Hub) housekeeping() {
	defer h.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-registerGrace)
			h.mu.Lock()
			var stale []*peerConn
			for p := range h.peers {
				if p.name == "" && p.joined.Before(cutoff) {
					stale = append(stale, p)
				}
			}
			h.mu.Unlock()
			for _, p := range stale {
				h.cfg.Logger.Warn("hub: dropping unregistered connection",
					zap.String("remote", string(p.conn.RemoteAddr())))
				h.removePeer(p)
			}
		}
	}
}
