package hub

import (
	"go.uber.org/zap"

	"lanlink/internal/proto"
)

// handleConn reads packets from one connection until it fails. A
// malformed frame poisons only this peer: the connection is dropped and
// everyone else keeps going.
func (h *Hub) handleConn(p *peerConn) {
	defer h.wg.Done()
	defer h.removePeer(p)

	for {
		pkt, err := proto.ReadPacket(p.conn)
		if err != nil {
			if proto.IsFramingError(err) {
				h.cfg.Logger.Warn("hub: bad frame, dropping peer",
					zap.String("remote", string(p.conn.RemoteAddr())),
					zap.Error(err))
			}
			return
		}
		if !h.dispatch(p, pkt) {
			return
		}
	}
}

// dispatch routes one packet. Returns false when the connection should
// be closed.
func (h *Hub) dispatch(p *peerConn, pkt *proto.Packet) bool {
	if pkt.Type == proto.MsgHello {
		name := proto.ParseHello(pkt.Payload)
		if name == "" {
			h.cfg.Logger.Warn("hub: empty hello name",
				zap.String("remote", string(p.conn.RemoteAddr())))
			return false
		}
		h.register(p, name)
		h.cfg.Logger.Info("hub: peer joined",
			zap.String("name", name),
			zap.String("remote", string(p.conn.RemoteAddr())))
		return true
	}

	// Everything else requires a registered sender.
	h.mu.RLock()
	name := p.name
	h.mu.RUnlock()
	if name == "" {
		h.cfg.Logger.Warn("hub: packet before hello, dropping peer",
			zap.String("remote", string(p.conn.RemoteAddr())),
			zap.String("type", proto.TypeName(pkt.Type)))
		return false
	}

	switch pkt.Type {
	case proto.MsgChat:
		h.relayChat(p, name, pkt)

	case proto.MsgFileMeta:
		// Forwarded byte-for-byte: the recipient field doubles as the
		// routing key and the receive-side addressee.
		h.relayAddressed(p, pkt)

	case proto.MsgFileChunk, proto.MsgFileAck, proto.MsgFileNack,
		proto.MsgPause, proto.MsgResume:
		// Transfer traffic carries its transfer id, not a name, so it
		// fans out and receivers filter by id.
		h.broadcast(p, pkt)

	case proto.MsgBye:
		h.cfg.Logger.Info("hub: peer said bye", zap.String("name", name))
		return false

	default:
		h.cfg.Logger.Warn("hub: unknown packet type ignored",
			zap.String("from", name),
			zap.Uint8("type", pkt.Type))
	}
	return true
}

// relayChat rewrites the leading recipient field to the sender's name
// and forwards, so the receiver sees who is talking.
func (h *Hub) relayChat(from *peerConn, sender string, pkt *proto.Packet) {
	recipient, message, err := proto.ParseChat(pkt.Payload)
	if err != nil {
		h.cfg.Logger.Warn("hub: malformed chat",
			zap.String("from", sender), zap.Error(err))
		return
	}

	out := &proto.Packet{
		Type:    proto.MsgChat,
		Seq:     pkt.Seq,
		Payload: proto.ChatPayload(sender, message),
	}
	if h.unicast(recipient, out) {
		return
	}
	h.cfg.Logger.Info("hub: recipient unknown, broadcasting",
		zap.String("from", sender), zap.String("to", recipient))
	h.broadcast(from, out)
}

// relayAddressed forwards a packet whose payload leads with a recipient
// name, falling back to broadcast when the name is not registered.
func (h *Hub) relayAddressed(from *peerConn, pkt *proto.Packet) {
	recipient, ok := proto.Recipient(pkt.Payload)
	if ok && h.unicast(recipient, pkt) {
		return
	}
	h.broadcast(from, pkt)
}
