package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/proto"
)

// SendFile starts sending path to the named peer and returns the new
// transfer id. The send runs in its own goroutine so concurrent sends
// never block each other or the caller.
func (e *Engine) SendFile(w PacketWriter, path, peer string) (uint32, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("send file: %w", err)
	}
	size := uint64(info.Size())
	total := uint32((size + proto.ChunkSize - 1) / proto.ChunkSize)

	r := &record{
		id:          e.NextID(),
		state:       StateIdle,
		filename:    filepath.Base(path),
		peer:        peer,
		totalChunks: total,
		bitmask:     make([]byte, bitmaskSize(total)),
		replies:     make(chan reply, 16),
	}
	if err := e.alloc(r); err != nil {
		return 0, err
	}

	go e.runSend(w, r, path, size)
	return r.id, nil
}

func (e *Engine) runSend(w PacketWriter, r *record, path string, size uint64) {
	f, err := os.Open(path)
	if err != nil {
		e.cfg.Logger.Error("transfer: cannot open file",
			zap.String("path", path), zap.Error(err))
		e.fail(r)
		return
	}
	defer f.Close()

	e.mu.Lock()
	r.state = StateActive
	ev := r.event()
	e.mu.Unlock()

	meta := &proto.Packet{
		Type: proto.MsgFileMeta,
		Seq:  r.id, // carries the transfer id so both ends share it
		Payload: proto.MetaPayload(proto.Meta{
			Recipient:   r.peer,
			Filename:    r.filename,
			TotalChunks: r.totalChunks,
			FileSize:    size,
		}),
	}
	if err := w.WritePacket(meta); err != nil {
		e.fail(r)
		return
	}
	e.journalState(ev)
	e.emit(ev)

	e.cfg.Logger.Info("transfer: sending",
		zap.Uint32("id", r.id),
		zap.String("file", r.filename),
		zap.Uint64("bytes", size),
		zap.Uint32("chunks", r.totalChunks),
		zap.String("peer", r.peer))

	// One readiness reply for the META before any chunk flows. Retried
	// like a chunk would be; a receiver that cannot set up replies NACK.
	if !e.awaitReadiness(w, r, meta) {
		return
	}

	buf := make([]byte, proto.ChunkSize)
	for seq := uint32(0); seq < r.totalChunks; seq++ {
		if !e.waitWhileActive(r) {
			return
		}
		if e.chunkDone(r, seq) {
			continue // resume: already acknowledged
		}

		n, err := f.ReadAt(buf, int64(seq)*proto.ChunkSize)
		if n == 0 && err != nil {
			e.cfg.Logger.Error("transfer: read failed",
				zap.Uint32("id", r.id), zap.Uint32("chunk", seq), zap.Error(err))
			e.fail(r)
			return
		}

		if !e.sendChunk(w, r, seq, buf[:n]) {
			return
		}
	}

	e.finishSend(r)
}

// awaitReadiness sends META replies until the receiver confirms, fails
// after the retry budget. Returns false when the transfer is over.
func (e *Engine) awaitReadiness(w PacketWriter, r *record, meta *proto.Packet) bool {
	retries := 0
	for {
		rep, ok := e.waitReply(r)
		if ok && rep.Type == proto.MsgFileAck {
			return true
		}
		if e.state(r) == StatePaused {
			if !e.waitWhileActive(r) {
				return false
			}
			retries = 0
		} else {
			retries++
			if retries >= e.cfg.MaxRetries {
				e.cfg.Logger.Error("transfer: no readiness ack",
					zap.Uint32("id", r.id), zap.Int("retries", retries))
				e.fail(r)
				return false
			}
		}
		if err := w.WritePacket(meta); err != nil {
			e.fail(r)
			return false
		}
	}
}

// sendChunk delivers one chunk, retrying on NACK or timeout. A pause
// observed mid-chunk parks the loop and then resends the same chunk
// with a fresh retry budget.
func (e *Engine) sendChunk(w PacketWriter, r *record, seq uint32, data []byte) bool {
	pkt := &proto.Packet{
		Type:    proto.MsgFileChunk,
		Seq:     seq,
		Payload: proto.ChunkPayload(r.id, data),
	}

	retries := 0
	for {
		if err := w.WritePacket(pkt); err != nil {
			e.fail(r)
			return false
		}

		rep, ok := e.waitReply(r)
		if ok && rep.Type == proto.MsgFileAck && rep.Seq == seq {
			e.markSent(r, seq)
			return true
		}

		switch e.state(r) {
		case StatePaused:
			e.cfg.Logger.Info("transfer: paused",
				zap.Uint32("id", r.id), zap.Uint32("chunk", seq))
			if !e.waitWhileActive(r) {
				return false
			}
			retries = 0
		case StateFailed, StateDone:
			return false
		default:
			retries++
			e.cfg.Logger.Warn("transfer: chunk retry",
				zap.Uint32("id", r.id),
				zap.Uint32("chunk", seq),
				zap.Int("attempt", retries),
				zap.Int("max", e.cfg.MaxRetries))
			if retries >= e.cfg.MaxRetries {
				e.cfg.Logger.Error("transfer: chunk failed",
					zap.Uint32("id", r.id), zap.Uint32("chunk", seq))
				e.fail(r)
				return false
			}
		}
	}
}

// waitReply blocks for one ACK/NACK up to the ack timeout.
func (e *Engine) waitReply(r *record) (reply, bool) {
	timer := time.NewTimer(e.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case rep := <-r.replies:
		return rep, true
	case <-timer.C:
		return reply{}, false
	}
}

// waitWhileActive parks a paused sender, polling at a coarse interval.
// It returns false once the transfer is terminal.
func (e *Engine) waitWhileActive(r *record) bool {
	for {
		switch e.state(r) {
		case StateActive:
			return true
		case StatePaused:
			time.Sleep(pausePoll)
		default:
			return false
		}
	}
}

func (e *Engine) chunkDone(r *record, seq uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return hasBit(r.bitmask, seq)
}

func (e *Engine) markSent(r *record, seq uint32) {
	e.mu.Lock()
	if hasBit(r.bitmask, seq) {
		e.mu.Unlock()
		return
	}
	setBit(r.bitmask, seq)
	r.doneChunks++
	ev := r.event()
	e.mu.Unlock()

	e.journalState(ev)
	e.emit(ev)
}

func (e *Engine) finishSend(r *record) {
	e.mu.Lock()
	if r.state != StateActive || r.doneChunks != r.totalChunks {
		e.mu.Unlock()
		return
	}
	r.state = StateDone
	ev := r.event()
	e.mu.Unlock()

	e.cfg.Logger.Info("transfer: complete", zap.Uint32("id", r.id))
	e.journalState(ev)
	e.emit(ev)
}
