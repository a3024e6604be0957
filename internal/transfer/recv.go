package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"lanlink/internal/proto"
)

// RecvMeta creates the receiving side of a transfer announced by a
// FILE_META packet: it allocates the bitmask, pre-sizes the destination
// file, and journals the record. The caller replies with the readiness
// ACK on nil, NACK otherwise.
//
// When the journal already holds this id with the same file shape, the
// saved bitmask is restored and the file reopened in place, so a resumed
// transfer never rewrites a chunk that is already down.
func (e *Engine) RecvMeta(id uint32, sender string, m proto.Meta) error {
	filename := filepath.Base(m.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		return fmt.Errorf("recv meta: bad filename %q", m.Filename)
	}

	// A retransmitted META for a transfer we already set up only needs
	// its readiness ACK again.
	e.mu.Lock()
	if cur, ok := e.table[id]; ok {
		same := cur.filename == filename && cur.totalChunks == m.TotalChunks
		e.mu.Unlock()
		if same {
			return nil
		}
		return fmt.Errorf("recv meta: id %d already in use", id)
	}
	e.mu.Unlock()

	r := &record{
		id:          id,
		state:       StateActive,
		filename:    filename,
		peer:        sender,
		totalChunks: m.TotalChunks,
		bitmask:     make([]byte, bitmaskSize(m.TotalChunks)),
	}
	r.path = filepath.Join(e.cfg.SaveDir, filename)

	resumed := e.restoreFromJournal(r)

	if err := e.alloc(r); err != nil {
		return err
	}

	if e.cfg.SaveDir != "" {
		if err := os.MkdirAll(e.cfg.SaveDir, 0o755); err != nil {
			e.dropRecord(r.id)
			return fmt.Errorf("recv meta: %w", err)
		}
	}

	flags := os.O_RDWR | os.O_CREATE
	if !resumed {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(r.path, flags, 0o644)
	if err != nil {
		e.dropRecord(r.id)
		return fmt.Errorf("recv meta: %w", err)
	}
	if err := f.Truncate(int64(m.FileSize)); err != nil {
		f.Close()
		e.dropRecord(r.id)
		return fmt.Errorf("recv meta: %w", err)
	}

	e.mu.Lock()
	r.file = f
	done := r.doneChunks == r.totalChunks
	if done {
		r.state = StateDone
		_ = r.file.Close()
		r.file = nil
	}
	ev := r.event()
	e.mu.Unlock()

	e.cfg.Logger.Info("transfer: receiving",
		zap.Uint32("id", id),
		zap.String("file", filename),
		zap.String("from", sender),
		zap.Uint32("chunks", m.TotalChunks),
		zap.Uint64("bytes", m.FileSize),
		zap.Bool("resumed", resumed))

	e.journalState(ev)
	e.journalBitmask(r)
	e.emit(ev)
	return nil
}

// RecvChunk writes one chunk at its declared position. The chunk length
// comes from the packet, so a short final chunk lands exactly. An error
// return means the caller should NACK.
//
// The file write happens outside the engine lock so a slow disk never
// stalls unrelated transfers; the bitmask is re-checked afterwards so a
// racing retransmit of the same chunk is counted once.
func (e *Engine) RecvChunk(id, seq uint32, data []byte) error {
	e.mu.Lock()
	r, ok := e.table[id]
	if !ok {
		e.mu.Unlock()
		return ErrUnknown
	}
	// Colliding ids can route another transfer's chunk here; a seq past
	// the bitmask must never touch the file or fabricate progress.
	if seq >= r.totalChunks {
		e.mu.Unlock()
		return fmt.Errorf("recv chunk: seq %d out of range (total %d)", seq, r.totalChunks)
	}
	if r.state == StatePaused || r.state == StateFailed {
		e.mu.Unlock()
		return ErrWrongState
	}
	if hasBit(r.bitmask, seq) {
		// Retransmit of a chunk we already hold: ACK without rewriting.
		e.mu.Unlock()
		return nil
	}
	if r.file == nil {
		e.mu.Unlock()
		return ErrNotReceiving
	}
	f := r.file
	e.mu.Unlock()

	if _, err := f.WriteAt(data, int64(seq)*proto.ChunkSize); err != nil {
		e.cfg.Logger.Error("transfer: write failed",
			zap.Uint32("id", id), zap.Uint32("chunk", seq), zap.Error(err))
		return fmt.Errorf("recv chunk: %w", err)
	}

	e.mu.Lock()
	if e.table[id] != r || r.state != StateActive {
		e.mu.Unlock()
		return ErrWrongState
	}
	if hasBit(r.bitmask, seq) {
		e.mu.Unlock()
		return nil
	}
	setBit(r.bitmask, seq)
	r.doneChunks++

	finished := r.doneChunks == r.totalChunks
	if finished {
		r.state = StateDone
		r.file = nil
	}
	ev := r.event()
	path := r.path
	e.mu.Unlock()

	if finished {
		_ = f.Sync()
		_ = f.Close()
	}

	e.journalState(ev)
	e.journalBitmask(r)
	e.emit(ev)

	if finished {
		e.cfg.Logger.Info("transfer: receive complete",
			zap.Uint32("id", id), zap.String("path", path))
	}
	return nil
}

func (e *Engine) dropRecord(id uint32) {
	e.mu.Lock()
	delete(e.table, id)
	e.mu.Unlock()
}

// restoreFromJournal loads a previously journaled bitmask for the same
// transfer, returning true when the record matches and progress carries
// over.
func (e *Engine) restoreFromJournal(r *record) bool {
	if e.cfg.Journal == nil {
		return false
	}
	rec, bits, err := e.cfg.Journal.Load(r.id)
	if err != nil {
		return false
	}
	if rec.Filename != r.filename || rec.TotalChunks != r.totalChunks {
		return false
	}
	if len(bits) != len(r.bitmask) {
		return false
	}
	copy(r.bitmask, bits)
	r.doneChunks = popcount(r.bitmask)
	return true
}

func (e *Engine) journalBitmask(r *record) {
	if e.cfg.Journal == nil {
		return
	}
	e.mu.Lock()
	bits := make([]byte, len(r.bitmask))
	copy(bits, r.bitmask)
	id := r.id
	e.mu.Unlock()

	if err := e.cfg.Journal.SaveBitmask(id, bits); err != nil {
		e.cfg.Logger.Warn("transfer journal bitmask write failed",
			zap.Uint32("id", id), zap.Error(err))
	}
}
