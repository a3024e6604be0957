package transfer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"lanlink/internal/proto"
	"lanlink/internal/storage/xferbolt"
)

// PacketWriter sends one framed packet to the hub. The agent implements
// it with a write lock around its connection; tests implement it with a
// scripted fake.
type PacketWriter interface {
	WritePacket(*proto.Packet) error
}

// Config for an Engine.
type Config struct {
	SaveDir    string        // where received files land
	AckTimeout time.Duration // per-chunk reply wait
	MaxRetries int           // consecutive failures before a chunk gives up
	Journal    *xferbolt.Store
	Logger     *zap.Logger
	OnEvent    func(Event) // observer; called outside the engine lock
}

// pausePoll is how often a parked sender re-checks its state. Pause is
// cooperative: it takes effect at chunk boundaries, never mid-chunk.
const pausePoll = 200 * time.Millisecond

// Engine owns the transfer table for one connection: senders it spawned
// and receivers created by incoming FILE_META packets.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	table  map[uint32]*record
	nextID uint32
}

func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = proto.MaxRetries
	}
	return &Engine{
		cfg:    cfg,
		table:  make(map[uint32]*record),
		nextID: 1,
	}
}

// alloc registers a new record, enforcing the table bound.
func (e *Engine) alloc(r *record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.table) >= proto.MaxTransfers {
		return ErrTableFull
	}
	e.table[r.id] = r
	return nil
}

// NextID hands out transfer ids, monotonically from 1.
func (e *Engine) NextID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	return id
}

// Find returns a copy of one transfer's status.
func (e *Engine) Find(id uint32) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.table[id]
	if !ok {
		return Status{}, false
	}
	return r.status(), true
}

// Snapshot returns a copy of every transfer's status.
func (e *Engine) Snapshot() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Status, 0, len(e.table))
	for _, r := range e.table {
		out = append(out, r.status())
	}
	return out
}

// Bitmask returns a copy of a transfer's chunk bitmask.
func (e *Engine) Bitmask(id uint32) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.table[id]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(r.bitmask))
	copy(out, r.bitmask)
	return out, true
}

// Pause suspends an active transfer. For a sender this parks the send
// loop at the next chunk boundary; for a receiver it makes further
// chunks NACK until resumed.
func (e *Engine) Pause(id uint32) error {
	return e.flip(id, StateActive, StatePaused)
}

// Resume reactivates a paused transfer.
func (e *Engine) Resume(id uint32) error {
	return e.flip(id, StatePaused, StateActive)
}

func (e *Engine) flip(id uint32, from, to State) error {
	e.mu.Lock()
	r, ok := e.table[id]
	if !ok {
		e.mu.Unlock()
		return ErrUnknown
	}
	if r.state != from {
		e.mu.Unlock()
		return ErrWrongState
	}
	r.state = to
	ev := r.event()
	e.mu.Unlock()

	e.cfg.Logger.Info("transfer state change",
		zap.Uint32("id", id), zap.Stringer("state", to))
	e.emit(ev)
	return nil
}

// Deliver routes a control packet (ACK/NACK/PAUSE/RESUME) to the
// transfer it belongs to. The agent's read loop is the only caller, so
// replies reach a sender in arrival order.
func (e *Engine) Deliver(id uint32, pkt *proto.Packet) {
	switch pkt.Type {
	case proto.MsgFileAck, proto.MsgFileNack:
		e.mu.Lock()
		r, ok := e.table[id]
		var ch chan reply
		if ok && r.replies != nil {
			ch = r.replies
		}
		e.mu.Unlock()
		if ch == nil {
			return
		}
		select {
		case ch <- reply{Type: pkt.Type, Seq: pkt.Seq}:
		default:
			// A stalled sender would only ever see stale replies; drop.
		}
	case proto.MsgPause:
		_ = e.Pause(id)
	case proto.MsgResume:
		_ = e.Resume(id)
	}
}

// FailActive drives every non-terminal transfer to Failed. The agent
// calls it when its connection is lost: an abandoned transfer gets an
// explicit terminal state instead of hanging in ACTIVE forever.
func (e *Engine) FailActive() {
	e.mu.Lock()
	var evs []Event
	for _, r := range e.table {
		if r.state.Terminal() {
			continue
		}
		r.state = StateFailed
		if r.file != nil {
			_ = r.file.Close()
			r.file = nil
		}
		evs = append(evs, r.event())
	}
	e.mu.Unlock()

	for _, ev := range evs {
		e.journalState(ev)
		e.emit(ev)
	}
}

// Reap drops terminal records from the table and returns how many were
// removed. Status history survives in the journal when one is configured.
func (e *Engine) Reap() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, r := range e.table {
		if r.state.Terminal() {
			delete(e.table, id)
			n++
		}
	}
	return n
}

// fail marks one transfer Failed and closes any file it owns.
func (e *Engine) fail(r *record) {
	e.mu.Lock()
	if r.state.Terminal() {
		e.mu.Unlock()
		return
	}
	r.state = StateFailed
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	ev := r.event()
	e.mu.Unlock()

	e.journalState(ev)
	e.emit(ev)
}

func (e *Engine) state(r *record) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.state
}

func (e *Engine) emit(ev Event) {
	if e.cfg.OnEvent != nil {
		e.cfg.OnEvent(ev)
	}
}

// journalState persists a status change; journal trouble never fails the
// transfer itself.
func (e *Engine) journalState(ev Event) {
	if e.cfg.Journal == nil {
		return
	}
	st := Status{
		ID:          ev.ID,
		State:       ev.State,
		Filename:    ev.Filename,
		Peer:        ev.Peer,
		TotalChunks: ev.TotalChunks,
		DoneChunks:  ev.DoneChunks,
	}
	if err := e.cfg.Journal.SaveRecord(toJournal(st)); err != nil {
		e.cfg.Logger.Warn("transfer journal write failed",
			zap.Uint32("id", ev.ID), zap.Error(err))
	}
}

func toJournal(st Status) xferbolt.Record {
	return xferbolt.Record{
		ID:          st.ID,
		State:       uint8(st.State),
		Filename:    st.Filename,
		Peer:        st.Peer,
		TotalChunks: st.TotalChunks,
		DoneChunks:  st.DoneChunks,
	}
}
