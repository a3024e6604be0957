// Package transfer implements the chunked file transfer state machine:
// acknowledged sends with per-chunk retry, pause/resume, and a bitmask
// tracking which chunks are durably received.
package transfer

import (
	"errors"
	"math/bits"
	"os"
)

// State of one transfer. Failed and Done are absorbing.
type State uint8

const (
	StateIdle State = iota
	StateActive
	StatePaused
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

var (
	ErrTableFull    = errors.New("transfer: table full")
	ErrUnknown      = errors.New("transfer: unknown id")
	ErrWrongState   = errors.New("transfer: wrong state")
	ErrNotReceiving = errors.New("transfer: not a receiving transfer")
)

// Status is a read-only copy of one transfer's progress.
type Status struct {
	ID          uint32
	State       State
	Filename    string
	Peer        string
	TotalChunks uint32
	DoneChunks  uint32
}

// Event is pushed to the engine's observer on every state or progress
// change. It carries the same fields as Status so consumers never need
// to query back.
type Event struct {
	ID          uint32
	State       State
	Filename    string
	Peer        string
	DoneChunks  uint32
	TotalChunks uint32
}

// record is the engine's internal view of a transfer. All fields are
// guarded by the engine mutex except file handles owned by one goroutine.
type record struct {
	id          uint32
	state       State
	filename    string
	peer        string
	totalChunks uint32
	doneChunks  uint32
	bitmask     []byte

	// sender side
	replies chan reply

	// receiver side
	file *os.File
	path string
}

// reply is an ACK or NACK routed back to a sending goroutine.
type reply struct {
	Type uint8
	Seq  uint32
}

func (r *record) status() Status {
	return Status{
		ID:          r.id,
		State:       r.state,
		Filename:    r.filename,
		Peer:        r.peer,
		TotalChunks: r.totalChunks,
		DoneChunks:  r.doneChunks,
	}
}

func (r *record) event() Event {
	return Event{
		ID:          r.id,
		State:       r.state,
		Filename:    r.filename,
		Peer:        r.peer,
		DoneChunks:  r.doneChunks,
		TotalChunks: r.totalChunks,
	}
}

func bitmaskSize(totalChunks uint32) int {
	return int(totalChunks+7) / 8
}

func hasBit(mask []byte, i uint32) bool {
	return int(i/8) < len(mask) && mask[i/8]&(1<<(i%8)) != 0
}

func setBit(mask []byte, i uint32) {
	mask[i/8] |= 1 << (i % 8)
}

func popcount(mask []byte) uint32 {
	var n int
	for _, b := range mask {
		n += bits.OnesCount8(b)
	}
	return uint32(n)
}
