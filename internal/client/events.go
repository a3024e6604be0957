package client

import (
	"sync"

	"lanlink/internal/transfer"
)

type EventType uint8

const (
	EventChat EventType = iota + 1
	EventTransfer
	EventConnLost
)

// Event is one thing the agent observed: an incoming chat line, a
// transfer progress change, or the hub connection going away.
type Event struct {
	Type     EventType
	From     string // chat sender
	Message  string // chat body
	Transfer transfer.Event
}

// eventBacklog bounds the ring. A consumer that falls this far behind
// loses the oldest events first, so what it does see stays in order.
const eventBacklog = 256

type eventRing struct {
	mu      sync.Mutex
	buf     [eventBacklog]Event
	head    int // next slot to read
	n       int // occupied slots
	dropped uint64
}

func (r *eventRing) push(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.n--
		r.dropped++
	}
	r.buf[(r.head+r.n)%len(r.buf)] = ev
	r.n++
}

func (r *eventRing) poll() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return Event{}, false
	}
	ev := r.buf[r.head]
	r.buf[r.head] = Event{}
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return ev, true
}

func (r *eventRing) droppedCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
