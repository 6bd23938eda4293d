package peer

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

type EventType int

const (
	EventICEConnectionState EventType = iota
	EventPeerConnectionState
)

// Event is one state transition reported by the peer connection. Only the
// field matching Type is set.
type Event struct {
	Type EventType

	ICEState  webrtc.ICEConnectionState
	PeerState webrtc.PeerConnectionState
}

// eventQueue delivers events in the order they were pushed without ever
// blocking the pusher. Events still pending when the queue is closed are dropped.
type eventQueue struct {
	pending   []Event
	pendingMx sync.Mutex

	wake chan struct{}
	out  chan Event

	done      chan struct{}
	closeOnce sync.Once
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}

	go q.pump()

	return q
}

func (q *eventQueue) push(ev Event) {
	q.pendingMx.Lock()
	q.pending = append(q.pending, ev)
	q.pendingMx.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

func (q *eventQueue) drain() []Event {
	q.pendingMx.Lock()
	defer q.pendingMx.Unlock()

	events := q.pending
	q.pending = nil

	return events
}

func (q *eventQueue) pump() {
	defer close(q.out)

	for {
		select {
		case <-q.wake:
		case <-q.done:
			return
		}

		for _, ev := range q.drain() {
			select {
			case q.out <- ev:
			case <-q.done:
				return
			}
		}
	}
}
