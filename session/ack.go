package session

import (
	"sync"

	"github.com/lattice-iot/meridian/errs"
	"github.com/lattice-iot/meridian/transport"
)

// ackHandle is one entry in the ordered ready-list of received QoS>=1
// publishes awaiting acknowledgement. Handles are scoped to a connection
// generation: after a reconnect the list is cleared and a handle minted
// before the drop becomes stale, so Acknowledge on it fails explicitly
// rather than silently succeeding.
type ackHandle struct {
	packetID   uint16
	qos        transport.QoS
	generation uint64
	ready      bool
}

// AckHandle is the application-visible token returned alongside a received
// message at QoS >= 1. Passing it to Client.Acknowledge marks it ready;
// the underlying PUBACK/PUBREC is only sent once every older handle in the
// same generation has also been acknowledged.
type AckHandle struct {
	inner *ackHandle
}

// ackList maintains the ordered ready-list: handles are appended in
// arrival order and released to the broker strictly
// in that order, so a stalled application callback cannot cause an
// out-of-order PUBACK/PUBREC.
type ackList struct {
	mu         sync.Mutex
	generation uint64
	entries    []*ackHandle
}

func newAckList() *ackList {
	return &ackList{}
}

// register appends a new handle for a just-delivered publish and returns it.
func (l *ackList) register(packetID uint16, qos transport.QoS) *AckHandle {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := &ackHandle{packetID: packetID, qos: qos, generation: l.generation}
	l.entries = append(l.entries, h)
	return &AckHandle{inner: h}
}

// reset clears the ready-list on reconnect; the broker will re-deliver any
// unacknowledged messages, and stale handles from the dropped generation
// must no longer be acknowledgeable.
func (l *ackList) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	l.entries = nil
}

// release marks h ready and drains the head of the list in order, invoking
// send for every handle that becomes eligible (itself and any already-ready
// handles now unblocked behind it).
func (l *ackList) release(h *AckHandle, send func(packetID uint16, qos transport.QoS) error) error {
	l.mu.Lock()

	if h.inner.generation != l.generation {
		l.mu.Unlock()
		return &errs.Error{
			Kind:      errs.StateInvalid,
			IsShallow: true,
			Message:   "acknowledge called on a handle from a prior connection generation",
		}
	}

	idx := -1
	for i, e := range l.entries {
		if e == h.inner {
			idx = i
			break
		}
	}
	if idx == -1 {
		l.mu.Unlock()
		return &errs.Error{Kind: errs.StateInvalid, Message: "acknowledge called twice for the same delivery"}
	}
	l.entries[idx].ready = true

	var toSend []*ackHandle
	for len(l.entries) > 0 && l.entries[0].ready {
		toSend = append(toSend, l.entries[0])
		l.entries = l.entries[1:]
	}
	l.mu.Unlock()

	for _, e := range toSend {
		if err := send(e.packetID, e.qos); err != nil {
			return err
		}
	}
	return nil
}
