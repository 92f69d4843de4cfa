package mqtt

import (
	"sort"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// ackState is the step of the QoS handshake an outbound publish is waiting on.
type ackState int

const (
	awaitingPuback ackState = iota + 1
	awaitingPubrec
	awaitingPubcomp
)

// pendingPublish tracks one outbound QoS 1/2 publish until its final ack.
type pendingPublish struct {
	id       uint16
	packet   *packets.PublishPacket
	state    ackState
	attempts int
	sentAt   time.Time
}

// inflight holds outbound publishes keyed by packet identifier.
// Owned by the Engine; no locking of its own.
type inflight struct {
	items  map[uint16]*pendingPublish
	nextID uint16
}

func newInflight() *inflight {
	return &inflight{items: make(map[uint16]*pendingPublish)}
}

// allocateID returns the next unused non-zero packet identifier.
func (f *inflight) allocateID() (uint16, bool) {
	for range 1 << 16 {
		f.nextID++
		if f.nextID == 0 {
			f.nextID = 1
		}
		if _, used := f.items[f.nextID]; !used {
			return f.nextID, true
		}
	}
	return 0, false
}

func (f *inflight) add(p *pendingPublish) {
	f.items[p.id] = p
}

func (f *inflight) get(id uint16) (*pendingPublish, bool) {
	p, ok := f.items[id]
	return p, ok
}

func (f *inflight) remove(id uint16) {
	delete(f.items, id)
}

func (f *inflight) len() int {
	return len(f.items)
}

// overdue returns the entries whose ack deadline has passed, oldest first.
func (f *inflight) overdue(now time.Time, timeout time.Duration) []*pendingPublish {
	var out []*pendingPublish
	for _, p := range f.items {
		if now.Sub(p.sentAt) >= timeout {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].sentAt.Before(out[j].sentAt)
	})
	return out
}
