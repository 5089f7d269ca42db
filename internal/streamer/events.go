package streamer

import "sync"

// NotificationKind distinguishes the pub/sub messages a Streamer posts.
type NotificationKind int

const (
	// NotifyStatusChanged fires on every state transition (spec §4.3).
	NotifyStatusChanged NotificationKind = iota
	// NotifyBitrateReady fires once, the moment calculated_bit_rate
	// first becomes answerable (spec §4.5, §8 P7).
	NotifyBitrateReady
	// NotifyTrackTitleChanged is a supplemented notification: the byte
	// source's ICY metadata side channel produced a new "now playing"
	// title. Not part of spec.md; additive per SPEC_FULL.md §13.
	NotifyTrackTitleChanged
)

// Notification is one event delivered to subscribers. Only the fields
// relevant to Kind are populated.
type Notification struct {
	Kind  NotificationKind
	State State
	Title string
}

// Subscriber receives notifications. Notifications are published while
// the Streamer holds its internal lock, and every public Streamer method
// takes that lock, so a Subscriber must not block and must not call the
// Streamer synchronously; it hands such work to another goroutine.
type Subscriber func(Notification)

type notifier struct {
	mu   sync.Mutex
	subs map[int]Subscriber
	next int
}

// Subscribe registers fn to receive every future notification. The
// returned function unregisters it.
func (n *notifier) Subscribe(fn Subscriber) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]Subscriber)
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *notifier) publish(note Notification) {
	n.mu.Lock()
	subs := make([]Subscriber, 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(note)
	}
}
