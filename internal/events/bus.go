package events

import (
	"log"
	"sync"
)

// dropLogEvery throttles slow-subscriber warnings per topic.
const dropLogEvery = 100

type subscriber struct {
	id int
	ch chan any
}

// Bus fans risk and order events out to in-process listeners: the
// dashboard websocket, the Telegram monitor, and the cycle loop. Delivery
// is best-effort; a listener that falls behind loses events rather than
// stalling the trading loops that publish them.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Event][]subscriber

	dropMu  sync.Mutex
	dropped map[Event]uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[Event][]subscriber),
		dropped: make(map[Event]uint64),
	}
}

// Subscribe registers a listener for a topic. The returned channel is
// closed by the unsubscribe function, never by Publish.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	b.nextID++
	sub := subscriber{id: b.nextID, ch: make(chan any, buffer)}
	b.subs[e] = append(b.subs[e], sub)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, s := range subs {
			if s.id == sub.id {
				close(s.ch)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	return sub.ch, unsub
}

// Publish delivers payload to every subscriber of the topic without
// blocking. Events to a full subscriber buffer are counted and dropped.
// The read lock is held across the sends so unsubscribe cannot close a
// channel mid-delivery.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var drops int
	for _, s := range b.subs[e] {
		select {
		case s.ch <- payload:
		default:
			drops++
		}
	}
	if drops > 0 {
		b.recordDrop(e, drops)
	}
}

// Dropped returns how many events for a topic were lost to slow subscribers.
func (b *Bus) Dropped(e Event) uint64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropped[e]
}

func (b *Bus) recordDrop(e Event, n int) {
	b.dropMu.Lock()
	before := b.dropped[e]
	b.dropped[e] = before + uint64(n)
	total := b.dropped[e]
	b.dropMu.Unlock()
	if before/dropLogEvery != total/dropLogEvery || before == 0 {
		log.Printf("📣 bus: slow subscriber on %s, %d events dropped so far", e, total)
	}
}
