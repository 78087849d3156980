package monitor

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/wesm/transferview/internal/transfer"
)

// Broker fans processor events out to subscribers. Publish never
// blocks; a subscriber that falls behind loses events.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]chan transfer.Event
	buf    int
	closed bool
}

// NewBroker returns a broker whose subscriber channels hold buf
// events.
func NewBroker(buf int) *Broker {
	return &Broker{
		subs: make(map[string]chan transfer.Event),
		buf:  buf,
	}
}

// Subscribe registers a subscriber. The channel is closed by
// Unsubscribe or Close.
func (b *Broker) Subscribe() (string, <-chan transfer.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan transfer.Event, b.buf)
	id := uuid.NewString()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers ev to every subscriber with room for it.
func (b *Broker) Publish(ev transfer.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("monitor: subscriber %s full, dropping %s event",
				id, ev.Kind())
		}
	}
}

// Len returns the number of subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscribers get
// an already-closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.closed = true
}
