package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity. When a
// subscriber falls behind, the oldest buffered event is dropped to make room
// for the newest.
const DefaultSubscriberBuffer = 64

// Bus is the in-process progress bus. Topics are build session ids; each
// subscriber owns a bounded channel. Publish never blocks.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscriber
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Subscription is a live attachment to one topic. Close it when done;
// Events is closed by Close or by CloseTopic.
type Subscription struct {
	bus   *Bus
	topic string
	id    string
	ch    chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[string]*subscriber)}
}

// Subscribe attaches to a topic with the given buffer size (0 means
// DefaultSubscriberBuffer).
func (b *Bus) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	id := uuid.New().String()

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]*subscriber)
		b.topics[topic] = subs
	}
	subs[id] = sub
	b.mu.Unlock()

	return &Subscription{bus: b, topic: topic, id: id, ch: sub.ch}
}

// Events returns the receive channel. It is closed when the subscription or
// the whole topic is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription and closes its channel. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.bus.remove(s.topic, s.id)
}

// Publish delivers the event to every subscriber of the topic. Full
// subscriber buffers drop their oldest event; Publish itself never blocks.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.topics[topic] {
		for {
			select {
			case sub.ch <- event:
			default:
				// Buffer full: drop the oldest and retry.
				select {
				case <-sub.ch:
					sub.dropped++
					slog.Warn("Event subscriber lagging, dropped oldest event",
						"topic", topic, "subscriber", id, "dropped_total", sub.dropped)
					continue
				default:
					// Raced with the consumer; the buffer has room now.
					continue
				}
			}
			break
		}
	}
}

// CloseTopic closes every subscription of a topic. Called when a session
// reaches a terminal state and no further events will be published.
func (b *Bus) CloseTopic(topic string) {
	b.mu.Lock()
	subs := b.topics[topic]
	delete(b.topics, topic)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
}

// SubscriberCount reports the live subscribers of a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) remove(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
	close(sub.ch)
}
