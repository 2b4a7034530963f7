package service

import (
	"sync"
	"time"

	"github.com/noah-isme/timetable-sync/internal/models"
)

// UpdateEvent tells subscribers to re-read a resource. It carries no payload.
type UpdateEvent struct {
	Topic  string             `json:"topic"`
	Key    string             `json:"key"`
	Source models.CacheSource `json:"source"`
	At     time.Time          `json:"at"`
}

// UpdateTopic returns the notification topic for a resource name.
func UpdateTopic(resource string) string {
	return resource + "Updated"
}

// EventBus is a process-wide publish/subscribe hub. Publishing never blocks:
// a subscriber whose buffer is full loses its oldest pending event.
type EventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan UpdateEvent
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]map[int]chan UpdateEvent)}
}

// Subscribe registers for topic. The returned func unsubscribes and closes
// the channel.
func (b *EventBus) Subscribe(topic string, buffer int) (<-chan UpdateEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan UpdateEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan UpdateEvent)
	}
	b.subs[topic][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers evt to every subscriber of evt.Topic.
func (b *EventBus) Publish(evt UpdateEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for _, ch := range b.subs[evt.Topic] {
		for {
			select {
			case ch <- evt:
				delivered++
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers for topic.
func (b *EventBus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
