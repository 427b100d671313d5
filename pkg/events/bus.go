package events

import "sync"

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a topic-keyed pub/sub event bus with support for global subscribers.
// Delivery is synchronous and in publish order. Subscribers run on the
// publisher's goroutine, so they must not block.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for one or more topics.
func (b *Bus) Subscribe(sub Subscriber, topics ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.subscribers[t] = append(b.subscribers[t], sub)
	}
}

// Unsubscribe removes a subscriber from every topic and the global list.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, subs := range b.subscribers {
		b.subscribers[t] = removeSub(subs, sub)
		if len(b.subscribers[t]) == 0 {
			delete(b.subscribers, t)
		}
	}
	b.global = removeSub(b.global, sub)
}

func removeSub(subs []Subscriber, sub Subscriber) []Subscriber {
	for i, s := range subs {
		if s == sub {
			out := make([]Subscriber, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit delivers an event to topic subscribers, then to global subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Type]
	globals := b.global
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
	for _, s := range globals {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// TopicSubscribers returns the number of subscribers for a topic.
func (b *Bus) TopicSubscribers(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[t])
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, t)
		} else {
			b.subscribers[t] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	b.global = activeGlobal
}

// Func adapts a plain function into a Subscriber that is never closed.
type Func func(ev Event)

func (f Func) Receive(ev Event) { f(ev) }
func (f Func) Closed() bool     { return false }

// Chan is a subscriber that forwards events into a buffered channel.
// Sends never block; events are dropped when the buffer is full.
type Chan struct {
	C chan Event

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChan returns a channel subscriber with the given buffer size.
func NewChan(size int) *Chan {
	return &Chan{C: make(chan Event, size)}
}

func (c *Chan) Receive(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.C <- ev:
	default:
		c.dropped++
	}
}

func (c *Chan) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close marks the subscriber closed and closes the channel.
func (c *Chan) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.C)
	}
}

// Dropped returns the number of events dropped on a full buffer.
func (c *Chan) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
