package events

import (
	"sync"
	"testing"
)

// mockSubscriber implements Subscriber for testing.
type mockSubscriber struct {
	mu       sync.Mutex
	events   []Event
	isClosed bool
}

func (m *mockSubscriber) Receive(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockSubscriber) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isClosed
}

func (m *mockSubscriber) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func TestBusEmitToTopic(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	bus.Subscribe(sub, EvRequestAdded)

	bus.Emit(Event{Type: EvRequestAdded, RequestID: "r1", Text: "hello"})
	bus.Emit(Event{Type: EvTick, Tick: 4})

	events := sub.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].RequestID != "r1" {
		t.Errorf("expected request %q, got %q", "r1", events[0].RequestID)
	}
}

func TestBusGlobalSubscriber(t *testing.T) {
	bus := NewBus()
	global := &mockSubscriber{}
	bus.SubscribeGlobal(global)

	bus.Emit(Event{Type: EvTick, Tick: 1})
	bus.Emit(Event{Type: EvNpcLeft, NpcID: "karen"})

	events := global.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 global events, got %d", len(events))
	}
	if events[1].NpcID != "karen" {
		t.Errorf("expected npc %q, got %q", "karen", events[1].NpcID)
	}
}

func TestBusPublishOrder(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	bus.SubscribeGlobal(sub)
	for i := int64(0); i < 10; i++ {
		bus.Emit(Event{Type: EvTick, Tick: i})
	}
	for i, ev := range sub.Events() {
		if ev.Tick != int64(i) {
			t.Fatalf("event %d out of order: tick %d", i, ev.Tick)
		}
	}
}

func TestBusClosedSubscriber(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{isClosed: true}
	bus.Subscribe(sub, EvTick)
	bus.Emit(Event{Type: EvTick})
	if len(sub.Events()) != 0 {
		t.Error("closed subscriber should not receive events")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	bus.Subscribe(sub, EvTick, EvGameOver)
	bus.SubscribeGlobal(sub)
	bus.Unsubscribe(sub)
	bus.Emit(Event{Type: EvTick})
	if len(sub.Events()) != 0 {
		t.Error("unsubscribed subscriber should not receive events")
	}
	if bus.TopicSubscribers(EvTick) != 0 {
		t.Errorf("expected 0 tick subscribers, got %d", bus.TopicSubscribers(EvTick))
	}
}

func TestBusCleanup(t *testing.T) {
	bus := NewBus()
	active := &mockSubscriber{}
	closed := &mockSubscriber{isClosed: true}
	bus.Subscribe(active, EvTick)
	bus.Subscribe(closed, EvTick)
	bus.Cleanup()
	if n := bus.TopicSubscribers(EvTick); n != 1 {
		t.Errorf("expected 1 subscriber after cleanup, got %d", n)
	}
}

func TestChanDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch := NewChan(1)
	bus.SubscribeGlobal(ch)
	bus.Emit(Event{Type: EvTick, Tick: 1})
	bus.Emit(Event{Type: EvTick, Tick: 2})
	if ch.Dropped() != 1 {
		t.Errorf("expected 1 dropped event, got %d", ch.Dropped())
	}
	ev := <-ch.C
	if ev.Tick != 1 {
		t.Errorf("expected first event to be kept, got tick %d", ev.Tick)
	}
	ch.Close()
	if !ch.Closed() {
		t.Error("expected channel subscriber closed")
	}
	bus.Emit(Event{Type: EvTick})
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		typ  EventType
		want string
	}{
		{EvTick, "tick"},
		{EvRequestAdded, "request_added"},
		{EvRequestCompleted, "request_completed"},
		{EvRequestExpired, "request_expired"},
		{EvRequestFailed, "request_failed"},
		{EvSecurityViolation, "security_violation"},
		{EvNpcLeft, "npc_left"},
		{EvCommandExecuted, "command_executed"},
		{EvTerminalClear, "terminal_clear"},
		{EvGameOver, "game_over"},
		{EventType(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("EventType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
