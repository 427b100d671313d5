package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginDeduplicates(t *testing.T) {
	q := New()
	key := Key{"karen", "reply"}
	_, ok := q.Begin(key)
	require.True(t, ok)
	_, ok = q.Begin(key)
	assert.False(t, ok, "same key must be refused while in flight")
	_, ok = q.Begin(Key{"karen", "checkin"})
	assert.True(t, ok, "different kind is independent")
	assert.Equal(t, uint64(1), q.Stats().Refused)
}

func TestDrainReleasesKey(t *testing.T) {
	q := New(WithRunner(Synchronous))
	key := Key{"scheduler", "request"}
	ran := 0
	assert.True(t, q.Go(key, func(ctx context.Context) func() {
		return func() { ran++ }
	}))
	assert.True(t, q.InFlight(key), "held until drained")
	assert.False(t, q.Go(key, func(ctx context.Context) func() { return nil }))

	assert.Equal(t, 1, q.Drain())
	assert.Equal(t, 1, ran)
	assert.False(t, q.InFlight(key))
	assert.True(t, q.Go(key, func(ctx context.Context) func() { return nil }))
}

func TestResetDropsStale(t *testing.T) {
	q := New()
	key := Key{"raj", "reply"}
	ticket, ok := q.Begin(key)
	require.True(t, ok)

	q.Reset()
	assert.Error(t, ticket.Ctx.Err(), "reset cancels in-flight context")
	assert.False(t, q.InFlight(key))

	applied := false
	q.Complete(ticket, func() { applied = true })
	assert.Equal(t, 0, q.Drain())
	assert.False(t, applied)
	assert.Equal(t, uint64(1), q.Stats().Stale)
	assert.Equal(t, uint64(2), q.Epoch())
}

func TestResetDiscardsPending(t *testing.T) {
	q := New(WithRunner(Synchronous))
	applied := false
	q.Go(Key{"a", "b"}, func(ctx context.Context) func() {
		return func() { applied = true }
	})
	q.Reset()
	assert.Equal(t, 0, q.Drain())
	assert.False(t, applied)
}

func TestApplyMayBegin(t *testing.T) {
	q := New(WithRunner(Synchronous))
	key := Key{"x", "y"}
	q.Go(key, func(ctx context.Context) func() {
		return func() {
			_, ok := q.Begin(Key{"x", "z"})
			assert.True(t, ok)
		}
	})
	assert.Equal(t, 1, q.Drain())
	assert.True(t, q.InFlight(Key{"x", "z"}))
}

func TestNotifyAndAsync(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	wg.Add(1)
	q.Go(Key{"n", "m"}, func(ctx context.Context) func() {
		defer wg.Done()
		return func() {}
	})
	wg.Wait()
	select {
	case <-q.Notify():
	case <-time.After(time.Second):
		t.Fatal("expected notify after completion")
	}
	assert.Equal(t, 1, q.Drain())
}

func TestMailboxOverflow(t *testing.T) {
	q := New(WithMaxPending(1))
	t1, _ := q.Begin(Key{"a", "1"})
	t2, _ := q.Begin(Key{"a", "2"})
	q.Complete(t1, func() {})
	q.Complete(t2, func() {})
	s := q.Stats()
	assert.Equal(t, uint64(1), s.Overflows)
	assert.Equal(t, 1, s.Pending)
	assert.False(t, q.InFlight(Key{"a", "2"}), "dropped completion releases its key")
}

func TestBusy(t *testing.T) {
	q := New(WithRunner(Synchronous))
	assert.False(t, q.Busy("karen"))
	t1, _ := q.Begin(Key{"karen", "reply"})
	assert.True(t, q.Busy("karen"))
	assert.False(t, q.Busy("sarah"))
	q.Complete(t1, func() {})
	assert.True(t, q.Busy("karen"), "undrained completion keeps the owner busy")
	q.Drain()
	assert.False(t, q.Busy("karen"))
}
