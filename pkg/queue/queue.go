// Package queue runs keyed asynchronous work whose results are applied back
// on the simulation goroutine.
//
// At most one task per Key is in flight. Results are posted to a mailbox and
// applied by Drain, which the engine calls under its lock. Reset starts a new
// epoch: in-flight contexts are cancelled and results from older epochs are
// discarded.
package queue

import (
	"context"
	"log"
	"sync"
)

// Key identifies a deduplicated task, e.g. {"karen", "reply"}.
type Key struct {
	Owner string
	Kind  string
}

func (k Key) String() string { return k.Owner + ":" + k.Kind }

// Ticket is handed to a task when it starts.
type Ticket struct {
	Key   Key
	Epoch uint64
	Ctx   context.Context
}

// Runner launches task bodies. The default runs each on its own goroutine.
type Runner func(fn func())

type completion struct {
	ticket Ticket
	apply  func()
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Epoch     uint64
	InFlight  int
	Pending   int
	Started   uint64
	Applied   uint64
	Stale     uint64
	Refused   uint64
	Overflows uint64
}

// Queue tracks in-flight tasks and their completions.
type Queue struct {
	mu         sync.Mutex
	epoch      uint64
	ctx        context.Context
	cancel     context.CancelFunc
	inFlight   map[Key]uint64
	pending    []completion
	maxPending int
	notify     chan struct{}
	run        Runner

	started, applied, stale, refused, overflows uint64
}

// Option configures a Queue.
type Option func(*Queue)

// WithRunner replaces the goroutine launcher. Tests pass a synchronous runner.
func WithRunner(r Runner) Option {
	return func(q *Queue) { q.run = r }
}

// WithMaxPending caps the mailbox. Completions beyond it are dropped.
func WithMaxPending(n int) Option {
	return func(q *Queue) { q.maxPending = n }
}

// Synchronous runs task bodies inline.
func Synchronous(fn func()) { fn() }

// New creates a queue in epoch 1.
func New(opts ...Option) *Queue {
	q := &Queue{
		inFlight:   make(map[Key]uint64),
		maxPending: 256,
		notify:     make(chan struct{}, 1),
		run:        func(fn func()) { go fn() },
	}
	for _, o := range opts {
		o(q)
	}
	q.epoch = 1
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Begin reserves key. It refuses when a task with the same key is in flight.
func (q *Queue) Begin(key Key) (Ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, busy := q.inFlight[key]; busy {
		q.refused++
		return Ticket{}, false
	}
	q.inFlight[key] = q.epoch
	q.started++
	return Ticket{Key: key, Epoch: q.epoch, Ctx: q.ctx}, true
}

// Go reserves key and runs work through the runner. work returns the
// function to apply on the simulation goroutine; a nil apply just releases
// the key. Go reports false when the key is already in flight.
func (q *Queue) Go(key Key, work func(ctx context.Context) func()) bool {
	t, ok := q.Begin(key)
	if !ok {
		return false
	}
	q.run(func() {
		q.Complete(t, work(t.Ctx))
	})
	return true
}

// Complete posts a finished task. Stale tickets are discarded immediately.
func (q *Queue) Complete(t Ticket, apply func()) {
	q.mu.Lock()
	if t.Epoch != q.epoch {
		q.stale++
		q.mu.Unlock()
		return
	}
	if q.maxPending > 0 && len(q.pending) >= q.maxPending {
		q.overflows++
		if q.inFlight[t.Key] == t.Epoch {
			delete(q.inFlight, t.Key)
		}
		q.mu.Unlock()
		log.Printf("queue: dropping completion for %s, mailbox full (%d)", t.Key, q.maxPending)
		return
	}
	q.pending = append(q.pending, completion{ticket: t, apply: apply})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain applies every pending completion from the current epoch, in posting
// order, and returns how many ran. Apply functions may call Begin or Go.
func (q *Queue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	n := 0
	for _, c := range batch {
		q.mu.Lock()
		if c.ticket.Epoch != q.epoch {
			q.stale++
			q.mu.Unlock()
			continue
		}
		if q.inFlight[c.ticket.Key] == c.ticket.Epoch {
			delete(q.inFlight, c.ticket.Key)
		}
		q.applied++
		q.mu.Unlock()

		if c.apply != nil {
			c.apply()
		}
		n++
	}
	return n
}

// Reset cancels every in-flight task, clears the mailbox and starts a new epoch.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancel()
	q.epoch++
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.stale += uint64(len(q.pending))
	q.pending = nil
	q.inFlight = make(map[Key]uint64)
}

// Close cancels in-flight work without starting a new epoch.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancel()
}

// Notify fires when a completion is posted.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// InFlight reports whether key is reserved.
func (q *Queue) InFlight(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inFlight[key]
	return ok
}

// Busy reports whether any task owned by owner is in flight. A posted but
// undrained completion still counts.
func (q *Queue) Busy(owner string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k := range q.inFlight {
		if k.Owner == owner {
			return true
		}
	}
	return false
}

// Epoch returns the current epoch.
func (q *Queue) Epoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Epoch:     q.epoch,
		InFlight:  len(q.inFlight),
		Pending:   len(q.pending),
		Started:   q.started,
		Applied:   q.applied,
		Stale:     q.stale,
		Refused:   q.refused,
		Overflows: q.overflows,
	}
}
