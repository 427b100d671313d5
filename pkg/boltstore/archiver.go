package boltstore

import (
	"log"
	"sync"
	"time"

	"github.com/crystal-mush/clawback/pkg/events"
)

// Archiver is a bus subscriber that records request outcomes and the
// end-of-run summary. A run begins on the first tick seen after a game
// over, after a reset rewinds the clock, or on the first tick overall. A run
// abandoned by a reset is summarised from its outcomes with reason "reset".
type Archiver struct {
	store *Store

	mu       sync.Mutex
	run      uint64
	started  time.Time
	lastTick int64
	closed   bool
	tally    tally
}

// tally accumulates the outcomes of the current run.
type tally struct {
	npcID                      string
	score, streak, maxStreak   int
	completed, failed, expired int
}

func (t *tally) add(o *Outcome) {
	if o.NpcID != "" {
		t.npcID = o.NpcID
	}
	t.score += o.Points
	switch o.Status {
	case "completed":
		t.completed++
		t.streak++
		if t.streak > t.maxStreak {
			t.maxStreak = t.streak
		}
	case "expired":
		t.expired++
		t.streak = 0
	default:
		t.failed++
		t.streak = 0
	}
}

// NewArchiver returns an archiver writing to store.
func NewArchiver(store *Store) *Archiver {
	return &Archiver{store: store}
}

// Attach subscribes the archiver to the topics it records.
func (a *Archiver) Attach(bus *events.Bus) {
	bus.Subscribe(a,
		events.EvTick,
		events.EvRequestCompleted,
		events.EvRequestExpired,
		events.EvRequestFailed,
		events.EvGameOver,
	)
}

// Run returns the current run sequence, or 0 between runs.
func (a *Archiver) Run() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run
}

// Closed reports whether the archiver has stopped recording.
func (a *Archiver) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close stops recording. The store is left open.
func (a *Archiver) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

func (a *Archiver) Receive(ev events.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Type {
	case events.EvTick:
		switch {
		case a.run == 0:
			a.begin()
		case ev.Tick <= a.lastTick:
			a.abandon()
			a.begin()
		}
		a.lastTick = ev.Tick
	case events.EvRequestCompleted, events.EvRequestExpired, events.EvRequestFailed:
		if a.run == 0 {
			a.begin()
		}
		o := &Outcome{
			Run:            a.run,
			RequestID:      ev.RequestID,
			NpcID:          ev.NpcID,
			Title:          ev.Text,
			Status:         statusOf(ev.Type),
			Points:         intData(ev, "points"),
			Tick:           ev.Tick,
			IsSecurityTrap: boolData(ev, "isSecurityTrap"),
			At:             time.Now(),
		}
		if err := a.store.PutOutcome(o); err != nil {
			log.Printf("boltstore: archive outcome %s: %v", ev.RequestID, err)
		}
		a.tally.add(o)
	case events.EvGameOver:
		if a.run == 0 {
			a.begin()
		}
		r := &Run{
			Seq:       a.run,
			NpcID:     ev.NpcID,
			Reason:    ev.Kind,
			Score:     intData(ev, "score"),
			MaxStreak: intData(ev, "maxStreak"),
			Completed: intData(ev, "completed"),
			Failed:    intData(ev, "failed"),
			Expired:   intData(ev, "expired"),
			Security:  intData(ev, "security"),
			Ticks:     ev.Tick,
			Started:   a.started,
			Ended:     time.Now(),
		}
		a.put(r)
		a.run = 0
		a.lastTick = 0
	}
}

func (a *Archiver) begin() {
	seq, err := a.store.NextRun()
	if err != nil {
		log.Printf("boltstore: %v", err)
		return
	}
	a.run = seq
	a.started = time.Now()
	a.tally = tally{}
}

// abandon writes the summary of a run cut short by a reset.
func (a *Archiver) abandon() {
	t := a.tally
	a.put(&Run{
		Seq:       a.run,
		NpcID:     t.npcID,
		Reason:    "reset",
		Score:     t.score,
		MaxStreak: t.maxStreak,
		Completed: t.completed,
		Failed:    t.failed,
		Expired:   t.expired,
		Ticks:     a.lastTick,
		Started:   a.started,
		Ended:     time.Now(),
	})
}

func (a *Archiver) put(r *Run) {
	if err := a.store.PutRun(r); err != nil {
		log.Printf("boltstore: archive run %d: %v", r.Seq, err)
		return
	}
	log.Printf("boltstore: archived run %d (%s, score %d)", r.Seq, r.Reason, r.Score)
}

func statusOf(t events.EventType) string {
	switch t {
	case events.EvRequestCompleted:
		return "completed"
	case events.EvRequestExpired:
		return "expired"
	default:
		return "failed"
	}
}

func intData(ev events.Event, key string) int {
	switch v := ev.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolData(ev events.Event, key string) bool {
	b, _ := ev.Data[key].(bool)
	return b
}
