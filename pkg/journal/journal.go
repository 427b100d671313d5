// Package journal records every bus event in a SQLite database and answers
// queries over it. Writes happen on a background goroutine so publishers
// never wait on disk.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crystal-mush/clawback/pkg/events"
)

const (
	bufferSize    = 1024
	batchSize     = 64
	flushInterval = 250 * time.Millisecond
	pruneInterval = time.Hour
	defaultLimit  = 100
	maxLimit      = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         INTEGER NOT NULL,
	tick       INTEGER NOT NULL,
	type       TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	npc_id     TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL DEFAULT '',
	path       TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_type ON events(type);
CREATE INDEX IF NOT EXISTS events_request ON events(request_id);
CREATE INDEX IF NOT EXISTS events_at ON events(at);
`

// Entry is one journaled event.
type Entry struct {
	ID        int64          `json:"id"`
	At        time.Time      `json:"at"`
	Tick      int64          `json:"tick"`
	Type      string         `json:"type"`
	RequestID string         `json:"requestId,omitempty"`
	NpcID     string         `json:"npcId,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Path      string         `json:"path,omitempty"`
	Text      string         `json:"text,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	Types     []string
	RequestID string
	NpcID     string
	SinceTick int64
	Limit     int
}

type item struct {
	ev  events.Event
	at  time.Time
	ack chan struct{}
}

// Journal is a bus subscriber backed by SQLite.
type Journal struct {
	db        *sql.DB
	path      string
	retention time.Duration

	in   chan item
	done chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// Open opens or creates the journal database and starts its writer.
// retentionDays <= 0 keeps entries forever.
func Open(path string, retentionDays int) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// One connection keeps :memory: databases coherent across statements.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	j := &Journal{
		db:   db,
		path: path,
		in:   make(chan item, bufferSize),
		done: make(chan struct{}),
	}
	if retentionDays > 0 {
		j.retention = time.Duration(retentionDays) * 24 * time.Hour
		if n, err := j.Prune(context.Background(), time.Now().Add(-j.retention)); err != nil {
			log.Printf("journal: prune: %v", err)
		} else if n > 0 {
			log.Printf("journal: pruned %d entries older than %d days", n, retentionDays)
		}
	}
	go j.writer()
	return j, nil
}

// Path returns the database path.
func (j *Journal) Path() string { return j.path }

// Attach subscribes the journal to every topic.
func (j *Journal) Attach(bus *events.Bus) {
	bus.SubscribeGlobal(j)
}

// Receive queues ev for writing. It never blocks; events are dropped when
// the writer falls behind.
func (j *Journal) Receive(ev events.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.in <- item{ev: ev, at: time.Now()}:
	default:
		j.dropped.Add(1)
	}
}

// Closed reports whether the journal has been closed.
func (j *Journal) Closed() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.closed
}

// Dropped returns how many events were lost to a full buffer.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Flush blocks until every event queued before the call is written.
func (j *Journal) Flush() {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return
	}
	ack := make(chan struct{})
	j.in <- item{ack: ack}
	j.mu.RUnlock()
	<-ack
}

// Close drains pending writes and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.in)
	j.mu.Unlock()
	<-j.done
	return j.db.Close()
}

func (j *Journal) writer() {
	defer close(j.done)
	flush := time.NewTicker(flushInterval)
	defer flush.Stop()
	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()

	var batch []item
	write := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.insert(batch); err != nil {
			log.Printf("journal: write %d entries: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case it, ok := <-j.in:
			if !ok {
				write()
				return
			}
			if it.ack != nil {
				write()
				close(it.ack)
				continue
			}
			batch = append(batch, it)
			if len(batch) >= batchSize {
				write()
			}
		case <-flush.C:
			write()
		case <-prune.C:
			if j.retention > 0 {
				if _, err := j.Prune(context.Background(), time.Now().Add(-j.retention)); err != nil {
					log.Printf("journal: prune: %v", err)
				}
			}
		}
	}
}

func (j *Journal) insert(batch []item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("journal: PANIC in insert: %v", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO events (at, tick, type, request_id, npc_id, kind, path, text, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, it := range batch {
		data := ""
		if len(it.ev.Data) > 0 {
			b, err := json.Marshal(it.ev.Data)
			if err != nil {
				log.Printf("journal: encode %s data: %v", it.ev.Type, err)
			} else {
				data = string(b)
			}
		}
		ev := it.ev
		if _, err := stmt.Exec(it.at.UnixMilli(), ev.Tick, ev.Type.String(),
			ev.RequestID, ev.NpcID, ev.Kind, ev.Path, ev.Text, data); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Checkpoint flushes queued events and folds the WAL into the main
// database file.
func (j *Journal) Checkpoint() error {
	j.Flush()
	_, err := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Prune deletes entries recorded before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Query returns entries matching f, newest first.
func (j *Journal) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, t)
		}
		where = append(where, "type IN ("+strings.Join(marks, ",")+")")
	}
	if f.RequestID != "" {
		where = append(where, "request_id = ?")
		args = append(args, f.RequestID)
	}
	if f.NpcID != "" {
		where = append(where, "npc_id = ?")
		args = append(args, f.NpcID)
	}
	if f.SinceTick > 0 {
		where = append(where, "tick >= ?")
		args = append(args, f.SinceTick)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	q := `SELECT id, at, tick, type, request_id, npc_id, kind, path, text, data FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			at   int64
			data string
		)
		if err := rows.Scan(&e.ID, &at, &e.Tick, &e.Type, &e.RequestID, &e.NpcID, &e.Kind, &e.Path, &e.Text, &data); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.At = time.UnixMilli(at)
		if data != "" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				log.Printf("journal: decode entry %d data: %v", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	return out, nil
}

// Audit returns the most recent terminal commands, newest first.
func (j *Journal) Audit(ctx context.Context, limit int) ([]Entry, error) {
	return j.Query(ctx, Filter{Types: []string{events.EvCommandExecuted.String()}, Limit: limit})
}

// Counts returns the number of journaled entries per event type.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("journal: counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("journal: counts: %w", err)
		}
		out[t] = n
	}
	return out, rows.Err()
}
