// Package boltstore archives finished runs and request outcomes in bbolt.
package boltstore

import (
	"bytes"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
)

// Outcome is the archived result of one request.
type Outcome struct {
	Run            uint64    `json:"run"`
	RequestID      string    `json:"requestId"`
	NpcID          string    `json:"npcId"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	Points         int       `json:"points"`
	Tick           int64     `json:"tick"`
	IsSecurityTrap bool      `json:"isSecurityTrap"`
	At             time.Time `json:"at"`
}

// Run summarizes a finished run.
type Run struct {
	Seq       uint64    `json:"seq"`
	NpcID     string    `json:"npcId"`
	Reason    string    `json:"reason"`
	Score     int       `json:"score"`
	MaxStreak int       `json:"maxStreak"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Expired   int       `json:"expired"`
	Security  int       `json:"security"`
	Ticks     int64     `json:"ticks"`
	Started   time.Time `json:"started"`
	Ended     time.Time `json:"ended"`
}

// Store wraps a bbolt database.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketRuns, bucketOutcomes, bucketScores} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keySchema, intToKey(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}
	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// NextRun reserves a run sequence number.
func (s *Store) NextRun() (uint64, error) {
	var seq uint64
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		var err error
		seq, err = tx.Bucket(bucketRuns).NextSequence()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("boltstore: next run: %w", err)
	}
	return seq, nil
}

// PutOutcome appends a request outcome to its run.
func (s *Store) PutOutcome(o *Outcome) error {
	data, err := encode(o)
	if err != nil {
		return fmt.Errorf("boltstore: encode outcome %s: %w", o.RequestID, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOutcomes)
		n, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(outcomeKey(o.Run, n), data)
	})
}

// Outcomes returns a run's outcomes in the order they were recorded.
func (s *Store) Outcomes(run uint64) ([]Outcome, error) {
	var out []Outcome
	prefix := intToKey(run)
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketOutcomes).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			o, err := decode[Outcome](v)
			if err != nil {
				return fmt.Errorf("decode outcome: %w", err)
			}
			out = append(out, *o)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: outcomes %d: %w", run, err)
	}
	return out, nil
}

// PutRun stores a run summary and ranks it in the high score table.
func (s *Store) PutRun(r *Run) error {
	data, err := encode(r)
	if err != nil {
		return fmt.Errorf("boltstore: encode run %d: %w", r.Seq, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put(intToKey(r.Seq), data); err != nil {
			return err
		}
		return tx.Bucket(bucketScores).Put(scoreKey(r.Score, r.Seq), intToKey(r.Seq))
	})
}

// GetRun loads a run summary. It returns nil when the run is unknown.
func (s *Store) GetRun(seq uint64) (*Run, error) {
	var r *Run
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get(intToKey(seq))
		if data == nil {
			return nil
		}
		var err error
		r, err = decode[Run](data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: get run %d: %w", seq, err)
	}
	return r, nil
}

// Runs returns up to limit run summaries, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	var out []Run
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			r, err := decode[Run](v)
			if err != nil {
				return fmt.Errorf("decode run %d: %w", keyToInt(k), err)
			}
			out = append(out, *r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: runs: %w", err)
	}
	return out, nil
}

// HighScores returns the n best runs, best first.
func (s *Store) HighScores(n int) ([]Run, error) {
	var out []Run
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		c := tx.Bucket(bucketScores).Cursor()
		for k, v := c.First(); k != nil && len(out) < n; k, v = c.Next() {
			data := runs.Get(v)
			if data == nil {
				continue
			}
			r, err := decode[Run](data)
			if err != nil {
				return fmt.Errorf("decode run %d: %w", keyToInt(v), err)
			}
			out = append(out, *r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: high scores: %w", err)
	}
	return out, nil
}

// Snapshot writes a consistent copy of the database to destPath.
func (s *Store) Snapshot(destPath string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(destPath, 0600)
	})
}

// RunCount returns the number of archived run summaries.
func (s *Store) RunCount() int {
	n := 0
	s.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketRuns).Stats().KeyN
		return nil
	})
	return n
}
