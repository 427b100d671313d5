package boltstore

import (
	"encoding/binary"
	"math"
)

// Bucket name constants for bbolt storage.
var (
	bucketMeta     = []byte("meta")
	bucketRuns     = []byte("runs")
	bucketOutcomes = []byte("outcomes")
	bucketScores   = []byte("highscores")
)

// Meta key constants.
var (
	keySchema = []byte("schema")
)

const schemaVersion = 1

// intToKey converts an int to an 8-byte big-endian key.
func intToKey(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// keyToInt converts an 8-byte big-endian key back to an int.
func keyToInt(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// scoreKey orders high scores best first: the score is inverted and
// offset so negatives sort correctly, then the run sequence breaks ties.
func scoreKey(score int, seq uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, uint64(math.MaxInt64-int64(score)))
	binary.BigEndian.PutUint64(buf[8:], seq)
	return buf
}

// outcomeKey groups a run's outcomes under its sequence number.
func outcomeKey(run, n uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, run)
	binary.BigEndian.PutUint64(buf[8:], n)
	return buf
}
