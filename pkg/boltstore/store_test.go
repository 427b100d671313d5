package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/clawback/pkg/events"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bolt")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.Close())

	// Reopen keeps existing data.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
}

func TestScoreKeyOrdering(t *testing.T) {
	assert.Less(t, string(scoreKey(500, 1)), string(scoreKey(100, 2)))
	assert.Less(t, string(scoreKey(0, 1)), string(scoreKey(-50, 1)))
	assert.Less(t, string(scoreKey(10, 1)), string(scoreKey(10, 2)))
	assert.Equal(t, uint64(42), keyToInt(intToKey(42)))
}

func TestOutcomesGroupedByRun(t *testing.T) {
	s := openTemp(t)
	r1, err := s.NextRun()
	require.NoError(t, err)
	r2, err := s.NextRun()
	require.NoError(t, err)
	assert.NotEqual(t, r1, r2)

	require.NoError(t, s.PutOutcome(&Outcome{Run: r1, RequestID: "a", Status: "completed", Points: 100}))
	require.NoError(t, s.PutOutcome(&Outcome{Run: r2, RequestID: "b", Status: "expired", Points: -50}))
	require.NoError(t, s.PutOutcome(&Outcome{Run: r1, RequestID: "c", Status: "failed", Points: -25}))

	got, err := s.Outcomes(r1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].RequestID)
	assert.Equal(t, "c", got[1].RequestID)

	got, err = s.Outcomes(r2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, -50, got[0].Points)
}

func TestRunsAndHighScores(t *testing.T) {
	s := openTemp(t)
	for i, score := range []int{120, -40, 900, 300} {
		require.NoError(t, s.PutRun(&Run{Seq: uint64(i + 1), Score: score, NpcID: "karen"}))
	}

	runs, err := s.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, uint64(4), runs[0].Seq, "newest first")

	top, err := s.HighScores(3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, 900, top[0].Score)
	assert.Equal(t, 300, top[1].Score)
	assert.Equal(t, 120, top[2].Score)

	r, err := s.GetRun(2)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, -40, r.Score)

	r, err = s.GetRun(99)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestArchiverRecordsRun(t *testing.T) {
	s := openTemp(t)
	bus := events.NewBus()
	a := NewArchiver(s)
	a.Attach(bus)

	bus.Emit(events.Event{Type: events.EvTick, Tick: 1})
	run := a.Run()
	require.NotZero(t, run)

	bus.Emit(events.Event{Type: events.EvTick, Tick: 2})
	assert.Equal(t, run, a.Run(), "same run while ticking forward")

	bus.Emit(events.Event{
		Type: events.EvRequestCompleted, Tick: 12, RequestID: "r1", NpcID: "karen", Text: "Q3 report",
		Data: map[string]any{"points": 100, "isSecurityTrap": false},
	})
	bus.Emit(events.Event{
		Type: events.EvRequestFailed, Tick: 40, RequestID: "r2", NpcID: "karen", Text: "Peek env",
		Data: map[string]any{"points": -25, "isSecurityTrap": true},
	})
	bus.Emit(events.Event{
		Type: events.EvGameOver, Tick: 55, NpcID: "karen", Kind: "npc_left",
		Data: map[string]any{"score": 75, "maxStreak": 1, "completed": 1, "failed": 1, "expired": 0, "security": 100},
	})
	assert.Zero(t, a.Run())

	outcomes, err := s.Outcomes(run)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "completed", outcomes[0].Status)
	assert.Equal(t, 100, outcomes[0].Points)
	assert.Equal(t, "failed", outcomes[1].Status)
	assert.True(t, outcomes[1].IsSecurityTrap)

	r, err := s.GetRun(run)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "npc_left", r.Reason)
	assert.Equal(t, 75, r.Score)
	assert.Equal(t, int64(55), r.Ticks)

	bus.Emit(events.Event{Type: events.EvTick, Tick: 1})
	assert.NotEqual(t, run, a.Run(), "next run gets a new sequence")
}

func TestArchiverNewRunOnRewind(t *testing.T) {
	s := openTemp(t)
	a := NewArchiver(s)
	a.Receive(events.Event{Type: events.EvTick, Tick: 1})
	a.Receive(events.Event{Type: events.EvTick, Tick: 30})
	a.Receive(events.Event{Type: events.EvRequestCompleted, Tick: 30, RequestID: "r1", NpcID: "sarah", Data: map[string]any{"points": 150}})
	a.Receive(events.Event{Type: events.EvRequestExpired, Tick: 40, RequestID: "r2", NpcID: "sarah", Data: map[string]any{"points": -50}})
	a.Receive(events.Event{Type: events.EvTick, Tick: 41})
	first := a.Run()
	a.Receive(events.Event{Type: events.EvTick, Tick: 1})
	assert.NotEqual(t, first, a.Run())

	r, err := s.GetRun(first)
	require.NoError(t, err)
	require.NotNil(t, r, "a reset run still gets a summary")
	assert.Equal(t, "reset", r.Reason)
	assert.Equal(t, 100, r.Score)
	assert.Equal(t, 1, r.Completed)
	assert.Equal(t, 1, r.Expired)
	assert.Equal(t, 1, r.MaxStreak)
	assert.Equal(t, int64(41), r.Ticks)
	assert.Equal(t, "sarah", r.NpcID)

	top, err := s.HighScores(5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, first, top[0].Seq)
}

func TestArchiverClose(t *testing.T) {
	s := openTemp(t)
	a := NewArchiver(s)
	assert.False(t, a.Closed())
	a.Close()
	assert.True(t, a.Closed())
}
