package main

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/engine"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/queue"
)

func newTestREPL(t *testing.T) (*repl, *engine.Engine, *bytes.Buffer) {
	t.Helper()
	conf := config.DefaultSimConf()
	conf.TypingDelay = 0
	eng := engine.New(conf, engine.WithRunner(queue.Synchronous), engine.WithRand(rand.New(rand.NewSource(1))))
	t.Cleanup(eng.Close)
	var out bytes.Buffer
	return newREPL(eng, nil, &out), eng, &out
}

func TestREPLStartAndCommands(t *testing.T) {
	r, eng, out := newTestREPL(t)

	assert.True(t, r.handle("/start nobody"))
	assert.Contains(t, out.String(), "unknown persona")

	assert.True(t, r.handle("/start sarah"))
	assert.Equal(t, "playing", eng.Phase().String())

	out.Reset()
	assert.True(t, r.handle("pwd"))
	assert.Equal(t, "/home/user\n", out.String())

	assert.True(t, r.handle("/email bob@company.com Notes | see attached"))
	snap := eng.Snapshot()
	require.Len(t, snap.Emails, 1)
	assert.Equal(t, "Notes", snap.Emails[0].Subject)
	assert.Equal(t, "see attached", snap.Emails[0].Body)

	assert.True(t, r.handle("/cal Standup @ 10:00"))
	require.NotEmpty(t, eng.Snapshot().Calendar)

	out.Reset()
	assert.True(t, r.handle("/tool hammer"))
	assert.Contains(t, out.String(), "error:")

	assert.True(t, r.handle("/pause"))
	assert.Equal(t, "paused", eng.Snapshot().Clock.Speed)
	assert.True(t, r.handle("/fast"))
	assert.Equal(t, "fast", eng.Snapshot().Clock.Speed)

	out.Reset()
	assert.True(t, r.handle("/state"))
	assert.Contains(t, out.String(), "playing")

	assert.True(t, r.handle("/bogus"))
	assert.False(t, r.handle("/quit"))
}

func TestREPLRequiresRun(t *testing.T) {
	r, _, out := newTestREPL(t)
	r.handle("/chat hello")
	assert.Contains(t, out.String(), "no run in progress")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "<karen> hi", describe(events.Event{Type: events.EvChatMessage, Kind: "npc", NpcID: "karen", Text: "hi"}))
	assert.Empty(t, describe(events.Event{Type: events.EvChatMessage, Kind: "player", Text: "hi"}))
	assert.Contains(t, describe(events.Event{Type: events.EvGameOver, Kind: "npc_left", Data: map[string]any{"score": 10}}), "npc_left")
	assert.Empty(t, describe(events.Event{Type: events.EvTick}))
}
