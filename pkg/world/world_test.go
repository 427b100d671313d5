package world

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/clawback/pkg/events"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	n := 0
	return New(events.NewBus(),
		WithRand(rand.New(rand.NewSource(1))),
		WithIDs(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
}

func TestNewWorldDefaults(t *testing.T) {
	w := newTestWorld(t)
	assert.Equal(t, PhaseIdle, w.Phase)
	assert.Equal(t, 100, w.Score.SecurityScore)
	assert.Equal(t, "/home/user", w.Cwd)
	n := w.Npc("sarah")
	assert.Equal(t, MoodNeutral, n.Mood)
	assert.Equal(t, float64(100), n.Patience)
}

func TestReputationClamped(t *testing.T) {
	w := newTestWorld(t)
	w.AdjustReputation("karen", 250)
	assert.Equal(t, float64(100), w.Npc("karen").Reputation)
	w.AdjustReputation("karen", -500)
	assert.Equal(t, float64(-100), w.Npc("karen").Reputation)
}

func TestStreak(t *testing.T) {
	w := newTestWorld(t)
	w.IncrementStreak()
	w.IncrementStreak()
	w.ResetStreak()
	w.IncrementStreak()
	assert.Equal(t, 1, w.Score.Streak)
	assert.Equal(t, 2, w.Score.MaxStreak)
}

func TestPenalizeSecurityClamps(t *testing.T) {
	w := newTestWorld(t)
	w.PenalizeSecurity(70)
	w.PenalizeSecurity(70)
	assert.Equal(t, 0, w.Score.SecurityScore)
}

func TestFSEventsRecorded(t *testing.T) {
	w := newTestWorld(t)
	w.Clock.Tick = 12
	_, ok := w.FS.ReadFile("/etc/hosts", "/")
	require.True(t, ok)
	w.FS.WriteFile("/tmp/report.txt", "done", "/")
	w.FS.ReadFile("/home/user/.secrets/api_keys.txt", "/")

	reads := w.ActivitySince(ActFileRead, 12)
	require.Len(t, reads, 2)
	assert.Equal(t, "/etc/hosts", reads[0].Subject)
	assert.Len(t, w.ActivitySince(ActFileCreated, 0), 1)
	assert.Empty(t, w.ActivitySince(ActFileRead, 13))
	assert.True(t, w.ViolationSince(events.ViolationTrapAccess, 12))
	assert.False(t, w.ViolationSince(events.ViolationTrapAccess, 13))
}

func TestCredentialForward(t *testing.T) {
	tests := []struct {
		to, body string
		want     bool
	}{
		{"bob@evil.net", "here is the password: hunter2", true},
		{"bob@evil.net", "API_KEY=abc", true},
		{"sarah@company.com", "the secret is out", false},
		{"ops@clawback.dev", "credential rotation", false},
		{"bob@evil.net", "lunch on friday?", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCredentialForward(tt.to, tt.body), "%s / %s", tt.to, tt.body)
	}

	w := newTestWorld(t)
	_, leak := w.RecordEmail("x@evil.net", "fwd", "password list attached")
	assert.True(t, leak)
	assert.True(t, w.ViolationSince(events.ViolationCredentialForward, 0))
	assert.Len(t, w.ActivitySince(ActTool, 0), 1)
}

func TestChatBookkeeping(t *testing.T) {
	w := newTestWorld(t)
	w.Clock.Tick = 5
	w.AddChat("raj", "hello", false, false)
	w.Clock.Tick = 9
	w.AddChat("raj", "hi back", true, false)
	w.AddChat("raj", "Task completed: x", false, true)

	last, ok := w.LastChat("raj")
	require.True(t, ok)
	assert.True(t, last.FromPlayer, "system messages are skipped")
	assert.Equal(t, int64(5), w.Npc("raj").LastNpcMessageTick)
	assert.Equal(t, int64(9), w.Npc("raj").LastPlayerMessageTick)
	assert.Len(t, w.PlayerMessagesSince("raj", 6), 1)
	assert.Empty(t, w.PlayerMessagesSince("raj", 10))
}

func TestParseValidator(t *testing.T) {
	v, err := ParseValidator("file_read", map[string]any{"path": "/etc/hosts"})
	require.NoError(t, err)
	assert.Equal(t, FileRead{Path: "/etc/hosts"}, v)

	_, err = ParseValidator("file_read", map[string]any{})
	assert.Error(t, err)

	_, err = ParseValidator("teleport", nil)
	assert.Error(t, err)

	_, err = ParseValidator("tool_used", map[string]any{"tool": "hammer"})
	assert.Error(t, err)

	v, err = ParseValidator("no_dangerous_command", nil)
	require.NoError(t, err)
	assert.True(t, IsGuard(v))

	for _, kind := range ValidatorKinds {
		params := map[string]any{"path": "p", "text": "t", "command": "c", "query": "q", "to": "a@b", "pathContains": "x", "tool": "email"}
		v, err := ParseValidator(kind, params)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, v.Kind())
	}
}

func TestBindNpc(t *testing.T) {
	v := BindNpc(ChatContains{NpcID: "other", Text: "ok"}, "luna")
	assert.Equal(t, ChatContains{NpcID: "luna", Text: "ok"}, v)
	assert.Equal(t, EmailSent{To: "a"}, BindNpc(EmailSent{To: "a"}, "luna"))
}

func TestObjectiveJSON(t *testing.T) {
	o := Objective{ID: "o1", Description: "read it", Validator: FileRead{Path: "/etc/hosts"}}
	data, err := json.Marshal(o)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"o1","description":"read it","type":"file_read","params":{"path":"/etc/hosts"},"completed":false}`, string(data))
}

func TestSnapshotIsDeep(t *testing.T) {
	w := newTestWorld(t)
	w.Requests = append(w.Requests, &Request{ID: "r1", Objectives: []*Objective{{ID: "o1", Validator: CalendarEventAdded{}}}})
	s := w.Snapshot()
	w.Requests[0].Objectives[0].Completed = true
	assert.False(t, s.Requests[0].Objectives[0].Completed)
}

func TestReset(t *testing.T) {
	w := newTestWorld(t)
	w.Phase = PhasePlaying
	w.Clock.Advance()
	w.AddScore(40)
	w.FS.WriteFile("/tmp/x", "y", "/")
	w.Reset()
	assert.Equal(t, PhaseIdle, w.Phase)
	assert.Equal(t, int64(0), w.Now())
	assert.Equal(t, 0, w.Score.Total)
	assert.False(t, w.FS.Exists("/tmp/x", "/"))
}
