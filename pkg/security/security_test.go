package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/world"
)

func newWorld() *world.World {
	w := world.New(events.NewBus())
	w.Phase = world.PhasePlaying
	return w
}

func TestPenalties(t *testing.T) {
	w := newWorld()
	m := Attach(w, config.DefaultSimConf())

	w.FS.ReadFile("~/.env", "/")
	assert.Equal(t, 90, w.Score.SecurityScore)

	w.RecordEmail("me@gmail.com", "creds", "the password is hunter2")
	assert.Equal(t, 65, w.Score.SecurityScore)

	w.Emit(events.Event{Type: events.EvSecurityViolation, Kind: events.ViolationDangerousCommand})
	assert.Equal(t, 50, w.Score.SecurityScore)

	w.Emit(events.Event{Type: events.EvSecurityViolation, Kind: "unknown"})
	assert.Equal(t, 50, w.Score.SecurityScore)
	assert.False(t, m.Breached())

	for i := 0; i < 4; i++ {
		w.Emit(events.Event{Type: events.EvSecurityViolation, Kind: events.ViolationCredentialForward})
	}
	assert.Equal(t, 0, w.Score.SecurityScore)
	assert.True(t, m.Breached())
}

func TestIgnoredWhenNotPlaying(t *testing.T) {
	w := newWorld()
	Attach(w, config.DefaultSimConf())
	w.Phase = world.PhaseGameOver
	w.Emit(events.Event{Type: events.EvSecurityViolation, Kind: events.ViolationTrapAccess})
	assert.Equal(t, 100, w.Score.SecurityScore)
}
