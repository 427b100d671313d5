// Package security turns security violations into security score penalties.
package security

import (
	"log"

	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/world"
)

// Monitor is a bus subscriber that penalizes the security score.
type Monitor struct {
	w    *world.World
	conf *config.SimConf
}

// Attach creates a monitor and subscribes it to security_violation.
func Attach(w *world.World, conf *config.SimConf) *Monitor {
	m := &Monitor{w: w, conf: conf}
	w.Bus.Subscribe(m, events.EvSecurityViolation)
	return m
}

// Penalty returns the security score cost of a violation kind.
func (m *Monitor) Penalty(kind string) int {
	switch kind {
	case events.ViolationTrapAccess:
		return m.conf.TrapPenalty
	case events.ViolationDangerousCommand:
		return m.conf.DangerousPenalty
	case events.ViolationCredentialForward:
		return m.conf.CredentialPenalty
	}
	return 0
}

func (m *Monitor) Receive(ev events.Event) {
	if !m.w.Playing() {
		return
	}
	p := m.Penalty(ev.Kind)
	if p == 0 {
		return
	}
	m.w.PenalizeSecurity(p)
	log.Printf("security: %s (-%d, score %d): %s", ev.Kind, p, m.w.Score.SecurityScore, ev.Text)
}

func (m *Monitor) Closed() bool { return false }

// Breached reports whether the security score is exhausted.
func (m *Monitor) Breached() bool {
	return m.w.Score.SecurityScore <= 0
}
