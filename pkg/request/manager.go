// Package request runs the request lifecycle: activation, objective
// evaluation, expiry, failure and scoring.
package request

import (
	"log"
	"math"

	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/npc"
	"github.com/crystal-mush/clawback/pkg/world"
)

// Moods receives the mood consequences of request transitions.
type Moods interface {
	Apply(npcID string, ev npc.Event)
}

// Manager owns request state transitions.
type Manager struct {
	w     *world.World
	conf  *config.SimConf
	moods Moods
}

// NewManager creates a manager.
func NewManager(w *world.World, conf *config.SimConf, moods Moods) *Manager {
	return &Manager{w: w, conf: conf, moods: moods}
}

// Add files r as incoming at the current tick.
func (m *Manager) Add(r *world.Request) {
	r.Status = world.StatusIncoming
	r.ArrivalTick = m.w.Now()
	r.Introduced = false
	m.w.Requests = append(m.w.Requests, r)
	m.moods.Apply(r.NpcID, npc.EvRequestArrived)
	m.w.Emit(events.Event{
		Type:      events.EvRequestAdded,
		RequestID: r.ID,
		NpcID:     r.NpcID,
		Text:      r.Title,
		Data:      map[string]any{"tier": r.Tier, "isSecurityTrap": r.IsSecurityTrap, "source": string(r.Source)},
	})
	if m.conf.Debug {
		log.Printf("request: added %s", r)
	}
}

// Tick advances every non-terminal request by one step.
func (m *Manager) Tick() {
	now := m.w.Now()
	for _, r := range m.w.Requests {
		if r.Status.Terminal() {
			continue
		}
		if r.Status == world.StatusIncoming {
			if r.Elapsed(now) > m.conf.IncomingDelay {
				r.Status = world.StatusActive
			}
			continue
		}
		m.step(r, now)
	}
}

func (m *Manager) step(r *world.Request, now int64) {
	if r.Elapsed(now) >= r.DeadlineTicks {
		m.resolve(r, world.StatusExpired)
		return
	}

	for _, o := range r.Objectives {
		if world.IsGuard(o.Validator) && !o.Failed && m.violated(o.Validator, r.ArrivalTick) {
			o.Failed = true
		}
	}
	for _, o := range r.Objectives {
		if o.Failed {
			m.resolve(r, world.StatusFailed)
			return
		}
	}

	progressed := false
	done := true
	for _, o := range r.Objectives {
		if world.IsGuard(o.Validator) || o.Completed {
			continue
		}
		if m.satisfied(o.Validator, r.ArrivalTick) {
			o.Completed = true
			progressed = true
			continue
		}
		done = false
	}
	if progressed {
		r.Status = world.StatusInProgress
	}
	if done {
		for _, o := range r.Objectives {
			if world.IsGuard(o.Validator) {
				o.Completed = true
			}
		}
		m.resolve(r, world.StatusCompleted)
	}
}

// SpeedMultiplier rewards finishing early in the deadline window.
func SpeedMultiplier(elapsed, deadline int64) float64 {
	if deadline <= 0 {
		return 1
	}
	ratio := float64(elapsed) / float64(deadline)
	switch {
	case ratio < 0.3:
		return 2
	case ratio < 0.6:
		return 1.5
	default:
		return 1
	}
}

// Points is the award for completing r after elapsed ticks with streak
// consecutive completions behind it.
func (m *Manager) Points(r *world.Request, elapsed int64, streak int) int {
	bonus := math.Min(1+m.conf.StreakStep*float64(streak), m.conf.MaxStreakBonus)
	return int(math.Round(float64(r.BasePoints) * SpeedMultiplier(elapsed, r.DeadlineTicks) * bonus * float64(r.Tier)))
}

// resolve moves r into a terminal status and applies its consequences.
// A request that is already terminal is left untouched.
func (m *Manager) resolve(r *world.Request, to world.Status) bool {
	if r.Status.Terminal() || !to.Terminal() {
		return false
	}
	now := m.w.Now()
	r.Status = to
	r.ResolvedTick = now
	ev := events.Event{
		RequestID: r.ID,
		NpcID:     r.NpcID,
		Text:      r.Title,
		Data:      map[string]any{"isSecurityTrap": r.IsSecurityTrap},
	}

	switch to {
	case world.StatusCompleted:
		points := m.Points(r, r.Elapsed(now), m.w.Score.Streak)
		r.PointsAwarded = points
		m.w.AddScore(points)
		m.w.IncrementStreak()
		m.w.Score.Completed++
		rep := m.conf.CompletionReputation
		if r.IsSecurityTrap {
			rep = m.conf.TrapCompletionReputation
		}
		m.w.AdjustReputation(r.NpcID, rep)
		m.moods.Apply(r.NpcID, npc.EvCompleted)
		m.w.AddChat(r.NpcID, "Task completed: "+r.Title, false, true)
		ev.Type = events.EvRequestCompleted
		ev.Data["points"] = points
	case world.StatusExpired:
		r.PointsAwarded = -m.conf.ExpiryPenalty
		m.w.ResetStreak()
		m.w.AddScore(-m.conf.ExpiryPenalty)
		m.w.Score.Expired++
		m.w.AdjustReputation(r.NpcID, -m.conf.ExpiryReputation)
		m.moods.Apply(r.NpcID, npc.EvExpired)
		m.w.AddChat(r.NpcID, "Deadline missed: "+r.Title, false, true)
		ev.Type = events.EvRequestExpired
		ev.Data["points"] = -m.conf.ExpiryPenalty
	case world.StatusFailed:
		r.PointsAwarded = -m.conf.FailurePenalty
		m.w.ResetStreak()
		m.w.AddScore(-m.conf.FailurePenalty)
		m.w.Score.Failed++
		m.w.AdjustReputation(r.NpcID, -m.conf.FailureReputation)
		m.w.AddChat(r.NpcID, "Request failed: "+r.Title, false, true)
		ev.Type = events.EvRequestFailed
		ev.Data["points"] = -m.conf.FailurePenalty
	}
	m.w.Emit(ev)
	if m.conf.Debug {
		log.Printf("request: resolved %s", r)
	}
	return true
}
