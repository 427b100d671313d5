// Package npc simulates the NPC's patience, mood and chat behaviour.
package npc

import (
	"context"
	"log"
	"time"

	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/content"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/queue"
	"github.com/crystal-mush/clawback/pkg/world"
)

// Generator produces NPC chat lines.
type Generator interface {
	GenerateMessage(ctx context.Context, p content.MessageParams) (string, error)
}

// recentLines is how much conversation is handed to the generator.
const recentLines = 6

// Manager runs the NPC step of each tick and dispatches NPC messages.
type Manager struct {
	w     *world.World
	conf  *config.SimConf
	tasks *queue.Queue
	gen   Generator
}

// NewManager creates a manager. gen may be nil, in which case every message
// comes from the canned dialogue pools.
func NewManager(w *world.World, conf *config.SimConf, tasks *queue.Queue, gen Generator) *Manager {
	return &Manager{w: w, conf: conf, tasks: tasks, gen: gen}
}

// Apply feeds ev through the mood reducer for npcID.
func (m *Manager) Apply(npcID string, ev Event) {
	n := m.w.Npc(npcID)
	m.setMood(n, Reduce(n.Mood, n.Patience, ev))
}

func (m *Manager) setMood(n *world.NpcState, mood world.Mood) {
	if mood == n.Mood {
		return
	}
	n.Mood = mood
	if mood != world.MoodGone || n.HasLeft {
		return
	}
	n.HasLeft = true
	n.IsTyping = false
	n.GoneAtTick = m.w.Now()
	ev := events.Event{Type: events.EvNpcLeft, NpcID: n.ID}
	if cur := m.w.CurrentRequest(); cur != nil {
		ev.RequestID = cur.ID
	}
	m.w.Emit(ev)
}

// DecayRate is the per-tick patience loss for persona.
func (m *Manager) DecayRate(p world.Persona) float64 {
	return (1 - p.Patience) * m.conf.DecayScale
}

// Decay lowers npcID's patience by amount, never below zero.
func (m *Manager) Decay(npcID string, amount float64) {
	n := m.w.Npc(npcID)
	if n.Mood == world.MoodGone {
		return
	}
	n.Patience -= amount
	if n.Patience < 0 {
		n.Patience = 0
	}
	m.setMood(n, Reduce(n.Mood, n.Patience, EvDecay))
}

// Tick decays patience for every live request and runs the check-in timer.
func (m *Manager) Tick() {
	for _, r := range m.w.Requests {
		if !r.Status.Live() {
			continue
		}
		m.Decay(r.NpcID, m.DecayRate(m.w.Persona))
	}
	m.clearStaleTyping()
	m.checkIn()
}

// clearStaleTyping drops the typing flag of an NPC whose message was lost,
// e.g. to a full mailbox, so it can speak again.
func (m *Manager) clearStaleTyping() {
	for id, n := range m.w.NPCs {
		if n.IsTyping && !m.tasks.Busy(id) {
			n.IsTyping = false
		}
	}
}

func (m *Manager) checkIn() {
	r := m.w.CurrentRequest()
	if r == nil {
		return
	}
	n := m.w.Npc(r.NpcID)
	if n.Mood == world.MoodGone || n.IsTyping {
		return
	}
	now := m.w.Now()
	if !r.Introduced {
		if r.Elapsed(now) >= m.conf.IntroDelay && m.Send(r.NpcID, content.KindInitial) {
			r.Introduced = true
		}
		return
	}
	if !r.Status.Live() {
		return
	}
	last, ok := m.w.LastChat(r.NpcID)
	if ok && !last.FromPlayer && now-last.Tick >= m.conf.FollowUpInterval {
		m.Send(r.NpcID, content.KindCheckIn)
	}
}

// PlayerMessage records a player chat line and asks the NPC to answer.
func (m *Manager) PlayerMessage(npcID, text string) world.ChatMessage {
	msg := m.w.AddChat(npcID, text, true, false)
	n := m.w.Npc(npcID)
	if n.Mood != world.MoodGone && !n.IsTyping {
		m.Send(npcID, content.KindReply)
	}
	return msg
}

func (m *Manager) params(npcID string, kind content.MessageKind) content.MessageParams {
	n := m.w.Npc(npcID)
	p := content.MessageParams{
		Persona:  m.w.Persona,
		Kind:     kind,
		Mood:     n.Mood,
		Patience: n.Patience,
	}
	if r := m.w.CurrentRequest(); r != nil && r.NpcID == npcID {
		p.Request = content.BriefOf(r)
	}
	conv := m.w.Conversations[npcID]
	if len(conv) > recentLines {
		conv = conv[len(conv)-recentLines:]
	}
	for _, c := range conv {
		if !c.System {
			p.Recent = append(p.Recent, content.RecentLine{FromPlayer: c.FromPlayer, Text: c.Text})
		}
	}
	return p
}

// Send dispatches an NPC message of kind. It reports false when the NPC is
// gone, already typing, or a message of the same kind is in flight.
func (m *Manager) Send(npcID string, kind content.MessageKind) bool {
	n := m.w.Npc(npcID)
	if n.Mood == world.MoodGone || n.IsTyping {
		return false
	}
	p := m.params(npcID, kind)
	gen := m.gen
	delay := m.conf.TypingDelay
	debug := m.conf.Debug
	started := m.tasks.Go(queue.Key{Owner: npcID, Kind: string(kind)}, func(ctx context.Context) func() {
		text, err := "", content.ErrUnavailable
		if gen != nil {
			text, err = gen.GenerateMessage(ctx, p)
		}
		if err != nil {
			text = ""
			if debug {
				log.Printf("npc: %s %s falling back: %v", npcID, kind, err)
			}
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
		return func() { m.deliver(npcID, p, text) }
	})
	if started {
		n.IsTyping = true
	}
	return started
}

// deliver runs on the simulation goroutine.
func (m *Manager) deliver(npcID string, p content.MessageParams, text string) {
	if !m.w.Playing() {
		return
	}
	n := m.w.Npc(npcID)
	n.IsTyping = false
	if n.Mood == world.MoodGone {
		return
	}
	if text == "" {
		p.Mood = n.Mood
		text = Fallback(m.w.Rand, p)
	}
	m.w.AddChat(npcID, text, false, false)
}
