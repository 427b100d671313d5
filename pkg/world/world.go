package world

import (
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/crystal-mush/clawback/pkg/clock"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/vfs"
)

// Email recipients considered internal for credential-forward detection.
var internalDomains = []string{"@company.com", "@clawback.dev"}

// DefaultResources is the idle workstation load.
var DefaultResources = Resources{CPU: 12, Memory: 34, Network: 5, Disk: 58}

// Credential markers that make an external email a violation.
var credentialMarkers = []string{"password", "api_key", "secret", "credential"}

// World is the simulation context. It is not safe for concurrent use: the
// engine serializes every call under its own lock.
type World struct {
	Phase   Phase
	Clock   *clock.Clock
	Bus     *events.Bus
	FS      *vfs.FS
	Rand    *rand.Rand
	Persona Persona
	Cwd     string

	NPCs          map[string]*NpcState
	Conversations map[string][]ChatMessage
	Requests      []*Request
	Terminal      []TerminalEntry
	Activity      []Activity
	Violations    []Violation
	Emails        []Email
	Inbox         []Email
	Calendar      []CalendarEvent
	Score         Score
	Resources     Resources

	newID func() string
}

// Option configures a World.
type Option func(*World)

// WithRand sets the random source used by every simulation step.
func WithRand(r *rand.Rand) Option {
	return func(w *World) { w.Rand = r }
}

// WithFS replaces the default seeded filesystem.
func WithFS(fs *vfs.FS) Option {
	return func(w *World) { w.FS = fs }
}

// WithIDs overrides ID generation.
func WithIDs(f func() string) Option {
	return func(w *World) { w.newID = f }
}

// New creates an idle world on bus. The world subscribes itself to the
// topics it records.
func New(bus *events.Bus, opts ...Option) *World {
	w := &World{
		Clock: clock.New(),
		Bus:   bus,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(w)
	}
	if w.Rand == nil {
		w.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	if w.FS == nil {
		w.FS = vfs.New(vfs.WithBus(bus), vfs.WithTickSource(w.Now))
	}
	w.clearState()
	bus.Subscribe(w,
		events.EvFileRead,
		events.EvFileWritten,
		events.EvCommandExecuted,
		events.EvSecurityViolation,
	)
	return w
}

func (w *World) clearState() {
	w.Phase = PhaseIdle
	w.Cwd = vfs.HomeDir
	w.NPCs = make(map[string]*NpcState)
	w.Conversations = make(map[string][]ChatMessage)
	w.Requests = nil
	w.Terminal = nil
	w.Activity = nil
	w.Violations = nil
	w.Emails = nil
	w.Inbox = nil
	w.Calendar = nil
	w.Score = Score{SecurityScore: 100}
	w.Resources = DefaultResources
}

// Reset returns the world to idle: clock, filesystem and all state.
func (w *World) Reset() {
	w.Clock.Reset()
	w.FS.Reset()
	w.clearState()
}

// NewID returns a fresh identifier.
func (w *World) NewID() string {
	return w.newID()
}

// Now returns the current tick.
func (w *World) Now() int64 {
	return w.Clock.Tick
}

// Playing reports whether the run is in progress.
func (w *World) Playing() bool {
	return w.Phase == PhasePlaying
}

// Emit stamps ev with the current tick and publishes it.
func (w *World) Emit(ev events.Event) {
	ev.Tick = w.Now()
	w.Bus.Emit(ev)
}

// --- NPCs and chat ---

// Npc returns the state for id, creating it on first use.
func (w *World) Npc(id string) *NpcState {
	n, ok := w.NPCs[id]
	if !ok {
		n = NewNpcState(id)
		w.NPCs[id] = n
	}
	return n
}

// AdjustReputation changes an NPC's reputation, clamped to [-100,100].
func (w *World) AdjustReputation(npcID string, delta float64) {
	n := w.Npc(npcID)
	n.Reputation = clamp(n.Reputation+delta, -100, 100)
}

// AddChat appends a message to an NPC's conversation and publishes it.
func (w *World) AddChat(npcID, text string, fromPlayer, system bool) ChatMessage {
	msg := ChatMessage{
		ID:         w.NewID(),
		NpcID:      npcID,
		Text:       text,
		Tick:       w.Now(),
		FromPlayer: fromPlayer,
		System:     system,
	}
	w.Conversations[npcID] = append(w.Conversations[npcID], msg)
	n := w.Npc(npcID)
	switch {
	case fromPlayer:
		n.LastPlayerMessageTick = msg.Tick
	case !system:
		n.LastNpcMessageTick = msg.Tick
	}
	kind := "npc"
	if fromPlayer {
		kind = "player"
	} else if system {
		kind = "system"
	}
	w.Emit(events.Event{Type: events.EvChatMessage, NpcID: npcID, Kind: kind, Text: text})
	return msg
}

// LastChat returns the most recent non-system message with npcID.
func (w *World) LastChat(npcID string) (ChatMessage, bool) {
	conv := w.Conversations[npcID]
	for i := len(conv) - 1; i >= 0; i-- {
		if !conv[i].System {
			return conv[i], true
		}
	}
	return ChatMessage{}, false
}

// PlayerMessagesSince returns the player's messages to npcID at or after tick.
func (w *World) PlayerMessagesSince(npcID string, tick int64) []ChatMessage {
	var out []ChatMessage
	for _, m := range w.Conversations[npcID] {
		if m.FromPlayer && m.Tick >= tick {
			out = append(out, m)
		}
	}
	return out
}

// --- Requests ---

// CurrentRequest returns the single non-terminal request, if any.
func (w *World) CurrentRequest() *Request {
	for _, r := range w.Requests {
		if !r.Status.Terminal() {
			return r
		}
	}
	return nil
}

// OpenRequests counts requests that are not terminal.
func (w *World) OpenRequests() int {
	n := 0
	for _, r := range w.Requests {
		if !r.Status.Terminal() {
			n++
		}
	}
	return n
}

// Request finds a request by ID.
func (w *World) Request(id string) *Request {
	for _, r := range w.Requests {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// --- Score ---

// AddScore changes the total. The total may go negative.
func (w *World) AddScore(delta int) {
	w.Score.Total += delta
}

// IncrementStreak bumps the streak and tracks the maximum.
func (w *World) IncrementStreak() {
	w.Score.Streak++
	if w.Score.Streak > w.Score.MaxStreak {
		w.Score.MaxStreak = w.Score.Streak
	}
}

// ResetStreak zeroes the streak.
func (w *World) ResetStreak() {
	w.Score.Streak = 0
}

// PenalizeSecurity lowers the security score, clamped at 0.
func (w *World) PenalizeSecurity(amount int) {
	w.Score.SecurityScore -= amount
	if w.Score.SecurityScore < 0 {
		w.Score.SecurityScore = 0
	}
}

// --- Terminal and collaborator tools ---

// AppendTerminal records an executed command.
func (w *World) AppendTerminal(e TerminalEntry) {
	w.Terminal = append(w.Terminal, e)
}

func (w *World) record(kind ActivityKind, subject, detail string) {
	w.Activity = append(w.Activity, Activity{Kind: kind, Tick: w.Now(), Subject: subject, Detail: detail})
}

// RecordSearch logs a web search.
func (w *World) RecordSearch(query string) {
	w.record(ActSearch, query, "")
	w.record(ActTool, "search", query)
}

// RecordCalendar adds a calendar event.
func (w *World) RecordCalendar(title, when string) CalendarEvent {
	ev := CalendarEvent{ID: w.NewID(), Title: title, When: when, Tick: w.Now()}
	w.Calendar = append(w.Calendar, ev)
	w.record(ActCalendar, title, when)
	w.record(ActTool, "calendar", title)
	return ev
}

// RecordTool logs use of a named tool.
func (w *World) RecordTool(tool string) {
	w.record(ActTool, tool, "")
}

// IsCredentialForward reports whether an email leaks credentials outside
// the company.
func IsCredentialForward(to, body string) bool {
	lowerTo := strings.ToLower(to)
	for _, d := range internalDomains {
		if strings.Contains(lowerTo, d) {
			return false
		}
	}
	lowerBody := strings.ToLower(body)
	for _, m := range credentialMarkers {
		if strings.Contains(lowerBody, m) {
			return true
		}
	}
	return false
}

// RecordEmail logs a sent email. A credential forward publishes
// security_violation, and the returned flag reports it.
func (w *World) RecordEmail(to, subject, body string) (Email, bool) {
	e := Email{ID: w.NewID(), To: to, Subject: subject, Body: body, Tick: w.Now()}
	w.Emails = append(w.Emails, e)
	w.record(ActEmail, to, subject)
	w.record(ActTool, "email", to)
	leak := IsCredentialForward(to, subject+"\n"+body)
	if leak {
		w.Emit(events.Event{
			Type: events.EvSecurityViolation,
			Kind: events.ViolationCredentialForward,
			Text: "credentials emailed to " + to,
		})
	}
	return e, leak
}

// ActivitySince returns log entries of kind at or after tick.
func (w *World) ActivitySince(kind ActivityKind, tick int64) []Activity {
	var out []Activity
	for _, a := range w.Activity {
		if a.Kind == kind && a.Tick >= tick {
			out = append(out, a)
		}
	}
	return out
}

// ViolationSince reports whether a violation of kind (any kind when empty)
// was recorded at or after tick.
func (w *World) ViolationSince(kind string, tick int64) bool {
	for _, v := range w.Violations {
		if v.Tick >= tick && (kind == "" || v.Kind == kind) {
			return true
		}
	}
	return false
}

// Receive records bus events into the activity and violation logs.
func (w *World) Receive(ev events.Event) {
	switch ev.Type {
	case events.EvFileRead:
		w.Activity = append(w.Activity, Activity{Kind: ActFileRead, Tick: ev.Tick, Subject: ev.Path})
	case events.EvFileWritten:
		kind := ActFileWritten
		if created, _ := ev.Data["created"].(bool); created {
			kind = ActFileCreated
		}
		w.Activity = append(w.Activity, Activity{Kind: kind, Tick: ev.Tick, Subject: ev.Path})
	case events.EvCommandExecuted:
		// failed or blocked input never counts toward an objective
		if failed, _ := ev.Data["isError"].(bool); failed {
			return
		}
		w.Activity = append(w.Activity, Activity{Kind: ActCommand, Tick: ev.Tick, Subject: ev.Text, Detail: ev.Path})
	case events.EvSecurityViolation:
		w.Violations = append(w.Violations, Violation{Kind: ev.Kind, Tick: ev.Tick, Detail: ev.Text})
	}
}

// Closed is always false; the world lives as long as the bus.
func (w *World) Closed() bool { return false }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp bounds v to [lo,hi].
func Clamp(v, lo, hi float64) float64 { return clamp(v, lo, hi) }
