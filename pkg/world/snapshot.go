package world

import "github.com/crystal-mush/clawback/pkg/clock"

// Snapshot is a read-only deep copy of the world for transports.
type Snapshot struct {
	Phase         Phase                    `json:"phase"`
	Clock         clock.Snapshot           `json:"clock"`
	Persona       Persona                  `json:"persona"`
	Cwd           string                   `json:"cwd"`
	NPCs          map[string]NpcState      `json:"npcs"`
	Conversations map[string][]ChatMessage `json:"conversations"`
	Requests      []Request                `json:"requests"`
	Terminal      []TerminalEntry          `json:"terminal"`
	Violations    []Violation              `json:"violations"`
	Emails        []Email                  `json:"emails"`
	Inbox         []Email                  `json:"inbox"`
	Calendar      []CalendarEvent          `json:"calendar"`
	Score         Score                    `json:"score"`
	Resources     Resources                `json:"resources"`
}

// Snapshot copies the world. Objectives are copied so later mutation does not
// leak into the snapshot.
func (w *World) Snapshot() Snapshot {
	s := Snapshot{
		Phase:         w.Phase,
		Clock:         w.Clock.Snapshot(),
		Persona:       w.Persona,
		Cwd:           w.Cwd,
		NPCs:          make(map[string]NpcState, len(w.NPCs)),
		Conversations: make(map[string][]ChatMessage, len(w.Conversations)),
		Terminal:      append([]TerminalEntry(nil), w.Terminal...),
		Violations:    append([]Violation(nil), w.Violations...),
		Emails:        append([]Email(nil), w.Emails...),
		Inbox:         append([]Email(nil), w.Inbox...),
		Calendar:      append([]CalendarEvent(nil), w.Calendar...),
		Score:         w.Score,
		Resources:     w.Resources,
	}
	for id, n := range w.NPCs {
		s.NPCs[id] = *n
	}
	for id, conv := range w.Conversations {
		s.Conversations[id] = append([]ChatMessage(nil), conv...)
	}
	for _, r := range w.Requests {
		cp := *r
		cp.Objectives = make([]*Objective, len(r.Objectives))
		for i, o := range r.Objectives {
			oc := *o
			cp.Objectives[i] = &oc
		}
		s.Requests = append(s.Requests, cp)
	}
	return s
}
