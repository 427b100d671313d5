// Package world holds the simulation context: every piece of shared state the
// engine steps mutate, plus the accessors they use to mutate it.
package world

import (
	"encoding/json"
	"fmt"
)

// Phase is the run state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlaying
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlaying:
		return "playing"
	case PhaseGameOver:
		return "gameover"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Mood is an NPC's displayed disposition.
type Mood int

const (
	MoodNeutral Mood = iota
	MoodHappy
	MoodWaiting
	MoodFrustrated
	MoodAngry
	MoodGone
)

func (m Mood) String() string {
	switch m {
	case MoodNeutral:
		return "neutral"
	case MoodHappy:
		return "happy"
	case MoodWaiting:
		return "waiting"
	case MoodFrustrated:
		return "frustrated"
	case MoodAngry:
		return "angry"
	case MoodGone:
		return "gone"
	default:
		return "unknown"
	}
}

func (m Mood) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Status is a request's lifecycle state.
type Status int

const (
	StatusIncoming Status = iota
	StatusActive
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusIncoming:
		return "incoming"
	case StatusActive:
		return "active"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Live reports whether the request is being worked (active or in progress).
func (s Status) Live() bool {
	return s == StatusActive || s == StatusInProgress
}

// Persona describes the NPC the player works for. Patience, TechSavvy and
// Politeness are in [0,1].
type Persona struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Role        string  `json:"role" yaml:"role"`
	Patience    float64 `json:"patience" yaml:"patience"`
	TechSavvy   float64 `json:"techSavvy" yaml:"tech_savvy"`
	Politeness  float64 `json:"politeness" yaml:"politeness"`
	Quirk       string  `json:"quirk" yaml:"quirk"`
	Description string  `json:"description" yaml:"description"`
}

// NpcState is the mutable simulation state of one NPC.
type NpcState struct {
	ID         string  `json:"id"`
	Mood       Mood    `json:"mood"`
	Patience   float64 `json:"patience"`
	Reputation float64 `json:"reputation"`
	IsTyping   bool    `json:"isTyping"`
	HasLeft    bool    `json:"hasLeft"`
	GoneAtTick int64   `json:"goneAtTick,omitempty"`

	LastNpcMessageTick    int64 `json:"-"`
	LastPlayerMessageTick int64 `json:"-"`
}

// NewNpcState returns the starting state: neutral, full patience, zero reputation.
func NewNpcState(id string) *NpcState {
	return &NpcState{ID: id, Mood: MoodNeutral, Patience: 100}
}

// ChatMessage is one line in an NPC conversation.
type ChatMessage struct {
	ID         string `json:"id"`
	NpcID      string `json:"npcId"`
	Text       string `json:"text"`
	Tick       int64  `json:"tick"`
	FromPlayer bool   `json:"isFromPlayer"`
	System     bool   `json:"isSystem,omitempty"`
}

// TerminalEntry records one executed command. Entries are never modified.
type TerminalEntry struct {
	Command string `json:"command"`
	Output  string `json:"output"`
	Cwd     string `json:"cwd"`
	Tick    int64  `json:"tick"`
	IsError bool   `json:"isError,omitempty"`
}

// Score is the player's running tally.
type Score struct {
	Total         int `json:"total"`
	Streak        int `json:"streak"`
	MaxStreak     int `json:"maxStreak"`
	SecurityScore int `json:"securityScore"`
	Completed     int `json:"requestsCompleted"`
	Failed        int `json:"requestsFailed"`
	Expired       int `json:"requestsExpired"`
}

// Resources are the workstation gauges, each a 0..100 percentage.
type Resources struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Network float64 `json:"network"`
	Disk    float64 `json:"disk"`
}

// Email is a message in the email tool. Sent mail has To set; inbox mail
// has From set.
type Email struct {
	ID      string `json:"id"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Tick    int64  `json:"tick"`
}

// CalendarEvent is an entry added through the calendar tool.
type CalendarEvent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	When  string `json:"when"`
	Tick  int64  `json:"tick"`
}

// ActivityKind classifies a player action in the activity log.
type ActivityKind int

const (
	ActFileRead ActivityKind = iota
	ActFileCreated
	ActFileWritten
	ActCommand
	ActSearch
	ActEmail
	ActCalendar
	ActTool
)

func (k ActivityKind) String() string {
	switch k {
	case ActFileRead:
		return "file_read"
	case ActFileCreated:
		return "file_created"
	case ActFileWritten:
		return "file_written"
	case ActCommand:
		return "command"
	case ActSearch:
		return "search"
	case ActEmail:
		return "email"
	case ActCalendar:
		return "calendar"
	case ActTool:
		return "tool"
	default:
		return "unknown"
	}
}

func (k ActivityKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Activity is one entry in the append-only action log. Subject is the path,
// command line, query, recipient or tool name depending on Kind.
type Activity struct {
	Kind    ActivityKind `json:"kind"`
	Tick    int64        `json:"tick"`
	Subject string       `json:"subject"`
	Detail  string       `json:"detail,omitempty"`
}

// Violation is one recorded security violation.
type Violation struct {
	Kind   string `json:"kind"`
	Tick   int64  `json:"tick"`
	Detail string `json:"detail"`
}

// Source records where a request's content came from.
type Source string

const (
	SourceGenerated Source = "generated"
	SourcePool      Source = "pool"
)

// Objective is one checkable goal of a request. Completed and Failed are
// sticky: once set they never revert.
type Objective struct {
	ID          string
	Description string
	Validator   Validator
	Completed   bool
	Failed      bool
}

type objectiveJSON struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Params      map[string]any `json:"params,omitempty"`
	Completed   bool           `json:"completed"`
	Failed      bool           `json:"failed,omitempty"`
}

func (o Objective) MarshalJSON() ([]byte, error) {
	j := objectiveJSON{
		ID:          o.ID,
		Description: o.Description,
		Completed:   o.Completed,
		Failed:      o.Failed,
	}
	if o.Validator != nil {
		j.Type = o.Validator.Kind()
		j.Params = Params(o.Validator)
	}
	return json.Marshal(j)
}

// Request is one unit of work from the NPC.
type Request struct {
	ID                string       `json:"id"`
	NpcID             string       `json:"npcId"`
	Title             string       `json:"title"`
	Description       string       `json:"description"`
	Tier              int          `json:"tier"`
	Status            Status       `json:"status"`
	Objectives        []*Objective `json:"objectives"`
	ArrivalTick       int64        `json:"arrivalTick"`
	DeadlineTicks     int64        `json:"deadlineTicks"`
	BasePoints        int          `json:"basePoints"`
	InitialMessage    string       `json:"initialMessage"`
	CompletionMessage string       `json:"completionMessage"`
	FailureMessage    string       `json:"failureMessage"`
	IsSecurityTrap    bool         `json:"isSecurityTrap"`
	Introduced        bool         `json:"introduced"`
	Source            Source       `json:"source"`
	PointsAwarded     int          `json:"pointsAwarded,omitempty"`
	ResolvedTick      int64        `json:"resolvedTick,omitempty"`
}

// Elapsed returns the ticks since arrival.
func (r *Request) Elapsed(tick int64) int64 {
	return tick - r.ArrivalTick
}

// Remaining returns the ticks left before the deadline, never negative.
func (r *Request) Remaining(tick int64) int64 {
	left := r.DeadlineTicks - r.Elapsed(tick)
	if left < 0 {
		return 0
	}
	return left
}

func (r *Request) String() string {
	return fmt.Sprintf("%s [%s] tier %d %q", r.ID, r.Status, r.Tier, r.Title)
}
