package content

import (
	"errors"

	"github.com/crystal-mush/clawback/pkg/world"
)

var (
	// ErrUnavailable means no backend is configured.
	ErrUnavailable = errors.New("content: generation unavailable")
	// ErrMalformed means the backend answered with unusable data.
	ErrMalformed = errors.New("content: malformed response")
	// ErrRateLimited means an NPC-initiated message was asked for too soon.
	ErrRateLimited = errors.New("content: rate limited")
)

// MessageKind selects the prompt for an NPC chat line.
type MessageKind string

const (
	KindInitial MessageKind = "initial" // introduce the current request
	KindCheckIn MessageKind = "checkin" // follow up on an unanswered message
	KindReply   MessageKind = "reply"   // answer the player
)

// RequestBrief is the part of a request an NPC message prompt needs.
type RequestBrief struct {
	Title          string
	Description    string
	Outstanding    []string // descriptions of objectives not yet done
	InitialMessage string
}

// BriefOf extracts a RequestBrief from r. It returns nil for a nil request.
func BriefOf(r *world.Request) *RequestBrief {
	if r == nil {
		return nil
	}
	b := &RequestBrief{Title: r.Title, Description: r.Description, InitialMessage: r.InitialMessage}
	for _, o := range r.Objectives {
		if !o.Completed && !world.IsGuard(o.Validator) {
			b.Outstanding = append(b.Outstanding, o.Description)
		}
	}
	return b
}

// RecentLine is one conversation line given to the model.
type RecentLine struct {
	FromPlayer bool
	Text       string
}

// MessageParams describe one NPC chat line to generate.
type MessageParams struct {
	Persona  world.Persona
	Kind     MessageKind
	Mood     world.Mood
	Patience float64
	Request  *RequestBrief
	Recent   []RecentLine
}

// RequestParams describe one request to generate.
type RequestParams struct {
	Persona        world.Persona
	Tier           int
	IsSecurityTrap bool
	AvailableFiles []string
	PreviousTitles []string
}
