package npc

import "github.com/crystal-mush/clawback/pkg/world"

// Event is an input to the mood reducer.
type Event int

const (
	EvDecay          Event = iota // patience changed
	EvRequestArrived              // a request was added
	EvCompleted                   // the request was completed
	EvExpired                     // the request expired
	EvReset                       // the run restarted
)

// Mood thresholds applied on decay.
const (
	AngryAt      = 20
	FrustratedAt = 50
)

// Severity ranks moods for escalation. Neutral and Happy share the lowest rank.
func Severity(m world.Mood) int {
	switch m {
	case world.MoodWaiting:
		return 1
	case world.MoodFrustrated:
		return 2
	case world.MoodAngry:
		return 3
	case world.MoodGone:
		return 4
	default:
		return 0
	}
}

// Reduce returns the mood after ev. It is the only place mood transitions
// are decided. Gone never changes.
func Reduce(mood world.Mood, patience float64, ev Event) world.Mood {
	if mood == world.MoodGone {
		return mood
	}
	switch ev {
	case EvDecay:
		target := mood
		switch {
		case patience <= 0:
			target = world.MoodGone
		case patience <= AngryAt:
			target = world.MoodAngry
		case patience <= FrustratedAt:
			target = world.MoodFrustrated
		}
		if Severity(target) > Severity(mood) {
			return target
		}
		return mood
	case EvRequestArrived:
		if mood == world.MoodNeutral || mood == world.MoodHappy {
			return world.MoodWaiting
		}
	case EvCompleted:
		return world.MoodHappy
	case EvExpired:
		return world.MoodAngry
	case EvReset:
		return world.MoodNeutral
	}
	return mood
}
