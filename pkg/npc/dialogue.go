package npc

import (
	_ "embed"
	"log"
	"math/rand"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/clawback/pkg/content"
	"github.com/crystal-mush/clawback/pkg/world"
)

//go:embed dialogues.yaml
var dialoguesYAML []byte

type dialogueTable struct {
	Moods          map[string]map[string][]string `yaml:"moods"`
	Generic        map[string][]string            `yaml:"generic"`
	Replies        map[string][]string            `yaml:"replies"`
	GenericReplies []string                       `yaml:"generic_replies"`
}

var dialogues = func() dialogueTable {
	var t dialogueTable
	if err := yaml.Unmarshal(dialoguesYAML, &t); err != nil {
		log.Fatalf("npc: builtin dialogues: %v", err)
	}
	return t
}()

func pick(rng *rand.Rand, pool []string) string {
	if len(pool) == 0 {
		return "..."
	}
	return pool[rng.Intn(len(pool))]
}

// MoodLine returns a canned line for npcID in mood, falling back to the
// generic pool for unknown NPCs.
func MoodLine(rng *rand.Rand, npcID string, mood world.Mood) string {
	if pool := dialogues.Moods[npcID][mood.String()]; len(pool) > 0 {
		return pick(rng, pool)
	}
	return pick(rng, dialogues.Generic[mood.String()])
}

// ReplyLine returns a canned answer to the player. Frustrated and angry NPCs
// answer with a mood line instead.
func ReplyLine(rng *rand.Rand, npcID string, mood world.Mood) string {
	if mood == world.MoodAngry || mood == world.MoodFrustrated {
		return MoodLine(rng, npcID, mood)
	}
	if pool := dialogues.Replies[npcID]; len(pool) > 0 {
		return pick(rng, pool)
	}
	return pick(rng, dialogues.GenericReplies)
}

// Fallback produces the line used when generation fails.
func Fallback(rng *rand.Rand, p content.MessageParams) string {
	switch p.Kind {
	case content.KindInitial:
		if p.Request != nil && p.Request.InitialMessage != "" {
			return p.Request.InitialMessage
		}
		return MoodLine(rng, p.Persona.ID, world.MoodNeutral)
	case content.KindReply:
		return ReplyLine(rng, p.Persona.ID, p.Mood)
	default:
		mood := p.Mood
		if mood == world.MoodNeutral || mood == world.MoodHappy {
			mood = world.MoodWaiting
		}
		return MoodLine(rng, p.Persona.ID, mood)
	}
}
