package npc

import (
	_ "embed"
	"fmt"
	"log"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/clawback/pkg/world"
)

//go:embed personas.yaml
var personasYAML []byte

var builtinPersonas = mustParsePersonas(personasYAML)

func mustParsePersonas(data []byte) []world.Persona {
	ps, err := ParsePersonas(data)
	if err != nil {
		log.Fatalf("npc: builtin personas: %v", err)
	}
	return ps
}

// ParsePersonas decodes a YAML list of personas. Trait values are clamped to [0,1].
func ParsePersonas(data []byte) ([]world.Persona, error) {
	var ps []world.Persona
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("npc: parse personas: %w", err)
	}
	for i := range ps {
		if ps[i].ID == "" || ps[i].Name == "" {
			return nil, fmt.Errorf("npc: persona %d: id and name are required", i)
		}
		ps[i].Patience = world.Clamp(ps[i].Patience, 0, 1)
		ps[i].TechSavvy = world.Clamp(ps[i].TechSavvy, 0, 1)
		ps[i].Politeness = world.Clamp(ps[i].Politeness, 0, 1)
	}
	return ps, nil
}

// Personas returns a copy of the built-in roster.
func Personas() []world.Persona {
	return append([]world.Persona(nil), builtinPersonas...)
}

// Lookup finds a built-in persona by ID.
func Lookup(id string) (world.Persona, bool) {
	for _, p := range builtinPersonas {
		if p.ID == id {
			return p, true
		}
	}
	return world.Persona{}, false
}
