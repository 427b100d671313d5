package scheduler

import (
	_ "embed"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/clawback/pkg/world"
)

//go:embed scenarios.yaml
var builtinScenarios []byte

// ScenarioObjective is one objective of a pool scenario.
type ScenarioObjective struct {
	Description string         `yaml:"description"`
	Validator   string         `yaml:"validator"`
	Params      map[string]any `yaml:"params"`
}

// Scenario is a hand-written request used when generation is unavailable.
type Scenario struct {
	ID                string              `yaml:"id"`
	Tier              int                 `yaml:"tier"`
	Trap              bool                `yaml:"trap"`
	Title             string              `yaml:"title"`
	Description       string              `yaml:"description"`
	Deadline          int64               `yaml:"deadline"`
	Points            int                 `yaml:"points"`
	InitialMessage    string              `yaml:"initial_message"`
	CompletionMessage string              `yaml:"completion_message"`
	FailureMessage    string              `yaml:"failure_message"`
	Objectives        []ScenarioObjective `yaml:"objectives"`
}

// ParseScenarios decodes and checks a YAML scenario list.
func ParseScenarios(data []byte) ([]Scenario, error) {
	var ss []Scenario
	if err := yaml.Unmarshal(data, &ss); err != nil {
		return nil, fmt.Errorf("scheduler: parse scenarios: %w", err)
	}
	seen := make(map[string]bool)
	for _, s := range ss {
		if s.ID == "" || seen[s.ID] {
			return nil, fmt.Errorf("scheduler: scenario %q: missing or duplicate id", s.ID)
		}
		seen[s.ID] = true
		if s.Tier < 1 || s.Tier > 4 {
			return nil, fmt.Errorf("scheduler: scenario %s: tier %d outside 1-4", s.ID, s.Tier)
		}
		if s.Deadline <= 0 || len(s.Objectives) == 0 {
			return nil, fmt.Errorf("scheduler: scenario %s: needs a deadline and objectives", s.ID)
		}
		for _, o := range s.Objectives {
			if _, err := world.ParseValidator(o.Validator, o.Params); err != nil {
				return nil, fmt.Errorf("scheduler: scenario %s: %w", s.ID, err)
			}
		}
	}
	return ss, nil
}

// Pool hands out scenarios without repeating one until its tier is used up.
type Pool struct {
	mu        sync.Mutex
	scenarios []Scenario
	used      map[string]bool
}

var defaultScenarios = func() []Scenario {
	ss, err := ParseScenarios(builtinScenarios)
	if err != nil {
		log.Fatalf("scheduler: builtin scenarios: %v", err)
	}
	return ss
}()

// NewPool creates a pool over the built-in scenarios.
func NewPool() *Pool {
	return &Pool{scenarios: append([]Scenario(nil), defaultScenarios...), used: make(map[string]bool)}
}

// Load replaces the scenarios with the contents of path.
func (p *Pool) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("scheduler: reading %s: %w", path, err)
	}
	ss, err := ParseScenarios(data)
	if err != nil {
		return err
	}
	p.Replace(ss)
	return nil
}

// Replace swaps in a new scenario list and forgets which were used.
func (p *Pool) Replace(ss []Scenario) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scenarios = ss
	p.used = make(map[string]bool)
}

// Reset forgets which scenarios were used.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used = make(map[string]bool)
}

// Len returns the number of scenarios.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scenarios)
}

// Pick chooses an unused scenario of tier, preferring ones whose trap flag
// matches trap. When no unused scenario matches, a used one that matches is
// picked again before falling back to a mismatched one. When the tier is
// used up its entries are recycled. Pick returns false when the pool has no
// scenario of that tier.
func (p *Pool) Pick(rng *rand.Rand, tier int, trap bool) (Scenario, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	unused := p.unused(tier)
	if len(unused) == 0 {
		for _, s := range p.scenarios {
			if s.Tier == tier {
				delete(p.used, s.ID)
			}
		}
		unused = p.unused(tier)
	}
	if len(unused) == 0 {
		return Scenario{}, false
	}

	var preferred []int
	for _, i := range unused {
		if p.scenarios[i].Trap == trap {
			preferred = append(preferred, i)
		}
	}
	if len(preferred) == 0 {
		for i, s := range p.scenarios {
			if s.Tier == tier && s.Trap == trap {
				preferred = append(preferred, i)
			}
		}
	}
	if len(preferred) == 0 {
		preferred = unused
	}
	s := p.scenarios[preferred[rng.Intn(len(preferred))]]
	p.used[s.ID] = true
	return s, true
}

func (p *Pool) unused(tier int) []int {
	var out []int
	for i, s := range p.scenarios {
		if s.Tier == tier && !p.used[s.ID] {
			out = append(out, i)
		}
	}
	return out
}

// Request builds a fresh request from s for npcID.
func (s Scenario) Request(id, npcID string) *world.Request {
	r := &world.Request{
		ID:                id,
		NpcID:             npcID,
		Title:             s.Title,
		Description:       s.Description,
		Tier:              s.Tier,
		Status:            world.StatusIncoming,
		DeadlineTicks:     s.Deadline,
		BasePoints:        s.Points,
		InitialMessage:    s.InitialMessage,
		CompletionMessage: s.CompletionMessage,
		FailureMessage:    s.FailureMessage,
		IsSecurityTrap:    s.Trap,
		Source:            world.SourcePool,
	}
	for i, o := range s.Objectives {
		v, err := world.ParseValidator(o.Validator, o.Params)
		if err != nil {
			continue
		}
		r.Objectives = append(r.Objectives, &world.Objective{
			ID:          fmt.Sprintf("%s-%d", s.ID, i),
			Description: o.Description,
			Validator:   world.BindNpc(v, npcID),
		})
	}
	return r
}
