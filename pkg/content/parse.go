package content

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/world"
)

type rawObjective struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Validator   string         `json:"validator"`
	Params      map[string]any `json:"params"`
}

type rawRequest struct {
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Objectives        []rawObjective `json:"objectives"`
	DeadlineTicks     *float64       `json:"deadlineTicks"`
	BasePoints        *float64       `json:"basePoints"`
	InitialMessage    string         `json:"initialMessage"`
	CompletionMessage string         `json:"completionMessage"`
	FailureMessage    string         `json:"failureMessage"`
	IsSecurityTrap    bool           `json:"isSecurityTrap"`
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(data []byte) []byte {
	s := strings.TrimSpace(string(data))
	if !strings.HasPrefix(s, "```") {
		return data
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}

func clampNum(v *float64, lo, hi float64) float64 {
	if v == nil {
		return lo
	}
	return world.Clamp(*v, lo, hi)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// ParseRequest validates a generated request. Objectives with unknown
// validators, bad parameters or file_read paths outside p.AvailableFiles are
// dropped; chat validators are bound to p.Persona. A request left with no
// objectives is rejected.
func ParseRequest(data []byte, p RequestParams, conf *config.SimConf, newID func() string) (*world.Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(stripFence(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var objs []*world.Objective
	for i, o := range raw.Objectives {
		v, err := world.ParseValidator(o.Validator, o.Params)
		if err != nil {
			continue
		}
		if fr, ok := v.(world.FileRead); ok && !slices.Contains(p.AvailableFiles, fr.Path) {
			continue
		}
		objs = append(objs, &world.Objective{
			ID:          orDefault(o.ID, fmt.Sprintf("obj-%d", i)),
			Description: orDefault(o.Description, fmt.Sprintf("Objective %d", i+1)),
			Validator:   world.BindNpc(v, p.Persona.ID),
		})
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%w: no usable objectives", ErrMalformed)
	}

	return &world.Request{
		ID:                newID(),
		NpcID:             p.Persona.ID,
		Title:             orDefault(raw.Title, "Untitled Request"),
		Description:       raw.Description,
		Tier:              p.Tier,
		Status:            world.StatusIncoming,
		Objectives:        objs,
		DeadlineTicks:     int64(clampNum(raw.DeadlineTicks, float64(conf.DeadlineMin), float64(conf.DeadlineMax))),
		BasePoints:        int(clampNum(raw.BasePoints, float64(conf.PointsMin), float64(conf.PointsMax))),
		InitialMessage:    orDefault(raw.InitialMessage, "Hey, I need help."),
		CompletionMessage: orDefault(raw.CompletionMessage, "Thanks!"),
		FailureMessage:    orDefault(raw.FailureMessage, "I needed that done..."),
		IsSecurityTrap:    p.IsSecurityTrap || raw.IsSecurityTrap,
		Source:            world.SourceGenerated,
	}, nil
}

type rawPersona struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Description string   `json:"description"`
	Patience    *float64 `json:"patience"`
	TechSavvy   *float64 `json:"techSavvy"`
	Politeness  *float64 `json:"politeness"`
	Quirk       string   `json:"quirk"`
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(name string, i int) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(s) > 30 {
		s = s[:30]
	}
	return fmt.Sprintf("%s-%d", s, i)
}

func trait(v *float64) float64 {
	if v == nil {
		return 0.5
	}
	return world.Clamp(*v, 0, 1)
}

// ParsePersonas validates a generated persona list. Entries without a name
// or role are skipped; a list with fewer than three usable entries is rejected.
func ParsePersonas(data []byte) ([]world.Persona, error) {
	var raw struct {
		NPCs []rawPersona `json:"npcs"`
	}
	if err := json.Unmarshal(stripFence(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var out []world.Persona
	for i, r := range raw.NPCs {
		name, role := strings.TrimSpace(r.Name), strings.TrimSpace(r.Role)
		if name == "" || role == "" {
			continue
		}
		out = append(out, world.Persona{
			ID:          slug(name, i),
			Name:        name,
			Role:        role,
			Patience:    trait(r.Patience),
			TechSavvy:   trait(r.TechSavvy),
			Politeness:  trait(r.Politeness),
			Quirk:       orDefault(strings.TrimSpace(r.Quirk), "Has no particular quirks"),
			Description: orDefault(strings.TrimSpace(r.Description), fmt.Sprintf("%s works as %s.", name, role)),
		})
	}
	if len(out) < 3 {
		return nil, fmt.Errorf("%w: only %d usable personas", ErrMalformed, len(out))
	}
	return out, nil
}
