// Package config holds the tunable simulation parameters.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// TierStage gives the tier weights used once at least MinRequests requests
// have been scheduled. Weights[i] is the relative weight of tier i+1.
type TierStage struct {
	MinRequests int        `yaml:"min_requests"`
	Weights     [4]float64 `yaml:"weights"`
}

// SimConf holds every tuned constant of the simulation.
type SimConf struct {
	// --- Loop ---
	TickInterval     time.Duration `yaml:"tick_interval"`
	FastTickInterval time.Duration `yaml:"fast_tick_interval"`
	Seed             int64         `yaml:"seed"` // 0 picks a random seed
	Debug            bool          `yaml:"debug"`

	// --- Scheduler ---
	CooldownMin        int         `yaml:"cooldown_min"`
	CooldownMax        int         `yaml:"cooldown_max"`
	TrapProbability    float64     `yaml:"trap_probability"`
	TrapGuaranteeAfter int         `yaml:"trap_guarantee_after"`
	TierStages         []TierStage `yaml:"tier_stages"`
	ScenarioFile       string      `yaml:"scenario_file"`
	RequireWorkHours   bool        `yaml:"require_work_hours"`

	// --- Requests ---
	IncomingDelay            int64   `yaml:"incoming_delay"`
	StreakStep               float64 `yaml:"streak_step"`
	MaxStreakBonus           float64 `yaml:"max_streak_bonus"`
	CompletionReputation     float64 `yaml:"completion_reputation"`
	TrapCompletionReputation float64 `yaml:"trap_completion_reputation"`
	ExpiryPenalty            int     `yaml:"expiry_penalty"`
	ExpiryReputation         float64 `yaml:"expiry_reputation"`
	FailurePenalty           int     `yaml:"failure_penalty"`
	FailureReputation        float64 `yaml:"failure_reputation"`

	// --- NPC ---
	DecayScale       float64       `yaml:"decay_scale"`
	IntroDelay       int64         `yaml:"intro_delay"`
	FollowUpInterval int64         `yaml:"follow_up_interval"`
	TypingDelay      time.Duration `yaml:"typing_delay"`
	MessageInterval  time.Duration `yaml:"message_interval"`

	// --- Content generation ---
	Model            string        `yaml:"model"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MessageTimeout   time.Duration `yaml:"message_timeout"`
	RequestMaxTokens int32         `yaml:"request_max_tokens"`
	MessageMaxTokens int32         `yaml:"message_max_tokens"`
	DeadlineMin      int64         `yaml:"deadline_min"`
	DeadlineMax      int64         `yaml:"deadline_max"`
	PointsMin        int           `yaml:"points_min"`
	PointsMax        int           `yaml:"points_max"`

	// --- Security ---
	TrapPenalty       int `yaml:"trap_penalty"`
	DangerousPenalty  int `yaml:"dangerous_penalty"`
	CredentialPenalty int `yaml:"credential_penalty"`

	// --- Resources ---
	ResourceRecovery float64 `yaml:"resource_recovery"`

	// --- Storage ---
	ArchivePath      string `yaml:"archive_path"`
	JournalPath      string `yaml:"journal_path"`
	JournalRetention int    `yaml:"journal_retention_days"`

	// --- Web ---
	WebAddr     string   `yaml:"web_addr"`
	JWTSecret   string   `yaml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateLimit   float64  `yaml:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst"`
}

// DefaultTierStages is the difficulty ramp by requests scheduled so far.
func DefaultTierStages() []TierStage {
	return []TierStage{
		{MinRequests: 0, Weights: [4]float64{1, 0, 0, 0}},
		{MinRequests: 3, Weights: [4]float64{0.7, 0.3, 0, 0}},
		{MinRequests: 6, Weights: [4]float64{0.15, 0.5, 0.35, 0}},
		{MinRequests: 10, Weights: [4]float64{0.2, 0.3, 0.3, 0.2}},
		{MinRequests: 15, Weights: [4]float64{0.1, 0.25, 0.35, 0.3}},
	}
}

// DefaultSimConf returns the stock tuning.
func DefaultSimConf() *SimConf {
	return &SimConf{
		TickInterval:     500 * time.Millisecond,
		FastTickInterval: 250 * time.Millisecond,

		CooldownMin:        15,
		CooldownMax:        30,
		TrapProbability:    0.15,
		TrapGuaranteeAfter: 5,
		TierStages:         DefaultTierStages(),
		RequireWorkHours:   true,

		IncomingDelay:            2,
		StreakStep:               0.1,
		MaxStreakBonus:           2,
		CompletionReputation:     15,
		TrapCompletionReputation: 5,
		ExpiryPenalty:            50,
		ExpiryReputation:         15,
		FailurePenalty:           25,
		FailureReputation:        5,

		DecayScale:       2,
		IntroDelay:       3,
		FollowUpInterval: 40,
		TypingDelay:      1200 * time.Millisecond,
		MessageInterval:  2 * time.Second,

		Model:            "gemini-2.5-flash",
		RequestTimeout:   8 * time.Second,
		MessageTimeout:   8 * time.Second,
		RequestMaxTokens: 1024,
		MessageMaxTokens: 40,
		DeadlineMin:      30,
		DeadlineMax:      200,
		PointsMin:        30,
		PointsMax:        300,

		TrapPenalty:       10,
		DangerousPenalty:  15,
		CredentialPenalty: 25,

		ResourceRecovery: 0.5,

		JournalRetention: 30,

		CORSOrigins: []string{"*"},
		RateLimit:   10,
		RateBurst:   20,
	}
}

// LoadSimConf reads a YAML file over the defaults.
func LoadSimConf(path string) (*SimConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	sc := DefaultSimConf()
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Validate rejects inconsistent tuning and sorts the tier stages.
func (sc *SimConf) Validate() error {
	var errs []error
	if sc.TickInterval <= 0 || sc.FastTickInterval <= 0 {
		errs = append(errs, errors.New("tick intervals must be positive"))
	}
	if sc.CooldownMin < 0 || sc.CooldownMax < sc.CooldownMin {
		errs = append(errs, fmt.Errorf("cooldown range [%d,%d] is invalid", sc.CooldownMin, sc.CooldownMax))
	}
	if sc.TrapProbability < 0 || sc.TrapProbability > 1 {
		errs = append(errs, fmt.Errorf("trap_probability %v outside [0,1]", sc.TrapProbability))
	}
	if len(sc.TierStages) == 0 {
		errs = append(errs, errors.New("tier_stages must not be empty"))
	}
	for i, st := range sc.TierStages {
		sum := 0.0
		for _, w := range st.Weights {
			if w < 0 {
				errs = append(errs, fmt.Errorf("tier_stages[%d]: negative weight", i))
			}
			sum += w
		}
		if sum <= 0 {
			errs = append(errs, fmt.Errorf("tier_stages[%d]: weights sum to zero", i))
		}
	}
	if sc.DeadlineMin <= 0 || sc.DeadlineMax < sc.DeadlineMin {
		errs = append(errs, fmt.Errorf("deadline clamp [%d,%d] is invalid", sc.DeadlineMin, sc.DeadlineMax))
	}
	if sc.PointsMin <= 0 || sc.PointsMax < sc.PointsMin {
		errs = append(errs, fmt.Errorf("points clamp [%d,%d] is invalid", sc.PointsMin, sc.PointsMax))
	}
	if sc.DecayScale < 0 {
		errs = append(errs, errors.New("decay_scale must not be negative"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	sort.SliceStable(sc.TierStages, func(i, j int) bool {
		return sc.TierStages[i].MinRequests < sc.TierStages[j].MinRequests
	})
	return nil
}

// StageFor returns the tier weights in effect after count requests.
func (sc *SimConf) StageFor(count int) [4]float64 {
	w := sc.TierStages[0].Weights
	for _, st := range sc.TierStages {
		if count >= st.MinRequests {
			w = st.Weights
		}
	}
	return w
}
