package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/content"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/queue"
	"github.com/crystal-mush/clawback/pkg/world"
)

type mockAdder struct {
	w     *world.World
	added []*world.Request
}

func (m *mockAdder) Add(r *world.Request) {
	r.Status = world.StatusIncoming
	r.ArrivalTick = m.w.Now()
	m.w.Requests = append(m.w.Requests, r)
	m.added = append(m.added, r)
}

type mockGenerator struct {
	req    *world.Request
	err    error
	params []content.RequestParams
}

func (g *mockGenerator) GenerateRequest(_ context.Context, p content.RequestParams) (*world.Request, error) {
	g.params = append(g.params, p)
	return g.req, g.err
}

type fixture struct {
	w     *world.World
	s     *Scheduler
	tasks *queue.Queue
	adder *mockAdder
}

func newFixture(gen Generator, seed int64) *fixture {
	w := world.New(events.NewBus(), world.WithRand(rand.New(rand.NewSource(seed))))
	w.Phase = world.PhasePlaying
	w.Persona = world.Persona{ID: "raj", Name: "Raj", Role: "Project Manager"}
	tasks := queue.New(queue.WithRunner(queue.Synchronous))
	adder := &mockAdder{w: w}
	return &fixture{w: w, s: New(w, config.DefaultSimConf(), tasks, gen, adder, nil), tasks: tasks, adder: adder}
}

// step mimics the engine: drain completions, advance, schedule.
func (f *fixture) step() {
	f.tasks.Drain()
	f.w.Clock.Advance()
	f.s.Tick()
}

// finishAll resolves every open request.
func (f *fixture) finishAll() {
	for _, r := range f.w.Requests {
		if !r.Status.Terminal() {
			r.Status = world.StatusCompleted
		}
	}
}

func TestCooldownGatesFirstRequest(t *testing.T) {
	f := newFixture(nil, 1)
	for i := int64(1); i < f.s.cooldown; i++ {
		f.step()
	}
	f.tasks.Drain()
	assert.Empty(t, f.adder.added)
	f.step()
	f.tasks.Drain()
	require.Len(t, f.adder.added, 1)
	r := f.adder.added[0]
	assert.Equal(t, 1, r.Tier)
	assert.Equal(t, "raj", r.NpcID)
	assert.Equal(t, world.SourcePool, r.Source)
}

func TestCooldownWithinRange(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		f := newFixture(nil, seed)
		assert.GreaterOrEqual(t, f.s.cooldown, int64(15))
		assert.LessOrEqual(t, f.s.cooldown, int64(30))
	}
}

func TestAtMostOneOpenRequest(t *testing.T) {
	f := newFixture(nil, 2)
	for i := 0; i < 200; i++ {
		f.step()
		assert.LessOrEqual(t, f.w.OpenRequests(), 1)
	}
	assert.Len(t, f.adder.added, 1, "nothing new while the first request is open")

	f.finishAll()
	for i := 0; i < 31; i++ {
		f.step()
	}
	f.tasks.Drain()
	assert.Len(t, f.adder.added, 2)
}

func TestNoRequestOutsideWorkHours(t *testing.T) {
	f := newFixture(nil, 3)
	f.w.Clock.Hour = 19
	for i := 0; i < 60; i++ {
		f.step()
	}
	assert.Empty(t, f.adder.added)

	f.s.conf.RequireWorkHours = false
	f.step()
	f.tasks.Drain()
	assert.Len(t, f.adder.added, 1)
}

func TestTrapGuarantee(t *testing.T) {
	f := newFixture(nil, 4)
	f.s.conf.TrapProbability = 0
	for len(f.adder.added) < 6 {
		f.step()
		f.tasks.Drain()
		f.finishAll()
	}
	for _, r := range f.adder.added[:5] {
		assert.False(t, r.IsSecurityTrap, r.Title)
	}
	assert.True(t, f.adder.added[5].IsSecurityTrap)
	assert.Equal(t, 1, f.s.TrapCount())
	assert.Equal(t, 6, f.s.RequestCount())
}

func TestGeneratedRequestUsed(t *testing.T) {
	gen := &mockGenerator{req: &world.Request{
		ID:    "gen-1",
		Title: "Generated",
		Tier:  3,
		Objectives: []*world.Objective{
			{ID: "a", Validator: world.ChatReply{NpcID: "someone"}},
		},
		Source: world.SourceGenerated,
	}}
	f := newFixture(gen, 5)
	f.s.cooldown = 0
	f.step()
	f.tasks.Drain()

	require.Len(t, gen.params, 1)
	assert.Equal(t, 1, gen.params[0].Tier)
	assert.NotEmpty(t, gen.params[0].AvailableFiles)
	require.Len(t, f.adder.added, 1)
	r := f.adder.added[0]
	assert.Equal(t, "gen-1", r.ID)
	assert.Equal(t, 1, r.Tier, "tier forced to the chosen one")
	assert.Equal(t, world.ChatReply{NpcID: "raj"}, r.Objectives[0].Validator)
	assert.Equal(t, []string{"Generated"}, f.s.PreviousTitles())
}

func TestGenerationFailureFallsBack(t *testing.T) {
	gen := &mockGenerator{err: errors.New("timeout")}
	f := newFixture(gen, 6)
	f.s.cooldown = 0
	f.step()
	f.tasks.Drain()
	require.Len(t, f.adder.added, 1)
	assert.Equal(t, world.SourcePool, f.adder.added[0].Source)
}

func TestStaleCompletionDropped(t *testing.T) {
	gen := &mockGenerator{err: errors.New("slow")}
	f := newFixture(gen, 7)
	f.s.cooldown = 0
	f.w.Clock.Advance()
	f.s.Tick()
	assert.True(t, f.tasks.InFlight(TaskKey))
	f.s.Tick()
	assert.Len(t, gen.params, 1, "second tick is a no-op while in flight")

	f.tasks.Reset()
	f.tasks.Drain()
	assert.Empty(t, f.adder.added)
}

func TestCompletionRechecksPhase(t *testing.T) {
	f := newFixture(nil, 8)
	f.s.cooldown = 0
	f.w.Clock.Advance()
	f.s.Tick()
	f.w.Phase = world.PhaseGameOver
	f.tasks.Drain()
	assert.Empty(t, f.adder.added)
}

func TestResetClearsCounters(t *testing.T) {
	f := newFixture(nil, 9)
	f.s.cooldown = 0
	f.step()
	f.tasks.Drain()
	require.Equal(t, 1, f.s.RequestCount())
	f.s.Reset()
	assert.Equal(t, 0, f.s.RequestCount())
	assert.Empty(t, f.s.PreviousTitles())
}

func TestPoolRecyclesTier(t *testing.T) {
	p := NewPool()
	rng := rand.New(rand.NewSource(1))
	var tier1 int
	for _, s := range defaultScenarios {
		if s.Tier == 1 {
			tier1++
		}
	}
	seen := map[string]int{}
	for i := 0; i < tier1; i++ {
		s, ok := p.Pick(rng, 1, i == 0)
		require.True(t, ok)
		seen[s.ID]++
	}
	assert.Len(t, seen, tier1, "no repeats until the tier is used up")

	s, ok := p.Pick(rng, 1, false)
	require.True(t, ok)
	assert.Equal(t, 1, s.Tier)

	_, ok = p.Pick(rng, 9, false)
	assert.False(t, ok)
}

func TestPoolTrapPreference(t *testing.T) {
	p := NewPool()
	rng := rand.New(rand.NewSource(2))
	for tier := 1; tier <= 4; tier++ {
		s, ok := p.Pick(rng, tier, true)
		require.True(t, ok)
		assert.True(t, s.Trap, "tier %d", tier)
		assert.Equal(t, tier, s.Tier)
	}
	s, _ := p.Pick(rng, 1, true)
	assert.True(t, s.Trap, "used trap reused over plain scenario")
}

func TestScenarioRequest(t *testing.T) {
	p := NewPool()
	s, ok := p.Pick(rand.New(rand.NewSource(3)), 2, true)
	require.True(t, ok)
	r := s.Request("id-1", "luna")
	assert.Equal(t, "id-1", r.ID)
	assert.Equal(t, world.StatusIncoming, r.Status)
	assert.Len(t, r.Objectives, len(s.Objectives))
	for _, o := range r.Objectives {
		if cc, ok := o.Validator.(world.ChatContains); ok {
			assert.Equal(t, "luna", cc.NpcID)
		}
	}
}

func TestParseScenariosRejects(t *testing.T) {
	_, err := ParseScenarios([]byte("- id: x\n  tier: 7\n  deadline: 10\n  objectives: [{validator: chat_reply}]\n"))
	assert.Error(t, err)
	_, err = ParseScenarios([]byte("- id: x\n  tier: 1\n  deadline: 10\n  objectives: [{validator: warp}]\n"))
	assert.Error(t, err)
}

func TestPoolWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- id: a\n  tier: 1\n  title: A\n  deadline: 10\n  objectives: [{validator: chat_reply}]\n"), 0o644))

	p := NewPool()
	require.NoError(t, p.Load(path))
	assert.Equal(t, 1, p.Len())

	stop, err := p.Watch(path)
	require.NoError(t, err)
	defer stop()

	two := "- id: a\n  tier: 1\n  title: A\n  deadline: 10\n  objectives: [{validator: chat_reply}]\n" +
		"- id: b\n  tier: 2\n  title: B\n  deadline: 10\n  objectives: [{validator: chat_reply}]\n"
	require.NoError(t, os.WriteFile(path, []byte(two), 0o644))
	assert.Eventually(t, func() bool { return p.Len() == 2 }, 2*time.Second, 20*time.Millisecond)
}
