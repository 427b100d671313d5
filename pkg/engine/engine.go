// Package engine wires the simulation together and owns the tick loop.
// Every world mutation happens under the engine lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/crystal-mush/clawback/pkg/clock"
	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/content"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/npc"
	"github.com/crystal-mush/clawback/pkg/queue"
	"github.com/crystal-mush/clawback/pkg/request"
	"github.com/crystal-mush/clawback/pkg/resources"
	"github.com/crystal-mush/clawback/pkg/scheduler"
	"github.com/crystal-mush/clawback/pkg/security"
	"github.com/crystal-mush/clawback/pkg/shell"
	"github.com/crystal-mush/clawback/pkg/world"
)

// Game over reasons carried in the game_over event.
const (
	ReasonNpcLeft        = "npc_left"
	ReasonSecurityBreach = "security_breach"
)

// Engine runs one simulated workday.
type Engine struct {
	mu sync.Mutex

	conf     *config.SimConf
	bus      *events.Bus
	w        *world.World
	tasks    *queue.Queue
	shell    *shell.Shell
	npc      *npc.Manager
	requests *request.Manager
	sched    *scheduler.Scheduler
	gauges   *resources.Gauges
	security *security.Monitor

	content *content.Service
	pool    *scheduler.Pool
	runner  queue.Runner
	rng     *rand.Rand

	wake chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithContent enables generated NPC messages and requests.
func WithContent(s *content.Service) Option {
	return func(e *Engine) { e.content = s }
}

// WithBus publishes on bus instead of a private one.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithRand makes the run reproducible.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithRunner sets how async tasks are executed; tests use queue.Synchronous.
func WithRunner(r queue.Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithPool replaces the fallback scenario pool.
func WithPool(p *scheduler.Pool) Option {
	return func(e *Engine) { e.pool = p }
}

// New builds an idle engine.
func New(conf *config.SimConf, opts ...Option) *Engine {
	e := &Engine{conf: conf, wake: make(chan struct{}, 1)}
	for _, o := range opts {
		o(e)
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}
	if e.rng == nil {
		seed := conf.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		e.rng = rand.New(rand.NewSource(seed))
	}
	var qopts []queue.Option
	if e.runner != nil {
		qopts = append(qopts, queue.WithRunner(e.runner))
	}
	e.tasks = queue.New(qopts...)

	e.w = world.New(e.bus, world.WithRand(e.rng))
	e.shell = shell.New(e.w.FS, e.bus, func() *clock.Clock { return e.w.Clock })

	// A nil *content.Service must not become a non-nil interface.
	var msgGen npc.Generator
	var reqGen scheduler.Generator
	if e.content != nil {
		msgGen, reqGen = e.content, e.content
	}
	e.npc = npc.NewManager(e.w, conf, e.tasks, msgGen)
	e.requests = request.NewManager(e.w, conf, e.npc)
	e.sched = scheduler.New(e.w, conf, e.tasks, reqGen, e.requests, e.pool)
	e.gauges = resources.New(e.w, conf.ResourceRecovery)
	e.security = security.Attach(e.w, conf)
	return e
}

// Bus returns the event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Conf returns the tuning in use.
func (e *Engine) Conf() *config.SimConf { return e.conf }

// Scheduler returns the request scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// Tasks returns the async task queue.
func (e *Engine) Tasks() *queue.Queue { return e.tasks }

// Start resets the world and begins a run with persona as the NPC.
func (e *Engine) Start(persona world.Persona) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
	e.w.Persona = persona
	e.w.Npc(persona.ID)
	e.seed()
	e.w.Phase = world.PhasePlaying
	e.w.Clock.Speed = clock.Normal
	log.Printf("engine: started with %s (%s)", persona.Name, persona.Role)
	e.poke()
}

// Reset abandons the run and returns to idle.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
	e.poke()
}

func (e *Engine) reset() {
	e.tasks.Reset()
	e.w.Reset()
	e.sched.Reset()
}

// Close cancels in-flight tasks. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.tasks.Close()
}

// Pause stops the clock.
func (e *Engine) Pause() { e.SetSpeed(clock.Paused) }

// Resume restarts the clock at normal speed.
func (e *Engine) Resume() { e.SetSpeed(clock.Normal) }

// SetSpeed changes the tick rate.
func (e *Engine) SetSpeed(s clock.Speed) {
	e.mu.Lock()
	e.w.Clock.Speed = s
	e.mu.Unlock()
	e.poke()
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.w.Playing() {
		return 0
	}
	switch e.w.Clock.Speed {
	case clock.Fast:
		return e.conf.FastTickInterval
	case clock.Normal:
		return e.conf.TickInterval
	}
	return 0
}

// Run drives the tick loop until ctx is done. Finished async tasks are
// applied as soon as they are posted, between ticks.
func (e *Engine) Run(ctx context.Context) {
	var timer *time.Timer
	var tickC <-chan time.Time
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		tickC = nil
		if d := e.interval(); d > 0 {
			timer = time.NewTimer(d)
			tickC = timer.C
		}
	}
	arm()
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			arm()
		case <-e.tasks.Notify():
			e.safely(e.drain)
		case <-tickC:
			e.safely(e.Step)
			arm()
		}
	}
}

func (e *Engine) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: PANIC in loop: %v", r)
		}
	}()
	fn()
}

func (e *Engine) drain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.w.Playing() {
		return
	}
	e.tasks.Drain()
	e.checkGameOver()
}

// Step runs one tick regardless of speed. It does nothing unless a run is
// in progress.
func (e *Engine) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.w.Playing() {
		return
	}
	e.tasks.Drain()
	if !e.w.Playing() {
		return
	}
	e.w.Clock.Advance()
	e.sched.Tick()
	e.npc.Tick()
	e.gauges.Tick()
	e.requests.Tick()
	e.w.Emit(events.Event{Type: events.EvTick, Text: e.w.Clock.String()})
	e.checkGameOver()
}

func (e *Engine) checkGameOver() {
	if !e.w.Playing() {
		return
	}
	reason := ""
	switch {
	case e.w.Npc(e.w.Persona.ID).HasLeft:
		reason = ReasonNpcLeft
	case e.security.Breached():
		reason = ReasonSecurityBreach
	default:
		return
	}
	e.w.Phase = world.PhaseGameOver
	e.tasks.Reset()
	log.Printf("engine: game over (%s) at tick %d, score %d", reason, e.w.Now(), e.w.Score.Total)
	e.w.Emit(events.Event{
		Type:  events.EvGameOver,
		NpcID: e.w.Persona.ID,
		Kind:  reason,
		Data: map[string]any{
			"score":     e.w.Score.Total,
			"maxStreak": e.w.Score.MaxStreak,
			"completed": e.w.Score.Completed,
			"failed":    e.w.Score.Failed,
			"expired":   e.w.Score.Expired,
			"security":  e.w.Score.SecurityScore,
		},
	})
}

// --- Player actions ---

// ErrNotPlaying is returned by player actions outside a run.
var ErrNotPlaying = errors.New("engine: no run in progress")

// ExecCommand runs a terminal command line.
func (e *Engine) ExecCommand(input string) shell.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.w.Playing() {
		return shell.Result{Output: "No active session.", IsError: true}
	}
	cwd := e.w.Cwd
	res := e.shell.Execute(input, cwd)
	if res.NewCwd != "" {
		e.w.Cwd = res.NewCwd
	}
	e.gauges.Apply(res.SideEffects)
	e.w.AppendTerminal(world.TerminalEntry{
		Command: input,
		Output:  res.Output,
		Cwd:     cwd,
		Tick:    e.w.Now(),
		IsError: res.IsError,
	})
	e.checkGameOver()
	return res
}

// SendChat sends a player message to the NPC.
func (e *Engine) SendChat(text string) (world.ChatMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.w.Playing() {
		return world.ChatMessage{}, ErrNotPlaying
	}
	return e.npc.PlayerMessage(e.w.Persona.ID, text), nil
}

// SendEmail sends mail through the email tool.
func (e *Engine) SendEmail(to, subject, body string) (world.Email, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.w.Playing() {
		return world.Email{}, ErrNotPlaying
	}
	em, _ := e.w.RecordEmail(to, subject, body)
	e.checkGameOver()
	return em, nil
}

// Search runs a web search.
func (e *Engine) Search(query string) ([]SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.w.Playing() {
		return nil, ErrNotPlaying
	}
	e.w.RecordSearch(query)
	return searchResults(query), nil
}

// AddCalendarEvent books a calendar entry.
func (e *Engine) AddCalendarEvent(title, when string) (world.CalendarEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.w.Playing() {
		return world.CalendarEvent{}, ErrNotPlaying
	}
	return e.w.RecordCalendar(title, when), nil
}

// UseTool records that the player opened a collaborator tool.
func (e *Engine) UseTool(tool string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.w.Playing() {
		return ErrNotPlaying
	}
	if !slices.Contains(world.Tools, tool) {
		return fmt.Errorf("engine: unknown tool %q", tool)
	}
	e.w.RecordTool(tool)
	return nil
}

// Snapshot copies the world state.
func (e *Engine) Snapshot() world.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Snapshot()
}

// Phase returns the current phase.
func (e *Engine) Phase() world.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Phase
}

// Commands lists the terminal vocabulary.
func (e *Engine) Commands() []string {
	return e.shell.Commands()
}
