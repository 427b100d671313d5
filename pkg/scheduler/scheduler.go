// Package scheduler decides when the NPC files its next request and where
// the request content comes from.
package scheduler

import (
	"context"
	"errors"
	"log"

	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/content"
	"github.com/crystal-mush/clawback/pkg/queue"
	"github.com/crystal-mush/clawback/pkg/world"
)

// Generator produces request content.
type Generator interface {
	GenerateRequest(ctx context.Context, p content.RequestParams) (*world.Request, error)
}

// Adder files a new request.
type Adder interface {
	Add(r *world.Request)
}

// TaskKey identifies the scheduler's content task in the queue.
var TaskKey = queue.Key{Owner: "scheduler", Kind: "request"}

// Scheduler spawns at most one open request at a time.
type Scheduler struct {
	w        *world.World
	conf     *config.SimConf
	tasks    *queue.Queue
	gen      Generator
	requests Adder
	pool     *Pool

	lastArrival    int64
	cooldown       int64
	requestCount   int
	trapCount      int
	previousTitles []string
}

// New creates a scheduler. gen may be nil, in which case every request
// comes from the pool.
func New(w *world.World, conf *config.SimConf, tasks *queue.Queue, gen Generator, requests Adder, pool *Pool) *Scheduler {
	if pool == nil {
		pool = NewPool()
	}
	s := &Scheduler{w: w, conf: conf, tasks: tasks, gen: gen, requests: requests, pool: pool}
	s.Reset()
	return s
}

// Reset clears counters, titles and the pool's used set.
func (s *Scheduler) Reset() {
	s.lastArrival = s.w.Now()
	s.requestCount = 0
	s.trapCount = 0
	s.previousTitles = nil
	s.pool.Reset()
	s.sampleCooldown()
}

func (s *Scheduler) sampleCooldown() {
	span := s.conf.CooldownMax - s.conf.CooldownMin
	s.cooldown = int64(s.conf.CooldownMin)
	if span > 0 {
		s.cooldown += int64(s.w.Rand.Intn(span + 1))
	}
}

// RequestCount returns how many requests have been filed this run.
func (s *Scheduler) RequestCount() int { return s.requestCount }

// TrapCount returns how many of them were security traps.
func (s *Scheduler) TrapCount() int { return s.trapCount }

// PreviousTitles returns the titles filed so far, oldest first.
func (s *Scheduler) PreviousTitles() []string {
	return append([]string(nil), s.previousTitles...)
}

// Pool returns the fallback pool.
func (s *Scheduler) Pool() *Pool { return s.pool }

// Ready reports whether a new request may be started this tick.
func (s *Scheduler) Ready() bool {
	switch {
	case !s.w.Playing():
		return false
	case s.w.OpenRequests() > 0:
		return false
	case s.w.Now()-s.lastArrival < s.cooldown:
		return false
	case s.conf.RequireWorkHours && !s.w.Clock.IsWorkHours():
		return false
	case s.tasks.InFlight(TaskKey):
		return false
	}
	return true
}

// Tick starts acquiring the next request when one is due.
func (s *Scheduler) Tick() {
	if !s.Ready() {
		return
	}
	tier := s.pickTier()
	trap := s.shouldTrap()
	params := content.RequestParams{
		Persona:        s.w.Persona,
		Tier:           tier,
		IsSecurityTrap: trap,
		AvailableFiles: s.w.FS.AllFilePaths(trap),
		PreviousTitles: s.PreviousTitles(),
	}
	gen := s.gen
	s.tasks.Go(TaskKey, func(ctx context.Context) func() {
		var (
			r   *world.Request
			err = content.ErrUnavailable
		)
		if gen != nil {
			r, err = gen.GenerateRequest(ctx, params)
		}
		return func() { s.land(params, r, err) }
	})
}

// land runs on the simulation goroutine.
func (s *Scheduler) land(p content.RequestParams, r *world.Request, err error) {
	if !s.w.Playing() || s.w.OpenRequests() > 0 {
		return
	}
	if err != nil || r == nil {
		if s.conf.Debug && !errors.Is(err, content.ErrUnavailable) {
			log.Printf("scheduler: generation failed, using pool: %v", err)
		}
		sc, ok := s.pool.Pick(s.w.Rand, p.Tier, p.IsSecurityTrap)
		if !ok {
			log.Printf("scheduler: no pool scenario for tier %d", p.Tier)
			return
		}
		r = sc.Request(s.w.NewID(), p.Persona.ID)
	}
	r.Tier = p.Tier
	r.NpcID = p.Persona.ID
	for _, o := range r.Objectives {
		o.Validator = world.BindNpc(o.Validator, r.NpcID)
	}

	s.requests.Add(r)
	s.previousTitles = append(s.previousTitles, r.Title)
	if r.IsSecurityTrap {
		s.trapCount++
	}
	s.requestCount++
	s.lastArrival = s.w.Now()
	s.sampleCooldown()
}

func (s *Scheduler) pickTier() int {
	weights := s.conf.StageFor(s.requestCount)
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 1
	}
	x := s.w.Rand.Float64() * total
	for i, w := range weights {
		if x < w {
			return i + 1
		}
		x -= w
	}
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i + 1
		}
	}
	return 1
}

func (s *Scheduler) shouldTrap() bool {
	if s.requestCount >= s.conf.TrapGuaranteeAfter && s.trapCount == 0 {
		return true
	}
	return s.w.Rand.Float64() < s.conf.TrapProbability
}
