// Package resources tracks the workstation gauges shown in the status bar.
package resources

import (
	"github.com/crystal-mush/clawback/pkg/shell"
	"github.com/crystal-mush/clawback/pkg/world"
)

// Baseline is the idle load the gauges recover toward.
var Baseline = world.DefaultResources

// Gauges applies command costs and per-tick recovery to the world's resources.
type Gauges struct {
	w        *world.World
	recovery float64
}

// New creates gauges that recover by recovery points per tick.
func New(w *world.World, recovery float64) *Gauges {
	return &Gauges{w: w, recovery: recovery}
}

// Apply charges a command's side effects. Every gauge stays in [0,100].
func (g *Gauges) Apply(fx shell.SideEffects) {
	r := &g.w.Resources
	r.CPU = world.Clamp(r.CPU+fx.CPU, 0, 100)
	r.Memory = world.Clamp(r.Memory+fx.Memory, 0, 100)
	r.Network = world.Clamp(r.Network+fx.Network, 0, 100)
	r.Disk = world.Clamp(r.Disk+fx.Disk, 0, 100)
}

// Tick moves CPU, memory and network back toward Baseline. Disk usage is
// persistent and does not recover.
func (g *Gauges) Tick() {
	r := &g.w.Resources
	r.CPU = toward(r.CPU, Baseline.CPU, g.recovery)
	r.Memory = toward(r.Memory, Baseline.Memory, g.recovery)
	r.Network = toward(r.Network, Baseline.Network, g.recovery)
}

func toward(v, target, step float64) float64 {
	switch {
	case v > target:
		v -= step
		if v < target {
			v = target
		}
	case v < target:
		v += step
		if v > target {
			v = target
		}
	}
	return v
}
