package server

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crystal-mush/clawback/pkg/engine"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/world"
)

// Metrics holds Prometheus collectors for the simulation. Counters are fed
// by a bus subscription; gauges are refreshed from a snapshot on scrape.
type Metrics struct {
	eng       *engine.Engine
	registry  *prometheus.Registry
	startTime time.Time
	wsClients atomic.Int64

	eventsTotal     *prometheus.CounterVec
	resolvedTotal   *prometheus.CounterVec
	violationsTotal *prometheus.CounterVec
	pointsTotal     prometheus.Counter
	gameOversTotal  *prometheus.CounterVec

	tick          prometheus.Gauge
	score         prometheus.Gauge
	securityScore prometheus.Gauge
	streak        prometheus.Gauge
	mood          *prometheus.GaugeVec
	resources     *prometheus.GaugeVec
	playing       prometheus.Gauge
	wsConnected   prometheus.Gauge
	uptimeSeconds prometheus.Gauge
	memHeapBytes  prometheus.Gauge
	goroutines    prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(eng *engine.Engine, startTime time.Time) *Metrics {
	m := &Metrics{
		eng:       eng,
		registry:  prometheus.NewRegistry(),
		startTime: startTime,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawback_events_total",
			Help: "Events published on the bus by type.",
		}, []string{"type"}),
		resolvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawback_requests_resolved_total",
			Help: "Requests that reached a terminal status.",
		}, []string{"status", "trap"}),
		violationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawback_security_violations_total",
			Help: "Security violations by kind.",
		}, []string{"kind"}),
		pointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clawback_points_awarded_total",
			Help: "Points awarded for completed requests.",
		}),
		gameOversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawback_game_over_total",
			Help: "Finished runs by reason.",
		}, []string{"reason"}),
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawback_tick",
			Help: "Current simulation tick.",
		}),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawback_score",
			Help: "Current run score.",
		}),
		securityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawback_security_score",
			Help: "Current security score.",
		}),
		streak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawback_streak",
			Help: "Current completion streak.",
		}),
		mood: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clawback_npc_patience",
			Help: "NPC patience by id.",
		}, []string{"npc"}),
		resources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clawback_resource_percent",
			Help: "Workstation gauges.",
		}, []string{"resource"}),
		playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawback_playing",
			Help: "1 while a run is in progress.",
		}),
		wsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawback_ws_clients",
			Help: "Connected WebSocket clients.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawback_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawback_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawback_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.eventsTotal,
		m.resolvedTotal,
		m.violationsTotal,
		m.pointsTotal,
		m.gameOversTotal,
		m.tick,
		m.score,
		m.securityScore,
		m.streak,
		m.mood,
		m.resources,
		m.playing,
		m.wsConnected,
		m.uptimeSeconds,
		m.memHeapBytes,
		m.goroutines,
	)
	return m
}

// Attach subscribes the metrics to every bus event.
func (m *Metrics) Attach(bus *events.Bus) {
	bus.SubscribeGlobal(m)
}

func (m *Metrics) Closed() bool { return false }

// Receive counts one event. It runs under the engine lock, so it only
// touches collectors.
func (m *Metrics) Receive(ev events.Event) {
	m.eventsTotal.WithLabelValues(ev.Type.String()).Inc()
	switch ev.Type {
	case events.EvRequestCompleted, events.EvRequestExpired, events.EvRequestFailed:
		trap := "false"
		if b, _ := ev.Data["isSecurityTrap"].(bool); b {
			trap = "true"
		}
		m.resolvedTotal.WithLabelValues(statusLabel(ev.Type), trap).Inc()
		if ev.Type == events.EvRequestCompleted {
			if p, ok := ev.Data["points"].(int); ok && p > 0 {
				m.pointsTotal.Add(float64(p))
			}
		}
	case events.EvSecurityViolation:
		m.violationsTotal.WithLabelValues(ev.Kind).Inc()
	case events.EvGameOver:
		m.gameOversTotal.WithLabelValues(ev.Kind).Inc()
	}
}

func statusLabel(t events.EventType) string {
	switch t {
	case events.EvRequestCompleted:
		return world.StatusCompleted.String()
	case events.EvRequestExpired:
		return world.StatusExpired.String()
	}
	return world.StatusFailed.String()
}

// Update refreshes gauge metrics from the current world state.
func (m *Metrics) Update() {
	s := m.eng.Snapshot()
	m.tick.Set(float64(s.Clock.Tick))
	m.score.Set(float64(s.Score.Total))
	m.securityScore.Set(float64(s.Score.SecurityScore))
	m.streak.Set(float64(s.Score.Streak))
	if s.Phase == world.PhasePlaying {
		m.playing.Set(1)
	} else {
		m.playing.Set(0)
	}
	m.mood.Reset()
	for id, n := range s.NPCs {
		m.mood.WithLabelValues(id).Set(n.Patience)
	}
	m.resources.WithLabelValues("cpu").Set(s.Resources.CPU)
	m.resources.WithLabelValues("memory").Set(s.Resources.Memory)
	m.resources.WithLabelValues("network").Set(s.Resources.Network)
	m.resources.WithLabelValues("disk").Set(s.Resources.Disk)

	m.wsConnected.Set(float64(m.wsClients.Load()))
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
