// Package stats holds the scheduler's deterministic bookkeeping: run
// counters and an ordered event trace, plus a Prometheus mirror of those
// counters for the peripheral /metrics surface (pkg/api).
//
// The deterministic Counters/Trace types are the source of truth for replay
// determinism (identical seed and scenario reproduce an identical trace); the
// Prometheus registry is a read-only, wall-clock-free mirror updated
// alongside them and must never be consulted to decide scheduler behavior.
package stats

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters are the per-run scheduler counters: wakeups, blocks,
// quantum-expires, ticks, context switches, and RT deadline misses.
type Counters struct {
	Wakeups         int64
	Blocks          int64
	QuantumExpires  int64
	Ticks           int64
	ContextSwitches int64
	RTDeadlineMisses int64
}

func (c *Counters) IncWakeup()         { c.Wakeups++ }
func (c *Counters) IncBlock()          { c.Blocks++ }
func (c *Counters) IncQuantumExpire()  { c.QuantumExpires++ }
func (c *Counters) IncTick()           { c.Ticks++ }
func (c *Counters) IncContextSwitch()  { c.ContextSwitches++ }
func (c *Counters) IncRTDeadlineMiss() { c.RTDeadlineMisses++ }

// Trace is an append-only, ordered record of scheduler events, the
// authoritative artifact a replay's determinism is checked against. Every
// line is built only from simulation state (timestamp, tid, handler name) —
// never from wall-clock time or map iteration order — so that a fixed seed
// reproduces it byte for byte.
type Trace struct {
	lines []string
}

func (t *Trace) Record(ts int64, handler string, tid uint64, detail string) {
	if detail == "" {
		t.lines = append(t.lines, fmt.Sprintf("%d %s tid=%d", ts, handler, tid))
		return
	}
	t.lines = append(t.lines, fmt.Sprintf("%d %s tid=%d %s", ts, handler, tid, detail))
}

func (t *Trace) Lines() []string { return t.lines }

func (t *Trace) String() string { return strings.Join(t.lines, "\n") }

// Stats bundles the deterministic counters and trace with their Prometheus
// mirror, grounded on the registry pattern in
// ollama-distributed/pkg/monitoring/metrics.go.
type Stats struct {
	Counters Counters
	Trace    Trace

	registry *prometheus.Registry
	pWakeups, pBlocks, pQuantumExpires, pTicks, pContextSwitches, pRTMisses prometheus.Counter
}

// New creates a Stats bundle and registers its Prometheus mirror counters
// under the given namespace/subsystem.
func New(namespace, subsystem string) *Stats {
	s := &Stats{registry: prometheus.NewRegistry()}
	mk := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
		s.registry.MustRegister(c)
		return c
	}
	s.pWakeups = mk("wakeups_total", "total thread_wakeup calls")
	s.pBlocks = mk("blocks_total", "total thread_block calls")
	s.pQuantumExpires = mk("quantum_expires_total", "total quantum expirations")
	s.pTicks = mk("ticks_total", "total sched_tick invocations")
	s.pContextSwitches = mk("context_switches_total", "total processor context switches")
	s.pRTMisses = mk("rt_deadline_misses_total", "total missed real-time deadlines")
	return s
}

// Registry exposes the Prometheus registry for pkg/api's /metrics handler.
func (s *Stats) Registry() *prometheus.Registry { return s.registry }

func (s *Stats) Wakeup()         { s.Counters.IncWakeup(); s.pWakeups.Inc() }
func (s *Stats) Block()          { s.Counters.IncBlock(); s.pBlocks.Inc() }
func (s *Stats) QuantumExpire()  { s.Counters.IncQuantumExpire(); s.pQuantumExpires.Inc() }
func (s *Stats) Tick()           { s.Counters.IncTick(); s.pTicks.Inc() }
func (s *Stats) ContextSwitch()  { s.Counters.IncContextSwitch(); s.pContextSwitches.Inc() }
func (s *Stats) RTDeadlineMiss() { s.Counters.IncRTDeadlineMiss(); s.pRTMisses.Inc() }
