package engine

import (
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/AndrewWarb/human-scheduler/pkg/sched"
)

// Config parameterizes a simulation run.
type Config struct {
	DurationUS     int64
	TickIntervalUS int64
	Seed           int64
}

// Engine is the discrete-event driver: a single event heap, a seeded PRNG,
// and the scheduler it drives. It is strictly single-threaded cooperative —
// Run's loop is the only place the clock advances or a handler fires.
type Engine struct {
	sched *sched.Scheduler
	cfg   Config

	heap  *eventHeap
	clock int64
	seq   int64

	rng      *rand.Rand
	profiles map[uint64]BehaviorProfile
	burst    map[uint64]int64 // remaining workload compute-burst per tid

	logger zerolog.Logger
}

func New(s *sched.Scheduler, cfg Config, logger zerolog.Logger) *Engine {
	seed := uint64(cfg.Seed)
	return &Engine{
		sched:    s,
		cfg:      cfg,
		heap:     newEventHeap(),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		profiles: make(map[uint64]BehaviorProfile),
		burst:    make(map[uint64]int64),
		logger:   logger,
	}
}

// Now returns the engine's current simulation clock. Only meaningful to call
// from within a handler or after Run has returned — pkg/api's read-only
// surface is meant to be served once a run completes, never concurrently
// with Run, which is strictly single-threaded cooperative.
func (e *Engine) Now() int64 { return e.clock }

func (e *Engine) nextSeq() int64 { e.seq++; return e.seq }

func (e *Engine) scheduleEvent(kind Kind, ts int64, tid uint64, procIdx int) {
	e.heap.push(&Event{Timestamp: ts, Kind: kind, Seq: e.nextSeq(), Tid: tid, ProcessorIndex: procIdx})
}

// AddThread registers a thread's workload shape and schedules its first
// life-cycle event. Call after sched.Scheduler.CreateThread.
func (e *Engine) AddThread(tid uint64, profile BehaviorProfile, startTs int64) {
	e.profiles[tid] = profile
	if profile.Kind == BehaviorRealtime {
		e.scheduleEvent(KindRTPeriodStart, startTs, tid, -1)
		return
	}
	e.scheduleEvent(KindWakeup, startTs, tid, -1)
}

// Run drains the event heap until it is exhausted or the next event would
// land past the configured simulation duration.
func (e *Engine) Run() {
	e.scheduleEvent(KindTick, e.cfg.TickIntervalUS, 0, -1)
	for {
		if e.heap.empty() {
			return
		}
		if e.heap.items[0].Timestamp > e.cfg.DurationUS {
			return
		}
		ev := e.heap.pop()
		e.clock = ev.Timestamp
		switch ev.Kind {
		case KindWakeup:
			e.handleWakeup(ev)
		case KindBlock:
			e.handleBlock(ev)
		case KindQuantumExpire:
			e.handleQuantumExpire(ev)
		case KindTick:
			e.handleTick(ev)
		case KindRTPeriodStart:
			e.handleRTPeriodStart(ev)
		}
	}
}

func (e *Engine) recordTrace(handler string, tid uint64, detail string) {
	e.sched.Stats().Trace.Record(e.clock, handler, tid, detail)
}

func (e *Engine) fatal(err error) {
	e.logger.Error().Err(err).Int64("ts", e.clock).Msg("scheduler core reported an invariant violation")
	panic(err)
}

// findProcessorRunning resolves the processor a thread is currently
// dispatched on, scanning in fixed index order for determinism. Events carry
// a ProcessorIndex hint but are resolved by scan so a thread that moved
// between scheduling and firing (preempted, re-dispatched elsewhere) is still
// found, and a stale event against an absent thread is silently dropped.
func (e *Engine) findProcessorRunning(tid uint64) *sched.Processor {
	for _, p := range e.sched.Processors() {
		if p.Active != nil && p.Active.Tid == tid {
			return p
		}
	}
	return nil
}

// handlePreemption knocks the processor's current thread off via Preempt
// (charging its CPU usage and re-enqueuing it if it loses), dispatches the
// winner, and re-arms only when the processor's occupant actually changed —
// a continuing thread's existing boundary event is still pending in the
// heap and must not be duplicated.
func (e *Engine) handlePreemption(p *sched.Processor) {
	selected, chosePrev, extra := e.sched.Preempt(p, e.clock)
	e.sched.Dispatch(p, selected, e.clock, chosePrev)
	if selected != nil && !chosePrev {
		e.recordTrace("dispatch", selected.Tid, fmt.Sprintf("cpu=%d preempt", p.Index))
		e.armProcessor(p, selected)
	}
	if extra != nil {
		e.handlePreemption(extra)
	}
}

// armProcessor schedules the next boundary event for a freshly dispatched
// (or continuing) thread: a QUANTUM_EXPIRE if its workload's remaining
// compute burst outlasts the scheduler's quantum, otherwise a BLOCK at the
// point the burst itself completes. REALTIME threads are bounded by the
// BLOCK event their RT_PERIOD_START activation already scheduled, so nothing
// further is armed for them here.
func (e *Engine) armProcessor(p *sched.Processor, t *sched.Thread) {
	if t.Policy == sched.PolicyRealtime {
		return
	}
	remaining, ok := e.burst[t.Tid]
	if !ok || remaining <= 0 {
		remaining = sampleDuration(e.rng, e.profiles[t.Tid].MeanComputeUS)
	}
	quantum := e.sched.QuantumFor(t)
	if quantum <= 0 {
		quantum = 1
	}
	if remaining <= quantum {
		e.burst[t.Tid] = 0
		e.scheduleEvent(KindBlock, e.clock+remaining, t.Tid, p.Index)
		return
	}
	e.burst[t.Tid] = remaining - quantum
	e.scheduleEvent(KindQuantumExpire, e.clock+quantum, t.Tid, p.Index)
}

func (e *Engine) handleWakeup(ev *Event) {
	t, ok := e.sched.Thread(ev.Tid)
	if !ok || t.State == sched.StateTerminated {
		return
	}
	if t.State == sched.StateRunnable || t.State == sched.StateRunning {
		return // duplicate wakeup against an already-live thread is a no-op
	}
	e.burst[ev.Tid] = sampleDuration(e.rng, e.profiles[ev.Tid].MeanComputeUS)
	target, err := e.sched.ThreadWakeup(ev.Tid, e.clock)
	if err != nil {
		e.fatal(err)
		return
	}
	e.recordTrace("thread_wakeup", ev.Tid, "")
	if target != nil {
		e.handlePreemption(target)
	}
}

func (e *Engine) handleQuantumExpire(ev *Event) {
	p := e.findProcessorRunning(ev.Tid)
	if p == nil {
		return
	}
	selected, chosePrev, extra := e.sched.ThreadQuantumExpire(p, e.clock)
	e.recordTrace("thread_quantum_expire", ev.Tid, "")
	e.sched.Dispatch(p, selected, e.clock, chosePrev)
	if selected != nil {
		if !chosePrev {
			e.recordTrace("dispatch", selected.Tid, fmt.Sprintf("cpu=%d", p.Index))
		}
		e.armProcessor(p, selected)
	}
	if extra != nil {
		e.handlePreemption(extra)
	}
}

func (e *Engine) handleBlock(ev *Event) {
	p := e.findProcessorRunning(ev.Tid)
	if p == nil {
		return
	}
	t := p.Active
	if t.Policy == sched.PolicyRealtime && t.RTDeadline != nil && e.clock > *t.RTDeadline {
		e.sched.Stats().RTDeadlineMiss()
		e.recordTrace("rt_deadline_miss", ev.Tid, "")
	}

	selected, chosePrev := e.sched.ThreadBlock(p, e.clock)
	e.recordTrace("thread_block", ev.Tid, "")
	e.sched.Dispatch(p, selected, e.clock, chosePrev)
	if selected != nil {
		if !chosePrev {
			e.recordTrace("dispatch", selected.Tid, fmt.Sprintf("cpu=%d", p.Index))
		}
		e.armProcessor(p, selected)
	}

	if t.Policy != sched.PolicyRealtime {
		sleep := sampleDuration(e.rng, e.profiles[t.Tid].MeanSleepUS)
		e.scheduleEvent(KindWakeup, e.clock+sleep, t.Tid, -1)
	}
}

func (e *Engine) handleRTPeriodStart(ev *Event) {
	t, ok := e.sched.Thread(ev.Tid)
	if !ok || t.State == sched.StateTerminated {
		return
	}
	profile := e.profiles[ev.Tid]

	deadline := e.clock + t.RTConstraint
	wasWaiting := t.State == sched.StateWaiting
	t.RTDeadline = &deadline

	if wasWaiting {
		target, err := e.sched.ThreadSetrun(t, e.clock, sched.OptNone)
		if err != nil {
			e.fatal(err)
			return
		}
		e.recordTrace("rt_period_start", ev.Tid, "activate")
		if target != nil {
			e.handlePreemption(target)
		}
	} else {
		e.recordTrace("rt_period_start", ev.Tid, "overrun")
	}

	e.scheduleEvent(KindBlock, e.clock+t.RTComputation, ev.Tid, -1)
	if profile.RTPeriodUS > 0 {
		e.scheduleEvent(KindRTPeriodStart, e.clock+profile.RTPeriodUS, ev.Tid, -1)
	}
}

func (e *Engine) handleTick(ev *Event) {
	e.sched.SchedTick(e.clock)
	e.recordTrace("sched_tick", 0, "")
	if e.clock+e.cfg.TickIntervalUS <= e.cfg.DurationUS {
		e.scheduleEvent(KindTick, e.clock+e.cfg.TickIntervalUS, 0, -1)
	}
}
