package sched

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/AndrewWarb/human-scheduler/pkg/stats"
)

// SchedulerConfig parameterizes a Scheduler instance.
type SchedulerConfig struct {
	NumProcessors int
	ClutchRoot    ClutchRootConfig
	// StrictRT selects strict fixed-priority RT semantics: when true, only a
	// strictly higher sched_pri preempts an RT thread, ties never move by
	// deadline. Default false.
	StrictRT bool
	// DefaultQuantum is the quantum (sim-time units) granted to bound non-RT
	// threads; RT threads get their rt_computation and unbound
	// timeshare/fixpri threads use ClutchRoot.QuantumForBand.
	DefaultQuantum int64
}

func DefaultSchedulerConfig(numProcessors int) SchedulerConfig {
	return SchedulerConfig{
		NumProcessors:  numProcessors,
		ClutchRoot:     DefaultClutchRootConfig(),
		DefaultQuantum: 10_000,
	}
}

// Scheduler owns every piece of scheduler state: thread/group arenas, the RT
// queue, the clutch hierarchy, and the processors. There is exactly one of
// these per simulation, passed explicitly to every entry point — no
// package-level singletons.
type Scheduler struct {
	cfg SchedulerConfig

	threads map[uint64]*Thread
	groups  map[string]*ThreadGroup

	processors []*Processor
	rt         *rtQueue
	root       *ClutchRoot

	tickCount int64
	seq       int64
	headSeq   int64

	stats  *stats.Stats
	logger zerolog.Logger
}

func NewScheduler(cfg SchedulerConfig, st *stats.Stats, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		threads: make(map[uint64]*Thread),
		groups:  make(map[string]*ThreadGroup),
		rt:      newRTQueue(),
		root:    newClutchRoot(cfg.ClutchRoot),
		stats:   st,
		logger:  logger,
	}
	for i := 0; i < cfg.NumProcessors; i++ {
		s.processors = append(s.processors, newProcessor(i))
	}
	return s
}

func (s *Scheduler) Processors() []*Processor { return s.processors }

func (s *Scheduler) Thread(tid uint64) (*Thread, bool) {
	t, ok := s.threads[tid]
	return t, ok
}

func (s *Scheduler) nextSeq(headQ bool) int64 {
	if headQ {
		s.headSeq--
		return s.headSeq
	}
	s.seq++
	return s.seq
}

// CreateThreadGroup registers a new thread group with its six empty QoS
// bucket groups.
func (s *Scheduler) CreateThreadGroup(id string) (*ThreadGroup, error) {
	if id == "" {
		return nil, illegalInput("create_thread_group", fmt.Errorf("empty group id"))
	}
	if _, exists := s.groups[id]; exists {
		return nil, illegalInput("create_thread_group", fmt.Errorf("group %q already exists", id))
	}
	g := newThreadGroup(id)
	s.groups[id] = g
	return g, nil
}

// RTParams carries the real-time scheduling parameters for a REALTIME thread.
type RTParams struct {
	Period      int64
	Computation int64
	Constraint  int64
}

// ThreadParams is the input to CreateThread.
type ThreadParams struct {
	Tid            uint64
	GroupID        string
	Policy         Policy
	BasePri        int
	Bucket         QoSBucket
	RT             *RTParams
	BoundProcessor *int
}

// CreateThread validates and registers a new thread in its WAITING state.
func (s *Scheduler) CreateThread(p ThreadParams) (*Thread, error) {
	if _, exists := s.threads[p.Tid]; exists {
		return nil, illegalInput("create_thread", fmt.Errorf("tid %d already exists", p.Tid))
	}
	g, ok := s.groups[p.GroupID]
	if !ok {
		return nil, illegalInput("create_thread", fmt.Errorf("unknown thread group %q", p.GroupID))
	}
	if p.Policy < PolicyTimeshare || p.Policy > PolicyFixpri {
		return nil, illegalInput("create_thread", fmt.Errorf("unknown policy %v", p.Policy))
	}
	if p.BasePri < MinPri || p.BasePri > MaxPri {
		return nil, illegalInput("create_thread", fmt.Errorf("base_pri %d out of range", p.BasePri))
	}
	if p.Bucket >= NumBuckets {
		return nil, illegalInput("create_thread", fmt.Errorf("unknown QoS bucket %v", p.Bucket))
	}
	if p.BoundProcessor != nil {
		if *p.BoundProcessor < 0 || *p.BoundProcessor >= len(s.processors) {
			return nil, illegalInput("create_thread", fmt.Errorf("bound_processor %d out of range", *p.BoundProcessor))
		}
	}

	t := &Thread{
		Tid:      p.Tid,
		BasePri:  p.BasePri,
		SchedPri: p.BasePri,
		State:    StateWaiting,
		Policy:   p.Policy,
		GroupID:  p.GroupID,
		Group:    g,
		Bucket:   p.Bucket,
	}
	if p.BoundProcessor != nil {
		idx := *p.BoundProcessor
		t.BoundProcessor = &idx
	}

	if p.Policy == PolicyRealtime {
		if p.RT == nil {
			return nil, illegalInput("create_thread", fmt.Errorf("realtime thread requires RT params"))
		}
		if p.RT.Constraint <= 0 {
			return nil, illegalInput("create_thread", fmt.Errorf("rt_constraint must be positive"))
		}
		if p.RT.Period < 0 {
			return nil, illegalInput("create_thread", fmt.Errorf("rt_period must not be negative"))
		}
		if p.RT.Computation <= 0 {
			return nil, illegalInput("create_thread", fmt.Errorf("rt_computation must be positive"))
		}
		t.RTPeriod = p.RT.Period
		t.RTComputation = p.RT.Computation
		t.RTConstraint = p.RT.Constraint
	}

	s.threads[p.Tid] = t
	return t, nil
}

// TerminateThread retires a thread permanently, removing it from whichever
// runqueue or processor currently holds it. Unknown or already-terminated
// tids are silently accepted — termination is idempotent.
func (s *Scheduler) TerminateThread(tid uint64, ts int64) error {
	t, ok := s.threads[tid]
	if !ok {
		return nil
	}
	if t.State == StateTerminated {
		return nil
	}
	switch t.location {
	case locRT:
		s.rt.remove(tid)
	case locBound:
		p := s.processors[*t.BoundProcessor]
		p.BoundRunq.remove(tid)
	case locClutch:
		bg := t.Group.bucketGroup(t.Bucket)
		bg.cb.remove(tid)
		t.Group.decRunnable(t.Bucket)
		if bg.cb.empty() {
			s.root.release(bg.cb)
		}
	}
	if t.State == StateRunning {
		for _, p := range s.processors {
			if p.Active == t {
				p.Active = nil
				p.State = ProcessorIdle
				p.CurrentPri = NoPri
			}
		}
	}
	t.location = locNone
	t.State = StateTerminated
	return nil
}

// SetThreadUrgency moves a thread between clutch buckets of its group.
func (s *Scheduler) SetThreadUrgency(tid uint64, bucket QoSBucket, ts int64) error {
	t, ok := s.threads[tid]
	if !ok {
		return nil
	}
	if bucket >= NumBuckets {
		return illegalInput("set_thread_urgency", fmt.Errorf("unknown QoS bucket %v", bucket))
	}
	if t.State == StateRunnable && t.location == locClutch {
		oldBG := t.Group.bucketGroup(t.Bucket)
		oldBG.cb.remove(tid)
		t.Group.decRunnable(t.Bucket)
		if oldBG.cb.empty() {
			s.root.release(oldBG.cb)
		}
		t.Bucket = bucket
		if t.isTimeshare() {
			s.timeshareSetrunUpdate(t, s.tickCount)
		}
		newBG := t.Group.bucketGroup(bucket)
		seq := s.nextSeq(false)
		t.enqueueSeq = seq
		newBG.cb.insert(t, seq)
		t.Group.incRunnable(bucket)
		s.root.contain(newBG.cb, ts)
		return nil
	}
	t.Bucket = bucket
	return nil
}

// ThreadSetrun enqueues a runnable thread and returns the processor (if any)
// that should be preempted as a consequence. The caller (pkg/engine) is
// responsible for actually running select+dispatch on the returned
// processor.
func (s *Scheduler) ThreadSetrun(t *Thread, ts int64, opts SetrunOption) (*Processor, error) {
	if t.State == StateRunning {
		return nil, invariantViolation("thread_setrun", fmt.Errorf("tid %d already RUNNING", t.Tid))
	}
	t.State = StateRunnable
	t.LastMadeRunnableTime = ts

	headQ := opts.has(OptHeadQ) && !opts.has(OptTailQ)
	seq := s.nextSeq(headQ)
	t.enqueueSeq = seq

	if t.isTimeshare() {
		s.timeshareSetrunUpdate(t, s.tickCount)
	}

	switch {
	case t.isRealtime():
		if t.RTDeadline == nil {
			d := ts + t.RTConstraint
			t.RTDeadline = &d
		}
		s.rt.insert(t, seq)
		t.location = locRT
	case t.isBound():
		p := s.processors[*t.BoundProcessor]
		p.BoundRunq.insert(t, seq)
		t.location = locBound
	default:
		bg := t.Group.bucketGroup(t.Bucket)
		bg.cb.insert(t, seq)
		t.Group.incRunnable(t.Bucket)
		s.root.contain(bg.cb, ts)
		t.location = locClutch
	}

	return s.checkPreemption(t, opts), nil
}

// checkPreemption decides whether a newly runnable thread t should bump
// something off a processor, and which one.
func (s *Scheduler) checkPreemption(t *Thread, opts SetrunOption) *Processor {
	candidates := s.processors
	if t.isBound() {
		candidates = s.processors[*t.BoundProcessor : *t.BoundProcessor+1]
	}

	for _, p := range candidates {
		if p.idle() {
			return p
		}
	}

	if t.isRealtime() {
		var nonRT *Processor
		for _, p := range candidates {
			if p.Active != nil && !p.Active.isRealtime() {
				if nonRT == nil || p.CurrentPri < nonRT.CurrentPri {
					nonRT = p
				}
			}
		}
		if nonRT != nil {
			return nonRT
		}
		var rtTarget *Processor
		for _, p := range candidates {
			if p.Active != nil && p.Active.isRealtime() && rtPreempts(t, p.Active, s.cfg.StrictRT) {
				if rtTarget == nil || p.CurrentPri < rtTarget.CurrentPri {
					rtTarget = p
				}
			}
		}
		return rtTarget
	}

	var best *Processor
	for _, p := range candidates {
		if p.Active == nil || p.Active.isRealtime() {
			continue
		}
		if best == nil || p.CurrentPri < best.CurrentPri {
			best = p
		}
	}
	if best == nil {
		return nil
	}
	if opts.has(OptPreempt) {
		if t.SchedPri >= best.CurrentPri {
			return best
		}
		return nil
	}
	if t.SchedPri > best.CurrentPri {
		return best
	}
	return nil
}

func rtPreempts(t, cur *Thread, strict bool) bool {
	if t.SchedPri > cur.SchedPri {
		return true
	}
	if strict {
		return false
	}
	if t.SchedPri == cur.SchedPri {
		return deadlineOf(t) < deadlineOf(cur)
	}
	return false
}

// ThreadSelect runs the processor's next-thread decision tree: continuing
// real-time thread, real-time queue, clutch hierarchy vs. bound runqueue by
// effective priority, then bound runqueue, then idle.
func (s *Scheduler) ThreadSelect(p *Processor, ts int64, prev *Thread) (*Thread, bool) {
	eligible := func(t *Thread) bool { return !t.isBound() || *t.BoundProcessor == p.Index }

	if prev != nil && prev.isRealtime() && s.rtCanContinue(prev, ts, eligible) {
		return prev, true
	}
	if head := s.rt.peekBestEligible(eligible); head != nil {
		return s.rt.popBestEligible(eligible), false
	}

	boundPri := p.bestBoundPri()
	clutchPri := s.root.effectivePriority(prev)

	if clutchPri > boundPri {
		t, chosePrev := s.root.hierarchyThreadHighest(ts, prev)
		if chosePrev {
			return prev, true
		}
		if t != nil {
			return t, false
		}
		return nil, false
	}

	if !p.BoundRunq.empty() {
		top := p.BoundRunq.peekMax()
		prevWinsTie := prev != nil && prev.isBound() && *prev.BoundProcessor == p.Index && prev.SchedPri >= top.SchedPri
		if !prevWinsTie {
			return p.BoundRunq.popMax(), false
		}
	}
	if prev != nil {
		return prev, true
	}
	return nil, false
}

func (s *Scheduler) rtCanContinue(prev *Thread, ts int64, eligible func(*Thread) bool) bool {
	if prev.RTDeadline != nil && ts >= *prev.RTDeadline {
		return false
	}
	for _, it := range s.rt.items {
		t2 := it.thread
		if !eligible(t2) {
			continue
		}
		if t2.SchedPri > prev.SchedPri {
			return false
		}
		if !s.cfg.StrictRT && t2.SchedPri == prev.SchedPri && deadlineOf(t2) < deadlineOf(prev) {
			return false
		}
	}
	return true
}

// QuantumFor exposes the per-policy quantum for callers that pace dispatch
// externally, such as pkg/engine's behavior-driven re-arm.
func (s *Scheduler) QuantumFor(t *Thread) int64 { return s.quantumFor(t) }

// Stats exposes the deterministic counters/trace and their Prometheus
// mirror to the engine and the peripheral API layer.
func (s *Scheduler) Stats() *stats.Stats { return s.stats }

// quantumFor returns the quantum granted when a thread is freshly dispatched.
func (s *Scheduler) quantumFor(t *Thread) int64 {
	if t.isRealtime() {
		return t.RTComputation
	}
	if !t.isBound() {
		return s.cfg.ClutchRoot.QuantumForBand[t.Bucket]
	}
	return s.cfg.DefaultQuantum
}

// Dispatch installs the selected thread on processor p. Pass nil for chosen
// to idle the processor.
func (s *Scheduler) Dispatch(p *Processor, chosen *Thread, ts int64, chosePrev bool) {
	if chosen == nil {
		p.Active = nil
		p.State = ProcessorIdle
		p.CurrentPri = NoPri
		return
	}
	if !chosePrev {
		s.stats.ContextSwitch()
		chosen.FirstTimeslice = true
		chosen.QuantumBase = s.quantumFor(chosen)
		chosen.QuantumRemaining = chosen.QuantumBase
	}
	chosen.State = StateRunning
	chosen.ComputationEpoch = ts
	chosen.location = locNone
	p.Active = chosen
	p.State = ProcessorRunning
	p.CurrentPri = chosen.SchedPri
}

// ThreadQuantumExpire retires the processor's current thread at a quantum
// boundary: charges its CPU usage, demotes it to runnable, re-enqueues it,
// and selects the processor's next thread. Returns the newly selected thread
// for p (possibly the same thread continuing) and, if re-enqueuing the
// outgoing thread triggered a preemption elsewhere, the processor that
// should also run a select/dispatch pass.
func (s *Scheduler) ThreadQuantumExpire(p *Processor, ts int64) (selected *Thread, chosePrev bool, extraPreempt *Processor) {
	old := p.Active
	if old == nil {
		return nil, false, nil
	}
	delta := ts - old.ComputationEpoch
	old.chargeCPU(delta)
	if old.Group != nil {
		old.Group.chargeCPU(old.Bucket, delta)
	}
	if old.isTimeshare() {
		s.timeshareSetrunUpdate(old, s.tickCount)
	}
	old.FirstTimeslice = false
	old.QuantumRemaining = 0
	old.State = StateRunnable
	s.stats.QuantumExpire()

	selected, chosePrev = s.ThreadSelect(p, ts, old)
	if !(chosePrev && selected == old) {
		extraPreempt, _ = s.ThreadSetrun(old, ts, OptTailQ)
		if selected == nil {
			selected, chosePrev = s.ThreadSelect(p, ts, nil)
		}
	}
	return selected, chosePrev, extraPreempt
}

// Preempt is the other half of the preemption flow: a newly runnable or
// woken thread outranked the processor's active thread, so the active
// thread is knocked off the CPU the same way quantum expiration retires it
// — CPU usage charged, demoted to runnable, select run again, and
// re-enqueued at its runqueue's head if it didn't win the re-selection.
func (s *Scheduler) Preempt(p *Processor, ts int64) (selected *Thread, chosePrev bool, extraPreempt *Processor) {
	old := p.Active
	if old == nil {
		selected, chosePrev = s.ThreadSelect(p, ts, nil)
		return selected, chosePrev, nil
	}
	delta := ts - old.ComputationEpoch
	old.chargeCPU(delta)
	if old.Group != nil {
		old.Group.chargeCPU(old.Bucket, delta)
	}
	if old.isTimeshare() {
		s.timeshareSetrunUpdate(old, s.tickCount)
	}
	old.State = StateRunnable

	selected, chosePrev = s.ThreadSelect(p, ts, old)
	if !(chosePrev && selected == old) {
		extraPreempt, _ = s.ThreadSetrun(old, ts, OptHeadQ)
	}
	return selected, chosePrev, extraPreempt
}

// ThreadBlock marks the processor's running thread as no longer runnable
// (e.g. it is waiting on I/O or a sleep). Returns the processor's next
// thread, if any.
func (s *Scheduler) ThreadBlock(p *Processor, ts int64) (selected *Thread, chosePrev bool) {
	old := p.Active
	if old == nil {
		return nil, false
	}
	delta := ts - old.ComputationEpoch
	old.chargeCPU(delta)
	if old.Group != nil {
		old.Group.chargeCPU(old.Bucket, delta)
	}
	old.State = StateWaiting
	old.location = locNone
	s.stats.Block()

	return s.ThreadSelect(p, ts, nil)
}

// ThreadWakeup makes a waiting thread runnable again, idempotent for
// already-runnable threads; otherwise it behaves as
// thread_setrun(PREEMPT|HEADQ).
func (s *Scheduler) ThreadWakeup(tid uint64, ts int64) (*Processor, error) {
	t, ok := s.threads[tid]
	if !ok {
		return nil, nil // unknown tid, silently dropped
	}
	s.stats.Wakeup()
	if t.State == StateRunnable || t.State == StateRunning {
		return nil, nil // already live: idempotent no-op
	}
	if t.State == StateTerminated {
		return nil, nil
	}
	return s.ThreadSetrun(t, ts, OptPreempt|OptHeadQ)
}

// SchedTick runs periodic maintenance over every bucket group's pri_shift
// and every timeshare thread's decayed sched_usage, in deterministic (by
// tid) order.
func (s *Scheduler) SchedTick(ts int64) {
	s.tickCount++
	s.stats.Tick()

	groupIDs := make([]string, 0, len(s.groups))
	for id := range s.groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	for _, id := range groupIDs {
		g := s.groups[id]
		for b := QoSBucket(0); b < NumBuckets; b++ {
			bg := g.buckets[b]
			bg.cachedLoadPerCPU = loadPerCPUFor(bg.runnableCount, len(s.processors))
			bg.priShift = priShiftForLoad(bg.cachedLoadPerCPU)

			tids := make([]uint64, 0, len(bg.cb.timeshare))
			for tid := range bg.cb.timeshare {
				tids = append(tids, tid)
			}
			sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

			for _, tid := range tids {
				t := bg.cb.timeshare[tid]
				old := t.SchedPri
				t.SchedUsage = decaySchedUsage(t.SchedUsage)
				t.SchedStamp = s.tickCount
				t.refreshPriShift(bg)
				t.SchedPri = computeSchedPri(t.BasePri, t.SchedUsage, t.PriShift)
				if t.SchedPri != old {
					bg.cb.fix(tid)
				}
			}
		}
	}
	s.root.recomputeSCR()
}

func loadPerCPUFor(runnable, numCPU int) int64 {
	if numCPU <= 0 {
		numCPU = 1
	}
	return int64(runnable) * loadScale / int64(numCPU)
}
