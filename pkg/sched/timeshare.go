package sched

// Timeshare priority machinery: usage-decayed priority for non-realtime,
// non-fixed threads.
//
// sched_pri = clamp(base_pri - (sched_usage >> pri_shift), MIN_PRI, base_pri)
//
// pri_shift is derived from load_average/cpu_count via a fixed lookup table:
// higher load means a smaller shift, i.e. more aggressive decay. The table
// below is XNU's sched_decay_shifts-style curve, truncated to the handful of
// load buckets this simulator actually exercises.
var priShiftTable = [...]int{5, 4, 3, 2, 1, 0}

// priShiftForLoad returns the pri_shift for a given per-CPU load average,
// expressed as a fixed-point value scaled by loadScale (so load==loadScale
// means "one runnable thread per CPU on average").
const loadScale = 1000

func priShiftForLoad(loadPerCPU int64) int {
	bucket := int(loadPerCPU / loadScale)
	if bucket < 0 {
		bucket = 0
	}
	if bucket >= len(priShiftTable) {
		bucket = len(priShiftTable) - 1
	}
	return priShiftTable[bucket]
}

// decayShift controls the exponential decay rate applied to sched_usage at
// each sched_tick: sched_usage -= sched_usage >> decayShift.
const decayShift = 3

func computeSchedPri(basePri int, schedUsage int64, priShift int) int {
	pri := basePri - int(schedUsage>>uint(priShift))
	if pri < MinPri {
		pri = MinPri
	}
	if pri > basePri {
		pri = basePri
	}
	return pri
}

// decaySchedUsage applies one tick of exponential decay.
func decaySchedUsage(usage int64) int64 {
	return usage - (usage >> decayShift)
}

// ageSchedUsage ages a thread's sched_usage by the number of whole ticks
// elapsed since its last sched_stamp and advances sched_stamp; it does not
// touch pri_shift or sched_pri. Called from timeshareSetrunUpdate, which
// refreshes those afterwards; SchedTick decays queued threads itself.
func (s *Scheduler) ageSchedUsage(t *Thread, nowTick int64) {
	for tick := t.SchedStamp; tick < nowTick; tick++ {
		t.SchedUsage = decaySchedUsage(t.SchedUsage)
	}
	t.SchedStamp = nowTick
}

// refreshPriShift recomputes a thread's pri_shift from its bucket group's
// load, honoring the BoundPriShift sentinel for bound threads: a bound
// thread's priority never decays with usage.
func (t *Thread) refreshPriShift(bg *ClutchBucketGroup) {
	if t.isBound() {
		t.PriShift = BoundPriShift
		return
	}
	t.PriShift = priShiftForLoad(bg.loadPerCPU())
}

// timeshareSetrunUpdate runs the TIMESHARE dispatch update: age sched_usage
// by elapsed ticks, refresh pri_shift, recompute sched_pri.
func (s *Scheduler) timeshareSetrunUpdate(t *Thread, nowTick int64) {
	bg := t.Group.bucketGroup(t.Bucket)
	s.ageSchedUsage(t, nowTick)
	t.refreshPriShift(bg)
	t.SchedPri = computeSchedPri(t.BasePri, t.SchedUsage, t.PriShift)
}

// chargeCPU adds a completed CPU segment to a thread's usage counters.
// cpu_usage always accumulates; sched_usage only accumulates while the
// thread isn't pinned at the no-decay sentinel.
func (t *Thread) chargeCPU(delta int64) {
	t.CPUUsage += delta
	if t.PriShift < BoundPriShift {
		t.SchedUsage += delta
	}
}
