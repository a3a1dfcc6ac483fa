package sched

// ClutchBucket is the runqueue for one (thread-group, QoS-band) pair: a
// max-priority runqueue of threads plus the set of timeshare threads that
// age each sched_tick. XNU keys this per group x per cluster; this
// simulator has no NUMA/cluster dimension, so each ClutchBucketGroup owns
// exactly one ClutchBucket.
type ClutchBucket struct {
	group  *ThreadGroup
	bucket QoSBucket

	runq      *threadHeap
	timeshare map[uint64]*Thread // tid -> thread, for sched_tick aging

	// inRootBucket tracks whether this bucket is currently contained by its
	// root bucket's FIFO. Root buckets hold references to clutch buckets,
	// never the reverse, to avoid a reference cycle.
	inRootBucket bool
}

func newClutchBucket(g *ThreadGroup, b QoSBucket) *ClutchBucket {
	return &ClutchBucket{
		group:     g,
		bucket:    b,
		runq:      newThreadHeap(),
		timeshare: make(map[uint64]*Thread),
	}
}

func (cb *ClutchBucket) empty() bool { return cb.runq.Len() == 0 }

func (cb *ClutchBucket) insert(t *Thread, seq int64) {
	cb.runq.insert(t, seq)
	if t.isTimeshare() {
		cb.timeshare[t.Tid] = t
	}
}

func (cb *ClutchBucket) remove(tid uint64) bool {
	ok := cb.runq.remove(tid)
	delete(cb.timeshare, tid)
	return ok
}

func (cb *ClutchBucket) peekMax() *Thread { return cb.runq.peekMax() }
func (cb *ClutchBucket) fix(tid uint64)   { cb.runq.fix(tid) }
func (cb *ClutchBucket) contains(tid uint64) bool { return cb.runq.contains(tid) }

// dequeueForRun removes and returns the head-priority thread, clearing its
// timeshare-set membership (it no longer waits in this bucket).
func (cb *ClutchBucket) dequeueForRun() *Thread {
	t := cb.runq.popMax()
	if t != nil {
		delete(cb.timeshare, t.Tid)
	}
	return t
}

// ClutchBucketGroup is the per-thread-group, per-QoS-band aggregate: load/CPU
// counters and the derived pri_shift, wrapping the single ClutchBucket this
// build maintains per band.
type ClutchBucketGroup struct {
	bucket QoSBucket
	cb     *ClutchBucket

	runnableCount int
	cpuUsed       int64
	priShift      int

	// cachedLoadPerCPU is recomputed once per sched_tick by SchedTick via
	// loadPerCPUFor (scheduler.go), since pri_shift is keyed off system-wide load, not an
	// instantaneous per-access computation.
	cachedLoadPerCPU int64
}

func newClutchBucketGroup(g *ThreadGroup, b QoSBucket) *ClutchBucketGroup {
	return &ClutchBucketGroup{
		bucket:   b,
		cb:       newClutchBucket(g, b),
		priShift: priShiftTable[0],
	}
}

// loadPerCPU approximates XNU's load_average/cpu_count as a fixed-point
// value scaled by loadScale, driven by this band's runnable count relative
// to the scheduler-wide processor count (set by SchedTick).
func (bg *ClutchBucketGroup) loadPerCPU() int64 { return bg.cachedLoadPerCPU }
