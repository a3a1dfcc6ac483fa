package sched

import "sort"

// ThreadSnapshot is a read-only view of one thread for the adapter/API
// layer. Ranks and timestamps are computed relative to the `now` passed to
// Scheduler.Snapshot, never from wall-clock time.
type ThreadSnapshot struct {
	Tid              uint64
	GroupID          string
	State            string
	Policy           string
	Bucket           string
	BasePri          int
	SchedPri         int
	CPUUsage         int64
	SchedUsage       int64
	QuantumBase      int64
	QuantumRemaining int64
	RTDeadline       *int64
	BoundProcessor   *int
	// RunQueueRank is this thread's 0-based position in whichever runqueue
	// currently holds it (0 = next to run), or -1 if it isn't queued
	// (RUNNING, WAITING, or TERMINATED).
	RunQueueRank int
}

// RootBucketSnapshot is a read-only view of one QoS root bucket.
type RootBucketSnapshot struct {
	Band              string
	GroupCount        int
	Deadline          int64
	WarpRemaining     int64
	WarpTotal         int64
	StarvationElapsed int64
}

// ProcessorSnapshot is a read-only view of one CPU.
type ProcessorSnapshot struct {
	Index      int
	Idle       bool
	ActiveTid  *uint64
	CurrentPri int
	BoundQueue int
}

// Snapshot is the full point-in-time scheduler view used for inspection,
// trace rendering, and the human-task adapter's dashboard.
type Snapshot struct {
	Now        int64
	Threads    []ThreadSnapshot
	RootBuckets []RootBucketSnapshot
	Processors []ProcessorSnapshot
	Counters   Countersnap
}

// Countersnap is a plain-value copy of stats.Counters taken at snapshot time,
// so a Snapshot carries no reference to the live stats bundle or its
// Prometheus mirror.
type Countersnap struct {
	Wakeups          int64
	Blocks           int64
	QuantumExpires   int64
	Ticks            int64
	ContextSwitches  int64
	RTDeadlineMisses int64
}

// Snapshot renders the full scheduler state at time `now`, iterating threads
// and groups in deterministic (sorted) order.
func (s *Scheduler) Snapshot(now int64) Snapshot {
	snap := Snapshot{Now: now}

	tids := make([]uint64, 0, len(s.threads))
	for tid := range s.threads {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	for _, tid := range tids {
		t := s.threads[tid]
		snap.Threads = append(snap.Threads, ThreadSnapshot{
			Tid:              t.Tid,
			GroupID:          t.GroupID,
			State:            t.State.String(),
			Policy:           t.Policy.String(),
			Bucket:           t.Bucket.String(),
			BasePri:          t.BasePri,
			SchedPri:         t.SchedPri,
			CPUUsage:         t.CPUUsage,
			SchedUsage:       t.SchedUsage,
			QuantumBase:      t.QuantumBase,
			QuantumRemaining: t.QuantumRemaining,
			RTDeadline:       t.RTDeadline,
			BoundProcessor:   t.BoundProcessor,
			RunQueueRank:     s.rankInQueue(t),
		})
	}

	for b := QoSBucket(0); b < NumBuckets; b++ {
		rb := s.root.unbound[b]
		snap.RootBuckets = append(snap.RootBuckets, RootBucketSnapshot{
			Band:              b.String(),
			GroupCount:        len(rb.fifo),
			Deadline:          rb.Deadline,
			WarpRemaining:     rb.WarpRemaining,
			WarpTotal:         rb.WarpTotal,
			StarvationElapsed: now - rb.StarvationTS,
		})
	}

	for _, p := range s.processors {
		ps := ProcessorSnapshot{Index: p.Index, Idle: p.idle(), CurrentPri: p.CurrentPri, BoundQueue: p.BoundRunq.Len()}
		if p.Active != nil {
			tid := p.Active.Tid
			ps.ActiveTid = &tid
		}
		snap.Processors = append(snap.Processors, ps)
	}

	snap.Counters = Countersnap{
		Wakeups:          s.stats.Counters.Wakeups,
		Blocks:           s.stats.Counters.Blocks,
		QuantumExpires:   s.stats.Counters.QuantumExpires,
		Ticks:            s.stats.Counters.Ticks,
		ContextSwitches:  s.stats.Counters.ContextSwitches,
		RTDeadlineMisses: s.stats.Counters.RTDeadlineMisses,
	}
	return snap
}

// rankInQueue finds t's position within whichever runqueue currently holds
// it, per the priority/seq order that queue dequeues in. -1 if not queued.
func (s *Scheduler) rankInQueue(t *Thread) int {
	switch t.location {
	case locRT:
		return rankAmong(s.rt.items, t.Tid, func(i, j int) bool { return s.rt.Less(i, j) })
	case locBound:
		p := s.processors[*t.BoundProcessor]
		return rankAmong(p.BoundRunq.items, t.Tid, func(i, j int) bool { return p.BoundRunq.Less(i, j) })
	case locClutch:
		bg := t.Group.bucketGroup(t.Bucket)
		return rankAmong(bg.cb.runq.items, t.Tid, func(i, j int) bool { return bg.cb.runq.Less(i, j) })
	default:
		return -1
	}
}

type tidAt interface{ tid() uint64 }

func (it *threadHeapItem) tid() uint64 { return it.thread.Tid }
func (it *rtHeapItem) tid() uint64     { return it.thread.Tid }

func rankAmong[T tidAt](items []T, tid uint64, less func(i, j int) bool) int {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return less(order[i], order[j]) })
	for rank, idx := range order {
		if items[idx].tid() == tid {
			return rank
		}
	}
	return -1
}
