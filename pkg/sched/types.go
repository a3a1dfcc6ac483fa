// Package sched implements the Clutch scheduler core: the data hierarchy of
// threads, thread groups, clutch buckets, root buckets and processors, and
// the four canonical entry points (setrun, select, dispatch, sched_tick)
// that decide what runs where.
package sched

import "fmt"

// Policy is the scheduling policy assigned to a thread at creation time.
type Policy int

const (
	PolicyTimeshare Policy = iota
	PolicyRealtime
	PolicyFixpri
)

func (p Policy) String() string {
	switch p {
	case PolicyTimeshare:
		return "TIMESHARE"
	case PolicyRealtime:
		return "REALTIME"
	case PolicyFixpri:
		return "FIXPRI"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ThreadState is the lifecycle state of a thread.
type ThreadState int

const (
	StateWaiting ThreadState = iota
	StateRunnable
	StateRunning
	StateTerminated
)

func (s ThreadState) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateRunnable:
		return "RUNNABLE"
	case StateRunning:
		return "RUNNING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("ThreadState(%d)", int(s))
	}
}

// QoSBucket is one of the six priority lanes at scheduler root.
type QoSBucket int

const (
	BucketFixpri QoSBucket = iota
	BucketFG
	BucketIN
	BucketDF
	BucketUT
	BucketBG
	NumBuckets
)

func (b QoSBucket) String() string {
	switch b {
	case BucketFixpri:
		return "FIXPRI"
	case BucketFG:
		return "FG"
	case BucketIN:
		return "IN"
	case BucketDF:
		return "DF"
	case BucketUT:
		return "UT"
	case BucketBG:
		return "BG"
	default:
		return fmt.Sprintf("QoSBucket(%d)", int(b))
	}
}

// Priority bounds, matching XNU's sched_prim.h conventions.
const (
	MinPri  = 0
	MaxPri  = 127
	NoPri   = -1
	IdlePri = 0
	// AboveUIPri is the minimum sched_pri a fixed-priority root bucket must
	// hold to unconditionally win over the EDF/warp timeshare lanes.
	AboveUIPri = 96
	// BoundPriShift is the sentinel pri_shift applied to bound threads: a
	// shift of 127 makes sched_usage>>127 always zero, i.e. "no decay".
	// Preserved as documented in DESIGN.md's Open Question resolution.
	BoundPriShift = 127
)

// SetrunOption are bit flags accepted by thread_setrun / thread_wakeup.
type SetrunOption int

const (
	OptNone SetrunOption = 0
	// OptHeadQ inserts at the head of its runqueue instead of the tail.
	OptHeadQ SetrunOption = 1 << iota
	// OptTailQ forces tail insertion even for bound runqueues (fairness).
	OptTailQ
	// OptPreempt allows preemption at equal priority, not just strictly higher.
	OptPreempt
)

func (o SetrunOption) has(flag SetrunOption) bool { return o&flag != 0 }
