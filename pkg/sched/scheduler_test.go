package sched

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/AndrewWarb/human-scheduler/pkg/stats"
)

func newTestScheduler(t *testing.T, numCPUs int) *Scheduler {
	t.Helper()
	cfg := DefaultSchedulerConfig(numCPUs)
	return NewScheduler(cfg, stats.New("test", "sched"), zerolog.Nop())
}

func mustGroup(t *testing.T, s *Scheduler, id string) *ThreadGroup {
	t.Helper()
	g, err := s.CreateThreadGroup(id)
	require.NoError(t, err)
	return g
}

func mustThread(t *testing.T, s *Scheduler, p ThreadParams) *Thread {
	t.Helper()
	th, err := s.CreateThread(p)
	require.NoError(t, err)
	return th
}

func TestCreateThreadRejectsInvalidInput(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustGroup(t, s, "g")

	_, err := s.CreateThread(ThreadParams{Tid: 1, GroupID: "missing", BasePri: 31})
	require.Error(t, err)

	_, err = s.CreateThread(ThreadParams{Tid: 1, GroupID: "g", BasePri: 200})
	require.Error(t, err)

	_, err = s.CreateThread(ThreadParams{Tid: 1, GroupID: "g", BasePri: 31, Policy: PolicyRealtime})
	require.Error(t, err, "realtime thread without RT params is illegal input")

	_, err = s.CreateThread(ThreadParams{Tid: 1, GroupID: "g", BasePri: 31, Policy: PolicyRealtime, RT: &RTParams{Constraint: 10, Computation: 3}})
	require.NoError(t, err)

	_, err = s.CreateThread(ThreadParams{Tid: 1, GroupID: "g", BasePri: 31})
	require.Error(t, err, "duplicate tid is illegal input")
}

// At most one RUNNING thread per processor, and processor.current_pri
// always mirrors the active thread's sched_pri.
func TestAtMostOneRunningThreadPerProcessor(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustGroup(t, s, "g")
	a := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 50, Bucket: BucketFG})
	b := mustThread(t, s, ThreadParams{Tid: 2, GroupID: "g", BasePri: 31, Bucket: BucketFG})

	p, err := s.ThreadSetrun(a, 0, OptNone)
	require.NoError(t, err)
	require.NotNil(t, p)
	selected, chosePrev := s.ThreadSelect(p, 0, nil)
	s.Dispatch(p, selected, 0, chosePrev)
	require.Equal(t, a.Tid, p.Active.Tid)
	require.Equal(t, a.SchedPri, p.CurrentPri)

	_, err = s.ThreadSetrun(b, 0, OptNone)
	require.NoError(t, err)
	require.Equal(t, a.Tid, p.Active.Tid, "lower priority setrun does not preempt")
	require.Equal(t, StateRunning, a.State)
	require.Equal(t, StateRunnable, b.State)
}

// A RUNNABLE thread is in exactly one runqueue; WAITING/TERMINATED threads
// are in none.
func TestRunnableThreadInExactlyOneRunqueue(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustGroup(t, s, "g")
	th := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 31, Bucket: BucketFG})

	require.Equal(t, locNone, th.location)
	_, err := s.ThreadSetrun(th, 0, OptNone)
	require.NoError(t, err)
	require.Equal(t, locClutch, th.location)

	snap := s.Snapshot(0)
	require.Equal(t, 0, snap.Threads[0].RunQueueRank)

	p := s.Processors()[0]
	selected, chosePrev := s.ThreadSelect(p, 0, nil)
	s.Dispatch(p, selected, 0, chosePrev)
	require.Equal(t, locNone, th.location, "once running, not queued anywhere")

	require.NoError(t, s.TerminateThread(th.Tid, 10))
	require.Equal(t, locNone, th.location)
	require.Equal(t, StateTerminated, th.State)
}

// TIMESHARE sched_pri never exceeds base_pri, even after heavy usage
// accrues across repeated quantum expirations.
func TestTimeshareSchedPriNeverExceedsBasePri(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustGroup(t, s, "g")
	th := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 50, Bucket: BucketFG})
	p := s.Processors()[0]

	_, err := s.ThreadSetrun(th, 0, OptNone)
	require.NoError(t, err)
	selected, chosePrev := s.ThreadSelect(p, 0, nil)
	s.Dispatch(p, selected, 0, chosePrev)

	ts := int64(0)
	for i := 0; i < 50; i++ {
		ts += s.QuantumFor(th)
		sel, cp, _ := s.ThreadQuantumExpire(p, ts)
		s.Dispatch(p, sel, ts, cp)
		require.LessOrEqual(t, th.SchedPri, th.BasePri)
	}
}

// Same sched_pri never waits behind a thread with a later rt_deadline.
func TestRTDeadlineBreaksTies(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustGroup(t, s, "g")
	early := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 90, Policy: PolicyRealtime, RT: &RTParams{Constraint: 500, Computation: 100}})
	late := mustThread(t, s, ThreadParams{Tid: 2, GroupID: "g", BasePri: 90, Policy: PolicyRealtime, RT: &RTParams{Constraint: 1000, Computation: 100}})

	_, err := s.ThreadSetrun(late, 0, OptNone)
	require.NoError(t, err)
	_, err = s.ThreadSetrun(early, 0, OptNone)
	require.NoError(t, err)

	p := s.Processors()[0]
	selected, _ := s.ThreadSelect(p, 0, nil)
	require.Equal(t, early.Tid, selected.Tid, "earlier deadline dequeues first at equal priority")
}

// Under StrictRT, a running RT thread keeps the CPU against an equal-priority
// competitor with an earlier deadline: ties never move by deadline once
// strict fixed-priority semantics are in effect.
func TestStrictRTIgnoresDeadlineTieOnContinuation(t *testing.T) {
	cfg := DefaultSchedulerConfig(1)
	cfg.StrictRT = true
	s := NewScheduler(cfg, stats.New("test", "sched"), zerolog.Nop())
	mustGroup(t, s, "g")

	prev := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 90, Policy: PolicyRealtime, RT: &RTParams{Constraint: 1000, Computation: 500}})
	competitor := mustThread(t, s, ThreadParams{Tid: 2, GroupID: "g", BasePri: 90, Policy: PolicyRealtime, RT: &RTParams{Constraint: 400, Computation: 100}})

	p, err := s.ThreadSetrun(prev, 0, OptNone)
	require.NoError(t, err)
	require.NotNil(t, p)
	selected, chosePrev := s.ThreadSelect(p, 0, nil)
	s.Dispatch(p, selected, 0, chosePrev)
	require.Equal(t, prev.Tid, p.Active.Tid)

	_, err = s.ThreadSetrun(competitor, 10, OptNone)
	require.NoError(t, err)
	require.Less(t, *competitor.RTDeadline, *prev.RTDeadline, "competitor's deadline is earlier")

	selected, chosePrev = s.ThreadSelect(p, 20, prev)
	require.True(t, chosePrev, "StrictRT: equal priority never yields continuation to an earlier deadline")
	require.Equal(t, prev.Tid, selected.Tid)
}

// thread_wakeup on an already RUNNABLE or RUNNING thread is a no-op.
func TestWakeupIsIdempotent(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustGroup(t, s, "g")
	th := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 31, Bucket: BucketFG})

	_, err := s.ThreadSetrun(th, 0, OptNone)
	require.NoError(t, err)
	seqBefore := th.enqueueSeq

	p2, err := s.ThreadWakeup(th.Tid, 5)
	require.NoError(t, err)
	require.Nil(t, p2, "no-op returns no processor to preempt")
	require.Equal(t, seqBefore, th.enqueueSeq, "no re-enqueue happened")

	p := s.Processors()[0]
	selected, chosePrev := s.ThreadSelect(p, 0, nil)
	s.Dispatch(p, selected, 0, chosePrev)
	require.Equal(t, StateRunning, th.State)

	p3, err := s.ThreadWakeup(th.Tid, 10)
	require.NoError(t, err)
	require.Nil(t, p3)
}

func TestThreadWakeupUnknownTidIsSilentlyDropped(t *testing.T) {
	s := newTestScheduler(t, 1)
	p, err := s.ThreadWakeup(999, 0)
	require.NoError(t, err)
	require.Nil(t, p)
}

// A bound thread never runs on a processor other than the one it's bound
// to, even when it holds the highest priority in the system.
func TestScenarioBoundThreadNeverMigratesOffItsProcessor(t *testing.T) {
	s := newTestScheduler(t, 2)
	mustGroup(t, s, "g")
	cpu1 := 1
	bound := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 90, Policy: PolicyFixpri, Bucket: BucketFixpri, BoundProcessor: &cpu1})
	unboundFG := mustThread(t, s, ThreadParams{Tid: 2, GroupID: "g", BasePri: 50, Bucket: BucketFG})

	p, err := s.ThreadSetrun(bound, 0, OptNone)
	require.NoError(t, err)
	require.Equal(t, 1, p.Index, "setrun only ever targets the bound processor")
	sel, cp := s.ThreadSelect(p, 0, nil)
	s.Dispatch(p, sel, 0, cp)

	p0 := s.Processors()[0]
	p2, err := s.ThreadSetrun(unboundFG, 0, OptNone)
	require.NoError(t, err)
	require.Equal(t, p0.Index, p2.Index, "unbound thread lands on the idle CPU0, never CPU1")
	sel0, cp0 := s.ThreadSelect(p0, 0, nil)
	s.Dispatch(p0, sel0, 0, cp0)

	require.Equal(t, bound.Tid, s.Processors()[1].Active.Tid)
	require.Equal(t, unboundFG.Tid, s.Processors()[0].Active.Tid)
}

// A real-time thread preempts a running timeshare thread and the timeshare
// thread resumes once the real-time thread blocks, exercised at the
// single-step granularity.
func TestScenarioRealtimePreemptsTimeshare(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustGroup(t, s, "g")
	fg := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 31, Bucket: BucketFG})
	rt := mustThread(t, s, ThreadParams{Tid: 2, GroupID: "g", BasePri: 97, Policy: PolicyRealtime, RT: &RTParams{Period: 10_000, Constraint: 10_000, Computation: 3_000}})

	p, err := s.ThreadSetrun(fg, 0, OptNone)
	require.NoError(t, err)
	sel, cp := s.ThreadSelect(p, 0, nil)
	s.Dispatch(p, sel, 0, cp)
	require.Equal(t, fg.Tid, p.Active.Tid)

	target, err := s.ThreadSetrun(rt, 1_000, OptNone)
	require.NoError(t, err)
	require.NotNil(t, target, "RT always preempts a non-RT-running processor")

	selected, chosePrev, extra := s.Preempt(target, 1_000)
	s.Dispatch(target, selected, 1_000, chosePrev)
	require.Nil(t, extra)
	require.Equal(t, rt.Tid, target.Active.Tid)
	require.Equal(t, StateRunnable, fg.State, "preempted timeshare thread goes back to runnable, not waiting")
	require.Equal(t, locClutch, fg.location, "preempted thread is re-enqueued, not orphaned")
	require.Equal(t, int64(1_000), fg.CPUUsage, "CPU usage charged up to the moment of preemption")

	selAfterBlock, chosePrevAfterBlock := s.ThreadBlock(target, 4_000)
	s.Dispatch(target, selAfterBlock, 4_000, chosePrevAfterBlock)
	require.Equal(t, fg.Tid, target.Active.Tid, "timeshare thread resumes once RT blocks")
}

func TestSetThreadUrgencyMovesQueuedThreadBetweenBuckets(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustGroup(t, s, "g")
	th := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 31, Bucket: BucketBG})
	_, err := s.ThreadSetrun(th, 0, OptNone)
	require.NoError(t, err)
	require.Equal(t, BucketBG, th.Bucket)

	require.NoError(t, s.SetThreadUrgency(th.Tid, BucketFG, 5))
	require.Equal(t, BucketFG, th.Bucket)
	require.Equal(t, locClutch, th.location, "still queued, just in a different bucket")

	bg := th.Group.bucketGroup(BucketBG)
	require.False(t, bg.cb.contains(th.Tid))
	fg := th.Group.bucketGroup(BucketFG)
	require.True(t, fg.cb.contains(th.Tid))
}

func TestTerminateThreadIsSilentForUnknownOrAlreadyTerminated(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NoError(t, s.TerminateThread(42, 0))

	mustGroup(t, s, "g")
	th := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 31, Bucket: BucketFG})
	require.NoError(t, s.TerminateThread(th.Tid, 0))
	require.NoError(t, s.TerminateThread(th.Tid, 1), "terminating twice is a no-op")
}

func TestSchedTickDecaysUsageDeterministically(t *testing.T) {
	s := newTestScheduler(t, 1)
	mustGroup(t, s, "g")
	th := mustThread(t, s, ThreadParams{Tid: 1, GroupID: "g", BasePri: 50, Bucket: BucketFG})
	th.SchedUsage = 1000
	th.enqueueSeq = 1
	bg := th.Group.bucketGroup(BucketFG)
	bg.cb.insert(th, 1)
	th.State = StateRunnable

	s.SchedTick(1)
	require.Less(t, th.SchedUsage, int64(1000))
	require.Equal(t, int64(1), th.SchedStamp)
}
