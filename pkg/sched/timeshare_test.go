package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSchedPriClampsToRange(t *testing.T) {
	require.Equal(t, 31, computeSchedPri(31, 0, 3), "no usage means no penalty")
	require.Equal(t, MinPri, computeSchedPri(10, 1<<20, 0), "heavy usage clamps at MIN_PRI")
	require.LessOrEqual(t, computeSchedPri(50, 100, 2), 50, "sched_pri never exceeds base_pri")
}

func TestDecaySchedUsageIsExponential(t *testing.T) {
	usage := int64(1000)
	for i := 0; i < 10; i++ {
		next := decaySchedUsage(usage)
		require.Less(t, next, usage, "each tick strictly reduces usage while usage > 0")
		usage = next
	}
	require.Equal(t, int64(0), decaySchedUsage(0))
}

func TestRefreshPriShiftHonorsBoundSentinel(t *testing.T) {
	idx := 2
	bound := &Thread{Tid: 1, BoundProcessor: &idx}
	bound.refreshPriShift(nil)
	require.Equal(t, BoundPriShift, bound.PriShift, "bound threads never decay")
}

func TestChargeCPUSkipsSchedUsageWhenPinned(t *testing.T) {
	th := &Thread{Tid: 1, PriShift: BoundPriShift}
	th.chargeCPU(500)
	require.Equal(t, int64(500), th.CPUUsage, "cpu_usage always accumulates")
	require.Equal(t, int64(0), th.SchedUsage, "sched_usage frozen while pinned")

	th2 := &Thread{Tid: 2, PriShift: 3}
	th2.chargeCPU(500)
	require.Equal(t, int64(500), th2.SchedUsage)
}
