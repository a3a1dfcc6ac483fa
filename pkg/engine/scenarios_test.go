package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestScenarioNamesAreSortedAndComplete(t *testing.T) {
	names := ScenarioNames()
	require.Equal(t, []string{"bound", "mixed", "rt", "starvation", "warp"}, names)
}

func TestBuildUnknownScenarioErrors(t *testing.T) {
	_, err := Build("nonexistent", ScenarioParams{NumCPUs: 1, Duration: 1000, TickUS: 100}, zerolog.Nop())
	require.Error(t, err)
}

func baseParams(name string) ScenarioParams {
	return ScenarioParams{Name: name, NumCPUs: 2, Duration: 200_000, TickUS: 5_000, Seed: 7}
}

// Every registered scenario builds and runs to completion without the
// scheduler core reporting an invariant violation (which would panic via
// Engine.fatal), and produces some observable activity.
func TestEveryScenarioRunsToCompletion(t *testing.T) {
	for _, name := range ScenarioNames() {
		name := name
		t.Run(name, func(t *testing.T) {
			scn, err := Build(name, baseParams(name), zerolog.Nop())
			require.NoError(t, err)
			require.NotPanics(t, func() { scn.Engine.Run() })

			snap := scn.Scheduler.Snapshot(scn.Engine.Now())
			require.NotEmpty(t, snap.Threads)
			require.Greater(t, snap.Counters.Ticks, int64(0))
		})
	}
}

// Identical (seed, scenario, cpus, duration) produces a byte-identical
// trace.
func TestDeterministicReplayProducesIdenticalTrace(t *testing.T) {
	params := baseParams("mixed")

	run := func() []string {
		scn, err := Build("mixed", params, zerolog.Nop())
		require.NoError(t, err)
		scn.Engine.Run()
		return append([]string(nil), scn.Scheduler.Stats().Trace.Lines()...)
	}

	first := run()
	second := run()
	require.NotEmpty(t, first)
	require.Equal(t, first, second, "identical inputs must replay to an identical trace")
}

// Relaxed to what's observable from outside the core: on a single CPU, no
// combination of threads can have accumulated more CPU usage than wall time
// actually elapsed, since at most one thread runs at any instant.
func TestCPUUsageNeverExceedsWallClockOnSingleCPU(t *testing.T) {
	params := ScenarioParams{Name: "warp", NumCPUs: 1, Duration: 100_000, TickUS: 10_000, Seed: 3}
	scn, err := Build("warp", params, zerolog.Nop())
	require.NoError(t, err)
	scn.Engine.Run()

	snap := scn.Scheduler.Snapshot(scn.Engine.Now())
	var total int64
	for _, th := range snap.Threads {
		total += th.CPUUsage
	}
	require.LessOrEqual(t, total, params.Duration)
}

func TestFingerprintIsStableForIdenticalInputsAndVariesOtherwise(t *testing.T) {
	a := ScenarioParams{Name: "mixed", NumCPUs: 4, Duration: 100_000, Seed: 1}
	b := a
	require.Equal(t, Fingerprint(a), Fingerprint(b))

	b.Seed = 2
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestRTScenarioRespectsDeadlinesUnderAdequateCapacity(t *testing.T) {
	params := baseParams("rt")
	params.NumCPUs = 2
	scn, err := Build("rt", params, zerolog.Nop())
	require.NoError(t, err)
	scn.Engine.Run()

	snap := scn.Scheduler.Snapshot(scn.Engine.Now())
	require.Equal(t, int64(0), snap.Counters.RTDeadlineMisses, "two RT threads on two CPUs should never miss a deadline")
}

func TestBoundScenarioThreadsStayOnTheirOwnProcessor(t *testing.T) {
	params := baseParams("bound")
	scn, err := Build("bound", params, zerolog.Nop())
	require.NoError(t, err)
	scn.Engine.Run()

	snap := scn.Scheduler.Snapshot(scn.Engine.Now())
	for _, th := range snap.Threads {
		if th.BoundProcessor == nil {
			continue
		}
		require.True(t, th.State != "RUNNING" || *th.BoundProcessor < params.NumCPUs)
	}
	for _, ps := range snap.Processors {
		if ps.ActiveTid == nil {
			continue
		}
		for _, th := range snap.Threads {
			if th.Tid == *ps.ActiveTid && th.BoundProcessor != nil {
				require.Equal(t, *th.BoundProcessor, ps.Index, "a bound thread only ever runs on its own processor")
			}
		}
	}
}
