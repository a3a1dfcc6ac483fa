package engine

import "math/rand/v2"

// BehaviorKind is the workload shape assigned to a simulated thread, mirroring
// the three sched.Policy values but kept as its own type since the engine's
// workload model is a peripheral concern distinct from the scheduler's own
// policy enum.
type BehaviorKind int

const (
	BehaviorTimeshare BehaviorKind = iota
	BehaviorFixpri
	BehaviorRealtime
)

// BehaviorProfile is the per-thread workload shape: how long a thread
// computes before sleeping (timeshare/fixpri), or its RT period triple
// (realtime). Sampling from it is deterministic given the engine's seeded
// PRNG.
type BehaviorProfile struct {
	Kind BehaviorKind

	MeanComputeUS int64
	MeanSleepUS   int64

	RTPeriodUS      int64
	RTComputationUS int64
	RTConstraintUS  int64
}

// sampleDuration draws an exponentially distributed duration with the given
// mean, floored at 1us so no event is ever scheduled at the current instant.
// Exponential interarrival/service times are the standard choice for this
// kind of workload model and require nothing beyond the PRNG already
// threaded through the engine for deterministic replay.
func sampleDuration(rng *rand.Rand, meanUS int64) int64 {
	if meanUS <= 0 {
		return 1
	}
	v := int64(rng.ExpFloat64() * float64(meanUS))
	if v < 1 {
		v = 1
	}
	return v
}
