package engine

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/AndrewWarb/human-scheduler/pkg/sched"
	"github.com/AndrewWarb/human-scheduler/pkg/stats"
)

// ScenarioParams describes a named, reproducible workload preset for the
// `--scenario` CLI flag.
type ScenarioParams struct {
	Name      string
	NumCPUs   int
	Duration  int64
	TickUS    int64
	Seed      int64
	StrictRT  bool
}

// Scenario is a pre-wired (Scheduler, Engine) pair with its workload already
// loaded, ready for Run.
type Scenario struct {
	Name      string
	Scheduler *sched.Scheduler
	Engine    *Engine
}

// scenarioBuilders is the library of named scenarios the CLI's --scenario
// flag selects from (`mixed`, `warp`, `starvation`, plus a couple that
// exercise bound processors and RT contention).
var scenarioBuilders = map[string]func(p ScenarioParams) *Scenario{
	"mixed":      buildMixedScenario,
	"warp":       buildWarpScenario,
	"starvation": buildStarvationScenario,
	"rt":         buildRTScenario,
	"bound":      buildBoundScenario,
}

// ScenarioNames lists every registered scenario, sorted for stable CLI help
// text and deterministic iteration.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarioBuilders))
	for n := range scenarioBuilders {
		names = append(names, n)
	}
	// small, fixed set — simple insertion sort keeps this file free of an
	// extra "sort" import for five elements.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// Build constructs the named scenario, or an error if unknown.
func Build(name string, p ScenarioParams, logger zerolog.Logger) (*Scenario, error) {
	fn, ok := scenarioBuilders[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	p.Name = name
	st := stats.New("clutchsim", name)
	schedCfg := sched.DefaultSchedulerConfig(p.NumCPUs)
	schedCfg.StrictRT = p.StrictRT
	s := sched.NewScheduler(schedCfg, st, logger)
	eng := New(s, Config{DurationUS: p.Duration, TickIntervalUS: p.TickUS, Seed: p.Seed}, logger)
	scn := &Scenario{Name: name, Scheduler: s, Engine: eng}
	fn(p).wireInto(scn)
	return scn, nil
}

// scenarioWorkload is the intermediate description a builder function
// produces; wireInto replays it against an already-constructed Scenario so
// every builder shares the same Scheduler/Engine wiring in Build.
type scenarioWorkload struct {
	groups []string
	threads []struct {
		tid     uint64
		group   string
		params  sched.ThreadParams
		profile BehaviorProfile
		start   int64
	}
}

func (w *scenarioWorkload) wireInto(scn *Scenario) {
	for _, g := range w.groups {
		_, _ = scn.Scheduler.CreateThreadGroup(g)
	}
	for _, th := range w.threads {
		if _, err := scn.Scheduler.CreateThread(th.params); err != nil {
			continue
		}
		scn.Engine.AddThread(th.tid, th.profile, th.start)
	}
}

func (w *scenarioWorkload) addGroup(id string) { w.groups = append(w.groups, id) }

func (w *scenarioWorkload) addThread(tid uint64, group string, params sched.ThreadParams, profile BehaviorProfile, start int64) {
	params.Tid = tid
	params.GroupID = group
	w.threads = append(w.threads, struct {
		tid     uint64
		group   string
		params  sched.ThreadParams
		profile BehaviorProfile
		start   int64
	}{tid, group, params, profile, start})
}

// buildMixedScenario spreads FG/IN/DF/UT/BG timeshare thread groups across a
// handful of threads each, exercising ordinary EDF + decay behavior with no
// warp or starvation pressure.
func buildMixedScenario(p ScenarioParams) *scenarioWorkload {
	w := &scenarioWorkload{}
	bands := []sched.QoSBucket{sched.BucketFG, sched.BucketIN, sched.BucketDF, sched.BucketUT, sched.BucketBG}
	tid := uint64(1)
	for gi, band := range bands {
		group := fmt.Sprintf("group-%s", band.String())
		w.addGroup(group)
		for i := 0; i < 3; i++ {
			w.addThread(tid, group, sched.ThreadParams{
				Policy:  sched.PolicyTimeshare,
				BasePri: 31,
				Bucket:  band,
			}, BehaviorProfile{
				Kind:          BehaviorTimeshare,
				MeanComputeUS: int64(2_000 + gi*500),
				MeanSleepUS:   int64(5_000 + i*1_000),
			}, int64(gi*100+i*10))
			tid++
		}
	}
	return w
}

// buildWarpScenario gives FG a warp budget and loads BG heavily, so FG's
// warp override should repeatedly win against BG's earlier EDF deadline.
func buildWarpScenario(p ScenarioParams) *scenarioWorkload {
	w := &scenarioWorkload{}
	w.addGroup("fg-group")
	w.addGroup("bg-group")
	w.addThread(1, "fg-group", sched.ThreadParams{Policy: sched.PolicyTimeshare, BasePri: 37, Bucket: sched.BucketFG},
		BehaviorProfile{Kind: BehaviorTimeshare, MeanComputeUS: 1_500, MeanSleepUS: 500}, 0)
	for tid := uint64(2); tid <= 6; tid++ {
		w.addThread(tid, "bg-group", sched.ThreadParams{Policy: sched.PolicyTimeshare, BasePri: 4, Bucket: sched.BucketBG},
			BehaviorProfile{Kind: BehaviorTimeshare, MeanComputeUS: 8_000, MeanSleepUS: 100}, int64(tid)*5)
	}
	return w
}

// buildStarvationScenario loads FG so heavily that BG would never win EDF; starvation_threshold should eventually force it through.
func buildStarvationScenario(p ScenarioParams) *scenarioWorkload {
	w := &scenarioWorkload{}
	w.addGroup("busy-group")
	w.addGroup("starved-group")
	for tid := uint64(1); tid <= 8; tid++ {
		w.addThread(tid, "busy-group", sched.ThreadParams{Policy: sched.PolicyTimeshare, BasePri: 50, Bucket: sched.BucketFG},
			BehaviorProfile{Kind: BehaviorTimeshare, MeanComputeUS: 6_000, MeanSleepUS: 50}, int64(tid))
	}
	w.addThread(100, "starved-group", sched.ThreadParams{Policy: sched.PolicyTimeshare, BasePri: 4, Bucket: sched.BucketBG},
		BehaviorProfile{Kind: BehaviorTimeshare, MeanComputeUS: 1_000, MeanSleepUS: 10}, 0)
	return w
}

// buildRTScenario contends two REALTIME threads of equal priority and
// differing deadlines against a timeshare background load.
func buildRTScenario(p ScenarioParams) *scenarioWorkload {
	w := &scenarioWorkload{}
	w.addGroup("rt-group")
	w.addGroup("bg-group")
	w.addThread(1, "rt-group", sched.ThreadParams{
		Policy: sched.PolicyRealtime, BasePri: 97, Bucket: sched.BucketFG,
		RT: &sched.RTParams{Period: 20_000, Computation: 3_000, Constraint: 10_000},
	}, BehaviorProfile{Kind: BehaviorRealtime, RTPeriodUS: 20_000, RTComputationUS: 3_000, RTConstraintUS: 10_000}, 0)
	w.addThread(2, "rt-group", sched.ThreadParams{
		Policy: sched.PolicyRealtime, BasePri: 97, Bucket: sched.BucketFG,
		RT: &sched.RTParams{Period: 15_000, Computation: 2_000, Constraint: 6_000},
	}, BehaviorProfile{Kind: BehaviorRealtime, RTPeriodUS: 15_000, RTComputationUS: 2_000, RTConstraintUS: 6_000}, 1)
	for tid := uint64(3); tid <= 5; tid++ {
		w.addThread(tid, "bg-group", sched.ThreadParams{Policy: sched.PolicyTimeshare, BasePri: 31, Bucket: sched.BucketDF},
			BehaviorProfile{Kind: BehaviorTimeshare, MeanComputeUS: 4_000, MeanSleepUS: 2_000}, int64(tid))
	}
	return w
}

// buildBoundScenario pins a handful of threads to specific processors
// alongside an unbound pool, exercising the bound runqueue path. The bound
// threads are FIXPRI, so timeshare decay and the bound pri_shift sentinel do
// not apply to them.
func buildBoundScenario(p ScenarioParams) *scenarioWorkload {
	w := &scenarioWorkload{}
	w.addGroup("bound-group")
	w.addGroup("pool-group")
	numCPUs := p.NumCPUs
	if numCPUs <= 0 {
		numCPUs = 1
	}
	for cpu := 0; cpu < numCPUs; cpu++ {
		idx := cpu
		w.addThread(uint64(cpu+1), "bound-group", sched.ThreadParams{
			Policy: sched.PolicyFixpri, BasePri: 62, Bucket: sched.BucketFixpri, BoundProcessor: &idx,
		}, BehaviorProfile{Kind: BehaviorFixpri, MeanComputeUS: 5_000, MeanSleepUS: 3_000}, int64(cpu))
	}
	for tid := uint64(numCPUs + 1); tid <= uint64(numCPUs+4); tid++ {
		w.addThread(tid, "pool-group", sched.ThreadParams{Policy: sched.PolicyTimeshare, BasePri: 31, Bucket: sched.BucketFG},
			BehaviorProfile{Kind: BehaviorTimeshare, MeanComputeUS: 3_000, MeanSleepUS: 1_500}, int64(tid))
	}
	return w
}

// Fingerprint hashes the run's reproducibility inputs (seed, scenario, cpu
// count, duration, strict-RT flag) so CLI/API output can cheaply assert "same inputs" without
// diffing a full trace.
func Fingerprint(p ScenarioParams) string {
	data := fmt.Sprintf("%s|%d|%d|%d|%v", p.Name, p.NumCPUs, p.Duration, p.Seed, p.StrictRT)
	sum := blake2b.Sum256([]byte(data))
	return hex.EncodeToString(sum[:8])
}
