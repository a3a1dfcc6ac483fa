package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setrunInto(t *testing.T, cr *ClutchRoot, g *ThreadGroup, b QoSBucket, tid uint64, pri int, seq int64, now int64) *Thread {
	t.Helper()
	th := &Thread{Tid: tid, BasePri: pri, SchedPri: pri, Policy: PolicyTimeshare, Group: g, Bucket: b}
	bg := g.bucketGroup(b)
	bg.cb.insert(th, seq)
	g.incRunnable(b)
	cr.contain(bg.cb, now)
	return th
}

func TestHighestRootBucketPrefersFixpriLaneWhenAboveUI(t *testing.T) {
	cr := newClutchRoot(DefaultClutchRootConfig())
	fgGroup := newThreadGroup("fg")
	fixGroup := newThreadGroup("fix")

	setrunInto(t, cr, fgGroup, BucketFG, 1, 50, 1, 0)
	setrunInto(t, cr, fixGroup, BucketFixpri, 2, AboveUIPri, 2, 0)

	thread, _ := cr.hierarchyThreadHighest(0, nil)
	require.Equal(t, uint64(2), thread.Tid, "FIXPRI at or above AboveUIPri wins unconditionally")
}

func TestSubAboveUIFixpriLosesToEDFTimeshare(t *testing.T) {
	cr := newClutchRoot(DefaultClutchRootConfig())
	fgGroup := newThreadGroup("fg")
	fixGroup := newThreadGroup("fix")

	setrunInto(t, cr, fixGroup, BucketFixpri, 2, AboveUIPri-1, 1, 0)
	// give FIXPRI's root bucket a deadline strictly later than FG's so EDF,
	// which it now competes in, doesn't pick it by tie-break either.
	cr.unbound[BucketFixpri].Deadline = 1_000

	setrunInto(t, cr, fgGroup, BucketFG, 1, 50, 2, 0)

	thread, _ := cr.hierarchyThreadHighest(0, nil)
	require.Equal(t, uint64(1), thread.Tid, "below-AboveUIPri FIXPRI must compete via EDF, not bypass it")
}

func TestHighestRootBucketEDFPicksEarliestDeadline(t *testing.T) {
	cfg := DefaultClutchRootConfig()
	cr := newClutchRoot(cfg)
	a := newThreadGroup("a")
	b := newThreadGroup("b")

	setrunInto(t, cr, a, BucketFG, 1, 31, 1, 0)
	setrunInto(t, cr, b, BucketIN, 2, 31, 2, 0)

	// FG hasn't been serviced yet: both deadlines start at 0, FG (lower
	// band index iterates first in ties via "<" comparison keeping first
	// found) wins the initial tie.
	first, _ := cr.hierarchyThreadHighest(0, nil)
	require.Equal(t, uint64(1), first.Tid)
}

func TestWarpOverridesEDFThenExhausts(t *testing.T) {
	cfg := DefaultClutchRootConfig()
	cfg.WarpTotalForBand[BucketFG] = 5_000
	cfg.QuantumForBand[BucketFG] = 5_000
	cfg.QuantumForBand[BucketBG] = 5_000
	cr := newClutchRoot(cfg)
	fg := newThreadGroup("fg")
	bgGroup := newThreadGroup("bg")

	setrunInto(t, cr, bgGroup, BucketBG, 1, 4, 1, 0)
	// advance BG's deadline ahead of FG's so EDF alone would pick BG first.
	cr.unbound[BucketBG].Deadline = -1000

	setrunInto(t, cr, fg, BucketFG, 2, 31, 2, 100)

	picked, _ := cr.hierarchyThreadHighest(100, nil)
	require.Equal(t, uint64(2), picked.Tid, "FG warps over BG's earlier EDF deadline")
	require.Less(t, cr.unbound[BucketFG].WarpRemaining, cfg.WarpTotalForBand[BucketFG], "warp budget consumed by the warp")
}

func TestStarvationAvoidanceElevatesLowerBand(t *testing.T) {
	cfg := DefaultClutchRootConfig()
	cfg.StarvationThreshold = 1_000
	cr := newClutchRoot(cfg)
	fg := newThreadGroup("fg")
	bgGroup := newThreadGroup("bg")

	setrunInto(t, cr, fg, BucketFG, 1, 50, 1, 0)
	cr.unbound[BucketFG].Deadline = -1_000_000 // FG would win EDF forever without starvation avoidance

	setrunInto(t, cr, bgGroup, BucketBG, 2, 4, 2, 0)
	cr.unbound[BucketBG].StarvationTS = 0

	picked, _ := cr.hierarchyThreadHighest(5_000, nil)
	require.Equal(t, uint64(2), picked.Tid, "BG's starvation timestamp exceeded the threshold")
}

func TestSameBucketTieFavorsPrev(t *testing.T) {
	cfg := DefaultClutchRootConfig()
	cr := newClutchRoot(cfg)
	g := newThreadGroup("g")
	bg := g.bucketGroup(BucketFG)

	prev := &Thread{Tid: 1, BasePri: 31, SchedPri: 31, Policy: PolicyTimeshare, Group: g, Bucket: BucketFG}
	queued := &Thread{Tid: 2, BasePri: 31, SchedPri: 31, Policy: PolicyTimeshare, Group: g, Bucket: BucketFG}
	bg.cb.insert(queued, 1)
	cr.contain(bg.cb, 0)

	thread, chosePrev := cr.hierarchyThreadHighest(0, prev)
	require.True(t, chosePrev)
	require.Equal(t, uint64(1), thread.Tid, "equal-priority prev in its own bucket wins the tie")
	require.True(t, bg.cb.contains(2), "the queued thread stays queued, it was never dequeued")
}
