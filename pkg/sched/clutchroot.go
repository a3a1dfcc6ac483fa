package sched

// ClutchRoot implements the EDF + warp + starvation-avoidance policy across
// the six QoS root buckets. The six "bound" root buckets are kept as
// present-but-always-empty structural slots: a bound non-RT thread routes
// straight into its processor's bound runqueue and a bound RT thread into
// the RT queue, so nothing ever reaches them under any operation defined
// here.
type ClutchRoot struct {
	unbound [NumBuckets]*RootBucket
	bound   [NumBuckets]*RootBucket

	cfg ClutchRootConfig

	// ScrPriority is the effective top priority across the hierarchy,
	// maintained incrementally on every structural change rather than
	// recomputed by the (mutating) EDF decision, so priority peeks for
	// preemption checks never perturb warp/deadline state.
	ScrPriority int
}

// ClutchRootConfig parameterizes the EDF/warp/starvation policy.
type ClutchRootConfig struct {
	// QuantumForBand is the EDF virtual-time increment each band is granted
	// when selected, indexed by QoSBucket.
	QuantumForBand [NumBuckets]int64
	// WarpTotalForBand is the warp budget each band is refilled to,
	// indexed by QoSBucket. Typically zero for BG (nothing to warp into BG).
	WarpTotalForBand [NumBuckets]int64
	// StarvationThreshold is the max time a non-empty root bucket may go
	// unserviced before starvation avoidance forces it to run.
	StarvationThreshold int64
}

func DefaultClutchRootConfig() ClutchRootConfig {
	cfg := ClutchRootConfig{StarvationThreshold: 200_000} // 200ms in us
	for b := QoSBucket(0); b < NumBuckets; b++ {
		cfg.QuantumForBand[b] = 10_000 // 10ms
	}
	cfg.WarpTotalForBand[BucketFG] = 8_000
	cfg.WarpTotalForBand[BucketIN] = 4_000
	cfg.WarpTotalForBand[BucketDF] = 2_000
	cfg.WarpTotalForBand[BucketUT] = 1_000
	cfg.WarpTotalForBand[BucketBG] = 0
	return cfg
}

func newClutchRoot(cfg ClutchRootConfig) *ClutchRoot {
	cr := &ClutchRoot{cfg: cfg, ScrPriority: NoPri}
	for b := QoSBucket(0); b < NumBuckets; b++ {
		cr.unbound[b] = newRootBucket(b, cfg.WarpTotalForBand[b])
		cr.bound[b] = newRootBucket(b, 0)
	}
	return cr
}

// contain inserts a clutch bucket into the root bucket for its band, if it
// isn't already contained, and refreshes ScrPriority.
func (cr *ClutchRoot) contain(cb *ClutchBucket, now int64) {
	rb := cr.unbound[cb.bucket]
	rb.enqueue(cb, now)
	cr.recomputeSCR()
}

// release removes a now-empty clutch bucket from its root bucket.
func (cr *ClutchRoot) release(cb *ClutchBucket) {
	rb := cr.unbound[cb.bucket]
	rb.dequeueEmpty(cb)
	cr.recomputeSCR()
}

func (cr *ClutchRoot) recomputeSCR() {
	top := NoPri
	for b := QoSBucket(0); b < NumBuckets; b++ {
		if rb := cr.unbound[b]; !rb.empty() {
			if head := rb.headBucket(); head != nil {
				if t := head.peekMax(); t != nil && t.SchedPri > top {
					top = t.SchedPri
				}
			}
		}
	}
	cr.ScrPriority = top
}

// effectivePriority returns scr_priority adjusted to include prev_thread's
// own priority if prev belongs to the hierarchy ("keep-running bonus"): prev
// was pulled out of its clutch bucket when it started running, so it no
// longer counts toward ScrPriority on its own.
func (cr *ClutchRoot) effectivePriority(prev *Thread) int {
	if prev == nil || prev.isRealtime() || prev.isBound() {
		return cr.ScrPriority
	}
	if prev.SchedPri > cr.ScrPriority {
		return prev.SchedPri
	}
	return cr.ScrPriority
}

// highestRootBucket runs the root-bucket selection phase: strict FIXPRI lane
// first when its head thread is above-UI, then EDF across every non-empty
// band (a below-UI FIXPRI lane included) with warp override and starvation
// avoidance. Returns the selected
// root bucket, or nil if the whole hierarchy is empty. chosePrevBucket
// reports whether the selection equals prevBucket (the tentative chose_prev
// signal).
func (cr *ClutchRoot) highestRootBucket(now int64, prevBucket *RootBucket) (sel *RootBucket, chosePrevBucket bool) {
	if fix := cr.unbound[BucketFixpri]; !fix.empty() {
		if head := fix.headBucket(); head != nil {
			if top := head.peekMax(); top != nil && top.SchedPri >= AboveUIPri {
				return cr.serviceBand(fix, now, false), fix == prevBucket
			}
		}
	}

	var edfWinner *RootBucket
	for b := BucketFixpri; b < NumBuckets; b++ {
		rb := cr.unbound[b]
		if rb.empty() {
			continue
		}
		if edfWinner == nil || rb.Deadline < edfWinner.Deadline {
			edfWinner = rb
		}
	}
	if edfWinner == nil {
		return nil, false
	}

	tentative := edfWinner
	warped := false
	for b := BucketFixpri; b < edfWinner.Band; b++ {
		rb := cr.unbound[b]
		if !rb.empty() && rb.WarpRemaining > 0 {
			tentative = rb
			warped = true
			break
		}
	}

	final := tentative
	finalWarped := warped
	for b := tentative.Band + 1; b < NumBuckets; b++ {
		rb := cr.unbound[b]
		if rb.empty() {
			continue
		}
		if now-rb.StarvationTS >= cr.cfg.StarvationThreshold {
			final = rb
			finalWarped = false
			break
		}
	}

	return cr.serviceBand(final, now, finalWarped), final == prevBucket
}

// hierarchyThreadHighest runs the full selection end-to-end: the root-bucket
// phase followed by the clutch-bucket phase (FIFO head, peek_max, same-bucket
// tie-break). It does NOT mutate runqueues when prev wins the tie — prev
// keeps running and the queued candidate stays queued for next time.
func (cr *ClutchRoot) hierarchyThreadHighest(now int64, prev *Thread) (thread *Thread, chosePrev bool) {
	var prevBucket *RootBucket
	prevInHierarchy := prev != nil && !prev.isRealtime() && !prev.isBound()
	if prevInHierarchy {
		prevBucket = cr.unbound[prev.Bucket]
	}

	rb, chosePrevBucket := cr.highestRootBucket(now, prevBucket)
	if rb == nil {
		return nil, false
	}
	cb := rb.headBucket()
	if cb == nil {
		return nil, false
	}
	top := cb.peekMax()
	if top == nil {
		return nil, false
	}

	if prevInHierarchy && chosePrevBucket && prev.Group == cb.group && prev.Bucket == rb.Band && prev.SchedPri >= top.SchedPri {
		rb.rotate()
		return prev, true
	}

	picked := cb.dequeueForRun()
	if cb.empty() {
		cr.release(cb)
	} else {
		rb.rotate()
	}
	cr.recomputeSCR()
	return picked, false
}

// serviceBand applies the EDF-deadline / warp-budget bookkeeping for a
// selected band (the post-selection update) and returns it.
func (cr *ClutchRoot) serviceBand(rb *RootBucket, now int64, warped bool) *RootBucket {
	q := cr.cfg.QuantumForBand[rb.Band]
	if warped {
		rb.WarpRemaining -= q
		if rb.WarpRemaining < 0 {
			rb.WarpRemaining = 0
		}
	} else {
		rb.WarpRemaining = rb.WarpTotal
	}
	if rb.Deadline < now {
		rb.Deadline = now
	}
	rb.Deadline += q
	rb.StarvationTS = now
	return rb
}
