package sched

// ThreadGroup holds a SchedClutch of six ClutchBucketGroups, one per QoS
// band.
type ThreadGroup struct {
	ID      string
	buckets [NumBuckets]*ClutchBucketGroup

	// runnableCount and cpuUsed are the per-group fairness counters,
	// aggregated across the six bucket groups. They are internal bookkeeping:
	// neither Snapshot nor pkg/adapter reports them.
	runnableCount int
	cpuUsed       int64
}

func newThreadGroup(id string) *ThreadGroup {
	g := &ThreadGroup{ID: id}
	for b := QoSBucket(0); b < NumBuckets; b++ {
		g.buckets[b] = newClutchBucketGroup(g, b)
	}
	return g
}

func (g *ThreadGroup) bucketGroup(b QoSBucket) *ClutchBucketGroup { return g.buckets[b] }

func (g *ThreadGroup) incRunnable(b QoSBucket) {
	g.buckets[b].runnableCount++
	g.runnableCount++
}

func (g *ThreadGroup) decRunnable(b QoSBucket) {
	g.buckets[b].runnableCount--
	g.runnableCount--
}

func (g *ThreadGroup) chargeCPU(b QoSBucket, delta int64) {
	g.buckets[b].cpuUsed += delta
	g.cpuUsed += delta
}
