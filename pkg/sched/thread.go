package sched

// Thread is the scheduler's unit of work, field names following XNU's own
// thread_t naming so the mapping stays legible at a glance.
type Thread struct {
	Tid      uint64
	BasePri  int
	SchedPri int
	State    ThreadState
	Policy   Policy

	GroupID string
	Group   *ThreadGroup
	Bucket  QoSBucket

	BoundProcessor *int // processor index, nil if unbound

	CPUUsage   int64
	SchedUsage int64
	PriShift   int

	QuantumBase      int64
	QuantumRemaining int64
	FirstTimeslice   bool

	RTDeadline    *int64
	RTConstraint  int64
	RTPeriod      int64
	RTComputation int64

	LastMadeRunnableTime int64
	SchedStamp           int64
	ComputationEpoch     int64

	// enqueueSeq is assigned on every setrun/re-enqueue and used as the
	// deterministic tie-break in every priority structure this thread can
	// occupy (RT queue, clutch bucket runqueue, bound runqueue).
	enqueueSeq int64

	// location tracks which runqueue currently holds this thread, enforcing
	// that a RUNNABLE thread is in exactly one runqueue at a time.
	location threadLocation
}

type threadLocation int

const (
	locNone threadLocation = iota
	locRT
	locBound
	locClutch
)

func (t *Thread) isTimeshare() bool { return t.Policy == PolicyTimeshare }
func (t *Thread) isRealtime() bool  { return t.Policy == PolicyRealtime }
func (t *Thread) isBound() bool     { return t.BoundProcessor != nil }
