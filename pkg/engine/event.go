package engine

import "fmt"

// Kind is one of the five discrete-event kinds the engine drives.
type Kind int

const (
	KindRTPeriodStart Kind = iota
	KindWakeup
	KindQuantumExpire
	KindBlock
	KindTick
)

func (k Kind) String() string {
	switch k {
	case KindRTPeriodStart:
		return "RT_PERIOD_START"
	case KindWakeup:
		return "WAKEUP"
	case KindQuantumExpire:
		return "QUANTUM_EXPIRE"
	case KindBlock:
		return "BLOCK"
	case KindTick:
		return "TICK"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// kindPriority is the fixed tie-break order within a (timestamp, kind_priority,
// seq) heap key. Ties at the same timestamp favor period activation and
// wakeups ahead of the events they cause (quantum expiry, block) so a
// thread that just became runnable is visible to the handler that
// immediately follows it.
func kindPriority(k Kind) int {
	switch k {
	case KindRTPeriodStart:
		return 0
	case KindWakeup:
		return 1
	case KindQuantumExpire:
		return 2
	case KindBlock:
		return 3
	case KindTick:
		return 4
	default:
		return 99
	}
}

// Event is one entry in the engine's event heap.
type Event struct {
	Timestamp      int64
	Kind           Kind
	Seq            int64
	Tid            uint64
	ProcessorIndex int // meaningful for KindQuantumExpire/KindBlock
}
