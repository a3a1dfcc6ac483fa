// Package adapter implements a thin human-task-manager mapping: Task ->
// (ThreadGroup, Thread). It owns no scheduling policy of its own — every
// decision about what runs when still belongs to pkg/sched and pkg/engine;
// this package only translates task-shaped input into scheduler-shaped
// input and scheduler-shaped snapshots back into task-shaped output.
package adapter

import (
	"fmt"

	"github.com/AndrewWarb/human-scheduler/pkg/engine"
	"github.com/AndrewWarb/human-scheduler/pkg/sched"
)

// LifeArea groups tasks the way a human organizes their day — each becomes
// its own ThreadGroup so the clutch hierarchy's per-group fairness applies
// across areas of life, not just across individual tasks.
type LifeArea string

// UrgencyTier maps directly onto a QoSBucket; named for a human reader
// rather than the kernel's FG/IN/DF/UT/BG vocabulary.
type UrgencyTier int

const (
	UrgencyCritical UrgencyTier = iota // -> BucketFG
	UrgencySoon                       // -> BucketIN
	UrgencyNormal                     // -> BucketDF
	UrgencyWhenFree                   // -> BucketUT
	UrgencySomeday                    // -> BucketBG
)

func (u UrgencyTier) bucket() sched.QoSBucket {
	switch u {
	case UrgencyCritical:
		return sched.BucketFG
	case UrgencySoon:
		return sched.BucketIN
	case UrgencyNormal:
		return sched.BucketDF
	case UrgencyWhenFree:
		return sched.BucketUT
	default:
		return sched.BucketBG
	}
}

func (u UrgencyTier) String() string {
	switch u {
	case UrgencyCritical:
		return "critical"
	case UrgencySoon:
		return "soon"
	case UrgencyNormal:
		return "normal"
	case UrgencyWhenFree:
		return "when-free"
	default:
		return "someday"
	}
}

// Task is the human-facing unit the adapter accepts. EstimatedBurstUS and
// IdleBetweenUS feed the engine's BehaviorProfile so the task's simulated thread
// behaves like a thing that works for a while then waits for more input.
type Task struct {
	ID               string
	LifeArea         LifeArea
	UrgencyTier      UrgencyTier
	EstimatedBurstUS int64
	IdleBetweenUS    int64
	BasePriority     int
}

// Manager owns the tid/group-id bookkeeping between Task.ID and the
// scheduler's own (tid uint64, group string) identifiers, so callers never
// have to invent a tid themselves.
type Manager struct {
	sched *sched.Scheduler
	eng   *engine.Engine

	nextTid uint64
	byTask  map[string]taskRecord
	groups  map[LifeArea]bool
}

type taskRecord struct {
	tid  uint64
	area LifeArea
}

func NewManager(s *sched.Scheduler, eng *engine.Engine) *Manager {
	return &Manager{
		sched:   s,
		eng:     eng,
		nextTid: 1,
		byTask:  make(map[string]taskRecord),
		groups:  make(map[LifeArea]bool),
	}
}

// AddTask creates the backing thread group (if new) and thread for a task,
// and schedules its first wakeup at startTs.
func (m *Manager) AddTask(t Task, startTs int64) error {
	if _, exists := m.byTask[t.ID]; exists {
		return fmt.Errorf("adapter: task %q already tracked", t.ID)
	}
	groupID := string(t.LifeArea)
	if !m.groups[t.LifeArea] {
		if _, err := m.sched.CreateThreadGroup(groupID); err != nil {
			return fmt.Errorf("adapter: create life area %q: %w", t.LifeArea, err)
		}
		m.groups[t.LifeArea] = true
	}

	basePri := t.BasePriority
	if basePri == 0 {
		basePri = 31
	}
	tid := m.nextTid
	m.nextTid++

	if _, err := m.sched.CreateThread(sched.ThreadParams{
		Tid:     tid,
		GroupID: groupID,
		Policy:  sched.PolicyTimeshare,
		BasePri: basePri,
		Bucket:  t.UrgencyTier.bucket(),
	}); err != nil {
		return fmt.Errorf("adapter: create task thread: %w", err)
	}

	m.eng.AddThread(tid, engine.BehaviorProfile{
		Kind:          engine.BehaviorTimeshare,
		MeanComputeUS: t.EstimatedBurstUS,
		MeanSleepUS:   t.IdleBetweenUS,
	}, startTs)

	m.byTask[t.ID] = taskRecord{tid: tid, area: t.LifeArea}
	return nil
}

// Complete terminates a task's backing thread, e.g. once the human marks it
// done — there is no scheduler concept of "done", only "terminated".
func (m *Manager) Complete(taskID string, ts int64) error {
	rec, ok := m.byTask[taskID]
	if !ok {
		return fmt.Errorf("adapter: unknown task %q", taskID)
	}
	if err := m.sched.TerminateThread(rec.tid, ts); err != nil {
		return err
	}
	delete(m.byTask, taskID)
	return nil
}

// Reprioritize changes a task's urgency tier at a quiescent point (between
// engine events), mapping onto set_thread_urgency.
func (m *Manager) Reprioritize(taskID string, tier UrgencyTier, ts int64) error {
	rec, ok := m.byTask[taskID]
	if !ok {
		return fmt.Errorf("adapter: unknown task %q", taskID)
	}
	return m.sched.SetThreadUrgency(rec.tid, tier.bucket(), ts)
}

// TaskView is the human-facing projection of a ThreadSnapshot, naming fields
// the way a task-manager UI would rather than the kernel's vocabulary.
type TaskView struct {
	TaskID       string
	LifeArea     LifeArea
	Urgency      string
	State        string
	QueuePostion int
	CPUTimeUS    int64
}

// Tasks projects the scheduler's snapshot back into task-shaped views, in
// the same deterministic tid order Snapshot already produces.
func (m *Manager) Tasks(snap sched.Snapshot) []TaskView {
	type entry struct {
		taskID string
		area   LifeArea
	}
	byTid := make(map[uint64]entry, len(m.byTask))
	for taskID, rec := range m.byTask {
		byTid[rec.tid] = entry{taskID: taskID, area: rec.area}
	}
	var views []TaskView
	for _, ts := range snap.Threads {
		e, ok := byTid[ts.Tid]
		if !ok {
			continue
		}
		views = append(views, TaskView{
			TaskID:       e.taskID,
			LifeArea:     e.area,
			Urgency:      ts.Bucket,
			State:        ts.State,
			QueuePostion: ts.RunQueueRank,
			CPUTimeUS:    ts.CPUUsage,
		})
	}
	return views
}
