package sched

import "container/heap"

// rtHeapItem orders real-time threads by (sched_pri desc, rt_deadline asc,
// seq asc).
type rtHeapItem struct {
	indexedItem
	thread *Thread
	seq    int64
}

// rtQueue is the ordered multiset of runnable real-time threads.
type rtQueue struct {
	items []*rtHeapItem
	index map[uint64]*rtHeapItem
}

func newRTQueue() *rtQueue {
	return &rtQueue{index: make(map[uint64]*rtHeapItem)}
}

func (q *rtQueue) Len() int { return len(q.items) }

func (q *rtQueue) Less(i, j int) bool {
	a, b := q.items[i].thread, q.items[j].thread
	if a.SchedPri != b.SchedPri {
		return a.SchedPri > b.SchedPri
	}
	ad, bd := deadlineOf(a), deadlineOf(b)
	if ad != bd {
		return ad < bd
	}
	return q.items[i].seq < q.items[j].seq
}

func deadlineOf(t *Thread) int64 {
	if t.RTDeadline == nil {
		return int64(1) << 62
	}
	return *t.RTDeadline
}

func (q *rtQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].heapIndex = i
	q.items[j].heapIndex = j
}

func (q *rtQueue) Push(x any) {
	item := x.(*rtHeapItem)
	item.heapIndex = len(q.items)
	q.items = append(q.items, item)
	q.index[item.thread.Tid] = item
}

func (q *rtQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	q.items = old[:n-1]
	delete(q.index, item.thread.Tid)
	return item
}

func (q *rtQueue) insert(t *Thread, seq int64) {
	heap.Push(q, &rtHeapItem{thread: t, seq: seq})
}

func (q *rtQueue) peek() *Thread {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].thread
}

func (q *rtQueue) popHead() *Thread {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*rtHeapItem).thread
}

func (q *rtQueue) remove(tid uint64) bool {
	item, ok := q.index[tid]
	if !ok {
		return false
	}
	heap.Remove(q, item.heapIndex)
	return true
}

func (q *rtQueue) contains(tid uint64) bool {
	_, ok := q.index[tid]
	return ok
}

// bestEligibleIndex linearly scans for the item the eligible predicate
// accepts that Less would place at the front. Real-time queues stay small
// in practice (a handful of bound CPUs), so a scan is simpler than
// threading processor affinity into the heap ordering itself, and still
// gives each processor an O(n) select instead of an O(log n) one.
func (q *rtQueue) bestEligibleIndex(eligible func(*Thread) bool) int {
	best := -1
	for i, it := range q.items {
		if !eligible(it.thread) {
			continue
		}
		if best == -1 || q.Less(i, best) {
			best = i
		}
	}
	return best
}

func (q *rtQueue) peekBestEligible(eligible func(*Thread) bool) *Thread {
	i := q.bestEligibleIndex(eligible)
	if i == -1 {
		return nil
	}
	return q.items[i].thread
}

func (q *rtQueue) popBestEligible(eligible func(*Thread) bool) *Thread {
	i := q.bestEligibleIndex(eligible)
	if i == -1 {
		return nil
	}
	return heap.Remove(q, i).(*rtHeapItem).thread
}
