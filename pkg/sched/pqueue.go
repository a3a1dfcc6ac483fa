package sched

import "container/heap"

// indexedItem is embedded by anything stored in an indexedHeap so the heap
// can report and update each element's current slot, enabling O(log n)
// removal of an arbitrary element (needed for thread termination and urgency
// changes on an already-enqueued thread).
type indexedItem struct {
	heapIndex int
}

// threadHeapItem orders runnable threads for a clutch bucket's max-priority
// runqueue: highest sched_pri first, FIFO among equal priorities via seq.
type threadHeapItem struct {
	indexedItem
	thread *Thread
	seq    int64
}

// threadHeap is a max-priority indexed binary heap of runnable threads: a
// heapIndex on each item plus a tid-keyed side map gives O(log n) removal of
// an arbitrary queued thread, not just the max.
type threadHeap struct {
	items []*threadHeapItem
	index map[uint64]*threadHeapItem // tid -> item, for O(log n) removal
}

func newThreadHeap() *threadHeap {
	return &threadHeap{index: make(map[uint64]*threadHeapItem)}
}

func (h *threadHeap) Len() int { return len(h.items) }

func (h *threadHeap) empty() bool { return len(h.items) == 0 }

func (h *threadHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.thread.SchedPri != b.thread.SchedPri {
		return a.thread.SchedPri > b.thread.SchedPri
	}
	return a.seq < b.seq
}

func (h *threadHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}

func (h *threadHeap) Push(x any) {
	item := x.(*threadHeapItem)
	item.heapIndex = len(h.items)
	h.items = append(h.items, item)
	h.index[item.thread.Tid] = item
}

func (h *threadHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	h.items = old[:n-1]
	delete(h.index, item.thread.Tid)
	return item
}

// insert adds a runnable thread, tail-ordered among equal priorities by seq.
func (h *threadHeap) insert(t *Thread, seq int64) {
	heap.Push(h, &threadHeapItem{thread: t, seq: seq})
}

// peekMax returns the highest-priority thread without removing it.
func (h *threadHeap) peekMax() *Thread {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0].thread
}

// popMax removes and returns the highest-priority thread.
func (h *threadHeap) popMax() *Thread {
	if len(h.items) == 0 {
		return nil
	}
	item := heap.Pop(h).(*threadHeapItem)
	return item.thread
}

// remove deletes a specific thread from the heap in O(log n), used by
// terminate_thread and set_thread_urgency on an already-enqueued thread.
func (h *threadHeap) remove(tid uint64) bool {
	item, ok := h.index[tid]
	if !ok {
		return false
	}
	heap.Remove(h, item.heapIndex)
	return true
}

// fix re-establishes heap order for a thread whose sched_pri changed in
// place (sched_tick decay), without removing/reinserting it.
func (h *threadHeap) fix(tid uint64) {
	item, ok := h.index[tid]
	if !ok {
		return
	}
	heap.Fix(h, item.heapIndex)
}

func (h *threadHeap) contains(tid uint64) bool {
	_, ok := h.index[tid]
	return ok
}
