package engine

import "container/heap"

// eventHeap orders pending events by (timestamp asc, kind_priority asc, seq
// asc), the ordering a deterministic replay depends on. It is an ordinary
// container/heap.Interface — events are never removed by handle once
// scheduled (the engine cancels future work by having handlers become
// no-ops against absent/terminated threads), so no index map is needed here
// unlike the indexed heaps in pkg/sched.
type eventHeap struct {
	items []*Event
}

func newEventHeap() *eventHeap { return &eventHeap{} }

func (h *eventHeap) Len() int { return len(h.items) }

func (h *eventHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	ap, bp := kindPriority(a.Kind), kindPriority(b.Kind)
	if ap != bp {
		return ap < bp
	}
	return a.Seq < b.Seq
}

func (h *eventHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *eventHeap) Push(x any) { h.items = append(h.items, x.(*Event)) }

func (h *eventHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

func (h *eventHeap) push(e *Event) { heap.Push(h, e) }

func (h *eventHeap) pop() *Event {
	if len(h.items) == 0 {
		return nil
	}
	return heap.Pop(h).(*Event)
}

func (h *eventHeap) empty() bool { return len(h.items) == 0 }
