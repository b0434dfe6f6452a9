package queue

// priorityHeap implements container/heap.Interface over entryWrapper
// pointers, ordered by EarliestDueAt with Seq() breaking ties. It never
// touches the surtKey index itself — Queue owns that and keeps it in
// sync from its own Push, PopDue and Drain methods in queue.go.
type priorityHeap []*entryWrapper

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	a, b := h[i].entry, h[j].entry
	if a.EarliestDueAt.Equal(b.EarliestDueAt) {
		return a.Seq() < b.Seq()
	}
	return a.EarliestDueAt.Before(b.EarliestDueAt)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push and Pop satisfy container/heap.Interface; callers use the
// package-level heap.Push/heap.Pop/heap.Fix, never these directly.
func (h *priorityHeap) Push(x any) {
	w := x.(*entryWrapper)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
