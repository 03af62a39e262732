package scheduling

import (
	"container/heap"
	"slices"
)

type heapItem struct {
	Entry
	sequence uint64  // insertion order, for stability
	finish   float64 // virtual finish time, WFQ only
	index    int
}

// itemHeap implements heap.Interface over an arbitrary ordering and keeps an
// id index so entries can be removed from the middle.
type itemHeap struct {
	items []*heapItem
	byID  map[int64]*heapItem
	less  func(a, b *heapItem) bool
}

func newItemHeap(less func(a, b *heapItem) bool) *itemHeap {
	return &itemHeap{
		byID: make(map[int64]*heapItem),
		less: less,
	}
}

func (h *itemHeap) Len() int { return len(h.items) }

func (h *itemHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *itemHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(h.items)
	h.items = append(h.items, item)
	h.byID[item.ID] = item
}

func (h *itemHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	h.items = old[:n-1]
	delete(h.byID, item.ID)
	return item
}

func (h *itemHeap) has(id int64) bool {
	_, ok := h.byID[id]
	return ok
}

func (h *itemHeap) get(id int64) (*heapItem, bool) {
	item, ok := h.byID[id]
	return item, ok
}

func (h *itemHeap) remove(id int64) (*heapItem, bool) {
	item, ok := h.byID[id]
	if !ok {
		return nil, false
	}

	return heap.Remove(h, item.index).(*heapItem), true
}

func (h *itemHeap) popMin() (*heapItem, bool) {
	if len(h.items) == 0 {
		return nil, false
	}

	return heap.Pop(h).(*heapItem), true
}

func (h *itemHeap) reset() {
	h.items = nil
	h.byID = make(map[int64]*heapItem)
}

// ordered returns the entries in pop order without disturbing the heap.
func (h *itemHeap) ordered() []Entry {
	sorted := slices.Clone(h.items)
	slices.SortFunc(sorted, func(a, b *heapItem) int {
		switch {
		case h.less(a, b):
			return -1
		case h.less(b, a):
			return 1
		default:
			return 0
		}
	})

	out := make([]Entry, len(sorted))
	for i, item := range sorted {
		out[i] = item.Entry
	}

	return out
}
