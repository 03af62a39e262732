package scheduling

import "container/heap"

// WeightedFairQueuing orders entries by virtual finish time. An entry added
// at system virtual time v with weight w finishes at v + 1/w, so heavier
// entries are served sooner. Selecting an entry advances the system virtual
// time to its finish time.
//
// Weights must be positive; callers are expected to validate them.
type WeightedFairQueuing struct {
	pq                *itemHeap
	systemVirtualTime float64
	nextSequence      uint64
	initialized       bool
}

func NewWeightedFairQueuing() *WeightedFairQueuing {
	return &WeightedFairQueuing{pq: newItemHeap(finishLess)}
}

func finishLess(a, b *heapItem) bool {
	if a.finish != b.finish {
		return a.finish < b.finish
	}
	return a.sequence < b.sequence
}

func (w *WeightedFairQueuing) Initialize() {
	w.pq.reset()
	w.systemVirtualTime = 0
	w.nextSequence = 0
	w.initialized = true
}

func (w *WeightedFairQueuing) Type() Type { return TypeWeightedFairQueuing }

func (w *WeightedFairQueuing) VirtualTime() float64 { return w.systemVirtualTime }

// AddTask enqueues id with the default weight.
func (w *WeightedFairQueuing) AddTask(id int64, priority int) {
	w.AddWeightedTask(id, priority, defaultWeight)
}

func (w *WeightedFairQueuing) AddWeightedTask(id int64, priority, weight int) {
	if !w.initialized || w.pq.has(id) {
		return
	}

	heap.Push(w.pq, &heapItem{
		Entry:    Entry{ID: id, Priority: priority, Weight: weight},
		sequence: w.nextSequence,
		finish:   w.systemVirtualTime + 1/float64(weight),
	})
	w.nextSequence++
}

// SetTaskWeight recomputes id's finish time from the current virtual time.
func (w *WeightedFairQueuing) SetTaskWeight(id int64, weight int) {
	if !w.initialized {
		return
	}

	item, ok := w.pq.remove(id)
	if !ok {
		return
	}
	w.AddWeightedTask(id, item.Priority, weight)
}

func (w *WeightedFairQueuing) RemoveTask(id int64) {
	if !w.initialized {
		return
	}
	w.pq.remove(id)
}

func (w *WeightedFairQueuing) UpdateTaskPriority(id int64, priority int) {
	if !w.initialized {
		return
	}

	item, ok := w.pq.remove(id)
	if !ok {
		return
	}
	w.AddWeightedTask(id, priority, item.Weight)
}

func (w *WeightedFairQueuing) SelectNextTask() int64 {
	if !w.initialized {
		return NoTask
	}

	item, ok := w.pq.popMin()
	if !ok {
		return NoTask
	}
	w.systemVirtualTime = item.finish

	return item.ID
}

// FinishTime reports id's virtual finish time.
func (w *WeightedFairQueuing) FinishTime(id int64) (float64, bool) {
	item, ok := w.pq.get(id)
	if !ok {
		return 0, false
	}

	return item.finish, true
}

func (w *WeightedFairQueuing) TaskCount() int { return w.pq.Len() }

func (w *WeightedFairQueuing) IsEmpty() bool { return w.pq.Len() == 0 }

func (w *WeightedFairQueuing) Entries() []Entry { return w.pq.ordered() }
