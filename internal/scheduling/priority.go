package scheduling

import "container/heap"

// Priority selects the highest priority first; equal priorities are served
// in insertion order.
type Priority struct {
	pq           *itemHeap
	nextSequence uint64
	initialized  bool
}

func NewPriority() *Priority {
	return &Priority{pq: newItemHeap(priorityLess)}
}

func priorityLess(a, b *heapItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.sequence < b.sequence
}

func (p *Priority) Initialize() {
	p.pq.reset()
	p.nextSequence = 0
	p.initialized = true
}

func (p *Priority) Type() Type { return TypePriority }

func (p *Priority) AddTask(id int64, priority int) {
	p.add(Entry{ID: id, Priority: priority, Weight: defaultWeight})
}

func (p *Priority) add(e Entry) {
	if !p.initialized || p.pq.has(e.ID) {
		return
	}

	heap.Push(p.pq, &heapItem{Entry: e, sequence: p.nextSequence})
	p.nextSequence++
}

func (p *Priority) RemoveTask(id int64) {
	if !p.initialized {
		return
	}
	p.pq.remove(id)
}

func (p *Priority) UpdateTaskPriority(id int64, priority int) {
	if !p.initialized {
		return
	}

	item, ok := p.pq.remove(id)
	if !ok {
		return
	}
	item.Priority = priority
	p.add(item.Entry)
}

func (p *Priority) SelectNextTask() int64 {
	if !p.initialized {
		return NoTask
	}

	item, ok := p.pq.popMin()
	if !ok {
		return NoTask
	}

	return item.ID
}

func (p *Priority) TaskCount() int { return p.pq.Len() }

func (p *Priority) IsEmpty() bool { return p.pq.Len() == 0 }

func (p *Priority) Entries() []Entry { return p.pq.ordered() }
