package scheduling

import "slices"

type rrEntry struct {
	Entry
	timeQuantum   int
	remainingTime int
}

// RoundRobin cycles through its entries. Selecting an entry charges one
// tick against its quantum and advances the cursor; the entry itself stays
// in the cycle. Exhausting a quantum is recorded but not acted upon.
type RoundRobin struct {
	entries     []*rrEntry
	current     int
	quantum     int
	initialized bool
}

func NewRoundRobin(quantum int) *RoundRobin {
	if quantum <= 0 {
		quantum = DefaultTimeQuantum
	}

	return &RoundRobin{quantum: quantum}
}

func (rr *RoundRobin) Initialize() {
	rr.entries = nil
	rr.current = 0
	rr.initialized = true
}

func (rr *RoundRobin) Type() Type { return TypeRoundRobin }

func (rr *RoundRobin) TimeQuantum() int { return rr.quantum }

func (rr *RoundRobin) AddTask(id int64, priority int) {
	if !rr.initialized || rr.indexOf(id) >= 0 {
		return
	}

	rr.entries = append(rr.entries, &rrEntry{
		Entry:         Entry{ID: id, Priority: priority, Weight: defaultWeight},
		timeQuantum:   rr.quantum,
		remainingTime: rr.quantum,
	})
}

func (rr *RoundRobin) RemoveTask(id int64) {
	if !rr.initialized {
		return
	}

	idx := rr.indexOf(id)
	if idx < 0 {
		return
	}

	rr.entries = slices.Delete(rr.entries, idx, idx+1)

	switch {
	case len(rr.entries) == 0:
		rr.current = 0
	case idx < rr.current:
		rr.current--
	case rr.current >= len(rr.entries):
		// removed the tail entry under the cursor
		rr.current = 0
	}
}

func (rr *RoundRobin) UpdateTaskPriority(id int64, priority int) {
	if !rr.initialized || rr.indexOf(id) < 0 {
		return
	}

	rr.RemoveTask(id)
	rr.AddTask(id, priority)
}

func (rr *RoundRobin) SelectNextTask() int64 {
	if !rr.initialized || len(rr.entries) == 0 {
		return NoTask
	}

	e := rr.entries[rr.current]
	e.remainingTime--
	rr.current = (rr.current + 1) % len(rr.entries)

	return e.ID
}

// Remaining reports the ticks left in id's quantum.
func (rr *RoundRobin) Remaining(id int64) (int, bool) {
	idx := rr.indexOf(id)
	if idx < 0 {
		return 0, false
	}

	return rr.entries[idx].remainingTime, true
}

func (rr *RoundRobin) TaskCount() int { return len(rr.entries) }

func (rr *RoundRobin) IsEmpty() bool { return len(rr.entries) == 0 }

// Entries starts at the cursor and wraps around.
func (rr *RoundRobin) Entries() []Entry {
	n := len(rr.entries)
	out := make([]Entry, 0, n)
	for i := range n {
		out = append(out, rr.entries[(rr.current+i)%n].Entry)
	}

	return out
}

func (rr *RoundRobin) indexOf(id int64) int {
	return slices.IndexFunc(rr.entries, func(e *rrEntry) bool { return e.ID == id })
}
