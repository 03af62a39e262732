package task

import (
	"slices"
	"sync"
	"time"
)

// Registry owns the canonical set of tasks. It knows nothing about
// scheduling policy; callers keep any scheduling structures in sync.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[int64]*Task
	nextID int64
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:  make(map[int64]*Task),
		nextID: 1,
		now:    time.Now,
	}
}

// Create stores a new pending task and returns its identifier. Identifiers
// start at 1 and are never reused until Clear.
func (r *Registry) Create(name string, taskType Type, priority, weight int, work WorkFunc, userData any) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++

	r.tasks[id] = &Task{
		ID:        id,
		Name:      name,
		Type:      taskType,
		Status:    StatusPending,
		Priority:  priority,
		Weight:    weight,
		CreatedAt: r.now(),
		Work:      work,
		UserData:  userData,
	}

	return id
}

func (r *Registry) Delete(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)

	return true
}

// Get returns a copy of the stored task.
func (r *Registry) Get(id int64) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}

	return t.clone(), true
}

// UpdateStatus moves a task to status. The start time is stamped on the
// first transition to running and the end time on the first terminal
// transition. A terminal task never changes status again; false is returned
// for that case as well as for unknown ids.
func (r *Registry) UpdateStatus(id int64, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return false
	}
	if t.Status.IsTerminal() && t.Status != status {
		return false
	}
	r.setStatus(t, status)

	return true
}

// Transition moves id from one status to another only when its current
// status is from. It reports whether the move happened.
func (r *Registry) Transition(id int64, from, to Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Status != from {
		return false
	}
	if from.IsTerminal() && from != to {
		return false
	}
	r.setStatus(t, to)

	return true
}

func (r *Registry) setStatus(t *Task, status Status) {
	now := r.now()
	switch {
	case status == StatusRunning:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case status.IsTerminal():
		if t.EndedAt == nil {
			t.EndedAt = &now
			if t.StartedAt != nil {
				t.Duration = now.Sub(*t.StartedAt)
			}
		}
	}
	t.Status = status
}

func (r *Registry) SetError(id int64, msg string) bool {
	return r.mutate(id, func(t *Task) { t.Error = msg })
}

func (r *Registry) UpdatePriority(id int64, priority int) bool {
	return r.mutate(id, func(t *Task) { t.Priority = priority })
}

func (r *Registry) UpdateWeight(id int64, weight int) bool {
	return r.mutate(id, func(t *Task) { t.Weight = weight })
}

// AddDependency records that id depends on dep. Dependencies are
// bookkeeping only; nothing blocks dispatch on them.
func (r *Registry) AddDependency(id, dep int64) bool {
	if id == dep {
		return false
	}

	return r.mutate(id, func(t *Task) {
		if !slices.Contains(t.Dependencies, dep) {
			t.Dependencies = append(t.Dependencies, dep)
		}
	})
}

func (r *Registry) RemoveDependency(id, dep int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return false
	}

	idx := slices.Index(t.Dependencies, dep)
	if idx < 0 {
		return false
	}
	t.Dependencies = slices.Delete(t.Dependencies, idx, idx+1)

	return true
}

// List returns copies of every task ordered by identifier.
func (r *Registry) List() []Task {
	return r.filter(func(*Task) bool { return true })
}

func (r *Registry) ListByType(taskType Type) []Task {
	return r.filter(func(t *Task) bool { return t.Type == taskType })
}

func (r *Registry) ListByStatus(status Status) []Task {
	return r.filter(func(t *Task) bool { return t.Status == status })
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tasks)
}

func (r *Registry) CountByStatus(status Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, t := range r.tasks {
		if t.Status == status {
			n++
		}
	}

	return n
}

// Clear drops every task and resets identifier allocation to 1. Callers must
// make sure no scheduling structure still references the old identifiers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks = make(map[int64]*Task)
	r.nextID = 1
}

func (r *Registry) mutate(id int64, fn func(*Task)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return false
	}
	fn(t)

	return true
}

func (r *Registry) filter(keep func(*Task) bool) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if keep(t) {
			out = append(out, t.clone())
		}
	}
	slices.SortFunc(out, func(a, b Task) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	return out
}
