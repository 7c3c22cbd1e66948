package supervisor

import "sync"

// PendingMutation is a desired achievement state not yet sent to the child.
type PendingMutation struct {
	ID       string `json:"id"`
	Achieved bool   `json:"achieved"`
}

// Queue holds pending mutations in FIFO order. Adding an id that is already
// queued replaces its desired state and keeps its position.
type Queue struct {
	mu    sync.Mutex
	items []PendingMutation
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Add(id string, achieved bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == id {
			q.items[i].Achieved = achieved
			return
		}
	}
	q.items = append(q.items, PendingMutation{ID: id, Achieved: achieved})
}

// Remove drops id from the queue and reports whether it was present.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Peek returns the oldest entry.
func (q *Queue) Peek() (PendingMutation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PendingMutation{}, false
	}
	return q.items[0], true
}

// Pending returns a copy of the queued entries, oldest first.
func (q *Queue) Pending() []PendingMutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingMutation(nil), q.items...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
