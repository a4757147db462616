package syncqueue

import (
	"context"
	"sync"
)

// MemoryStore keeps pending tasks in process memory, in enqueue order.
// Suitable for tests and environments where losing queued mutations on
// restart is acceptable.
type MemoryStore struct {
	mu    sync.Mutex
	tasks []Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, t)

	return nil
}

func (s *MemoryStore) Pending(_ context.Context, tag string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, t := range s.tasks {
		if t.Tag == tag {
			out = append(out, t)
		}
	}

	return out, nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return nil
		}
	}

	return nil
}
