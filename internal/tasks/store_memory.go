package tasks

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps task rows in a map. Used by tests and when the daemon
// runs without a database configured.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

func (s *MemoryStore) Insert(_ context.Context, t Task) (Task, error) {
	if err := validateInsert(t); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	t.ID = newTaskID()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusActive
	}
	t = t.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return t.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch Patch) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	t = t.Clone()
	applyPatch(&t, patch, time.Now().UTC())
	s.tasks[id] = t
	return t.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if matches(t, f) {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
