package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

// memStore is an in-memory board.Store that republishes the owner's tasks
// after every successful write, like the table-backed store does.
type memStore struct {
	mu      sync.Mutex
	tasks   map[string]domain.Task
	ids     []string
	creates int
	nextID  int
	failErr error
	subs    []chan []domain.Task
}

func newMemStore(tasks ...domain.Task) *memStore {
	s := &memStore{tasks: map[string]domain.Task{}}
	for _, t := range tasks {
		s.tasks[t.ID] = t
		s.ids = append(s.ids, t.ID)
	}
	return s
}

func (s *memStore) Subscribe(ctx context.Context, ownerID string) (<-chan []domain.Task, error) {
	ch := make(chan []domain.Task, 1)
	s.mu.Lock()
	ch <- s.listLocked()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch, nil
}

func (s *memStore) listLocked() []domain.Task {
	out := make([]domain.Task, 0, len(s.ids))
	for _, id := range s.ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) publishLocked() {
	tasks := s.listLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- tasks
	}
}

func (s *memStore) Create(ctx context.Context, ownerID string, task domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return domain.Task{}, s.failErr
	}
	s.creates++
	s.nextID++
	task.ID = fmt.Sprintf("task-%d", s.nextID)
	s.tasks[task.ID] = task
	s.ids = append(s.ids, task.ID)
	s.publishLocked()
	return task, nil
}

func (s *memStore) Update(ctx context.Context, ownerID, id string, upd domain.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	t, ok := s.tasks[id]
	if !ok {
		return domain.NotFound(id)
	}
	s.tasks[id] = upd.Apply(t)
	s.publishLocked()
	return nil
}

func (s *memStore) Delete(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if _, ok := s.tasks[id]; !ok {
		return domain.NotFound(id)
	}
	delete(s.tasks, id)
	s.publishLocked()
	return nil
}

func (s *memStore) task(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *memStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *memStore) fail(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}
