package board

import (
	"context"
	"fmt"
	"sync"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

type storeCall struct {
	op  string
	id  string
	upd domain.TaskUpdate
}

type fakeStore struct {
	mu        sync.Mutex
	tasks     map[string]domain.Task
	ids       []string
	calls     []storeCall
	failOp    map[string]error
	gate      chan struct{}
	nextID    int
	snapshots chan []domain.Task
	subErr    error
}

func newFakeStore(tasks ...domain.Task) *fakeStore {
	f := &fakeStore{
		tasks:     map[string]domain.Task{},
		failOp:    map[string]error{},
		snapshots: make(chan []domain.Task, 16),
	}
	for _, t := range tasks {
		f.tasks[t.ID] = t
		f.ids = append(f.ids, t.ID)
	}
	return f
}

func (f *fakeStore) Subscribe(ctx context.Context, ownerID string) (<-chan []domain.Task, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.snapshots <- f.list()
	return f.snapshots, nil
}

// push emits the store's current contents as a new snapshot.
func (f *fakeStore) push() {
	f.snapshots <- f.list()
}

func (f *fakeStore) list() []domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Task, 0, len(f.ids))
	for _, id := range f.ids {
		if t, ok := f.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeStore) block() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

func (f *fakeStore) unblock() {
	f.mu.Lock()
	gate := f.gate
	f.gate = nil
	f.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (f *fakeStore) enter(ctx context.Context, call storeCall) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOp[call.op]
}

func (f *fakeStore) Create(ctx context.Context, ownerID string, task domain.Task) (domain.Task, error) {
	if err := f.enter(ctx, storeCall{op: "create"}); err != nil {
		return domain.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	task.ID = fmt.Sprintf("new-%d", f.nextID)
	f.tasks[task.ID] = task
	f.ids = append(f.ids, task.ID)
	return task, nil
}

func (f *fakeStore) Update(ctx context.Context, ownerID, id string, upd domain.TaskUpdate) error {
	if err := f.enter(ctx, storeCall{op: "update", id: id, upd: upd}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.NotFound(id)
	}
	f.tasks[id] = upd.Apply(t)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, ownerID, id string) error {
	if err := f.enter(ctx, storeCall{op: "delete", id: id}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return domain.NotFound(id)
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) callsFor(op string) []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storeCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeStore) task(id string) (domain.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
