package board

import (
	"context"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

// Drag is a drag-and-drop gesture reported by the board UI. An empty
// DestColumn means the task was dropped outside any column.
type Drag struct {
	TaskID       string        `json:"taskId"`
	SourceColumn domain.Status `json:"sourceColumn"`
	SourceIndex  int           `json:"sourceIndex"`
	DestColumn   domain.Status `json:"destColumn,omitempty"`
	DestIndex    int           `json:"destIndex"`
}

// Drop reconciles a drag gesture. Crossing columns becomes a Move; the
// destination index is never persisted. Reordering inside a column is kept
// locally until the next store snapshot replaces it.
func (m *Manager) Drop(ctx context.Context, d Drag) error {
	switch {
	case d.DestColumn == "":
		return nil
	case d.DestColumn == d.SourceColumn && d.DestIndex == d.SourceIndex:
		return nil
	case d.DestColumn != d.SourceColumn:
		return m.Move(ctx, d.TaskID, d.DestColumn)
	}
	return m.reorderLocal(d.SourceColumn, d.TaskID, d.DestIndex)
}

func (m *Manager) reorderLocal(column domain.Status, id string, dest int) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	cols := domain.Classify(m.viewLocked())
	tasks := reorder(cols[column], m.order[column])

	ids := make([]string, 0, len(tasks))
	found := false
	for _, t := range tasks {
		if t.ID == id {
			found = true
			continue
		}
		ids = append(ids, t.ID)
	}
	if !found {
		m.mu.Unlock()
		return domain.NotFound(id)
	}
	if dest < 0 {
		dest = 0
	}
	if dest > len(ids) {
		dest = len(ids)
	}
	ids = append(ids[:dest], append([]string{id}, ids[dest:]...)...)
	m.order[column] = ids
	m.mu.Unlock()

	m.notify()
	return nil
}

// reorder arranges tasks by the ids listed in order; tasks not listed keep
// their arrival order after the listed ones. Listed ids no longer in the
// column are skipped.
func reorder(tasks []domain.Task, order []string) []domain.Task {
	if len(order) == 0 {
		return tasks
	}
	byID := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	out := make([]domain.Task, 0, len(tasks))
	for _, id := range order {
		if t, ok := byID[id]; ok {
			out = append(out, t)
			delete(byID, id)
		}
	}
	for _, t := range tasks {
		if _, ok := byID[t.ID]; ok {
			out = append(out, t)
		}
	}
	return out
}
