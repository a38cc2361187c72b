package domain

import (
	"strings"
	"time"
)

// Status is the board column a task currently sits in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inprogress"
	StatusOverdue    Status = "overdue"
	StatusDone       Status = "done"
)

// ColumnOrder lists the board columns in display order.
var ColumnOrder = [...]Status{StatusTodo, StatusInProgress, StatusOverdue, StatusDone}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusOverdue, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single board item owned by one user.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Subject   string     `json:"subject"`
	StartDate Date       `json:"startDate"`
	DueDate   Date       `json:"dueDate"`
	Priority  Priority   `json:"priority"`
	Status    Status     `json:"status"`
	DoneAt    *time.Time `json:"doneAt,omitempty"`
}

// NewTask carries the caller supplied fields of a task about to be created.
type NewTask struct {
	Title     string   `json:"title"`
	Subject   string   `json:"subject"`
	StartDate Date     `json:"startDate"`
	DueDate   Date     `json:"dueDate"`
	Priority  Priority `json:"priority"`
}

// WithDefaults fills omitted dates with today and an omitted priority with medium.
func (n NewTask) WithDefaults(today Date) NewTask {
	n.Title = strings.TrimSpace(n.Title)
	n.Subject = strings.TrimSpace(n.Subject)
	if n.StartDate.IsZero() {
		n.StartDate = today
	}
	if n.DueDate.IsZero() {
		n.DueDate = today
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	return n
}

func (n NewTask) Validate() error {
	if n.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if n.Subject == "" {
		return &ValidationError{Field: "subject", Reason: "must not be empty"}
	}
	if !n.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "must be one of low, medium, high"}
	}
	if n.DueDate.Before(n.StartDate) {
		return &ValidationError{Field: "dueDate", Reason: "must not be before startDate"}
	}
	return nil
}

// Task converts the validated fields into a fresh todo task without an id.
func (n NewTask) Task() Task {
	return Task{
		Title:     n.Title,
		Subject:   n.Subject,
		StartDate: n.StartDate,
		DueDate:   n.DueDate,
		Priority:  n.Priority,
		Status:    StatusTodo,
	}
}

// TaskUpdate carries partial changes for a task. Nil fields are left untouched.
// ClearDoneAt removes the completion timestamp.
type TaskUpdate struct {
	Title       *string    `json:"title,omitempty"`
	Subject     *string    `json:"subject,omitempty"`
	StartDate   *Date      `json:"startDate,omitempty"`
	DueDate     *Date      `json:"dueDate,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	DoneAt      *time.Time `json:"doneAt,omitempty"`
	ClearDoneAt bool       `json:"clearDoneAt,omitempty"`
}

func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Subject == nil && u.StartDate == nil && u.DueDate == nil &&
		u.Priority == nil && u.Status == nil && u.DoneAt == nil && !u.ClearDoneAt
}

// Apply returns t with the update merged in.
func (u TaskUpdate) Apply(t Task) Task {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Subject != nil {
		t.Subject = *u.Subject
	}
	if u.StartDate != nil {
		t.StartDate = *u.StartDate
	}
	if u.DueDate != nil {
		t.DueDate = *u.DueDate
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.ClearDoneAt {
		t.DoneAt = nil
	}
	if u.DoneAt != nil {
		at := *u.DoneAt
		t.DoneAt = &at
	}
	return t
}
