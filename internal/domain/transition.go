package domain

import (
	"strings"
	"time"
)

// StatusUpdate builds the update that moves cur to the given status, stamping or
// clearing doneAt. It reports false when cur already has that status.
func StatusUpdate(cur Task, to Status, now time.Time) (TaskUpdate, bool) {
	if cur.Status == to {
		return TaskUpdate{}, false
	}
	upd := TaskUpdate{Status: &to}
	StampDone(&upd, cur.Status, now)
	return upd, true
}

// StampDone applies the doneAt rule to upd: entering done sets doneAt to now,
// leaving done clears it. Any doneAt supplied by the caller is discarded.
func StampDone(upd *TaskUpdate, from Status, now time.Time) {
	upd.DoneAt = nil
	upd.ClearDoneAt = false
	if upd.Status == nil || *upd.Status == from {
		return
	}
	switch {
	case *upd.Status == StatusDone:
		at := now
		upd.DoneAt = &at
	case from == StatusDone:
		upd.ClearDoneAt = true
	}
}

// CheckUserStatus rejects statuses a user may not choose. Overdue is only ever
// assigned by the sweep.
func CheckUserStatus(s Status) error {
	if !s.Valid() {
		return &ValidationError{Field: "status", Reason: "must be one of todo, inprogress, done"}
	}
	if s == StatusOverdue {
		return &ValidationError{Field: "status", Reason: "overdue is assigned automatically"}
	}
	return nil
}

// ValidateEdit checks upd against cur and returns the normalised update. A
// status left equal to the current one is accepted, overdue included.
func ValidateEdit(cur Task, upd TaskUpdate) (TaskUpdate, error) {
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return TaskUpdate{}, &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		upd.Title = &title
	}
	if upd.Subject != nil {
		subject := strings.TrimSpace(*upd.Subject)
		if subject == "" {
			return TaskUpdate{}, &ValidationError{Field: "subject", Reason: "must not be empty"}
		}
		upd.Subject = &subject
	}
	if upd.Priority != nil && !upd.Priority.Valid() {
		return TaskUpdate{}, &ValidationError{Field: "priority", Reason: "must be one of low, medium, high"}
	}
	if upd.StartDate != nil && upd.StartDate.IsZero() {
		return TaskUpdate{}, &ValidationError{Field: "startDate", Reason: "must be a date"}
	}
	if upd.DueDate != nil && upd.DueDate.IsZero() {
		return TaskUpdate{}, &ValidationError{Field: "dueDate", Reason: "must be a date"}
	}
	if upd.Status != nil {
		if *upd.Status == cur.Status {
			upd.Status = nil
		} else if err := CheckUserStatus(*upd.Status); err != nil {
			return TaskUpdate{}, err
		}
	}
	merged := upd.Apply(cur)
	if merged.DueDate.Before(merged.StartDate) {
		field := "dueDate"
		if upd.DueDate == nil {
			field = "startDate"
		}
		return TaskUpdate{}, &ValidationError{Field: field, Reason: "dueDate must not be before startDate"}
	}
	return upd, nil
}
