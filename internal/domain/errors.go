package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation targets a task id that does not exist.
var ErrNotFound = errors.New("task not found")

// ValidationError reports bad input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a rejected or timed out write against the persistence store.
type StoreError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *StoreError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NotFound builds the error returned for an unknown task id.
func NotFound(id string) error {
	return fmt.Errorf("task %s: %w", id, ErrNotFound)
}
