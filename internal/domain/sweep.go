package domain

// StatusChange is a reclassification emitted by the overdue sweep.
type StatusChange struct {
	TaskID string `json:"taskId" yaml:"taskId"`
	From   Status `json:"from" yaml:"from"`
	To     Status `json:"to" yaml:"to"`
}

// Sweep returns the status changes needed to make tasks consistent with today.
// Open tasks due before today become overdue, overdue tasks no longer past due
// return to todo, done tasks are never touched. A consistent input yields nil.
func Sweep(tasks []Task, today Date) []StatusChange {
	var changes []StatusChange
	for _, t := range tasks {
		past := t.DueDate.Before(today)
		switch t.Status {
		case StatusTodo, StatusInProgress:
			if past {
				changes = append(changes, StatusChange{TaskID: t.ID, From: t.Status, To: StatusOverdue})
			}
		case StatusOverdue:
			if !past {
				changes = append(changes, StatusChange{TaskID: t.ID, From: t.Status, To: StatusTodo})
			}
		}
	}
	return changes
}
