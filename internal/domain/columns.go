package domain

// Columns maps every board column to its tasks in snapshot arrival order.
type Columns map[Status][]Task

// Classify partitions tasks into the four board columns. Tasks carrying an
// unknown status are left out of every column.
func Classify(tasks []Task) Columns {
	cols := make(Columns, len(ColumnOrder))
	for _, s := range ColumnOrder {
		cols[s] = []Task{}
	}
	for _, t := range tasks {
		if !t.Status.Valid() {
			continue
		}
		cols[t.Status] = append(cols[t.Status], t)
	}
	return cols
}

// Len returns the number of tasks across all columns.
func (c Columns) Len() int {
	n := 0
	for _, s := range ColumnOrder {
		n += len(c[s])
	}
	return n
}

// IndexOf returns the position of the task within column s, or -1.
func (c Columns) IndexOf(s Status, id string) int {
	for i, t := range c[s] {
		if t.ID == id {
			return i
		}
	}
	return -1
}
