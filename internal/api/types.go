package api

import (
	"context"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/board"
	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

// Boards hands out the live board of an owner. The release func must be
// called when the request is done with it.
type Boards interface {
	Acquire(owner string) (*board.Manager, func(), error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper remembers idempotency keys of create requests.
type Deduper interface {
	// Claim records key for owner. It returns false and the stored result, if
	// any, when the key was seen before.
	Claim(ctx context.Context, owner, key string) (bool, []byte, error)
	// Complete stores the result of a claimed key so retries can replay it.
	Complete(ctx context.Context, owner, key string, result []byte) error
	// Release forgets a claimed key, used when the create failed.
	Release(ctx context.Context, owner, key string) error
}

type boardResponse struct {
	Todo       []domain.Task `json:"todo"`
	InProgress []domain.Task `json:"inprogress"`
	Overdue    []domain.Task `json:"overdue"`
	Done       []domain.Task `json:"done"`
}

func newBoardResponse(cols domain.Columns) boardResponse {
	return boardResponse{
		Todo:       cols[domain.StatusTodo],
		InProgress: cols[domain.StatusInProgress],
		Overdue:    cols[domain.StatusOverdue],
		Done:       cols[domain.StatusDone],
	}
}

type moveRequest struct {
	Status domain.Status `json:"status"`
}

type dragEnd struct {
	Column domain.Status `json:"column"`
	Index  int           `json:"index"`
}

type dragRequest struct {
	TaskID      string   `json:"taskId"`
	Source      dragEnd  `json:"source"`
	Destination *dragEnd `json:"destination"`
}

func (r dragRequest) drag() board.Drag {
	d := board.Drag{
		TaskID:       r.TaskID,
		SourceColumn: r.Source.Column,
		SourceIndex:  r.Source.Index,
	}
	if r.Destination != nil {
		d.DestColumn = r.Destination.Column
		d.DestIndex = r.Destination.Index
	}
	return d
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
