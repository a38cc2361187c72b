package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

type tableClient interface {
	NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	AddEntity(ctx context.Context, entity []byte, opts *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, opts *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

// Storage persists tasks in an Azure table partitioned by owner.
type Storage struct {
	tasks  tableClient
	newID  func() (string, error)
	logger *log.Logger
}

// TableClientOptions are the retry settings shared by every table client.
func TableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// New creates a Storage for tasksTable from the given connection string.
// A nil logger means the logrus standard logger.
func New(connStr, tasksTable string, logger *log.Logger) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, TableClientOptions())
	if err != nil {
		return nil, err
	}
	return newStorage(svc.NewClient(tasksTable), logger), nil
}

func newStorage(tasks tableClient, logger *log.Logger) *Storage {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Storage{tasks: tasks, newID: newTaskID, logger: logger}
}

// newTaskID returns a time ordered id so row key order matches creation order.
func newTaskID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type taskEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Subject   string `json:"Subject"`
	StartDate string `json:"StartDate"`
	DueDate   string `json:"DueDate"`
	Priority  string `json:"Priority"`
	Status    string `json:"Status"`
	DoneAt    string `json:"DoneAt"`
}

type taskUpdateEntity struct {
	aztables.Entity
	Title     *string `json:"Title,omitempty"`
	Subject   *string `json:"Subject,omitempty"`
	StartDate *string `json:"StartDate,omitempty"`
	DueDate   *string `json:"DueDate,omitempty"`
	Priority  *string `json:"Priority,omitempty"`
	Status    *string `json:"Status,omitempty"`
	DoneAt    *string `json:"DoneAt,omitempty"`
}

func encodeTask(owner string, t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:    aztables.Entity{PartitionKey: owner, RowKey: t.ID},
		Title:     t.Title,
		Subject:   t.Subject,
		StartDate: t.StartDate.String(),
		DueDate:   t.DueDate.String(),
		Priority:  string(t.Priority),
		Status:    string(t.Status),
	}
	if t.DoneAt != nil {
		ent.DoneAt = t.DoneAt.UTC().Format(time.RFC3339Nano)
	}
	return ent
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:       ent.RowKey,
		Title:    ent.Title,
		Subject:  ent.Subject,
		Priority: domain.Priority(ent.Priority),
		Status:   domain.Status(ent.Status),
	}
	var err error
	if t.StartDate, err = parseOptionalDate(ent.StartDate); err != nil {
		return domain.Task{}, err
	}
	if t.DueDate, err = parseOptionalDate(ent.DueDate); err != nil {
		return domain.Task{}, err
	}
	if ent.DoneAt != "" {
		at, err := time.Parse(time.RFC3339Nano, ent.DoneAt)
		if err != nil {
			return domain.Task{}, fmt.Errorf("parse DoneAt %q: %w", ent.DoneAt, err)
		}
		t.DoneAt = &at
	}
	return t, nil
}

func parseOptionalDate(s string) (domain.Date, error) {
	if s == "" {
		return domain.Date{}, nil
	}
	return domain.ParseDate(s)
}

func encodeUpdate(owner, id string, upd domain.TaskUpdate) taskUpdateEntity {
	ent := taskUpdateEntity{Entity: aztables.Entity{PartitionKey: owner, RowKey: id}}
	ent.Title = upd.Title
	ent.Subject = upd.Subject
	if upd.StartDate != nil {
		s := upd.StartDate.String()
		ent.StartDate = &s
	}
	if upd.DueDate != nil {
		s := upd.DueDate.String()
		ent.DueDate = &s
	}
	if upd.Priority != nil {
		s := string(*upd.Priority)
		ent.Priority = &s
	}
	if upd.Status != nil {
		s := string(*upd.Status)
		ent.Status = &s
	}
	switch {
	case upd.DoneAt != nil:
		s := upd.DoneAt.UTC().Format(time.RFC3339Nano)
		ent.DoneAt = &s
	case upd.ClearDoneAt:
		empty := ""
		ent.DoneAt = &empty
	}
	return ent
}

func ownerFilter(owner string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(owner, "'", "''") + "'"
}

// FetchTasks lists every task of owner in row key order. Records that cannot
// be decoded are logged and skipped.
func (s *Storage) FetchTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := ownerFilter(owner)
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				s.logger.WithError(err).WithField("owner", owner).Warn("skipping malformed task record")
				continue
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// InsertTask stores a new task under a fresh id and returns it.
func (s *Storage) InsertTask(ctx context.Context, owner string, t domain.Task) (domain.Task, error) {
	id, err := s.newID()
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = id
	payload, err := sonic.Marshal(encodeTask(owner, t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.tasks.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTask merges upd into an existing task.
func (s *Storage) UpdateTask(ctx context.Context, owner, id string, upd domain.TaskUpdate) error {
	payload, err := sonic.Marshal(encodeUpdate(owner, id, upd))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return mapNotFound(id, err)
}

// DeleteTask removes a task.
func (s *Storage) DeleteTask(ctx context.Context, owner, id string) error {
	et := azcore.ETagAny
	_, err := s.tasks.DeleteEntity(ctx, owner, id, &aztables.DeleteEntityOptions{IfMatch: &et})
	return mapNotFound(id, err)
}

func mapNotFound(id string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return domain.NotFound(id)
	}
	return err
}
