package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

type taskTable interface {
	FetchTasks(ctx context.Context, owner string) ([]domain.Task, error)
	InsertTask(ctx context.Context, owner string, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, owner, id string, upd domain.TaskUpdate) error
	DeleteTask(ctx context.Context, owner, id string) error
}

// EventPublisher enqueues change events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, owner, typ, id string, data any) error
}

// TaskStore is the board's persistence collaborator: table writes, a cached
// snapshot read path, Redis change notifications and queued change events.
type TaskStore struct {
	table     taskTable
	cache     *Cache
	redis     *redis.Client
	events    EventPublisher
	logger    *log.Logger
	reconnect time.Duration
}

// NewTaskStore wires the store. rc and events may be nil; without Redis a
// subscription only carries its initial snapshot.
func NewTaskStore(table taskTable, rc *redis.Client, cacheTTL time.Duration, events EventPublisher, logger *log.Logger) *TaskStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskStore{
		table:     table,
		cache:     NewCache(table, rc, cacheTTL, logger),
		redis:     rc,
		events:    events,
		logger:    logger,
		reconnect: time.Second,
	}
}

func updatesChannel(owner string) string {
	return "board:" + owner
}

func (s *TaskStore) Create(ctx context.Context, owner string, t domain.Task) (domain.Task, error) {
	created, err := s.table.InsertTask(ctx, owner, t)
	if err != nil {
		return domain.Task{}, err
	}
	s.changed(ctx, owner, domain.TaskCreated, created.ID, created)
	return created, nil
}

func (s *TaskStore) Update(ctx context.Context, owner, id string, upd domain.TaskUpdate) error {
	if err := s.table.UpdateTask(ctx, owner, id, upd); err != nil {
		return err
	}
	s.changed(ctx, owner, domain.TaskUpdated, id, upd)
	return nil
}

func (s *TaskStore) Delete(ctx context.Context, owner, id string) error {
	if err := s.table.DeleteTask(ctx, owner, id); err != nil {
		return err
	}
	s.changed(ctx, owner, domain.TaskDeleted, id, nil)
	return nil
}

// changed runs the side effects of a confirmed write. Failures are logged;
// the write itself already succeeded.
func (s *TaskStore) changed(ctx context.Context, owner, typ, id string, data any) {
	s.cache.Evict(ctx, owner)
	entry := s.logger.WithFields(log.Fields{"owner": owner, "task": id, "type": typ})
	if s.redis != nil {
		if err := s.redis.Publish(ctx, updatesChannel(owner), id).Err(); err != nil {
			entry.WithError(err).Error("failed to publish board change")
		}
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, owner, typ, id, data); err != nil {
			entry.WithError(err).Error("failed to enqueue task event")
		}
	}
}

// Subscribe streams owner's snapshots: the current one first, then a fresh
// read after every change notification. A consumer that falls behind only
// receives the latest snapshot. The channel closes when ctx ends.
func (s *TaskStore) Subscribe(ctx context.Context, owner string) (<-chan []domain.Task, error) {
	var sub *redis.PubSub
	if s.redis != nil {
		sub = s.redis.Subscribe(ctx, updatesChannel(owner))
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			return nil, err
		}
	}
	tasks, err := s.cache.FetchTasks(ctx, owner)
	if err != nil {
		if sub != nil {
			_ = sub.Close()
		}
		return nil, err
	}

	out := make(chan []domain.Task, 1)
	out <- tasks
	go s.follow(ctx, owner, sub, out)
	return out, nil
}

func (s *TaskStore) follow(ctx context.Context, owner string, sub *redis.PubSub, out chan []domain.Task) {
	defer close(out)
	if sub == nil {
		<-ctx.Done()
		return
	}
	entry := s.logger.WithField("owner", owner)
	for {
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break receive
				}
				s.refresh(ctx, owner, out)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		entry.Error("board pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnect):
		}
		sub = s.redis.Subscribe(ctx, updatesChannel(owner))
		// Changes may have been missed while disconnected.
		s.refresh(ctx, owner, out)
	}
}

func (s *TaskStore) refresh(ctx context.Context, owner string, out chan []domain.Task) {
	tasks, err := s.cache.FetchTasks(ctx, owner)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).WithField("owner", owner).Error("failed to refresh board snapshot")
		}
		return
	}
	sendLatest(out, tasks)
}

// sendLatest replaces any snapshot the consumer has not picked up yet.
func sendLatest(out chan []domain.Task, tasks []domain.Task) {
	for {
		select {
		case out <- tasks:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
