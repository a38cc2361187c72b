package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/RARPlayzDev/StudyVerse-sub000/internal/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// EventQueue publishes confirmed task changes to an Azure storage queue.
type EventQueue struct {
	queue queueClient
	now   func() time.Time
}

// QueueClientOptions are the retry settings for the events queue client.
func QueueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewEventQueue connects to the named queue.
func NewEventQueue(connStr, queueName string) (*EventQueue, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, QueueClientOptions())
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q, now: time.Now}, nil
}

// Publish enqueues an event of type typ for task id. data is encoded as the
// event payload and may be nil.
func (q *EventQueue) Publish(ctx context.Context, owner, typ, id string, data any) error {
	ev, err := newEvent(owner, typ, id, data, q.now())
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(payload), nil)
	return err
}

func newEvent(owner, typ, id string, data any, at time.Time) (domain.Event, error) {
	ev := domain.Event{
		ID:         uuid.NewString(),
		EntityID:   id,
		EntityType: "task",
		Type:       typ,
		Timestamp:  at.UnixMilli(),
		UserID:     owner,
	}
	if data != nil {
		raw, err := sonic.Marshal(data)
		if err != nil {
			return domain.Event{}, err
		}
		ev.Data = sonic.NoCopyRawMessage(raw)
	}
	return ev, nil
}
