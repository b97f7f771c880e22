package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/casefront/outbound/internal/dal/interfaces/iactivityrepo"
	"github.com/casefront/outbound/internal/dal/rabbitmq"
)

const queueName = "outbound.dossier.activities"

// activityEvent is the wire form of one dossier timeline activity.
type activityEvent struct {
	DossierID   int64             `json:"dossierId"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurredAt"`
}

// ActivityRabbitMQRepository publishes dossier timeline activities.
type ActivityRabbitMQRepository struct {
	client *rabbitmq.Client
	queue  amqp.Queue
}

// NewActivityRabbitMQRepository declares the activity queue and returns a
// publisher.
func NewActivityRabbitMQRepository(client *rabbitmq.Client) *ActivityRabbitMQRepository {
	queue, err := client.DeclareQueue(rabbitmq.DeclareQueueConfig{
		Name:       queueName,
		Durable:    true,
		Exclusive:  false,
		AutoDelete: false,
	})
	if err != nil {
		panic(err)
	}

	return &ActivityRabbitMQRepository{
		client: client,
		queue:  queue,
	}
}

// LogActivity publishes one activity entry.
func (r *ActivityRabbitMQRepository) LogActivity(
	ctx context.Context,
	dossierID int64,
	activityType, description string,
	metadata map[string]string,
) error {
	body, err := json.Marshal(activityEvent{
		DossierID:   dossierID,
		Type:        activityType,
		Description: description,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, r.queue.Name, body)
}

// LogActivities publishes a batch of entries with bounded concurrency. The
// batch gets its own deadline so a slow broker cannot hold a worker tick
// hostage.
func (r *ActivityRabbitMQRepository) LogActivities(_ context.Context, entries []iactivityrepo.Entry) error {
	publishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g, publishCtx := errgroup.WithContext(publishCtx)
	g.SetLimit(3)

	for _, e := range entries {
		g.Go(func() error {
			return r.LogActivity(publishCtx, e.DossierID, e.Type, e.Description, e.Metadata)
		})
	}

	return g.Wait()
}
