package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/casefront/outbound/internal/dal/rabbitmq"
	"github.com/streadway/amqp"
)

const queueName = "outbound.audit.events"

// event is the wire form of one audit entry.
type event struct {
	EntityType  string    `json:"entityType"`
	EntityID    int64     `json:"entityId"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// AuditRabbitMQRepository publishes audit events to the audit trail queue
// consumed by the surrounding application.
type AuditRabbitMQRepository struct {
	client *rabbitmq.Client
	queue  amqp.Queue
}

// NewAuditRabbitMQRepository declares the audit queue and returns a publisher.
func NewAuditRabbitMQRepository(client *rabbitmq.Client) *AuditRabbitMQRepository {
	queue, err := client.DeclareQueue(rabbitmq.DeclareQueueConfig{
		Name:       queueName,
		Durable:    true,
		Exclusive:  false,
		AutoDelete: false,
	})
	if err != nil {
		panic(err)
	}

	return &AuditRabbitMQRepository{
		client: client,
		queue:  queue,
	}
}

// LogEvent publishes one audit event. Failures to audit never fail the
// operation being audited; callers log and move on.
func (r *AuditRabbitMQRepository) LogEvent(
	ctx context.Context,
	entityType string,
	entityID int64,
	action, description string,
) error {
	body, err := json.Marshal(event{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		Description: description,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, r.queue.Name, body)
}
