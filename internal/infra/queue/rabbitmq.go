package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"amber-ink/internal/domain"
	"amber-ink/internal/infra/metrics"
)

// ErrQueueClosed возвращается, если канал RabbitMQ закрыт брокером.
var ErrQueueClosed = errors.New("rabbitmq: delivery channel closed")

// RabbitDeliveryQueue реализует очередь задач через AMQP.
type RabbitDeliveryQueue struct {
	conn       *amqp.Connection
	publisher  *amqp.Channel
	consumer   *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

var _ domain.DeliveryQueue = (*RabbitDeliveryQueue)(nil)

// NewRabbitDeliveryQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitDeliveryQueue(amqpURL, queue string) (*RabbitDeliveryQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	publisher, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if _, err := publisher.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitDeliveryQueue{conn: conn, publisher: publisher, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitDeliveryQueue) Enqueue(ctx context.Context, job domain.DeliveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.publisher.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Подтверждение выполняется через ack.
func (q *RabbitDeliveryQueue) Receive(ctx context.Context) (domain.DeliveryJob, domain.DeliveryAckFunc, error) {
	if q.deliveries == nil {
		if err := q.startConsumer(); err != nil {
			return domain.DeliveryJob{}, nil, err
		}
	}
	select {
	case <-ctx.Done():
		return domain.DeliveryJob{}, nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			q.deliveries = nil
			return domain.DeliveryJob{}, nil, ErrQueueClosed
		}
		var job domain.DeliveryJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Nack(false, false)
			return domain.DeliveryJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

func (q *RabbitDeliveryQueue) startConsumer() error {
	if q.consumer == nil || q.consumer.IsClosed() {
		ch, err := q.conn.Channel()
		if err != nil {
			return fmt.Errorf("open consume channel: %w", err)
		}
		if err := ch.Qos(1, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
		q.consumer = ch
	}
	deliveries, err := q.consumer.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return nil
}

// Close закрывает соединение с брокером.
func (q *RabbitDeliveryQueue) Close() error {
	return q.conn.Close()
}
