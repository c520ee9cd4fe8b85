package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	minRetryTier = time.Second
	maxRetryTier = 4096 * time.Second
)

// RabbitQueue implements Queue on durable RabbitMQ queues: the main queue,
// a family of retry queues and a dead-letter queue for exhausted attempts.
// Each retry queue has a fixed message TTL and dead-letters back into main
// when it elapses, so messages in one retry queue expire in order. Unacked
// deliveries return to the main queue when the channel closes.
type RabbitQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	main    string
	dead    string

	mu       sync.Mutex
	inFlight map[uuid.UUID]rabbitLease // Key: attempt ID
	declared map[string]bool
}

type rabbitLease struct {
	tag   uint64
	lease uuid.UUID
}

// NewRabbitQueue dials RabbitMQ and declares the queues named after name
func NewRabbitQueue(url, name string) (*RabbitQueue, error) {
	const op = "delivery.NewRabbitQueue"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q := &RabbitQueue{
		conn:     conn,
		channel:  ch,
		main:     name,
		dead:     name + ".dead",
		inFlight: make(map[uuid.UUID]rabbitLease),
		declared: make(map[string]bool),
	}
	if err := q.declare(); err != nil {
		q.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return q, nil
}

func (q *RabbitQueue) declare() error {
	if _, err := q.channel.QueueDeclare(q.main, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := q.channel.QueueDeclare(q.dead, true, false, false, false, nil); err != nil {
		return err
	}
	return nil
}

// retryTier rounds delay down to a power of two seconds between
// minRetryTier and maxRetryTier
func retryTier(delay time.Duration) time.Duration {
	tier := minRetryTier
	for tier*2 <= delay && tier < maxRetryTier {
		tier *= 2
	}
	return tier
}

// retryQueue returns the retry queue for tier, declaring it on first use
func (q *RabbitQueue) retryQueue(tier time.Duration) (string, error) {
	name := fmt.Sprintf("%s.retry.%ds", q.main, int64(tier/time.Second))
	if q.declared[name] {
		return name, nil
	}
	args := amqp.Table{
		"x-message-ttl":             tier.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.main,
	}
	if _, err := q.channel.QueueDeclare(name, true, false, false, false, args); err != nil {
		return "", err
	}
	q.declared[name] = true
	return name, nil
}

// park publishes a to the retry tier covering the time left until its next attempt
func (q *RabbitQueue) park(ctx context.Context, a *DeliveryAttempt, remaining time.Duration) error {
	if remaining <= 0 {
		return q.publish(ctx, q.main, a)
	}
	queue, err := q.retryQueue(retryTier(remaining))
	if err != nil {
		return err
	}
	return q.publish(ctx, queue, a)
}

// Close closes the channel and connection
func (q *RabbitQueue) Close() {
	_ = q.channel.Close()
	_ = q.conn.Close()
}

func (q *RabbitQueue) Enqueue(ctx context.Context, a *DeliveryAttempt) error {
	const op = "delivery.RabbitQueue.Enqueue"

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.publish(ctx, q.main, a); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Dequeue leases the next ready attempt. Messages that came back from a retry
// tier early are parked again for the time that remains.
func (q *RabbitQueue) Dequeue(ctx context.Context) (*DeliveryAttempt, error) {
	const op = "delivery.RabbitQueue.Dequeue"

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		msg, ok, err := q.channel.Get(q.main, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			return nil, ErrQueueEmpty
		}

		var a DeliveryAttempt
		if err := json.Unmarshal(msg.Body, &a); err != nil {
			if buryErr := q.bury(ctx, msg); buryErr != nil {
				return nil, fmt.Errorf("%s: %w", op, buryErr)
			}
			slog.Error("Moved unreadable delivery to dead-letter queue", "queue", q.dead, "message_id", msg.MessageId, "error", err)
			continue
		}

		now := time.Now().UTC()
		if remaining := a.NextAttemptAt.Sub(now); remaining >= minRetryTier {
			if err := q.park(ctx, &a, remaining); err != nil {
				_ = msg.Nack(false, true)
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if err := msg.Ack(false); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			continue
		}

		a.Status = StatusInFlight
		a.Attempts = min(a.Attempts+1, a.MaxAttempts)
		a.LeaseID = uuid.New()
		a.LastAttemptAt = &now
		a.UpdatedAt = now
		q.inFlight[a.ID] = rabbitLease{tag: msg.DeliveryTag, lease: a.LeaseID}
		return &a, nil
	}
}

func (q *RabbitQueue) Ack(ctx context.Context, a *DeliveryAttempt) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tag, err := q.leased(a)
	if err != nil {
		return err
	}
	return q.settle(a.ID, tag)
}

func (q *RabbitQueue) Cancel(ctx context.Context, a *DeliveryAttempt, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tag, err := q.leased(a)
	if err != nil {
		return err
	}
	return q.settle(a.ID, tag)
}

// Retry parks the attempt on a retry tier until nextAt, then acks the original
func (q *RabbitQueue) Retry(ctx context.Context, a *DeliveryAttempt, nextAt time.Time, cause error) error {
	const op = "delivery.RabbitQueue.Retry"

	q.mu.Lock()
	defer q.mu.Unlock()

	tag, err := q.leased(a)
	if err != nil {
		return err
	}

	retry := *a
	retry.Status = StatusPending
	retry.LeaseID = uuid.Nil
	retry.NextAttemptAt = nextAt
	retry.LastError = errorText(cause)
	if err := q.park(ctx, &retry, time.Until(nextAt)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return q.settle(a.ID, tag)
}

func (q *RabbitQueue) DeadLetter(ctx context.Context, a *DeliveryAttempt, cause error) error {
	const op = "delivery.RabbitQueue.DeadLetter"

	q.mu.Lock()
	defer q.mu.Unlock()

	tag, err := q.leased(a)
	if err != nil {
		return err
	}

	dead := *a
	dead.Status = StatusFailedPermanently
	dead.LeaseID = uuid.Nil
	dead.LastError = errorText(cause)
	dead.UpdatedAt = time.Now().UTC()
	if err := q.publish(ctx, q.dead, &dead); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return q.settle(a.ID, tag)
}

// DeadLetters peeks at up to limit dead-lettered attempts. Messages are
// requeued so the listing does not consume them.
func (q *RabbitQueue) DeadLetters(ctx context.Context, limit int) ([]*DeliveryAttempt, error) {
	const op = "delivery.RabbitQueue.DeadLetters"

	q.mu.Lock()
	defer q.mu.Unlock()

	var dead []*DeliveryAttempt
	var tags []uint64
	for limit <= 0 || len(dead) < limit {
		msg, ok, err := q.channel.Get(q.dead, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			break
		}
		tags = append(tags, msg.DeliveryTag)
		var a DeliveryAttempt
		if err := json.Unmarshal(msg.Body, &a); err != nil {
			continue
		}
		dead = append(dead, &a)
	}
	// Nack one by one: a multiple nack would also return leased main queue deliveries
	for _, tag := range tags {
		if err := q.channel.Nack(tag, false, true); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return dead, nil
}

// Replay moves the matching dead letter back to the main queue
func (q *RabbitQueue) Replay(ctx context.Context, id uuid.UUID) (*DeliveryAttempt, error) {
	const op = "delivery.RabbitQueue.Replay"

	q.mu.Lock()
	defer q.mu.Unlock()

	var found *DeliveryAttempt
	var others []uint64
	for found == nil {
		msg, ok, err := q.channel.Get(q.dead, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			break
		}
		var a DeliveryAttempt
		if err := json.Unmarshal(msg.Body, &a); err == nil && a.ID == id {
			now := time.Now().UTC()
			a.Status = StatusPending
			a.Attempts = 0
			a.NextAttemptAt = now
			a.UpdatedAt = now
			if err := q.publish(ctx, q.main, &a); err != nil {
				_ = msg.Nack(false, true)
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if err := msg.Ack(false); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			found = &a
			break
		}
		others = append(others, msg.DeliveryTag)
	}

	for _, tag := range others {
		_ = q.channel.Nack(tag, false, true)
	}
	if found == nil {
		return nil, ErrAttemptNotFound
	}
	return found, nil
}

// leased returns the delivery tag held by a's lease. A lease is gone once it
// has been settled or its channel closed.
func (q *RabbitQueue) leased(a *DeliveryAttempt) (uint64, error) {
	l, ok := q.inFlight[a.ID]
	if !ok || l.lease != a.LeaseID {
		return 0, ErrLeaseLost
	}
	return l.tag, nil
}

func (q *RabbitQueue) settle(id uuid.UUID, tag uint64) error {
	delete(q.inFlight, id)
	return q.channel.Ack(tag, false)
}

// bury moves a message that cannot be decoded to the dead-letter queue as is
func (q *RabbitQueue) bury(ctx context.Context, msg amqp.Delivery) error {
	err := q.channel.PublishWithContext(ctx, "", q.dead, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		Headers:      msg.Headers,
		Body:         msg.Body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.Timestamp,
		MessageId:    msg.MessageId,
	})
	if err != nil {
		_ = msg.Nack(false, true)
		return err
	}
	return msg.Ack(false)
}

func (q *RabbitQueue) publish(ctx context.Context, queue string, a *DeliveryAttempt) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return q.channel.PublishWithContext(
		ctx,
		"",
		queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    a.ID.String(),
		},
	)
}

var _ Queue = (*RabbitQueue)(nil)
