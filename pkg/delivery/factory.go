package delivery

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// QueueConfig contains what is needed to build a delivery queue
type QueueConfig struct {
	// Pool is required for PostgreSQL queues
	Pool *pgxpool.Pool
	// AMQPURL and Name are required for RabbitMQ queues
	AMQPURL string
	Name    string
	// Lease is how long a dequeued attempt stays invisible to other workers
	Lease time.Duration
}

// NewQueue creates a delivery queue for the backend. The returned close
// function releases backend resources and is never nil.
func NewQueue(backend string, config QueueConfig) (Queue, func(), error) {
	noop := func() {}
	switch backend {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return nil, noop, fmt.Errorf("pool required for postgres queue")
		}
		return NewPostgresQueue(config.Pool, config.Lease), noop, nil
	case "rabbitmq":
		q, err := NewRabbitQueue(config.AMQPURL, config.Name)
		if err != nil {
			return nil, noop, err
		}
		return q, q.Close, nil
	case "memory":
		return NewMemoryQueue(config.Lease), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported queue backend: %s (supported: postgres, rabbitmq, memory)", backend)
	}
}
