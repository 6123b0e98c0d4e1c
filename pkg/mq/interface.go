package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is the queue surface used by the ingest consumers and the simulator.
type ClientInterface interface {
	// Push publishes data and waits for a broker confirmation.
	Push(ctx context.Context, data []byte) error

	// UnsafePush publishes data without waiting for a confirmation.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume opens a manual-ack subscription on the queue.
	Consume() (<-chan amqp.Delivery, error)

	// Close shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
