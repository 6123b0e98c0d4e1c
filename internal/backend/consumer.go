package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/sewer-monitor/pkg/metrics"
	"procodus.dev/sewer-monitor/pkg/mq"
)

// errDrop marks a message that can never be processed. Such messages are
// acknowledged and discarded instead of being requeued.
var errDrop = errors.New("message dropped")

func drop(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errDrop, fmt.Sprintf(format, args...))
}

// MessageHandler processes one message body. Returning an error wrapping
// errDrop acknowledges the message; any other error requeues it.
type MessageHandler interface {
	Handle(ctx context.Context, body []byte) error
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger  *slog.Logger
	Client  mq.ClientInterface
	Handler MessageHandler
	Metrics *metrics.APIMetrics // Optional
	// Queue labels logs and metrics.
	Queue string
	// StartTimeout bounds how long Start waits for the broker (defaults to 30s).
	StartTimeout time.Duration
}

// Consumer feeds deliveries from one queue to a MessageHandler.
type Consumer struct {
	logger       *slog.Logger
	client       mq.ClientInterface
	handler      MessageHandler
	metrics      *metrics.APIMetrics
	queue        string
	startTimeout time.Duration

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if cfg.Handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	c := &Consumer{
		logger:       cfg.Logger.With("component", "consumer", "queue", cfg.Queue),
		client:       cfg.Client,
		handler:      cfg.Handler,
		metrics:      cfg.Metrics,
		queue:        cfg.Queue,
		startTimeout: cfg.StartTimeout,
		done:         make(chan struct{}),
	}
	if c.startTimeout <= 0 {
		c.startTimeout = 30 * time.Second
	}
	return c, nil
}

// Start waits for the broker and begins consuming in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	deliveries, err := c.subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	if c.metrics != nil {
		c.metrics.ActiveConsumers.Inc()
	}

	c.logger.Info("consumer started, waiting for messages")
	go c.processMessages(ctx, deliveries)
	return nil
}

// subscribe retries Consume until the client has connected.
func (c *Consumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	deadline := time.NewTimer(c.startTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		deliveries, err := c.client.Consume()
		if err == nil {
			return deliveries, nil
		}
		c.logger.Debug("queue not ready yet", "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, err
		case <-ticker.C:
		}
	}
}

func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	defer func() {
		if c.metrics != nil {
			c.metrics.ActiveConsumers.Dec()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	start := time.Now()
	err := c.handler.Handle(ctx, delivery.Body)
	c.observe(start, err)

	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}

	case errors.Is(err, errDrop):
		c.logger.Warn("discarding message", "error", err)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}

	default:
		c.logger.Error("failed to process message, requeueing", "error", err)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
	}
}

func (c *Consumer) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.ProcessingDuration.WithLabelValues(c.queue).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		c.metrics.ConsumerMessagesTotal.WithLabelValues(c.queue, "success").Inc()
	case errors.Is(err, errDrop):
		c.metrics.ConsumerMessagesTotal.WithLabelValues(c.queue, "dropped").Inc()
		c.metrics.ConsumerErrors.WithLabelValues(c.queue, "invalid").Inc()
	default:
		c.metrics.ConsumerMessagesTotal.WithLabelValues(c.queue, "error").Inc()
		c.metrics.ConsumerErrors.WithLabelValues(c.queue, "processing").Inc()
	}
}

// Stop stops consuming, closes the MQ client and waits for the in-flight message.
func (c *Consumer) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info("stopping consumer")
		if c.cancel != nil {
			c.cancel()
		}
		if closeErr := c.client.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close mq client: %w", closeErr)
		}
		if c.cancel != nil {
			<-c.done
		}
		c.logger.Info("consumer stopped")
	})
	return err
}
