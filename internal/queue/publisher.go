package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends JSON events to durable queues on RabbitMQ. It dials per
// publish; account mutations are rare enough that a pooled connection
// would mostly sit idle. Every publish, handshake included, is bounded by
// timeout and by the caller's context.
type Publisher struct {
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewPublisher returns a Publisher for url. A non-positive timeout leaves
// only the caller's context as the bound.
func NewPublisher(url string, timeout time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{url: url, timeout: timeout, logger: logger}
}

// PublishAccountEvent publishes ev to AccountEventsQueue.
func (p *Publisher) PublishAccountEvent(ctx context.Context, ev AccountEvent) error {
	return p.publish(ctx, AccountEventsQueue, ev)
}

// PublishMediaOrphaned publishes ev to MediaOrphanedQueue.
func (p *Publisher) PublishMediaOrphaned(ctx context.Context, ev MediaOrphanedEvent) error {
	return p.publish(ctx, MediaOrphanedQueue, ev)
}

// publish never panics; failures are logged and returned so the caller can
// decide whether they matter.
func (p *Publisher) publish(ctx context.Context, queue string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("rabbitmq: marshal event failed", "queue", queue, "error", err)
		return err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      dialContext(ctx),
	})
	if err != nil {
		p.logger.Warn("rabbitmq: dial failed", "queue", queue, "error", err)
		return err
	}
	defer func() { _ = conn.Close() }()
	// Channel and declare calls take no context; closing the connection
	// unblocks them once ctx is done.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warn("rabbitmq: channel open failed", "queue", queue, "error", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := declare(ch, queue); err != nil {
		p.logger.Warn("rabbitmq: queue declare failed", "queue", queue, "error", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.logger.Warn("rabbitmq: publish failed", "queue", queue, "error", err)
		return err
	}
	return nil
}

// dialContext opens the TCP connection under ctx and applies its deadline to
// the AMQP handshake. The client clears the deadline once the handshake
// completes.
func dialContext(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}

// declare creates queue as durable, non-exclusive. Idempotent.
func declare(ch *amqp.Channel, queue string) (amqp.Queue, error) {
	return ch.QueueDeclare(queue, true, false, false, false, nil)
}
