// Package broker wraps RabbitMQ (AMQP 0-9-1) topology, publishing and a
// four-layer consumer pipeline: trace extraction -> idempotency check ->
// schema validation -> handler invocation. Queues are durable, every queue
// has a companion dead-letter queue, deliveries are persistent and consumers
// prefetch one message at a time.
package broker

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const (
	dlxExchange   = "oms.dlx"
	mainExchange  = "oms.events"
	retryExchange = "oms.retry"

	// MaxRetryCount bounds in-process republish retries before a message is
	// routed to its queue's dead-letter queue for manual handling
	// (cmd/dlq-reprocess).
	MaxRetryCount = 3

	headerRetryCount = "x-retry-count"

	// Startup dial policy: the broker may come up after the service does.
	connectAttempts = 5
	connectInterval = 5 * time.Second

	// Publish retry policy: bounded linear backoff on transient send errors.
	publishAttempts = 3
	publishBackoff  = 200 * time.Millisecond
)

// Conn owns the AMQP connection/channel pair and the shared topology.
type Conn struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *log.Entry
}

// Connect dials RabbitMQ, opens a channel and declares the shared topology:
// the main direct exchange, the retry exchange and a DLX with one DLQ per
// routing key registered via EnsureQueue. The dial is retried a bounded
// number of times so a service starting before the broker doesn't crash-loop.
func Connect(url string, logger *log.Entry) (*Conn, error) {
	if logger == nil {
		logger = log.WithField("component", "broker")
	}

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		if attempt < connectAttempts {
			logger.WithError(err).WithField("attempt", attempt).Warn("amqp dial failed, retrying")
			time.Sleep(connectInterval)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial amqp after %d attempts: %w", connectAttempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	// Prefetch 1: an unacked delivery per consumer, so handler duration is
	// the natural backpressure and a crash redelivers at most one message.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set channel qos: %w", err)
	}

	if err := ch.ExchangeDeclare(mainExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare main exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(retryExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare retry exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(dlxExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare dlx exchange: %w", err)
	}

	return &Conn{conn: conn, channel: ch, logger: logger}, nil
}

// Close tears down the channel and connection.
func (c *Conn) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Channel exposes the raw amqp.Channel for topology declarations that need
// it directly.
func (c *Conn) Channel() *amqp.Channel {
	return c.channel
}

// EnsureQueue declares a durable queue bound to the main exchange under
// routingKey, plus its retry queue and dead-letter queue. Each event type
// gets its own queue so one slow consumer can't starve others; each queue
// gets its own DLQ so a stuck message is attributable to its origin.
func (c *Conn) EnsureQueue(routingKey string) error {
	queueName := routingKey
	dlqName := routingKey + ".dlq"
	retryQueueName := routingKey + ".retry"

	if _, err := c.channel.QueueDeclare(dlqName, true, false, false, false, amqp.Table{
		"x-queue-type": "classic",
	}); err != nil {
		return fmt.Errorf("declare dlq %s: %w", dlqName, err)
	}
	if err := c.channel.QueueBind(dlqName, routingKey, dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind dlq %s: %w", dlqName, err)
	}

	if _, err := c.channel.QueueDeclare(retryQueueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    mainExchange,
		"x-dead-letter-routing-key": routingKey,
		"x-message-ttl":             int32(time.Second.Milliseconds()),
	}); err != nil {
		return fmt.Errorf("declare retry queue %s: %w", retryQueueName, err)
	}
	if err := c.channel.QueueBind(retryQueueName, routingKey, retryExchange, false, nil); err != nil {
		return fmt.Errorf("bind retry queue %s: %w", retryQueueName, err)
	}

	if _, err := c.channel.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlxExchange,
		"x-dead-letter-routing-key": routingKey,
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	return c.channel.QueueBind(queueName, routingKey, mainExchange, false, nil)
}

// HandleRetry reads and increments the x-retry-count header and republishes
// to the retry exchange (which holds the message for a second before
// dead-lettering it back to the main queue), or permanently dead-letters the
// delivery via Nack once MaxRetryCount is exceeded.
func (c *Conn) HandleRetry(d *amqp.Delivery) error {
	retryCount := int32(0)
	if v, ok := d.Headers[headerRetryCount]; ok {
		if n, ok := v.(int32); ok {
			retryCount = n
		}
	}
	retryCount++

	if retryCount > MaxRetryCount {
		return d.Nack(false, false)
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[headerRetryCount] = retryCount

	if err := c.channel.Publish(retryExchange, d.RoutingKey, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         d.Body,
	}); err != nil {
		return fmt.Errorf("republish to retry exchange: %w", err)
	}

	return d.Ack(false)
}
