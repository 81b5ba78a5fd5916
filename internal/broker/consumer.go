package broker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/mkarasev/oms-saga/internal/metrics"
)

// Handler processes one decoded event payload. Returning an error causes
// the delivery to be retried (via Conn.HandleRetry) up to MaxRetryCount,
// then dead-lettered; an error for which IsPermanent reports true is
// dead-lettered at once, without retries.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Validator checks a raw payload against the schema expected for a given
// event type before the handler is invoked, rejecting malformed events
// straight to the DLQ instead of burning retries on something that will
// never parse.
type Validator func(payload json.RawMessage) error

// Consumer wires the four-layer pipeline: trace context extraction,
// idempotency check against ProcessedStore, schema validation, then
// handler invocation.
type Consumer struct {
	conn      *Conn
	processed ProcessedStore
	metrics   *metrics.FabricMetrics
	logger    *log.Entry
}

func NewConsumer(conn *Conn, processed ProcessedStore, m *metrics.FabricMetrics, logger *log.Entry) *Consumer {
	if m == nil {
		m = metrics.NewFabricMetrics()
	}
	if logger == nil {
		logger = log.WithField("component", "broker-consumer")
	}
	return &Consumer{conn: conn, processed: processed, metrics: m, logger: logger}
}

// Consume starts consuming routingKey's queue until ctx is cancelled,
// running each delivery through the four layers and validating it with
// validate (may be nil to skip schema validation) before calling handle.
func (c *Consumer) Consume(ctx context.Context, routingKey string, validate Validator, handle Handler) error {
	if err := c.conn.EnsureQueue(routingKey); err != nil {
		return err
	}

	deliveries, err := c.conn.channel.Consume(routingKey, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", routingKey, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				c.process(ctx, routingKey, d, validate, handle)
			}
		}
	}()

	return nil
}

func (c *Consumer) process(ctx context.Context, queue string, d amqp.Delivery, validate Validator, handle Handler) {
	// Layer 1: trace context extraction.
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier(d.Headers))
	tracer := otel.Tracer("oms-saga/broker")
	msgCtx, span := tracer.Start(msgCtx, "broker.consume."+queue)
	defer span.End()

	logger := c.logger.WithFields(log.Fields{
		"queue":      queue,
		"message_id": d.MessageId,
	})

	// Layer 2: idempotency check. The marker is only written after the
	// handler succeeds, so a crash mid-handler leaves the redelivery
	// processable.
	eventID := d.MessageId
	if eventID == "" {
		eventID = d.CorrelationId
	}
	if c.processed != nil && eventID != "" {
		seen, err := c.processed.Seen(msgCtx, eventID)
		if err != nil {
			logger.WithError(err).Warn("idempotency check failed, requeueing")
			c.metrics.RecordBrokerConsumed(queue, "check_error")
			_ = d.Nack(false, true)
			return
		}
		if seen {
			logger.Debug("duplicate delivery suppressed")
			c.metrics.RecordBrokerConsumed(queue, "duplicate")
			_ = d.Ack(false)
			return
		}
	}

	// Layer 3: schema validation.
	if validate != nil {
		if err := validate(d.Body); err != nil {
			logger.WithError(err).Warn("schema validation failed, routing to dlq")
			c.metrics.RecordBrokerConsumed(queue, "invalid_schema")
			c.metrics.RecordBrokerDLQ(queue)
			_ = d.Nack(false, false)
			return
		}
	}

	// Layer 4: handler invocation. Permanent failures dead-letter straight
	// away; transient ones go through the bounded retry loop.
	if err := handle(msgCtx, d.Body); err != nil {
		logger.WithError(err).Warn("handler failed")
		c.metrics.RecordBrokerConsumed(queue, "handler_error")
		if IsPermanent(err) {
			c.metrics.RecordBrokerDLQ(queue)
			_ = d.Nack(false, false)
			return
		}
		if retryErr := c.conn.HandleRetry(&d); retryErr != nil {
			logger.WithError(retryErr).Error("failed to schedule retry")
		} else {
			c.metrics.RecordBrokerRetry(queue)
		}
		return
	}

	if c.processed != nil && eventID != "" {
		if err := c.processed.Mark(msgCtx, eventID); err != nil {
			// Без маркера повторная доставка прогонит идемпотентный хендлер
			// ещё раз — это дешевле, чем потерять сообщение из-за Redis.
			logger.WithError(err).Warn("failed to record processed marker")
		}
	}

	c.metrics.RecordBrokerConsumed(queue, "success")
	_ = d.Ack(false)
}
