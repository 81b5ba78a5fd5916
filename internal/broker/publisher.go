package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/metrics"
)

// Publisher adapts a broker Conn into a domain.OutboxPublisher, used by the
// outbox relay to publish persisted events onto the main exchange. Each
// event type is also its own routing key / queue name (see Conn.EnsureQueue).
type Publisher struct {
	conn    *Conn
	metrics *metrics.FabricMetrics
	tracer  trace.Tracer

	mu       sync.Mutex
	declared map[string]struct{}
}

func NewPublisher(conn *Conn, m *metrics.FabricMetrics) *Publisher {
	if m == nil {
		m = metrics.NewFabricMetrics()
	}
	return &Publisher{
		conn:     conn,
		metrics:  m,
		tracer:   otel.Tracer("oms-saga/broker"),
		declared: make(map[string]struct{}),
	}
}

// Publish implements domain.OutboxPublisher. The routing key is the
// event's configured RoutingKey, falling back to EventType, matching the
// queue naming declared by Conn.EnsureQueue. The queue and its DLQ are
// declared before the first send; transient send errors are retried with a
// bounded linear backoff.
func (p *Publisher) Publish(event domain.OutboxEvent) error {
	ctx, span := p.tracer.Start(context.Background(), "broker.publish")
	defer span.End()

	routingKey := event.RoutingKey
	if routingKey == "" {
		routingKey = event.EventType
	}

	if err := p.ensureDeclared(routingKey); err != nil {
		p.metrics.RecordBrokerPublished(mainExchange, "error")
		return err
	}

	headers := HeaderCarrier(amqp.Table{
		"correlation_id": event.CorrelationID,
		"event_type":     event.EventType,
		"event_id":       event.ID,
	})
	otel.GetTextMapPropagator().Inject(ctx, headers)

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.conn.channel.Publish(mainExchange, routingKey, false, false, amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     event.ID,
			CorrelationId: event.CorrelationID,
			Timestamp:     event.CreatedAt,
			Headers:       amqp.Table(headers),
			Body:          event.Payload,
		})
		if err == nil {
			p.metrics.RecordBrokerPublished(mainExchange, "success")
			return nil
		}
		if attempt < publishAttempts {
			time.Sleep(publishBackoff * time.Duration(attempt))
		}
	}

	p.metrics.RecordBrokerPublished(mainExchange, "error")
	return fmt.Errorf("publish %s after %d attempts: %w", routingKey, publishAttempts, err)
}

func (p *Publisher) ensureDeclared(routingKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.declared[routingKey]; ok {
		return nil
	}
	if err := p.conn.EnsureQueue(routingKey); err != nil {
		return err
	}
	p.declared[routingKey] = struct{}{}
	return nil
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
