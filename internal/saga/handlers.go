package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/broker"
	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/metrics"
)

// Routing keys the saga handlers register against. Producers (inventory
// service, payment service, seckill engine) publish under these names.
const (
	RoutingKeyInventoryReserveSucceeded = "inventory.reserved.success"
	RoutingKeyInventoryReserveFailed    = "inventory.reserved.failed"
	RoutingKeyPaymentSucceeded          = "payment.succeeded"
	RoutingKeyPaymentFailed             = "payment.failed"
	RoutingKeySeckillOrderWon           = "seckill.order.won"
)

// Outbox event types the saga enqueues as follow-on work for other services.
const (
	EventTypeOrderCreated   = "order.created"
	EventTypeOrderConfirmed = "order.confirmed"
	EventTypeOrderRelease   = "order.release"
	EventTypeSeckillRelease = "seckill.release"
	EventTypeOrderPaid      = "order.paid"
	EventTypeOrderCancelled = "order.cancelled"
)

const maxSaveRetries = 3
const saveRetryBaseDelay = 20 * time.Millisecond

// Handlers hosts the event-driven side of the order saga: one method per
// broker event, each following load -> check FSM legality -> mutate ->
// commit order and follow-on outbox events in one store transaction, with a
// timeline append alongside every transition.
type Handlers struct {
	orders   domain.OrderRepository
	uow      domain.OrderUnitOfWork
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.SagaMetrics
	logger   *log.Entry
}

// NewHandlers constructs the saga handler set. metrics and logger may be
// nil; sane defaults are used.
func NewHandlers(orders domain.OrderRepository, uow domain.OrderUnitOfWork, outbox domain.OutboxRepository, timeline domain.TimelineRepository, m *metrics.SagaMetrics, logger *log.Entry) *Handlers {
	if m == nil {
		m = metrics.NewSagaMetrics()
	}
	if logger == nil {
		logger = log.WithField("component", "saga")
	}
	return &Handlers{orders: orders, uow: uow, outbox: outbox, timeline: timeline, metrics: m, logger: logger}
}

// Register wires every handler onto consumer under its routing key, each with
// its declarative payload schema.
func (h *Handlers) Register(ctx context.Context, consumer *broker.Consumer) error {
	orderEventSchema := broker.Schema{Fields: []broker.Field{
		{Name: "order_id", Type: broker.FieldString, Required: true},
		{Name: "reason", Type: broker.FieldString},
	}}
	seckillWonSchema := broker.Schema{Fields: []broker.Field{
		{Name: "reservation_id", Type: broker.FieldString, Required: true},
		{Name: "user_id", Type: broker.FieldString, Required: true},
		{Name: "product_id", Type: broker.FieldString, Required: true},
		{Name: "price_minor", Type: broker.FieldNumber, Required: true},
		{Name: "qty", Type: broker.FieldNumber, Required: true},
	}}

	registrations := []struct {
		routingKey string
		schema     broker.Schema
		handle     broker.Handler
	}{
		{RoutingKeyInventoryReserveSucceeded, orderEventSchema, h.HandleInventoryReserveSucceeded},
		{RoutingKeyInventoryReserveFailed, orderEventSchema, h.HandleInventoryReserveFailed},
		{RoutingKeyPaymentSucceeded, orderEventSchema, h.HandlePaymentSucceeded},
		{RoutingKeyPaymentFailed, orderEventSchema, h.HandlePaymentFailed},
		{RoutingKeySeckillOrderWon, seckillWonSchema, h.HandleSeckillOrderWon},
	}
	for _, r := range registrations {
		if err := consumer.Consume(ctx, r.routingKey, r.schema.Validator(), r.handle); err != nil {
			return fmt.Errorf("register handler for %s: %w", r.routingKey, err)
		}
	}
	return nil
}

type orderEventPayload struct {
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type seckillWonPayload struct {
	ReservationID string `json:"reservation_id"`
	UserID        string `json:"user_id"`
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name,omitempty"`
	PriceMinor    int64  `json:"price_minor"`
	Qty           int32  `json:"qty"`
	Currency      string `json:"currency,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// HandleInventoryReserveSucceeded moves PENDING -> CONFIRMED, marks items
// reserved, and enqueues an order.confirmed follow-on for the payment
// service. A success arriving after the order was already cancelled (another
// line's reservation failed first) compensates with order.release events so
// the reserved stock is not leaked.
func (h *Handlers) HandleInventoryReserveSucceeded(ctx context.Context, payload json.RawMessage) error {
	var p orderEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	err := h.applyTransition(ctx, p.OrderID, EventInventoryReserveSucceeded, "inventory_reserved", func(order *domain.Order) ([]domain.OutboxEvent, error) {
		for i := range order.Items {
			order.Items[i].Reserved = true
		}
		confirmed, err := newOrderConfirmedEvent(*order)
		if err != nil {
			return nil, err
		}
		return []domain.OutboxEvent{confirmed}, nil
	})
	if errors.Is(err, domain.ErrIllegalTransition) {
		return h.compensateLateReservation(p.OrderID)
	}
	return err
}

// compensateLateReservation handles the reservation-success-after-cancel
// race: the stock was reserved at the warehouse, but the order is already
// CANCELLED, so emit one release per line item and ack the delivery.
func (h *Handlers) compensateLateReservation(orderID string) error {
	order, err := h.orders.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusCancelled {
		return domain.ErrIllegalTransition
	}

	events, err := newReleaseEvents(order, "reservation arrived after cancellation")
	if err != nil {
		return err
	}
	for _, event := range events {
		if _, err := h.outbox.Enqueue(event); err != nil {
			return fmt.Errorf("enqueue late-reservation release: %w", err)
		}
	}
	h.metrics.RecordCompensation()
	h.logger.WithFields(log.Fields{"order_id": orderID, "releases": len(events)}).
		Warn("reservation landed on a cancelled order, released stock back")
	return nil
}

// HandleInventoryReserveFailed moves PENDING -> CANCELLED; no compensation
// needed because nothing was reserved.
func (h *Handlers) HandleInventoryReserveFailed(ctx context.Context, payload json.RawMessage) error {
	var p orderEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	reason := p.Reason
	if reason == "" {
		reason = "inventory reservation failed"
	}
	return h.applyTransition(ctx, p.OrderID, EventInventoryReserveFailed, "inventory_reserve_failed", func(order *domain.Order) ([]domain.OutboxEvent, error) {
		order.CancellationReason = reason
		h.metrics.RecordSagaCanceled()
		h.metrics.RecordSagaInFlightFinished()
		cancelled, err := newOrderCancelledEvent(*order, reason)
		if err != nil {
			return nil, err
		}
		return []domain.OutboxEvent{cancelled}, nil
	})
}

// HandlePaymentSucceeded moves CONFIRMED -> PAID, a terminal state.
func (h *Handlers) HandlePaymentSucceeded(ctx context.Context, payload json.RawMessage) error {
	var p orderEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return h.applyTransition(ctx, p.OrderID, EventPaymentSucceeded, "payment_succeeded", func(order *domain.Order) ([]domain.OutboxEvent, error) {
		h.metrics.RecordSagaCompleted()
		h.metrics.RecordSagaInFlightFinished()
		items := make([]map[string]any, 0, len(order.Items))
		for _, item := range order.Items {
			items = append(items, map[string]any{
				"product_id": item.ProductID,
				"qty":        item.Qty,
			})
		}
		paid, err := newOutboxEvent(*order, EventTypeOrderPaid, map[string]any{
			"order_id":       order.ID,
			"transaction_id": p.TransactionID,
			"items":          items,
			"source":         string(order.Metadata.Source),
		})
		if err != nil {
			return nil, err
		}
		return []domain.OutboxEvent{paid}, nil
	})
}

// HandlePaymentFailed moves CONFIRMED -> CANCELLED and compensates: one
// release event per reserved line item, routed to the inventory service for
// regular orders and to the flash-sale engine for seckill-originated ones.
func (h *Handlers) HandlePaymentFailed(ctx context.Context, payload json.RawMessage) error {
	var p orderEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	reason := p.Reason
	if reason == "" {
		reason = "payment failed"
	}
	return h.applyTransition(ctx, p.OrderID, EventPaymentFailed, "payment_failed", func(order *domain.Order) ([]domain.OutboxEvent, error) {
		order.CancellationReason = reason
		h.metrics.RecordSagaCanceled()
		h.metrics.RecordSagaInFlightFinished()
		h.metrics.RecordCompensation()

		events, err := newReleaseEvents(*order, reason)
		if err != nil {
			return nil, err
		}
		cancelled, err := newOrderCancelledEvent(*order, reason)
		if err != nil {
			return nil, err
		}
		return append(events, cancelled), nil
	})
}

// HandleSeckillOrderWon creates a PENDING order for a flash-sale win and
// enqueues order.created in the same transaction. The reservation id doubles
// as the order id, so a redelivered win degrades into an idempotent no-op.
func (h *Handlers) HandleSeckillOrderWon(ctx context.Context, payload json.RawMessage) error {
	var p seckillWonPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if p.Qty <= 0 {
		p.Qty = 1
	}
	currency := p.Currency
	if currency == "" {
		currency = "RUB"
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:          p.ReservationID,
		CustomerID:  p.UserID,
		Status:      domain.OrderStatusPending,
		Currency:    currency,
		AmountMinor: int64(p.Qty) * p.PriceMinor,
		Items: []domain.OrderItem{{
			ID:           uuid.NewString(),
			ProductID:    p.ProductID,
			NameSnapshot: p.ProductName,
			Qty:          p.Qty,
			PriceMinor:   p.PriceMinor,
			CreatedAt:    now,
		}},
		Metadata: domain.OrderMetadata{
			Source:        domain.OrderSourceSeckill,
			SeckillRef:    p.ReservationID,
			CorrelationID: p.CorrelationID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := NewOrderCreatedEvent(order)
	if err != nil {
		return err
	}

	if err := h.uow.CreateWithEvents(order, created); err != nil {
		if domain.IsVersionConflict(err) {
			h.logger.WithField("order_id", order.ID).Debug("seckill win redelivered, order already exists")
			return nil
		}
		return err
	}

	h.metrics.RecordSagaStarted()
	h.appendTimeline(order, "seckill_won")
	h.logger.WithFields(log.Fields{"order_id": order.ID, "customer_id": order.CustomerID}).
		Info("flash-sale order created")
	return nil
}

// applyTransition implements the common handler shape: load, check FSM
// legality (tolerating idempotent redelivery), mutate via fn, then commit the
// order update and the follow-on outbox events in one transaction, retrying
// on optimistic-lock conflicts.
func (h *Handlers) applyTransition(ctx context.Context, orderID string, event TriggerEvent, timelineType string, fn func(order *domain.Order) ([]domain.OutboxEvent, error)) error {
	logger := h.logger.WithFields(log.Fields{"order_id": orderID, "event": string(event)})
	started := time.Now()

	order, err := h.orders.Get(orderID)
	if err != nil {
		logger.WithError(err).Warn("order lookup failed")
		return err
	}

	sagaCtx := domain.OrderSagaContext{
		OrderID:       order.ID,
		CorrelationID: order.Metadata.CorrelationID,
		EventType:     string(event),
	}
	logger = logger.WithField("correlation_id", sagaCtx.CorrelationID)

	next, err := Transition(order.Status, event)
	if err != nil {
		if IsNoopRedelivery(order.Status, event) {
			logger.Debug("duplicate event against an order that already moved past it, treating as no-op")
			return nil
		}
		logger.WithError(err).WithField("status", string(order.Status)).Error("illegal saga transition")
		h.metrics.RecordSagaFailed()
		return err
	}

	order.Status = next
	order.UpdatedAt = time.Now().UTC()

	events, err := fn(&order)
	if err != nil {
		logger.WithError(err).Error("saga handler mutation failed")
		return err
	}

	if err := h.saveWithRetry(order, events); err != nil {
		logger.WithError(err).Error("order save failed")
		return err
	}

	h.appendTimeline(order, timelineType)
	h.metrics.RecordStepDuration(string(event), time.Since(started))
	logger.WithField("new_status", string(next)).Info("saga transition applied")
	return nil
}

// saveWithRetry reloads and reapplies the mutation on an optimistic-lock
// conflict instead of failing the whole handler, since the version bump is
// usually from an unrelated field (e.g. item reservation flags written by a
// parallel handler run).
func (h *Handlers) saveWithRetry(order domain.Order, events []domain.OutboxEvent) error {
	var lastErr error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(saveRetryBaseDelay * time.Duration(1<<uint(attempt-1)))
			fresh, err := h.orders.Get(order.ID)
			if err != nil {
				return err
			}
			fresh.Status = order.Status
			fresh.Items = order.Items
			fresh.CancellationReason = order.CancellationReason
			fresh.UpdatedAt = order.UpdatedAt
			order = fresh
		}
		err := h.uow.SaveWithEvents(order, events...)
		if err == nil {
			return nil
		}
		if !domain.IsVersionConflict(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (h *Handlers) appendTimeline(order domain.Order, timelineType string) {
	if h.timeline == nil {
		return
	}
	if err := h.timeline.Append(domain.TimelineEvent{
		OrderID:       order.ID,
		Type:          timelineType,
		Reason:        order.CancellationReason,
		CorrelationID: order.Metadata.CorrelationID,
		Occurred:      time.Now().UTC(),
	}); err != nil {
		h.logger.WithError(err).WithField("order_id", order.ID).Warn("timeline append failed")
		return
	}
	h.metrics.RecordTimelineEvent()
}

// NewOrderCreatedEvent builds the order.created outbox event persisted in
// the same transaction as the order itself. Exported because the HTTP order
// creation path enqueues the exact same event shape.
func NewOrderCreatedEvent(order domain.Order) (domain.OutboxEvent, error) {
	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"product_id": item.ProductID,
			"qty":        item.Qty,
		})
	}
	return newOutboxEvent(order, EventTypeOrderCreated, map[string]any{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"items":       items,
		"metadata": map[string]any{
			"source":         string(order.Metadata.Source),
			"seckill_ref":    order.Metadata.SeckillRef,
			"correlation_id": order.Metadata.CorrelationID,
		},
	})
}

func newOrderConfirmedEvent(order domain.Order) (domain.OutboxEvent, error) {
	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"product_id":  item.ProductID,
			"qty":         item.Qty,
			"price_minor": item.PriceMinor,
		})
	}
	return newOutboxEvent(order, EventTypeOrderConfirmed, map[string]any{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"amount_minor": order.AmountMinor,
		"currency":     order.Currency,
		"items":        items,
	})
}

func newOrderCancelledEvent(order domain.Order, reason string) (domain.OutboxEvent, error) {
	return newOutboxEvent(order, EventTypeOrderCancelled, map[string]any{
		"order_id": order.ID,
		"reason":   reason,
	})
}

// newReleaseEvents builds one compensation event per reserved line item.
// Regular orders release back into the inventory service; seckill orders
// release back into the flash-sale engine, which owns their stock.
func newReleaseEvents(order domain.Order, reason string) ([]domain.OutboxEvent, error) {
	eventType := EventTypeOrderRelease
	if order.IsSeckill() {
		eventType = EventTypeSeckillRelease
	}

	events := make([]domain.OutboxEvent, 0, len(order.Items))
	for _, item := range order.Items {
		body := map[string]any{
			"order_id":   order.ID,
			"product_id": item.ProductID,
			"qty":        item.Qty,
			"reason":     reason,
		}
		if order.IsSeckill() {
			body["user_id"] = order.CustomerID
		}
		event, err := newOutboxEvent(order, eventType, body)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func newOutboxEvent(order domain.Order, eventType string, body map[string]any) (domain.OutboxEvent, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return domain.OutboxEvent{
		ID:            uuid.NewString(),
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
		CorrelationID: order.Metadata.CorrelationID,
		RoutingKey:    eventType,
	}, nil
}
