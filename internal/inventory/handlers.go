// Package inventory hosts the warehouse side of the order saga: reservation
// of stock on order.created, and the idempotent compensation handlers that
// return stock on order.release and order.timeout. All handlers sit on the
// broker consumer pipeline and therefore inherit its idempotency and DLQ
// semantics.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/broker"
	"github.com/mkarasev/oms-saga/internal/domain"
)

// Routing keys consumed and produced by the inventory service.
const (
	RoutingKeyOrderCreated = "order.created"
	RoutingKeyOrderRelease = "order.release"
	RoutingKeyOrderTimeout = "order.timeout"
	RoutingKeyOrderPaid    = "order.paid"

	EventTypeReserveSucceeded = "inventory.reserved.success"
	EventTypeReserveFailed    = "inventory.reserved.failed"
)

// Handlers processes warehouse-facing saga events.
type Handlers struct {
	records domain.InventoryRepository
	outbox  domain.OutboxRepository
	logger  *log.Entry
}

// NewHandlers constructs the inventory handler set. logger may be nil.
func NewHandlers(records domain.InventoryRepository, outbox domain.OutboxRepository, logger *log.Entry) *Handlers {
	if logger == nil {
		logger = log.WithField("component", "inventory")
	}
	return &Handlers{records: records, outbox: outbox, logger: logger}
}

// Register wires the handlers onto consumer with their payload schemas.
func (h *Handlers) Register(ctx context.Context, consumer *broker.Consumer) error {
	orderCreatedSchema := broker.Schema{Fields: []broker.Field{
		{Name: "order_id", Type: broker.FieldString, Required: true},
		{Name: "items", Type: broker.FieldArray, Required: true},
		{Name: "metadata", Type: broker.FieldObject},
	}}
	releaseSchema := broker.Schema{Fields: []broker.Field{
		{Name: "order_id", Type: broker.FieldString, Required: true},
		{Name: "product_id", Type: broker.FieldString, Required: true},
		{Name: "qty", Type: broker.FieldNumber, Required: true},
	}}
	timeoutSchema := broker.Schema{Fields: []broker.Field{
		{Name: "order_id", Type: broker.FieldString, Required: true},
		{Name: "items", Type: broker.FieldArray, Required: true},
	}}

	registrations := []struct {
		routingKey string
		schema     broker.Schema
		handle     broker.Handler
	}{
		{RoutingKeyOrderCreated, orderCreatedSchema, h.HandleOrderCreated},
		{RoutingKeyOrderRelease, releaseSchema, h.HandleRelease},
		{RoutingKeyOrderTimeout, timeoutSchema, h.HandleOrderTimeout},
		{RoutingKeyOrderPaid, timeoutSchema, h.HandleOrderPaid},
	}
	for _, r := range registrations {
		if err := consumer.Consume(ctx, r.routingKey, r.schema.Validator(), r.handle); err != nil {
			return fmt.Errorf("register inventory handler for %s: %w", r.routingKey, err)
		}
	}
	return nil
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Qty       int64  `json:"qty"`
}

type orderCreatedPayload struct {
	OrderID  string             `json:"order_id"`
	Items    []orderItemPayload `json:"items"`
	Metadata struct {
		Source        string `json:"source"`
		CorrelationID string `json:"correlation_id"`
	} `json:"metadata"`
}

type releasePayload struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Qty       int64  `json:"qty"`
	Reason    string `json:"reason"`
}

type orderTimeoutPayload struct {
	OrderID string             `json:"order_id"`
	Items   []orderItemPayload `json:"items"`
	Reason  string             `json:"reason"`
}

// HandleOrderCreated reserves every line of a freshly created order and
// reports the outcome. For flash-sale orders the stock was already held by
// the seckill engine, so the long-term ledger is reconciled with a blind
// decrement instead of a reserve.
func (h *Handlers) HandleOrderCreated(ctx context.Context, payload json.RawMessage) error {
	var p orderCreatedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return broker.Permanent(fmt.Errorf("decode order.created: %w", err))
	}
	logger := h.logger.WithField("order_id", p.OrderID)

	if p.Metadata.Source == string(domain.OrderSourceSeckill) {
		return h.reconcileSeckill(logger, p)
	}

	reserved := make([]orderItemPayload, 0, len(p.Items))
	for _, item := range p.Items {
		if _, err := h.records.Reserve(item.ProductID, item.Qty); err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrInventoryRecordNotFound) {
				h.rollbackReserved(logger, reserved)
				return h.emitReserveFailed(p, err.Error())
			}
			// Транспорт/хранилище: пусть конвейер повторит доставку целиком,
			// Release по уже зарезервированным строкам вернёт их на место.
			h.rollbackReserved(logger, reserved)
			return fmt.Errorf("reserve %s x%d: %w", item.ProductID, item.Qty, err)
		}
		reserved = append(reserved, item)
	}

	logger.WithField("lines", len(p.Items)).Info("order lines reserved")
	return h.emitReserveSucceeded(p)
}

// reconcileSeckill выполняет слепое списание по flash-sale заказу: сток уже
// удержан движком seckill, долговременный учёт в Postgres приводится к нему.
func (h *Handlers) reconcileSeckill(logger *log.Entry, p orderCreatedPayload) error {
	for _, item := range p.Items {
		if _, err := h.records.DecrementAvailable(item.ProductID, item.Qty); err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrInventoryRecordNotFound) {
				// Рассинхронизация учётов: заказ всё равно подтверждаем,
				// расхождение заметит ночная сверка. Движок seckill не даёт
				// перепродажи, поэтому это учётная, а не товарная проблема.
				logger.WithError(err).WithField("product_id", item.ProductID).
					Warn("seckill reconciliation mismatch, continuing")
				continue
			}
			return fmt.Errorf("seckill reconcile %s x%d: %w", item.ProductID, item.Qty, err)
		}
	}
	logger.Info("seckill order reconciled against inventory ledger")
	return h.emitReserveSucceeded(p)
}

func (h *Handlers) rollbackReserved(logger *log.Entry, reserved []orderItemPayload) {
	for _, item := range reserved {
		if _, err := h.records.Release(item.ProductID, item.Qty); err != nil && !errors.Is(err, domain.ErrCannotRelease) {
			logger.WithError(err).WithField("product_id", item.ProductID).
				Error("partial reservation rollback failed")
		}
	}
}

// HandleRelease is the compensation primitive: return qty of product to the
// available pool. CANNOT_RELEASE means the quantity was already released —
// an idempotent success, not a failure.
func (h *Handlers) HandleRelease(ctx context.Context, payload json.RawMessage) error {
	var p releasePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return broker.Permanent(fmt.Errorf("decode release: %w", err))
	}
	logger := h.logger.WithFields(log.Fields{"order_id": p.OrderID, "product_id": p.ProductID})

	if _, err := h.records.Release(p.ProductID, p.Qty); err != nil {
		if errors.Is(err, domain.ErrCannotRelease) || errors.Is(err, domain.ErrInventoryRecordNotFound) {
			logger.Debug("release already applied, treating as success")
			return nil
		}
		return fmt.Errorf("release %s x%d: %w", p.ProductID, p.Qty, err)
	}

	logger.WithField("qty", p.Qty).Info("stock released")
	return nil
}

// HandleOrderTimeout releases every line of a timed-out order. Per-line
// failures are logged but don't abort the remaining compensations.
func (h *Handlers) HandleOrderTimeout(ctx context.Context, payload json.RawMessage) error {
	var p orderTimeoutPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return broker.Permanent(fmt.Errorf("decode order.timeout: %w", err))
	}
	logger := h.logger.WithField("order_id", p.OrderID)

	var lastErr error
	for _, item := range p.Items {
		if _, err := h.records.Release(item.ProductID, item.Qty); err != nil {
			if errors.Is(err, domain.ErrCannotRelease) || errors.Is(err, domain.ErrInventoryRecordNotFound) {
				continue
			}
			logger.WithError(err).WithField("product_id", item.ProductID).Warn("timeout release failed")
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("order timeout compensation incomplete: %w", lastErr)
	}

	logger.WithField("lines", len(p.Items)).Info("timed-out order released")
	return nil
}

type orderPaidPayload struct {
	OrderID string             `json:"order_id"`
	Items   []orderItemPayload `json:"items"`
	Source  string             `json:"source"`
}

// HandleOrderPaid confirms the reservation: the goods left the system, so
// reserved is decremented without touching available. Flash-sale orders
// never went through the reserve pool, so there is nothing to confirm.
func (h *Handlers) HandleOrderPaid(ctx context.Context, payload json.RawMessage) error {
	var p orderPaidPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return broker.Permanent(fmt.Errorf("decode order.paid: %w", err))
	}
	if p.Source == string(domain.OrderSourceSeckill) {
		return nil
	}
	logger := h.logger.WithField("order_id", p.OrderID)

	for _, item := range p.Items {
		if _, err := h.records.Confirm(item.ProductID, item.Qty); err != nil {
			if errors.Is(err, domain.ErrCannotRelease) || errors.Is(err, domain.ErrInventoryRecordNotFound) {
				// Повторная доставка или уже подтверждённый резерв.
				continue
			}
			return fmt.Errorf("confirm %s x%d: %w", item.ProductID, item.Qty, err)
		}
	}

	logger.WithField("lines", len(p.Items)).Info("reservation confirmed")
	return nil
}

func (h *Handlers) emitReserveSucceeded(p orderCreatedPayload) error {
	return h.emit(p, EventTypeReserveSucceeded, map[string]any{
		"order_id": p.OrderID,
		"items":    p.Items,
	})
}

func (h *Handlers) emitReserveFailed(p orderCreatedPayload, reason string) error {
	return h.emit(p, EventTypeReserveFailed, map[string]any{
		"order_id": p.OrderID,
		"items":    p.Items,
		"reason":   reason,
	})
}

func (h *Handlers) emit(p orderCreatedPayload, eventType string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	if _, err := h.outbox.Enqueue(domain.OutboxEvent{
		ID:            uuid.NewString(),
		AggregateType: "inventory",
		AggregateID:   p.OrderID,
		EventType:     eventType,
		Payload:       payload,
		CorrelationID: p.Metadata.CorrelationID,
		RoutingKey:    eventType,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
