// Package payment processes order.confirmed events: it charges the customer
// through the configured PaymentService provider and reports the outcome as
// payment.succeeded or payment.failed for the order saga.
package payment

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
)

// Routing keys consumed and produced by the payment service.
const (
	RoutingKeyOrderConfirmed = "order.confirmed"

	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
)

// Handlers charges confirmed orders.
type Handlers struct {
	provider  domain.PaymentService
	publisher domain.OutboxPublisher
	logger    *log.Entry
}

// NewHandlers constructs the payment handler set. logger may be nil.
func NewHandlers(provider domain.PaymentService, publisher domain.OutboxPublisher, logger *log.Entry) *Handlers {
	if logger == nil {
		logger = log.WithField("component", "payment")
	}
	return &Handlers{provider: provider, publisher: publisher, logger: logger}
}

// Register wires the handler onto consumer with its payload schema.
func (h *Handlers) Register(ctx context.Context, consumer *broker.Consumer) error {
	schema := broker.Schema{Fields: []broker.Field{
		{Name: "order_id", Type: broker.FieldString, Required: true},
		{Name: "amount_minor", Type: broker.FieldNumber, Required: true},
		{Name: "currency", Type: broker.FieldString, Required: true},
	}}
	if err := consumer.Consume(ctx, RoutingKeyOrderConfirmed, schema.Validator(), h.HandleOrderConfirmed); err != nil {
		return fmt.Errorf("register payment handler: %w", err)
	}
	return nil
}

type orderConfirmedPayload struct {
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	CorrelationID string `json:"correlation_id"`
}

// HandleOrderConfirmed charges the order. A declined payment is a business
// outcome, not a processing failure: the handler publishes payment.failed
// and acknowledges. Only provider/transport errors bubble up for retry.
func (h *Handlers) HandleOrderConfirmed(ctx context.Context, payload json.RawMessage) error {
	var p orderConfirmedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return broker.Permanent(fmt.Errorf("decode order.confirmed: %w", err))
	}
	logger := h.logger.WithFields(log.Fields{"order_id": p.OrderID, "amount_minor": p.AmountMinor})

	charge := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     p.OrderID,
		Provider:    "mock",
		Status:      domain.PaymentStatusPending,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		CreatedAt:   time.Now().UTC(),
	}
	if errs := charge.Validate(); len(errs) > 0 {
		return broker.Permanent(errs[0])
	}

	status, err := h.provider.Pay(charge.OrderID, charge.AmountMinor, charge.Currency)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentDeclined) {
			logger.WithError(err).Info("payment declined")
			return h.publish(p, EventTypePaymentFailed, map[string]any{
				"order_id": p.OrderID,
				"reason":   err.Error(),
			})
		}
		// Временная ошибка провайдера: конвейер повторит доставку.
		return fmt.Errorf("charge order %s: %w", p.OrderID, err)
	}

	if status != domain.PaymentStatusCaptured && status != domain.PaymentStatusAuthorized {
		logger.WithField("status", string(status)).Info("payment not captured")
		return h.publish(p, EventTypePaymentFailed, map[string]any{
			"order_id": p.OrderID,
			"reason":   "payment status " + string(status),
		})
	}

	logger.Info("payment captured")
	return h.publish(p, EventTypePaymentSucceeded, map[string]any{
		"order_id":       p.OrderID,
		"transaction_id": uuid.NewString(),
		"amount_minor":   p.AmountMinor,
		"currency":       p.Currency,
	})
}

func (h *Handlers) publish(p orderConfirmedPayload, eventType string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	if err := h.publisher.Publish(domain.OutboxEvent{
		ID:            uuid.NewString(),
		AggregateType: "payment",
		AggregateID:   p.OrderID,
		EventType:     eventType,
		Payload:       payload,
		CorrelationID: p.CorrelationID,
		RoutingKey:    eventType,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
