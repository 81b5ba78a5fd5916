package seckill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mkarasev/oms-saga/internal/broker"
)

// RoutingKeyRelease — компенсация от саги по flash-sale заказу: платёж не
// прошёл, выигрыш снимается и сток возвращается в кампанию.
const RoutingKeyRelease = "seckill.release"

type releasePayload struct {
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Qty       int64  `json:"qty"`
	Reason    string `json:"reason"`
}

// RegisterRelease wires the compensation consumer onto the broker pipeline.
// The release script is idempotent, so redeliveries are harmless even before
// the processed-marker kicks in.
func (e *Engine) RegisterRelease(ctx context.Context, consumer *broker.Consumer) error {
	schema := broker.Schema{Fields: []broker.Field{
		{Name: "user_id", Type: broker.FieldString, Required: true},
		{Name: "product_id", Type: broker.FieldString, Required: true},
		{Name: "qty", Type: broker.FieldNumber, Required: true},
	}}
	handle := func(ctx context.Context, payload json.RawMessage) error {
		var p releasePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return broker.Permanent(fmt.Errorf("decode seckill.release: %w", err))
		}
		if err := e.Release(ctx, p.ProductID, p.UserID, p.Qty); err != nil {
			return err
		}
		e.logger.WithField("order_id", p.OrderID).WithField("user_id", p.UserID).
			Info("flash-sale reservation released")
		return nil
	}
	if err := consumer.Consume(ctx, RoutingKeyRelease, schema.Validator(), handle); err != nil {
		return fmt.Errorf("register seckill release handler: %w", err)
	}
	return nil
}
