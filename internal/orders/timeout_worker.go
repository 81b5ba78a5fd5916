package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/saga"
)

const (
	defaultTimeoutInterval = time.Minute
	defaultOrderMaxAge     = 30 * time.Minute
	timeoutBatchSize       = 100
)

// TimeoutWorker отменяет заказы, зависшие в PENDING: склад так и не ответил,
// либо ответ потерян. Каждая отмена фиксируется вместе с order.timeout
// (компенсация резервов, если они успели случиться) и order.cancelled в
// одной транзакции с заказом.
type TimeoutWorker struct {
	orders   domain.OrderRepository
	uow      domain.OrderUnitOfWork
	interval time.Duration
	maxAge   time.Duration
	logger   *log.Entry
}

// NewTimeoutWorker constructs the worker. interval and maxAge fall back to
// sane defaults when non-positive; logger may be nil.
func NewTimeoutWorker(orders domain.OrderRepository, uow domain.OrderUnitOfWork, interval, maxAge time.Duration, logger *log.Entry) *TimeoutWorker {
	if interval <= 0 {
		interval = defaultTimeoutInterval
	}
	if maxAge <= 0 {
		maxAge = defaultOrderMaxAge
	}
	if logger == nil {
		logger = log.WithField("component", "order-timeout")
	}
	return &TimeoutWorker{orders: orders, uow: uow, interval: interval, maxAge: maxAge, logger: logger}
}

// Run крутит цикл до отмены контекста.
func (w *TimeoutWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce отменяет один батч просроченных заказов.
func (w *TimeoutWorker) ProcessOnce(ctx context.Context) {
	stale, err := w.orders.ListStalePending(time.Now().UTC().Add(-w.maxAge), timeoutBatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("stale order scan failed")
		return
	}

	for _, order := range stale {
		if ctx.Err() != nil {
			return
		}
		if err := w.cancelOne(order); err != nil {
			w.logger.WithError(err).WithField("order_id", order.ID).Warn("order timeout cancellation failed")
		}
	}
}

func (w *TimeoutWorker) cancelOne(order domain.Order) error {
	next, err := saga.Transition(order.Status, saga.EventCustomerCancel)
	if err != nil {
		// Заказ успел уйти из PENDING между сканом и отменой.
		return nil
	}

	reason := fmt.Sprintf("order timed out after %s", w.maxAge)
	order.Status = next
	order.CancellationReason = reason
	order.UpdatedAt = time.Now().UTC()

	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"product_id": item.ProductID,
			"qty":        item.Qty,
		})
	}
	timeoutPayload, err := json.Marshal(map[string]any{
		"order_id": order.ID,
		"items":    items,
		"reason":   reason,
	})
	if err != nil {
		return fmt.Errorf("marshal order.timeout: %w", err)
	}
	cancelledPayload, err := json.Marshal(map[string]any{
		"order_id": order.ID,
		"reason":   reason,
	})
	if err != nil {
		return fmt.Errorf("marshal order.cancelled: %w", err)
	}

	events := []domain.OutboxEvent{
		{
			ID:            uuid.NewString(),
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     "order.timeout",
			Payload:       timeoutPayload,
			CorrelationID: order.Metadata.CorrelationID,
			RoutingKey:    "order.timeout",
		},
		{
			ID:            uuid.NewString(),
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     saga.EventTypeOrderCancelled,
			Payload:       cancelledPayload,
			CorrelationID: order.Metadata.CorrelationID,
			RoutingKey:    saga.EventTypeOrderCancelled,
		},
	}

	if err := w.uow.SaveWithEvents(order, events...); err != nil {
		if domain.IsVersionConflict(err) {
			// Параллельный хендлер уже двинул заказ; на следующем тике его
			// здесь не будет.
			return nil
		}
		return err
	}

	w.logger.WithFields(log.Fields{"order_id": order.ID, "age_limit": w.maxAge.String()}).
		Info("stale pending order cancelled")
	return nil
}
