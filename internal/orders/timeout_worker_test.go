package orders

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/storage/memory"
)

func TestTimeoutWorkerCancelsStaleOrders(t *testing.T) {
	ordersRepo := memory.NewOrderRepository()
	outboxRepo := memory.NewOutboxRepository()
	uow := memory.NewOrderUnitOfWork(ordersRepo, outboxRepo)

	old := time.Now().UTC().Add(-time.Hour)
	stale := domain.Order{
		ID:          "stale-1",
		CustomerID:  "customer-1",
		Status:      domain.OrderStatusPending,
		Currency:    "RUB",
		AmountMinor: 100,
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "sku-1", Qty: 1, PriceMinor: 100, CreatedAt: old},
		},
		CreatedAt: old,
		UpdatedAt: old,
	}
	require.NoError(t, ordersRepo.Create(stale))

	fresh := stale
	fresh.ID = "fresh-1"
	fresh.CreatedAt = time.Now().UTC()
	require.NoError(t, ordersRepo.Create(fresh))

	worker := NewTimeoutWorker(ordersRepo, uow, time.Minute, 30*time.Minute, nil)
	worker.ProcessOnce(context.Background())

	got, err := ordersRepo.Get("stale-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Contains(t, got.CancellationReason, "timed out")

	untouched, err := ordersRepo.Get("fresh-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, untouched.Status)

	events, err := outboxRepo.PullPending(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "order.timeout", events[0].EventType)
	assert.Equal(t, "order.cancelled", events[1].EventType)

	var body struct {
		OrderID string `json:"order_id"`
		Items   []struct {
			ProductID string `json:"product_id"`
			Qty       int32  `json:"qty"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &body))
	assert.Equal(t, "stale-1", body.OrderID)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "sku-1", body.Items[0].ProductID)
}

func TestTimeoutWorkerIdempotentRun(t *testing.T) {
	ordersRepo := memory.NewOrderRepository()
	outboxRepo := memory.NewOutboxRepository()
	uow := memory.NewOrderUnitOfWork(ordersRepo, outboxRepo)

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, ordersRepo.Create(domain.Order{
		ID:         "stale-1",
		CustomerID: "customer-1",
		Status:     domain.OrderStatusPending,
		Currency:   "RUB",
		CreatedAt:  old,
		UpdatedAt:  old,
	}))

	worker := NewTimeoutWorker(ordersRepo, uow, time.Minute, 30*time.Minute, nil)
	worker.ProcessOnce(context.Background())
	worker.ProcessOnce(context.Background())

	// Второй прогон не видит заказ в PENDING и ничего не добавляет.
	events, err := outboxRepo.PullPending(10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
