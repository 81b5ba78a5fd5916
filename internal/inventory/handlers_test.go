package inventory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/storage/memory"
)

type fixture struct {
	handlers *Handlers
	records  domain.InventoryRepository
	outbox   domain.OutboxRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	records := memory.NewInventoryRepository()
	outbox := memory.NewOutboxRepository()
	return &fixture{
		handlers: NewHandlers(records, outbox, nil),
		records:  records,
		outbox:   outbox,
	}
}

func (f *fixture) seedStock(t *testing.T, productID string, available int64) {
	t.Helper()
	require.NoError(t, f.records.Create(domain.InventoryRecord{ProductID: productID, Available: available}))
}

func (f *fixture) emitted(t *testing.T) []domain.OutboxEvent {
	t.Helper()
	events, err := f.outbox.PullPending(100)
	require.NoError(t, err)
	return events
}

func orderCreated(t *testing.T, items ...map[string]any) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"order_id": "order-1",
		"items":    items,
		"metadata": map[string]any{"source": "regular", "correlation_id": "corr-1"},
	})
	require.NoError(t, err)
	return payload
}

func TestHandleOrderCreatedReservesAllLines(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-a", 10)
	f.seedStock(t, "sku-b", 5)

	payload := orderCreated(t,
		map[string]any{"product_id": "sku-a", "qty": 2},
		map[string]any{"product_id": "sku-b", "qty": 1},
	)
	require.NoError(t, f.handlers.HandleOrderCreated(context.Background(), payload))

	recA, _ := f.records.Get("sku-a")
	assert.Equal(t, int64(8), recA.Available)
	assert.Equal(t, int64(2), recA.Reserved)

	events := f.emitted(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeReserveSucceeded, events[0].EventType)
	assert.Equal(t, "corr-1", events[0].CorrelationID)
}

// Частичный резерв откатывается: успевшие зарезервироваться строки
// возвращаются на склад до отправки reserved.failed (сценарий A=10, B=0).
func TestHandleOrderCreatedPartialFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-a", 10)
	f.seedStock(t, "sku-b", 0)

	payload := orderCreated(t,
		map[string]any{"product_id": "sku-a", "qty": 1},
		map[string]any{"product_id": "sku-b", "qty": 1},
	)
	require.NoError(t, f.handlers.HandleOrderCreated(context.Background(), payload))

	recA, _ := f.records.Get("sku-a")
	assert.Equal(t, int64(10), recA.Available, "sku-a must not be leaked")
	assert.Equal(t, int64(0), recA.Reserved)

	events := f.emitted(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeReserveFailed, events[0].EventType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &body))
	assert.Contains(t, body["reason"], "stock")
}

func TestHandleOrderCreatedSeckillBlindDecrement(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-hot", 100)

	payload, err := json.Marshal(map[string]any{
		"order_id": "resv-1",
		"items":    []map[string]any{{"product_id": "sku-hot", "qty": 1}},
		"metadata": map[string]any{"source": "seckill"},
	})
	require.NoError(t, err)
	require.NoError(t, f.handlers.HandleOrderCreated(context.Background(), payload))

	rec, _ := f.records.Get("sku-hot")
	assert.Equal(t, int64(99), rec.Available)
	assert.Equal(t, int64(0), rec.Reserved, "seckill reconciliation bypasses the reserve pool")

	events := f.emitted(t)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeReserveSucceeded, events[0].EventType)
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-a", 10)
	_, err := f.records.Reserve("sku-a", 5)
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]any{
		"order_id": "order-1", "product_id": "sku-a", "qty": 5, "reason": "payment failed",
	})
	require.NoError(t, f.handlers.HandleRelease(context.Background(), payload))

	rec, _ := f.records.Get("sku-a")
	assert.Equal(t, int64(10), rec.Available)
	assert.Equal(t, int64(0), rec.Reserved)

	// Повторная компенсация: CANNOT_RELEASE трактуется как успех.
	require.NoError(t, f.handlers.HandleRelease(context.Background(), payload))
	rec, _ = f.records.Get("sku-a")
	assert.Equal(t, int64(10), rec.Available, "duplicate release must not inflate stock")
}

func TestHandleOrderTimeoutContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-a", 10)
	f.seedStock(t, "sku-b", 10)
	_, err := f.records.Reserve("sku-a", 2)
	require.NoError(t, err)
	_, err = f.records.Reserve("sku-b", 3)
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]any{
		"order_id": "order-1",
		"items": []map[string]any{
			{"product_id": "sku-missing", "qty": 1}, // не должен прервать остальные
			{"product_id": "sku-a", "qty": 2},
			{"product_id": "sku-b", "qty": 3},
		},
		"reason": "order timeout",
	})
	require.NoError(t, f.handlers.HandleOrderTimeout(context.Background(), payload))

	recA, _ := f.records.Get("sku-a")
	recB, _ := f.records.Get("sku-b")
	assert.Equal(t, int64(10), recA.Available)
	assert.Equal(t, int64(10), recB.Available)
}

func TestHandleOrderPaidConfirmsReservation(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-a", 10)
	_, err := f.records.Reserve("sku-a", 2)
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]any{
		"order_id": "order-1",
		"items":    []map[string]any{{"product_id": "sku-a", "qty": 2}},
		"source":   "regular",
	})
	require.NoError(t, f.handlers.HandleOrderPaid(context.Background(), payload))

	rec, _ := f.records.Get("sku-a")
	assert.Equal(t, int64(8), rec.Available)
	assert.Equal(t, int64(0), rec.Reserved, "paid stock leaves the reserve pool")

	// Повторная доставка подтверждения безвредна.
	require.NoError(t, f.handlers.HandleOrderPaid(context.Background(), payload))
	rec, _ = f.records.Get("sku-a")
	assert.Equal(t, int64(8), rec.Available)
}

func TestHandleOrderPaidSkipsSeckill(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-hot", 10)

	payload, _ := json.Marshal(map[string]any{
		"order_id": "resv-1",
		"items":    []map[string]any{{"product_id": "sku-hot", "qty": 1}},
		"source":   "seckill",
	})
	require.NoError(t, f.handlers.HandleOrderPaid(context.Background(), payload))

	rec, _ := f.records.Get("sku-hot")
	assert.Equal(t, int64(10), rec.Available, "seckill orders never held a reservation")
}

func TestHandleOrderCreatedMalformedIsPermanent(t *testing.T) {
	f := newFixture(t)
	err := f.handlers.HandleOrderCreated(context.Background(), json.RawMessage(`{{{`))
	require.Error(t, err)
}
