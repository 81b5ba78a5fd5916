package orders

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/saga"
	"github.com/mkarasev/oms-saga/internal/storage/memory"
)

type staticCatalog struct {
	products map[string]domain.Product
	err      error
}

func (c *staticCatalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if c.err != nil {
		return domain.Product{}, c.err
	}
	product, ok := c.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

type serviceFixture struct {
	svc    *Service
	orders domain.OrderRepository
	outbox domain.OutboxRepository
}

func newServiceFixture(t *testing.T, catalog Catalog) *serviceFixture {
	t.Helper()
	ordersRepo := memory.NewOrderRepository()
	outboxRepo := memory.NewOutboxRepository()
	uow := memory.NewOrderUnitOfWork(ordersRepo, outboxRepo)
	return &serviceFixture{
		svc:    NewService(ordersRepo, uow, catalog, nil, nil),
		orders: ordersRepo,
		outbox: outboxRepo,
	}
}

func TestCreateOrder(t *testing.T) {
	catalog := &staticCatalog{products: map[string]domain.Product{
		"sku-1": {ID: "sku-1", Name: "Ноутбук", PriceMinor: 100000},
		"sku-2": {ID: "sku-2", Name: "Мышь", PriceMinor: 2000},
	}}
	f := newServiceFixture(t, catalog)

	order, err := f.svc.Create(context.Background(), CreateRequest{
		CustomerID: "customer-1",
		ProductIDs: []string{"sku-1", "sku-2"},
		Quantities: []int32{1, 2},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, int64(104000), order.AmountMinor)
	assert.Equal(t, "Ноутбук", order.Items[0].NameSnapshot)
	assert.NotEmpty(t, order.Metadata.CorrelationID)

	// Заказ и его order.created зафиксированы вместе.
	saved, err := f.orders.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, saved.ID)

	events, err := f.outbox.PullPending(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, saga.EventTypeOrderCreated, events[0].EventType)
	assert.Equal(t, order.ID, events[0].AggregateID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &body))
	assert.Equal(t, order.ID, body["order_id"])
}

func TestCreateOrderValidation(t *testing.T) {
	catalog := &staticCatalog{products: map[string]domain.Product{
		"sku-1": {ID: "sku-1", Name: "Товар", PriceMinor: 100},
	}}
	f := newServiceFixture(t, catalog)

	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{name: "no customer", req: CreateRequest{ProductIDs: []string{"sku-1"}, Quantities: []int32{1}}, want: domain.ErrCustomerRequired},
		{name: "no items", req: CreateRequest{CustomerID: "c-1"}, want: domain.ErrItemsRequired},
		{name: "length mismatch", req: CreateRequest{CustomerID: "c-1", ProductIDs: []string{"sku-1"}, Quantities: []int32{1, 2}}, want: domain.ErrItemQtyInvalid},
		{name: "zero qty", req: CreateRequest{CustomerID: "c-1", ProductIDs: []string{"sku-1"}, Quantities: []int32{0}}, want: domain.ErrItemQtyInvalid},
		{name: "unknown product", req: CreateRequest{CustomerID: "c-1", ProductIDs: []string{"ghost"}, Quantities: []int32{1}}, want: domain.ErrProductNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// Ошибки валидации не оставляют в outbox ничего.
	events, err := f.outbox.PullPending(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCreateOrderCatalogDown(t *testing.T) {
	catalog := &staticCatalog{err: context.DeadlineExceeded}
	f := newServiceFixture(t, catalog)

	_, err := f.svc.Create(context.Background(), CreateRequest{
		CustomerID: "c-1",
		ProductIDs: []string{"sku-1"},
		Quantities: []int32{1},
	})
	require.Error(t, err)

	events, pullErr := f.outbox.PullPending(10)
	require.NoError(t, pullErr)
	assert.Empty(t, events, "no order, no event")
}

func TestGetAndList(t *testing.T) {
	catalog := &staticCatalog{products: map[string]domain.Product{
		"sku-1": {ID: "sku-1", Name: "Товар", PriceMinor: 100},
	}}
	f := newServiceFixture(t, catalog)

	created, err := f.svc.Create(context.Background(), CreateRequest{
		CustomerID: "customer-9",
		ProductIDs: []string{"sku-1"},
		Quantities: []int32{1},
	})
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	list, err := f.svc.ListByCustomer(context.Background(), "customer-9", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
