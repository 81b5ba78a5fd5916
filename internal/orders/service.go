// Package orders hosts the synchronous side of the order service: order
// creation with product validation against the warehouse catalog, and the
// atomic order-plus-outbox write that starts the saga.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/metrics"
	"github.com/mkarasev/oms-saga/internal/saga"
)

// Catalog — синхронное чтение карточек товара (имя, цена) из сервиса склада.
// Реализация ходит через resilient HTTP-клиент, поэтому может возвращать
// httpclient.ErrCircuitOpen и httpclient.ErrTimeout.
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// CreateRequest — вход создания заказа.
type CreateRequest struct {
	CustomerID    string
	ProductIDs    []string
	Quantities    []int32
	CorrelationID string
}

// Service создаёт и читает заказы.
type Service struct {
	orders  domain.OrderRepository
	uow     domain.OrderUnitOfWork
	catalog Catalog
	metrics *metrics.SagaMetrics
	logger  *log.Entry
}

// NewService constructs the order service. metrics and logger may be nil.
func NewService(orders domain.OrderRepository, uow domain.OrderUnitOfWork, catalog Catalog, m *metrics.SagaMetrics, logger *log.Entry) *Service {
	if m == nil {
		m = metrics.NewSagaMetrics()
	}
	if logger == nil {
		logger = log.WithField("component", "orders")
	}
	return &Service{orders: orders, uow: uow, catalog: catalog, metrics: m, logger: logger}
}

// Create validates the requested products against the warehouse catalog,
// persists the PENDING order together with its order.created outbox event in
// one transaction, and returns the order. The reservation itself happens
// asynchronously: callers poll the order until the saga settles it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Order, error) {
	if req.CustomerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}
	if len(req.ProductIDs) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}
	if len(req.ProductIDs) != len(req.Quantities) {
		return domain.Order{}, fmt.Errorf("%w: product_ids and quantities length mismatch", domain.ErrItemQtyInvalid)
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:         uuid.NewString(),
		CustomerID: req.CustomerID,
		Status:     domain.OrderStatusPending,
		Currency:   "RUB",
		Metadata: domain.OrderMetadata{
			Source:        domain.OrderSourceRegular,
			CorrelationID: correlationID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for i, productID := range req.ProductIDs {
		qty := req.Quantities[i]
		if qty <= 0 {
			return domain.Order{}, domain.ErrItemQtyInvalid
		}

		product, err := s.catalog.GetProduct(ctx, productID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("validate product %s: %w", productID, err)
		}

		order.Items = append(order.Items, domain.OrderItem{
			ID:           uuid.NewString(),
			ProductID:    product.ID,
			NameSnapshot: product.Name,
			Qty:          qty,
			PriceMinor:   product.PriceMinor,
			CreatedAt:    now,
		})
		order.AmountMinor += int64(qty) * product.PriceMinor
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errs[0]
	}

	created, err := saga.NewOrderCreatedEvent(order)
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.uow.CreateWithEvents(order, created); err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	s.metrics.RecordSagaStarted()
	s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"customer_id":    order.CustomerID,
		"amount_minor":   order.AmountMinor,
		"correlation_id": correlationID,
	}).Info("order created")

	return order, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.Get(id)
}

// ListByCustomer возвращает заказы клиента.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	return s.orders.ListByCustomer(customerID, limit)
}

// IsProductUnknown reports whether err from Create means a requested product
// doesn't exist (HTTP 404) rather than an infrastructure failure.
func IsProductUnknown(err error) bool {
	return errors.Is(err, domain.ErrProductNotFound)
}
