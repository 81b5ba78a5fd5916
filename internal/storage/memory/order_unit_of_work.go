package memory

import (
	"sync"

	"github.com/mkarasev/oms-saga/internal/domain"
)

// orderUnitOfWorkInMemory связывает in-memory репозитории заказов и outbox.
// Настоящей транзакционности здесь нет — запись заказа и событий идёт под
// общим мьютексом, а при ошибке события успевший записаться заказ не
// откатывается. Для тестов и локальной разработки этого достаточно;
// durability-гарантии даёт только Postgres-реализация.
type orderUnitOfWorkInMemory struct {
	mu     sync.Mutex
	orders domain.OrderRepository
	outbox domain.OutboxRepository
}

// NewOrderUnitOfWork объединяет переданные in-memory репозитории в
// unit-of-work для локальной разработки и тестов.
func NewOrderUnitOfWork(orders domain.OrderRepository, outbox domain.OutboxRepository) domain.OrderUnitOfWork {
	return &orderUnitOfWorkInMemory{orders: orders, outbox: outbox}
}

func (u *orderUnitOfWorkInMemory) CreateWithEvents(order domain.Order, events ...domain.OutboxEvent) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.orders.Create(order); err != nil {
		return err
	}
	return u.enqueueAll(events)
}

func (u *orderUnitOfWorkInMemory) SaveWithEvents(order domain.Order, events ...domain.OutboxEvent) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.orders.Save(order); err != nil {
		return err
	}
	return u.enqueueAll(events)
}

func (u *orderUnitOfWorkInMemory) enqueueAll(events []domain.OutboxEvent) error {
	for _, event := range events {
		if _, err := u.outbox.Enqueue(event); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.OrderUnitOfWork = (*orderUnitOfWorkInMemory)(nil)
