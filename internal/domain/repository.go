package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// ListStalePending возвращает до limit заказов, зависших в PENDING
	// дольше допустимого (создано раньше olderThan). Используется
	// timeout-воркером для принудительной отмены.
	ListStalePending(olderThan time.Time, limit int) ([]Order, error)
}

// OrderUnitOfWork объединяет запись заказа и его outbox-событий в одну
// транзакцию хранилища: либо заказ и события фиксируются вместе, либо ничего.
type OrderUnitOfWork interface {
	// CreateWithEvents сохраняет новый заказ и его исходящие события атомарно.
	CreateWithEvents(order Order, events ...OutboxEvent) error
	// SaveWithEvents применяет мутацию заказа и follow-on события атомарно,
	// с учётом optimistic locking по версии заказа.
	SaveWithEvents(order Order, events ...OutboxEvent) error
}
