package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего кода платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// Ошибка отсутствующего идентификатора заказа в платежах/резервах.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего product id в резерве/остатке.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отсутствующего имени товара.
	ErrProductNameRequired = errors.New("product name is required")
	// ErrProductNotFound возвращается, если карточка товара не найдена.
	ErrProductNotFound = errors.New("product not found")
	// Ошибка отсутствующего SKU в резерве.
	ErrReservationSKURequired = errors.New("reservation product_id is required")
	// Ошибка некорректного количества в резерве.
	ErrReservationQtyInvalid = errors.New("reservation qty must be greater than zero")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInventoryUnavailable — бизнес-ошибка от склада (нет стока/недоступность позиции).
	ErrInventoryUnavailable = errors.New("inventory unavailable")
	// ErrInventoryTemporary — временная ошибка при обращении к складу, можно повторить попытку.
	ErrInventoryTemporary = errors.New("inventory temporary error")
	// ErrInventoryRecordNotFound — запись остатка не найдена.
	ErrInventoryRecordNotFound = errors.New("inventory record not found")
	// ErrInventoryRecordExists — запись остатка для товара уже заведена.
	ErrInventoryRecordExists = errors.New("inventory record already exists")
	// ErrInventoryNegative — остаток или резерв ушёл бы в отрицательные значения.
	ErrInventoryNegative = errors.New("inventory quantity must be non-negative")
	// ErrInsufficientStock — доступного остатка недостаточно для резервирования.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCannotRelease — резерва недостаточно для снятия; компенсация должна
	// трактовать это как уже выполненное освобождение (идемпотентный успех).
	ErrCannotRelease = errors.New("cannot release: reserved quantity too low")
	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentIndeterminate — неопределённый статус платежа; требуется reconcile.
	ErrPaymentIndeterminate = errors.New("payment indeterminate state")
	// ErrPaymentTemporary — временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("payment temporary error")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxEventNotFound возвращается, если событие outbox не найдено.
	ErrOutboxEventNotFound = errors.New("outbox event not found")
	// ErrIllegalTransition — переход не входит в таблицу легальных переходов FSM заказа.
	ErrIllegalTransition = errors.New("illegal order state transition")

	// ErrIdempotencyKeyRequired — ключ идемпотентности не передан.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не передан хэш тела запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — запись с таким ключом не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — запрос с таким ключом уже обрабатывается/обработан.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with a different request body")

	// Ошибки flash-sale reservation engine.
	ErrSeckillRateLimited      = errors.New("rate limited")
	ErrSeckillAlreadyPurchased = errors.New("already purchased")
	ErrSeckillNotActive        = errors.New("campaign not active")
	ErrSeckillOutOfStock       = errors.New("out of stock")
	ErrSeckillCampaignNotFound = errors.New("campaign not found")
	ErrSeckillWindowInvalid    = errors.New("campaign window end precedes start")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
