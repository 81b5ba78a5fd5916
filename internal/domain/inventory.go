package domain

// InventoryRecord описывает остаток конкретного товара на складе.
type InventoryRecord struct {
	ProductID string
	Available int64
	Reserved  int64
	Version   int64
}

// Validate проверяет базовые инварианты записи остатка.
func (r *InventoryRecord) Validate() []error {
	var errs []error
	if r.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if r.Available < 0 {
		errs = append(errs, ErrInventoryNegative)
	}
	if r.Reserved < 0 {
		errs = append(errs, ErrInventoryNegative)
	}
	return errs
}

// InventoryRepository описывает атомарные операции над остатками склада.
//
// Reserve/Release/Confirm выполняются одним SQL-выражением с guard-условием,
// поэтому вызывающая сторона никогда не видит промежуточное состояние записи.
type InventoryRepository interface {
	// Create заводит новую запись остатка (вызывается синхронно при создании товара).
	Create(record InventoryRecord) error
	// Get возвращает текущий остаток или ErrInventoryRecordNotFound.
	Get(productID string) (InventoryRecord, error)
	// Reserve декрементирует available и инкрементирует reserved на qty.
	// Возвращает ErrInsufficientStock, если available < qty.
	Reserve(productID string, qty int64) (InventoryRecord, error)
	// Release декрементирует reserved и инкрементирует available на qty.
	// Возвращает ErrCannotRelease, если reserved < qty; вызывающая сторона
	// обязана трактовать эту ошибку как идемпотентный успех.
	Release(productID string, qty int64) (InventoryRecord, error)
	// Confirm декрементирует reserved на qty (товар покинул систему).
	Confirm(productID string, qty int64) (InventoryRecord, error)
	// DecrementAvailable списывает qty напрямую из available, минуя резерв —
	// сверка для flash-sale заказов, чей сток уже удержан движком seckill.
	DecrementAvailable(productID string, qty int64) (InventoryRecord, error)
	// Delete убирает запись остатка (вызывается при удалении товара).
	Delete(productID string) error
}
