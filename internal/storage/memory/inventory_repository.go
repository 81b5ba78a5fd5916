package memory

import (
	"sync"

	"github.com/mkarasev/oms-saga/internal/domain"
)

// inventoryRepositoryInMemory — in-memory реализация InventoryRepository.
// Один мьютекс на репозиторий воспроизводит атомарность guard-операций
// Postgres-реализации: проверка условия и мутация выполняются под одной
// блокировкой.
type inventoryRepositoryInMemory struct {
	mu    sync.Mutex
	items map[string]domain.InventoryRecord
}

// NewInventoryRepository возвращает in-memory репозиторий остатков для
// локальной разработки и тестов.
func NewInventoryRepository() domain.InventoryRepository {
	return &inventoryRepositoryInMemory{
		items: make(map[string]domain.InventoryRecord),
	}
}

func (r *inventoryRepositoryInMemory) Create(record domain.InventoryRecord) error {
	if errs := record.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[record.ProductID]; exists {
		return domain.ErrInventoryRecordExists
	}
	record.Version = 0
	r.items[record.ProductID] = record
	return nil
}

func (r *inventoryRepositoryInMemory) Get(productID string) (domain.InventoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[productID]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrInventoryRecordNotFound
	}
	return record, nil
}

func (r *inventoryRepositoryInMemory) Reserve(productID string, qty int64) (domain.InventoryRecord, error) {
	return r.mutate(productID, qty, func(record *domain.InventoryRecord) error {
		if record.Available < qty {
			return domain.ErrInsufficientStock
		}
		record.Available -= qty
		record.Reserved += qty
		return nil
	})
}

func (r *inventoryRepositoryInMemory) Release(productID string, qty int64) (domain.InventoryRecord, error) {
	return r.mutate(productID, qty, func(record *domain.InventoryRecord) error {
		if record.Reserved < qty {
			return domain.ErrCannotRelease
		}
		record.Reserved -= qty
		record.Available += qty
		return nil
	})
}

func (r *inventoryRepositoryInMemory) Confirm(productID string, qty int64) (domain.InventoryRecord, error) {
	return r.mutate(productID, qty, func(record *domain.InventoryRecord) error {
		if record.Reserved < qty {
			return domain.ErrCannotRelease
		}
		record.Reserved -= qty
		return nil
	})
}

func (r *inventoryRepositoryInMemory) DecrementAvailable(productID string, qty int64) (domain.InventoryRecord, error) {
	return r.mutate(productID, qty, func(record *domain.InventoryRecord) error {
		if record.Available < qty {
			return domain.ErrInsufficientStock
		}
		record.Available -= qty
		return nil
	})
}

func (r *inventoryRepositoryInMemory) Delete(productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, productID)
	return nil
}

func (r *inventoryRepositoryInMemory) mutate(productID string, qty int64, fn func(record *domain.InventoryRecord) error) (domain.InventoryRecord, error) {
	if qty <= 0 {
		return domain.InventoryRecord{}, domain.ErrReservationQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[productID]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrInventoryRecordNotFound
	}
	if err := fn(&record); err != nil {
		return domain.InventoryRecord{}, err
	}
	record.Version++
	r.items[productID] = record
	return record, nil
}

var _ domain.InventoryRepository = (*inventoryRepositoryInMemory)(nil)
