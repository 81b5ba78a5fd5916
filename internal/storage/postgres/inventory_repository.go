package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mkarasev/oms-saga/internal/domain"
)

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
// Reserve/Release/Confirm выполнены одним UPDATE с guard-условием: либо
// запись меняется целиком, либо операция отклоняется — промежуточных
// состояний остатка никто не видит даже под конкурентной нагрузкой.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepository{db: store.DB()}
}

func (r *inventoryRepository) Create(record domain.InventoryRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if errs := record.Validate(); len(errs) > 0 {
		return errs[0]
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_records (product_id, available, reserved, version)
		VALUES ($1, $2, $3, 0)
	`, record.ProductID, record.Available, record.Reserved)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrInventoryRecordExists
		}
		return fmt.Errorf("insert inventory record: %w", err)
	}
	return nil
}

func (r *inventoryRepository) Get(productID string) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var record domain.InventoryRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, available, reserved, version
		FROM inventory_records
		WHERE product_id = $1
	`, productID).Scan(&record.ProductID, &record.Available, &record.Reserved, &record.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrInventoryRecordNotFound
		}
		return domain.InventoryRecord{}, fmt.Errorf("select inventory record: %w", err)
	}
	return record, nil
}

func (r *inventoryRepository) Reserve(productID string, qty int64) (domain.InventoryRecord, error) {
	return r.guardedUpdate(productID, qty, `
		UPDATE inventory_records
		SET available = available - $2,
		    reserved = reserved + $2,
		    version = version + 1
		WHERE product_id = $1 AND available >= $2
		RETURNING product_id, available, reserved, version
	`, domain.ErrInsufficientStock)
}

func (r *inventoryRepository) Release(productID string, qty int64) (domain.InventoryRecord, error) {
	return r.guardedUpdate(productID, qty, `
		UPDATE inventory_records
		SET available = available + $2,
		    reserved = reserved - $2,
		    version = version + 1
		WHERE product_id = $1 AND reserved >= $2
		RETURNING product_id, available, reserved, version
	`, domain.ErrCannotRelease)
}

func (r *inventoryRepository) Confirm(productID string, qty int64) (domain.InventoryRecord, error) {
	return r.guardedUpdate(productID, qty, `
		UPDATE inventory_records
		SET reserved = reserved - $2,
		    version = version + 1
		WHERE product_id = $1 AND reserved >= $2
		RETURNING product_id, available, reserved, version
	`, domain.ErrCannotRelease)
}

// guardedUpdate выполняет атомарный UPDATE с guard-условием. Ноль затронутых
// строк означает либо отсутствие записи, либо нарушение guard'а — различаем
// дополнительным SELECT, чтобы вернуть осмысленную доменную ошибку.
func (r *inventoryRepository) guardedUpdate(productID string, qty int64, query string, guardErr error) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if qty <= 0 {
		return domain.InventoryRecord{}, domain.ErrReservationQtyInvalid
	}

	var record domain.InventoryRecord
	err := r.db.QueryRowContext(ctx, query, productID, qty).
		Scan(&record.ProductID, &record.Available, &record.Reserved, &record.Version)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryRecord{}, fmt.Errorf("inventory guarded update: %w", err)
	}

	if _, getErr := r.Get(productID); getErr != nil {
		return domain.InventoryRecord{}, getErr
	}
	return domain.InventoryRecord{}, guardErr
}

// DecrementAvailable списывает qty напрямую из available, минуя резерв.
// Используется для flash-sale заказов: сток уже удержан в движке seckill,
// здесь выполняется только сверка долговременного учёта.
func (r *inventoryRepository) DecrementAvailable(productID string, qty int64) (domain.InventoryRecord, error) {
	return r.guardedUpdate(productID, qty, `
		UPDATE inventory_records
		SET available = available - $2,
		    version = version + 1
		WHERE product_id = $1 AND available >= $2
		RETURNING product_id, available, reserved, version
	`, domain.ErrInsufficientStock)
}

func (r *inventoryRepository) Delete(productID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM inventory_records WHERE product_id = $1
	`, productID); err != nil {
		return fmt.Errorf("delete inventory record: %w", err)
	}
	return nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
