package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mkarasev/oms-saga/internal/domain"
)

type orderUnitOfWork struct {
	store *Store
}

// NewOrderUnitOfWork создаёт транзакционный фасад над заказами и outbox:
// мутация заказа и вставка его исходящих событий фиксируются одним COMMIT.
func NewOrderUnitOfWork(store *Store) domain.OrderUnitOfWork {
	return &orderUnitOfWork{store: store}
}

func (u *orderUnitOfWork) CreateWithEvents(order domain.Order, events ...domain.OutboxEvent) error {
	return u.withinTx("create order with events", func(ctx context.Context, tx *sql.Tx) error {
		if err := insertOrderTx(ctx, tx, order); err != nil {
			return err
		}
		return insertEvents(ctx, tx, events)
	})
}

func (u *orderUnitOfWork) SaveWithEvents(order domain.Order, events ...domain.OutboxEvent) error {
	return u.withinTx("save order with events", func(ctx context.Context, tx *sql.Tx) error {
		if err := updateOrderTx(ctx, tx, order); err != nil {
			return err
		}
		return insertEvents(ctx, tx, events)
	})
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []domain.OutboxEvent) error {
	for _, event := range events {
		if _, err := insertOutboxEvent(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func (u *orderUnitOfWork) withinTx(action string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := u.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", action, err)
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", action, err)
	}
	return nil
}

var _ domain.OrderUnitOfWork = (*orderUnitOfWork)(nil)
