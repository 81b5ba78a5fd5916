package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkarasev/oms-saga/internal/domain"
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(event domain.OutboxEvent) (domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return insertOutboxEvent(ctx, r.db, event)
}

// sqlExecer покрывает и *sql.DB, и *sql.Tx: вставка события outbox переиспользуется
// unit-of-work'ом заказа, где она обязана идти в одной транзакции с заказом.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOutboxEvent(ctx context.Context, ex sqlExecer, event domain.OutboxEvent) (domain.OutboxEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.Status = domain.OutboxStatusPending
	if event.NextRetryAt.IsZero() {
		event.NextRetryAt = now
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO outbox_events (
			id, aggregate_type, aggregate_id, event_type, payload,
			correlation_id, routing_key, status, retries, next_retry_at,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,$8,$9)
	`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType, event.Payload,
		event.CorrelationID, event.RoutingKey, event.NextRetryAt, now,
	)
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("enqueue outbox event: %w", err)
	}

	// NOTIFY будит relay без ожидания следующего poll-тика; внутри транзакции
	// уведомление уйдёт только после commit, что здесь и требуется.
	if _, err := ex.ExecContext(ctx, `SELECT pg_notify('outbox_events_channel', $1)`, event.ID); err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("notify outbox relay: %w", err)
	}

	return event, nil
}

func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
		       correlation_id, routing_key, retries, next_retry_at, created_at
		FROM outbox_events
		WHERE status = 'pending' AND next_retry_at <= now()
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxEvent, 0, limit)
	for rows.Next() {
		var event domain.OutboxEvent
		event.Status = domain.OutboxStatusPending
		if err := rows.Scan(
			&event.ID,
			&event.AggregateType,
			&event.AggregateID,
			&event.EventType,
			&event.Payload,
			&event.CorrelationID,
			&event.RoutingKey,
			&event.Retries,
			&event.NextRetryAt,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return result, nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats       domain.OutboxStats
		oldest      sql.NullTime
		failedCount int
	)

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		       MIN(created_at) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM outbox_events
	`).Scan(&stats.PendingCount, &oldest, &failedCount); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	stats.FailedCount = failedCount

	return stats, nil
}

func (r *outboxRepository) MarkPublished(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'published', published_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return checkAffected(res, "mark outbox event published")
}

func (r *outboxRepository) MarkRetry(id string, lastErr string, maxRetries int, backoffBase time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET retries = retries + 1,
		    last_error = $2,
		    status = CASE WHEN retries + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    next_retry_at = now() + make_interval(secs => $4::float8 * power(2, retries))
		WHERE id = $1
	`, id, lastErr, maxRetries, backoffBase.Seconds())
	if err != nil {
		return fmt.Errorf("mark outbox event retry: %w", err)
	}
	return checkAffected(res, "mark outbox event retry")
}

func (r *outboxRepository) MarkFailed(id string, lastErr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'failed', last_error = $2
		WHERE id = $1
	`, id, lastErr)
	if err != nil {
		return fmt.Errorf("mark outbox event failed: %w", err)
	}
	return checkAffected(res, "mark outbox event failed")
}

func (r *outboxRepository) ResetForManualRetry(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'pending', retries = 0, next_retry_at = now(), last_error = ''
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return fmt.Errorf("reset outbox event for manual retry: %w", err)
	}
	return checkAffected(res, "reset outbox event for manual retry")
}

func checkAffected(res sql.Result, action string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", action, err)
	}
	if affected == 0 {
		return domain.ErrOutboxEventNotFound
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
