package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkarasev/oms-saga/internal/domain"
)

// outboxRepositoryInMemory — простое in-memory хранилище для transactional outbox,
// зеркалирующее семантику internal/storage/postgres.outboxRepository (без pg_notify).
type outboxRepositoryInMemory struct {
	mu      sync.RWMutex
	records map[string]domain.OutboxEvent
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{records: make(map[string]domain.OutboxEvent)}
}

// Enqueue сохраняет событие со статусом PENDING и возвращает заполненную запись.
func (r *outboxRepositoryInMemory) Enqueue(event domain.OutboxEvent) (domain.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.Status = domain.OutboxStatusPending
	if event.NextRetryAt.IsZero() {
		event.NextRetryAt = now
	}

	r.records[event.ID] = event
	return event, nil
}

// PullPending возвращает до limit событий PENDING, чей next-retry уже наступил,
// в порядке вставки.
func (r *outboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		left := r.records[ids[i]]
		right := r.records[ids[j]]
		if !left.CreatedAt.Equal(right.CreatedAt) {
			return left.CreatedAt.Before(right.CreatedAt)
		}
		return ids[i] < ids[j]
	})

	result := make([]domain.OutboxEvent, 0, limit)
	for _, id := range ids {
		event := r.records[id]
		if event.Status != domain.OutboxStatusPending {
			continue
		}
		if event.NextRetryAt.After(now) {
			continue
		}
		result = append(result, event)
		if len(result) >= limit {
			break
		}
	}

	return result, nil
}

// Stats возвращает сводную информацию о backlog outbox.
func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.OutboxStats{}
	for _, event := range r.records {
		switch event.Status {
		case domain.OutboxStatusPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || event.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = event.CreatedAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}

	return stats, nil
}

// MarkPublished переводит событие в PUBLISHED с отметкой времени.
func (r *outboxRepositoryInMemory) MarkPublished(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxEventNotFound
	}
	event.Status = domain.OutboxStatusPublished
	event.PublishedAt = time.Now().UTC()
	r.records[id] = event
	return nil
}

// MarkRetry увеличивает retries, проставляет next-retry и last-error; переводит
// событие в FAILED, если retries достиг предела.
func (r *outboxRepositoryInMemory) MarkRetry(id string, lastErr string, maxRetries int, backoffBase time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxEventNotFound
	}
	event.Retries++
	event.LastError = lastErr
	if event.Retries >= maxRetries {
		event.Status = domain.OutboxStatusFailed
	} else {
		event.Status = domain.OutboxStatusPending
		event.NextRetryAt = time.Now().UTC().Add(backoffBase * time.Duration(1<<uint(event.Retries-1)))
	}
	r.records[id] = event
	return nil
}

// MarkFailed переводит событие напрямую в FAILED.
func (r *outboxRepositoryInMemory) MarkFailed(id string, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxEventNotFound
	}
	event.Status = domain.OutboxStatusFailed
	event.LastError = lastErr
	r.records[id] = event
	return nil
}

// ResetForManualRetry сбрасывает FAILED-событие в PENDING с retries=0.
func (r *outboxRepositoryInMemory) ResetForManualRetry(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxEventNotFound
	}
	if event.Status != domain.OutboxStatusFailed {
		return nil
	}
	event.Status = domain.OutboxStatusPending
	event.Retries = 0
	event.NextRetryAt = time.Now().UTC()
	event.LastError = ""
	r.records[id] = event
	return nil
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
