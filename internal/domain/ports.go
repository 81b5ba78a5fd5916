package domain

import "time"

// PaymentService описывает взаимодействие с платёжным провайдером.
type PaymentService interface {
	// Pay инициирует списание средств по заказу.
	Pay(orderID string, amountMinor int64, currency string) (PaymentStatus, error)
	// Refund инициирует возврат средств (для компенсаций/отмен).
	Refund(orderID string, amountMinor int64, currency string) (PaymentStatus, error)
}

// OutboxStatus описывает жизненный цикл события в transactional outbox.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxEvent хранит данные для публикуемого события вместе с книгой учёта retry.
type OutboxEvent struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CorrelationID string
	RoutingKey    string
	Status        OutboxStatus
	Retries       int
	NextRetryAt   time.Time
	PublishedAt   time.Time
	LastError     string
	CreatedAt     time.Time
}

// OutboxPublisher публикует события из transactional outbox в брокер сообщений.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным по идентификатору события.
	Publish(event OutboxEvent) error
}

// OutboxRepository реализует запись и чтение transactional outbox (§4.1).
type OutboxRepository interface {
	// Enqueue сохраняет новое событие в статусе PENDING.
	Enqueue(event OutboxEvent) (OutboxEvent, error)
	// PullPending возвращает до limit событий PENDING, чей next-retry уже наступил,
	// в порядке вставки.
	PullPending(limit int) ([]OutboxEvent, error)
	// Stats возвращает текущий backlog для метрик и health-проверок.
	Stats() (OutboxStats, error)
	// MarkPublished переводит событие в PUBLISHED с отметкой времени.
	MarkPublished(id string) error
	// MarkRetry увеличивает retries, проставляет next-retry и last-error; если
	// retries достигает предела — переводит событие в FAILED.
	MarkRetry(id string, lastErr string, maxRetries int, backoffBase time.Duration) error
	// MarkFailed переводит событие напрямую в FAILED (malformed payload и т.п.).
	MarkFailed(id string, lastErr string) error
	// ResetForManualRetry сбрасывает FAILED-событие в PENDING с retries=0 —
	// единственный легальный способ вернуть событие из терминального статуса.
	ResetForManualRetry(id string) error
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки HTTP-запросов по idempotency-key
// (request-level идемпотентность на входной границе; не путать с processed:{eventId}
// из §4.2, определённым в internal/domain/reservation.go).
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OrderSagaContext — производный кортеж (заказ, correlation id, событие),
// определяющий область идемпотентности и компенсации конкретного шага саги.
// Нигде не хранится: собирается хендлером на каждое событие для логов и
// трассировки.
type OrderSagaContext struct {
	OrderID       string
	CorrelationID string
	EventType     string
}
