package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/mkarasev/oms-saga/internal/domain"
)

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	eventWithoutID := domain.OutboxEvent{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "OrderCreated",
		RoutingKey:    "order.created",
		Payload:       []byte(`{"id":"order-1"}`),
	}
	stored1, err := repo.Enqueue(eventWithoutID)
	if err != nil {
		t.Fatalf("enqueue event without id: %v", err)
	}
	if stored1.ID == "" {
		t.Fatal("expected generated id for outbox event")
	}

	eventWithID := domain.OutboxEvent{
		ID:            "outbox-fixed-id",
		AggregateType: "order",
		AggregateID:   "order-2",
		EventType:     "OrderUpdated",
		RoutingKey:    "order.updated",
		Payload:       []byte(`{"id":"order-2"}`),
	}
	stored2, err := repo.Enqueue(eventWithID)
	if err != nil {
		t.Fatalf("enqueue event with id: %v", err)
	}
	if stored2.ID != eventWithID.ID {
		t.Fatalf("expected fixed id %q, got %q", eventWithID.ID, stored2.ID)
	}

	pending, err := repo.PullPending(0) // default limit path
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats before marks: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Fatalf("expected pending=2 before marks, got %d", stats.PendingCount)
	}
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected oldest pending timestamp")
	}

	if err := repo.MarkPublished(stored1.ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := repo.MarkFailed(stored2.ID, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	after, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending after marks: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("expected no pending after marks, got %d", len(after))
	}

	stats, err = repo.Stats()
	if err != nil {
		t.Fatalf("stats after marks: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected pending=0 after marks, got %d", stats.PendingCount)
	}
	if stats.FailedCount != 1 {
		t.Fatalf("expected failed=1 after marks, got %d", stats.FailedCount)
	}
}

func TestOutboxRepository_PostgresMissingRows(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	if err := repo.MarkPublished("missing-outbox"); !errors.Is(err, domain.ErrOutboxEventNotFound) {
		t.Fatalf("expected ErrOutboxEventNotFound on mark published missing id, got %v", err)
	}
	if err := repo.MarkFailed("missing-outbox", "boom"); !errors.Is(err, domain.ErrOutboxEventNotFound) {
		t.Fatalf("expected ErrOutboxEventNotFound on mark failed missing id, got %v", err)
	}
}

func TestOutboxRepository_PostgresStatsOldestPendingOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	first, err := repo.Enqueue(domain.OutboxEvent{
		AggregateType: "order",
		AggregateID:   "order-old",
		EventType:     "OrderCreated",
		RoutingKey:    "order.created",
		Payload:       []byte(`{"id":"order-old"}`),
	})
	if err != nil {
		t.Fatalf("enqueue first: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := repo.Enqueue(domain.OutboxEvent{
		AggregateType: "order",
		AggregateID:   "order-new",
		EventType:     "OrderCreated",
		RoutingKey:    "order.created",
		Payload:       []byte(`{"id":"order-new"}`),
	}); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Fatalf("expected pending=2, got %d", stats.PendingCount)
	}
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected non-zero oldest pending time")
	}

	if err := repo.MarkPublished(first.ID); err != nil {
		t.Fatalf("mark published first: %v", err)
	}
}

func TestOutboxRepository_PostgresRetryAndManualReset(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	event, err := repo.Enqueue(domain.OutboxEvent{
		AggregateType: "order",
		AggregateID:   "order-retry",
		EventType:     "OrderCreated",
		RoutingKey:    "order.created",
		Payload:       []byte(`{"id":"order-retry"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := repo.MarkRetry(event.ID, "transient", 2, time.Millisecond); err != nil {
		t.Fatalf("mark retry: %v", err)
	}
	if err := repo.MarkRetry(event.ID, "transient again", 2, time.Millisecond); err != nil {
		t.Fatalf("mark retry exhaust: %v", err)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FailedCount != 1 {
		t.Fatalf("expected event to be failed after exhausting retries, got %+v", stats)
	}

	if err := repo.ResetForManualRetry(event.ID); err != nil {
		t.Fatalf("reset for manual retry: %v", err)
	}

	stats, err = repo.Stats()
	if err != nil {
		t.Fatalf("stats after reset: %v", err)
	}
	if stats.PendingCount != 1 || stats.FailedCount != 0 {
		t.Fatalf("expected event back to pending after manual reset, got %+v", stats)
	}
}
