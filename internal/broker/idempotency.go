package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkarasev/oms-saga/internal/domain"
)

// ProcessedStore keeps the processed:{eventId} markers that make handler
// invocation effectively-once under at-least-once delivery. Seen runs before
// the handler; Mark runs only after the handler succeeds, so a crash between
// delivery and completion leaves the marker unset and the redelivery is
// processed again.
type ProcessedStore interface {
	// Seen reports whether eventID was already fully processed.
	Seen(ctx context.Context, eventID string) (bool, error)
	// Mark records eventID as processed with the standard TTL.
	Mark(ctx context.Context, eventID string) error
}

type redisProcessedStore struct {
	client *redis.Client
}

// NewRedisProcessedStore builds a ProcessedStore on Redis with the TTL from
// domain.ProcessedEventTTL.
func NewRedisProcessedStore(client *redis.Client) ProcessedStore {
	return &redisProcessedStore{client: client}
}

func (s *redisProcessedStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, domain.ProcessedEventKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisProcessedStore) Mark(ctx context.Context, eventID string) error {
	return s.client.Set(ctx, domain.ProcessedEventKey(eventID), time.Now().UTC().Format(time.RFC3339Nano), domain.ProcessedEventTTL).Err()
}
