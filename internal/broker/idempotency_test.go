package broker

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarasev/oms-saga/internal/domain"
)

func TestRedisProcessedStoreSeen(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisProcessedStore(client)

	mock.ExpectExists(domain.ProcessedEventKey("evt-1")).SetVal(0)
	seen, err := store.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	mock.ExpectExists(domain.ProcessedEventKey("evt-1")).SetVal(1)
	seen, err = store.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisProcessedStoreMark(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisProcessedStore(client)

	mock.Regexp().ExpectSet(domain.ProcessedEventKey("evt-2"), `.*`, domain.ProcessedEventTTL).SetVal("OK")
	require.NoError(t, store.Mark(context.Background(), "evt-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessedEventKeyShape(t *testing.T) {
	assert.Equal(t, "processed:evt-3", domain.ProcessedEventKey("evt-3"))
}
