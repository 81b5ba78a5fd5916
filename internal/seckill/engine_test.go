package seckill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarasev/oms-saga/internal/domain"
)

type capturePublisher struct {
	mu     sync.Mutex
	fail   bool
	events []domain.OutboxEvent
}

func (p *capturePublisher) Publish(event domain.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, event)
	return nil
}

func newTestEngine(t *testing.T, publisher domain.OutboxPublisher, fail bool) (*Engine, redismock.ClientMock) {
	t.Helper()

	client, mock := redismock.NewClientMock()
	ghost, err := NewGhostLog(filepath.Join(t.TempDir(), "ghost.jsonl"))
	require.NoError(t, err)

	if publisher == nil {
		publisher = &capturePublisher{fail: fail}
	}
	return NewEngine(client, publisher, ghost, WithRateLimit(10, time.Second)), mock
}

func reserveKeys(e *Engine, productID, userID string, now time.Time) []string {
	return []string{
		keyRate(userID, now.Unix()/e.rateWindowSeconds()),
		keyUsers(productID),
		keyStock(productID),
		keyStart(productID),
		keyEnd(productID),
	}
}

func expectReserve(mock redismock.ClientMock, e *Engine, productID, userID string, now time.Time, code, stockAfter int64) {
	keys := reserveKeys(e, productID, userID, now)
	args := []interface{}{userID, now.Unix(), e.rateLimit, e.rateWindowSeconds()}
	mock.ExpectEvalSha(reserveScript.Hash(), keys, args...).SetVal([]interface{}{code, stockAfter})
}

func TestReserveWin(t *testing.T) {
	publisher := &capturePublisher{}
	e, mock := newTestEngine(t, publisher, false)
	now := time.Now()

	expectReserve(mock, e, "sku-hot", "buyer-1", now, 0, 99)
	mock.ExpectGet(keyPrice("sku-hot")).SetVal("500")

	won, err := e.Reserve(context.Background(), "sku-hot", "buyer-1", now)
	require.NoError(t, err)
	assert.NotEmpty(t, won.ReservationID)
	assert.Equal(t, int64(500), won.PriceMinor)
	assert.Equal(t, int32(1), won.Qty)

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, EventTypeOrderWon, event.EventType)
	assert.Equal(t, won.ReservationID, event.ID, "event id doubles as the reservation id for dedup")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveRejections(t *testing.T) {
	tests := []struct {
		name string
		code int64
		want error
	}{
		{name: "rate limited", code: 1, want: domain.ErrSeckillRateLimited},
		{name: "duplicate buyer", code: 2, want: domain.ErrSeckillAlreadyPurchased},
		{name: "outside window", code: 3, want: domain.ErrSeckillNotActive},
		{name: "out of stock", code: 4, want: domain.ErrSeckillOutOfStock},
		{name: "campaign missing", code: 5, want: domain.ErrSeckillCampaignNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, mock := newTestEngine(t, nil, false)
			now := time.Now()

			expectReserve(mock, e, "sku-hot", "buyer-2", now, tc.code, -1)

			_, err := e.Reserve(context.Background(), "sku-hot", "buyer-2", now)
			assert.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// Выигрыш при недоступном брокере не теряется: запись уходит в ghost-лог, а
// пользователь всё равно получает номер резервирования.
func TestReservePublishFailureGoesToGhostLog(t *testing.T) {
	publisher := &capturePublisher{fail: true}
	e, mock := newTestEngine(t, publisher, true)
	now := time.Now()

	expectReserve(mock, e, "sku-hot", "buyer-3", now, 0, 42)
	mock.ExpectGet(keyPrice("sku-hot")).SetVal("500")

	won, err := e.Reserve(context.Background(), "sku-hot", "buyer-3", now)
	require.NoError(t, err)
	require.NotEmpty(t, won.ReservationID)

	f, err := openGhostForRead(e.ghost.Path())
	require.NoError(t, err)
	defer f.Close()
	records, skipped, err := ReadAll(f)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, won.ReservationID, records[0].ReservationID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func openGhostForRead(path string) (*os.File, error) {
	return os.Open(path)
}

func TestRelease(t *testing.T) {
	e, mock := newTestEngine(t, nil, false)

	mock.ExpectEvalSha(releaseScript.Hash(),
		[]string{keyUsers("sku-hot"), keyStock("sku-hot")},
		"buyer-4", int64(1),
	).SetVal(int64(1))

	require.NoError(t, e.Release(context.Background(), "sku-hot", "buyer-4", 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignStatus(t *testing.T) {
	e, mock := newTestEngine(t, nil, false)
	now := time.Now()

	mock.ExpectMGet(
		keyStock("sku-hot"), keyTotal("sku-hot"), keyStart("sku-hot"), keyEnd("sku-hot"),
	).SetVal([]interface{}{
		"37", "100",
		strconv.FormatInt(now.Add(-time.Hour).Unix(), 10),
		strconv.FormatInt(now.Add(time.Hour).Unix(), 10),
	})

	status, err := e.CampaignStatus(context.Background(), "sku-hot", now)
	require.NoError(t, err)
	assert.Equal(t, int64(37), status.StockRemaining)
	assert.Equal(t, int64(100), status.TotalStock)
	assert.True(t, status.IsActive)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignStatusMissing(t *testing.T) {
	e, mock := newTestEngine(t, nil, false)

	mock.ExpectMGet(
		keyStock("nope"), keyTotal("nope"), keyStart("nope"), keyEnd("nope"),
	).SetVal([]interface{}{nil, nil, nil, nil})

	_, err := e.CampaignStatus(context.Background(), "nope", time.Now())
	assert.ErrorIs(t, err, domain.ErrSeckillCampaignNotFound)
}
