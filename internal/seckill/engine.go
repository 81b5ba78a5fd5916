// Package seckill implements the flash-sale reservation engine: an atomic
// Lua-scripted hot path over Redis (rate limit -> duplicate check -> campaign
// window -> stock decrement), a matching idempotent release script for saga
// compensation, and a ghost-order fallback that journals wins the broker
// failed to accept.
package seckill

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/metrics"
)

// Ключи кампании: seckill:{productId}:{stock|total|price|start|end|users}.
func keyStock(productID string) string { return "seckill:" + productID + ":stock" }
func keyTotal(productID string) string { return "seckill:" + productID + ":total" }
func keyPrice(productID string) string { return "seckill:" + productID + ":price" }
func keyStart(productID string) string { return "seckill:" + productID + ":start" }
func keyEnd(productID string) string   { return "seckill:" + productID + ":end" }
func keyUsers(productID string) string { return "seckill:" + productID + ":users" }

func keyRate(userID string, window int64) string {
	return "seckill:rl:" + userID + ":" + strconv.FormatInt(window, 10)
}

// reserveScript выполняет весь горячий путь одним атомарным скриптом.
// KEYS: rate, users, stock, start, end
// ARGV: userId, nowUnix, rateLimit, rateWindowSeconds
// Возвращает {code, stockAfter}: 0 ok, 1 rate limited, 2 duplicate,
// 3 not active, 4 out of stock, 5 campaign missing.
var reserveScript = redis.NewScript(`
local rate = tonumber(ARGV[3])
if rate > 0 then
  local hits = redis.call('INCR', KEYS[1])
  if hits == 1 then
    redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
  end
  if hits > rate then
    return {1, -1}
  end
end

if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return {2, -1}
end

local startAt = redis.call('GET', KEYS[4])
local endAt = redis.call('GET', KEYS[5])
if not startAt or not endAt then
  return {5, -1}
end
local now = tonumber(ARGV[2])
if now < tonumber(startAt) or now > tonumber(endAt) then
  return {3, -1}
end

local stock = tonumber(redis.call('GET', KEYS[3]) or '-1')
if stock < 0 then
  return {5, -1}
end
if stock <= 0 then
  return {4, 0}
end

redis.call('DECR', KEYS[3])
redis.call('SADD', KEYS[2], ARGV[1])
return {0, stock - 1}
`)

// releaseScript снимает победителя и возвращает сток. Идемпотентен: сток
// инкрементируется только если пользователь действительно был в множестве,
// поэтому повторная компенсация не раздувает остаток.
// KEYS: users, stock; ARGV: userId, qty
var releaseScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 1 then
  redis.call('INCRBY', KEYS[2], tonumber(ARGV[2]))
end
return removed
`)

// Won describes a successful flash-sale reservation, published as
// seckill.order.won and journaled to the ghost log if the publish fails.
type Won struct {
	ReservationID string `json:"reservation_id"`
	UserID        string `json:"user_id"`
	ProductID     string `json:"product_id"`
	PriceMinor    int64  `json:"price_minor"`
	Qty           int32  `json:"qty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

// EventTypeOrderWon — событие победы, консьюмится order-service.
const EventTypeOrderWon = "seckill.order.won"

// Option configures an Engine.
type Option func(*Engine)

func WithRateLimit(perWindow int, window time.Duration) Option {
	return func(e *Engine) {
		e.rateLimit = perWindow
		e.rateWindow = window
	}
}

// WithRateLimitDisabled выключает rate limit (нагрузочное тестирование).
func WithRateLimitDisabled() Option {
	return func(e *Engine) { e.rateLimit = 0 }
}

func WithMetrics(m *metrics.FabricMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine serves the flash-sale hot path.
type Engine struct {
	client    *redis.Client
	publisher domain.OutboxPublisher
	ghost     *GhostLog

	metrics    *metrics.FabricMetrics
	logger     *log.Entry
	rateLimit  int
	rateWindow time.Duration
}

// NewEngine builds the engine. publisher carries seckill.order.won into the
// broker; ghost receives the wins the publisher rejected.
func NewEngine(client *redis.Client, publisher domain.OutboxPublisher, ghost *GhostLog, opts ...Option) *Engine {
	e := &Engine{
		client:     client,
		publisher:  publisher,
		ghost:      ghost,
		rateLimit:  50,
		rateWindow: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewFabricMetrics()
	}
	if e.logger == nil {
		e.logger = log.WithField("component", "seckill")
	}
	return e
}

// InitCampaign записывает состояние кампании и очищает множество победителей.
func (e *Engine) InitCampaign(ctx context.Context, campaign domain.FlashSaleCampaign) error {
	if errs := campaign.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if campaign.TotalStock == 0 {
		campaign.TotalStock = campaign.Stock
	}

	pipe := e.client.TxPipeline()
	pipe.Set(ctx, keyStock(campaign.ProductID), campaign.Stock, 0)
	pipe.Set(ctx, keyTotal(campaign.ProductID), campaign.TotalStock, 0)
	pipe.Set(ctx, keyPrice(campaign.ProductID), campaign.PriceMinor, 0)
	pipe.Set(ctx, keyStart(campaign.ProductID), campaign.StartAt.Unix(), 0)
	pipe.Set(ctx, keyEnd(campaign.ProductID), campaign.EndAt.Unix(), 0)
	pipe.Del(ctx, keyUsers(campaign.ProductID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("init campaign %s: %w", campaign.ProductID, err)
	}

	e.logger.WithFields(log.Fields{
		"product_id": campaign.ProductID,
		"stock":      campaign.Stock,
	}).Info("flash-sale campaign initialized")
	return nil
}

// Status описывает публичное состояние кампании.
type Status struct {
	ProductID      string
	StockRemaining int64
	TotalStock     int64
	IsActive       bool
}

// CampaignStatus возвращает остаток и активность кампании одним MGET.
func (e *Engine) CampaignStatus(ctx context.Context, productID string, now time.Time) (Status, error) {
	vals, err := e.client.MGet(ctx,
		keyStock(productID), keyTotal(productID), keyStart(productID), keyEnd(productID),
	).Result()
	if err != nil {
		return Status{}, fmt.Errorf("campaign status %s: %w", productID, err)
	}
	if vals[0] == nil {
		return Status{}, domain.ErrSeckillCampaignNotFound
	}

	stock := parseRedisInt(vals[0])
	total := parseRedisInt(vals[1])
	start := parseRedisInt(vals[2])
	end := parseRedisInt(vals[3])

	return Status{
		ProductID:      productID,
		StockRemaining: stock,
		TotalStock:     total,
		IsActive:       now.Unix() >= start && now.Unix() <= end,
	}, nil
}

// Reserve прогоняет атомарный скрипт и при выигрыше публикует
// seckill.order.won. Любая ошибка публикации не отменяет выигрыш: событие
// уходит в ghost-лог и позже доигрывается оператором.
func (e *Engine) Reserve(ctx context.Context, productID, userID string, now time.Time) (Won, error) {
	keys := []string{
		keyRate(userID, now.Unix()/int64(e.rateWindowSeconds())),
		keyUsers(productID),
		keyStock(productID),
		keyStart(productID),
		keyEnd(productID),
	}
	args := []any{userID, now.Unix(), e.rateLimit, e.rateWindowSeconds()}

	raw, err := reserveScript.Run(ctx, e.client, keys, args...).Result()
	if err != nil {
		return Won{}, fmt.Errorf("reserve script %s: %w", productID, err)
	}

	result, ok := raw.([]any)
	if !ok || len(result) < 2 {
		return Won{}, fmt.Errorf("reserve script %s: unexpected reply %v", productID, raw)
	}
	code, _ := result[0].(int64)

	switch code {
	case 0:
		// continue below
	case 1:
		e.metrics.RecordSeckillReserve(productID, "rate_limited")
		return Won{}, domain.ErrSeckillRateLimited
	case 2:
		e.metrics.RecordSeckillReserve(productID, "duplicate")
		return Won{}, domain.ErrSeckillAlreadyPurchased
	case 3:
		e.metrics.RecordSeckillReserve(productID, "not_active")
		return Won{}, domain.ErrSeckillNotActive
	case 4:
		e.metrics.RecordSeckillReserve(productID, "out_of_stock")
		return Won{}, domain.ErrSeckillOutOfStock
	default:
		e.metrics.RecordSeckillReserve(productID, "not_found")
		return Won{}, domain.ErrSeckillCampaignNotFound
	}

	price, err := e.client.Get(ctx, keyPrice(productID)).Int64()
	if err != nil && err != redis.Nil {
		e.logger.WithError(err).WithField("product_id", productID).Warn("campaign price read failed, publishing win with zero price")
	}

	won := Won{
		ReservationID: uuid.NewString(),
		UserID:        userID,
		ProductID:     productID,
		PriceMinor:    price,
		Qty:           1,
		CorrelationID: uuid.NewString(),
		OccurredAt:    now.UTC().Format(time.RFC3339Nano),
	}
	e.metrics.RecordSeckillReserve(productID, "won")

	if err := e.publishWon(won); err != nil {
		e.logger.WithError(err).WithField("reservation_id", won.ReservationID).
			Error("seckill win publish failed, journaling ghost order")
		e.metrics.RecordGhostOrder()
		if ghostErr := e.ghost.Append(won); ghostErr != nil {
			// Худший случай: ни брокер, ни журнал. Выигрыш откатывается,
			// пользователь получает ошибку и может попробовать ещё раз.
			_ = e.Release(ctx, productID, userID, 1)
			return Won{}, fmt.Errorf("ghost log append: %w", ghostErr)
		}
	}

	return won, nil
}

// Release снимает победителя и возвращает сток кампании. Идемпотентен.
func (e *Engine) Release(ctx context.Context, productID, userID string, qty int64) error {
	if qty <= 0 {
		qty = 1
	}
	keys := []string{keyUsers(productID), keyStock(productID)}
	if err := releaseScript.Run(ctx, e.client, keys, userID, qty).Err(); err != nil {
		return fmt.Errorf("release script %s: %w", productID, err)
	}
	e.metrics.RecordSeckillReserve(productID, "released")
	return nil
}

// publishWon отправляет выигрыш в брокер с горячего пути; инструмент
// доигрывания ghost-лога вызывает PublishWon напрямую.
func (e *Engine) publishWon(won Won) error {
	return PublishWon(e.publisher, won)
}

// PublishWon сериализует выигрыш в событие seckill.order.won.
func PublishWon(publisher domain.OutboxPublisher, won Won) error {
	payload, err := json.Marshal(won)
	if err != nil {
		return fmt.Errorf("marshal seckill win: %w", err)
	}
	return publisher.Publish(domain.OutboxEvent{
		ID:            won.ReservationID,
		AggregateType: "seckill",
		AggregateID:   won.ProductID,
		EventType:     EventTypeOrderWon,
		Payload:       payload,
		CorrelationID: won.CorrelationID,
		RoutingKey:    EventTypeOrderWon,
		CreatedAt:     time.Now().UTC(),
	})
}

func (e *Engine) rateWindowSeconds() int64 {
	secs := int64(e.rateWindow / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func parseRedisInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
