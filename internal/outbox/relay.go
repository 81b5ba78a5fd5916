// Package outbox implements the transactional-outbox relay: a change-feed
// driven worker that publishes PENDING rows written in the same transaction
// as the owning aggregate, retries with backoff, and parks exhausted events
// in FAILED for operator replay. A Postgres LISTEN/NOTIFY wakeup keeps
// publish latency from being bound to the poll interval; the poll loop
// doubles as the startup scan for rows written while the relay was down.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/metrics"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 5
	defaultRetryBaseDelay = time.Second
)

// Notifier is satisfied by a dedicated Postgres connection listening on the
// outbox_events_channel; it wakes up the relay loop without waiting for the
// next poll tick. Implemented by internal/storage/postgres.OutboxListener.
type Notifier interface {
	// Notifications returns a channel that receives a value each time the
	// relay should re-poll. Closed when the listener connection is lost.
	Notifications() <-chan struct{}
}

// Option configures a Relay.
type Option func(*options)

type options struct {
	logger         *log.Entry
	dlqPublisher   domain.OutboxPublisher
	notifier       Notifier
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	metrics        *metrics.FabricMetrics
}

func WithLogger(logger *log.Entry) Option { return func(o *options) { o.logger = logger } }
func WithDLQPublisher(p domain.OutboxPublisher) Option {
	return func(o *options) { o.dlqPublisher = p }
}
func WithNotifier(n Notifier) Option              { return func(o *options) { o.notifier = n } }
func WithPollInterval(d time.Duration) Option     { return func(o *options) { o.pollInterval = d } }
func WithBatchSize(n int) Option                  { return func(o *options) { o.batchSize = n } }
func WithMaxAttempts(n int) Option                { return func(o *options) { o.maxAttempts = n } }
func WithRetryBaseDelay(d time.Duration) Option   { return func(o *options) { o.retryBaseDelay = d } }
func WithMetrics(m *metrics.FabricMetrics) Option { return func(o *options) { o.metrics = m } }

// Relay publishes PENDING outbox events and handles retry/DLQ bookkeeping.
type Relay struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	opts      options
}

// NewRelay builds a Relay. publisher is the broker-backed domain.OutboxPublisher
// (internal/broker.Publisher adapter); repo is the Postgres outbox store.
func NewRelay(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Relay {
	o := options{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "outbox-relay")
	}
	if o.metrics == nil {
		o.metrics = metrics.NewFabricMetrics()
	}

	return &Relay{repo: repo, publisher: publisher, opts: o}
}

// Run starts the relay loop: an immediate startup scan (closing the gap
// where a PENDING row was written just before a crash), then poll-on-ticker
// with NOTIFY-triggered early wakeups, until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	if r.repo == nil || r.publisher == nil {
		r.opts.logger.Warn("outbox relay disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(r.opts.pollInterval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if r.opts.notifier != nil {
		wake = r.opts.notifier.Notifications()
	}

	r.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ProcessOnce(ctx)
		case <-wake:
			r.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce drains one batch of due PENDING events.
func (r *Relay) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	r.refreshBacklogMetrics()

	events, err := r.repo.PullPending(r.opts.batchSize)
	if err != nil {
		r.opts.logger.WithError(err).Warn("failed to pull pending outbox events")
		return
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		r.publishOne(event)
	}

	r.refreshBacklogMetrics()
}

func (r *Relay) publishOne(event domain.OutboxEvent) {
	lag := time.Since(event.CreatedAt).Seconds()

	if err := r.publisher.Publish(event); err != nil {
		r.opts.metrics.RecordOutboxPublish("retry")
		r.opts.logger.WithError(err).WithFields(log.Fields{
			"outbox_id":  event.ID,
			"event_type": event.EventType,
			"retries":    event.Retries,
		}).Warn("outbox publish failed")

		if markErr := r.repo.MarkRetry(event.ID, err.Error(), r.opts.maxAttempts, r.opts.retryBaseDelay); markErr != nil {
			r.opts.logger.WithError(markErr).WithField("outbox_id", event.ID).Error("failed to record outbox retry")
		}

		if event.Retries+1 >= r.opts.maxAttempts {
			r.opts.metrics.RecordOutboxPublish("dlq")
			if dlqErr := r.publishToDLQ(event, err); dlqErr != nil {
				r.opts.logger.WithError(dlqErr).WithField("outbox_id", event.ID).Error("failed to publish exhausted event to DLQ")
			}
		}
		return
	}

	r.opts.metrics.RecordOutboxPublish("success")
	r.opts.metrics.ObserveOutboxRelayLag(lag)
	if err := r.repo.MarkPublished(event.ID); err != nil {
		r.opts.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to mark outbox event as published")
	}
}

func (r *Relay) publishToDLQ(event domain.OutboxEvent, publishErr error) error {
	if r.opts.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        event.ID,
		"aggregate_type":   event.AggregateType,
		"aggregate_id":     event.AggregateID,
		"event_type":       event.EventType,
		"correlation_id":   event.CorrelationID,
		"payload":          json.RawMessage(event.Payload),
		"publish_error":    publishErr.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqEvent := event
	dlqEvent.Payload = payload
	dlqEvent.RoutingKey = event.EventType + ".dlq"
	if err := r.opts.dlqPublisher.Publish(dlqEvent); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (r *Relay) refreshBacklogMetrics() {
	stats, err := r.repo.Stats()
	if err != nil {
		r.opts.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = time.Since(stats.OldestPendingAt).Seconds()
		if age < 0 {
			age = 0
		}
	}
	r.opts.metrics.SetOutboxBacklog(stats.PendingCount, stats.FailedCount, age)
}
