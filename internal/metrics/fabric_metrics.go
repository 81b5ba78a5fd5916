package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FabricMetrics содержит метрики для transactional outbox, брокера сообщений,
// circuit breaker и flash-sale движка. Выделены из SagaMetrics, поскольку эти
// подсистемы существуют независимо от оркестрации саги конкретного заказа.
type FabricMetrics struct {
	outboxPublishTotal   *prometheus.CounterVec
	outboxPendingGauge   prometheus.Gauge
	outboxFailedGauge    prometheus.Gauge
	outboxOldestPending  prometheus.Gauge
	outboxRelayLagSecond prometheus.Histogram

	brokerConsumedTotal *prometheus.CounterVec
	brokerPublishTotal  *prometheus.CounterVec
	brokerRetryTotal    *prometheus.CounterVec
	brokerDLQTotal      *prometheus.CounterVec

	breakerStateGauge   *prometheus.GaugeVec
	breakerTripTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	seckillReserveTotal  *prometheus.CounterVec
	seckillGhostLogTotal prometheus.Counter
	seckillInFlightReqs  prometheus.Gauge
}

// NewFabricMetrics создаёт метрики инфраструктурных подсистем на DefaultRegisterer.
func NewFabricMetrics() *FabricMetrics {
	return newFabricMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newFabricMetricsWithRegisterer(registerer prometheus.Registerer) *FabricMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FabricMetrics{
		outboxPublishTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_publish_attempts_total",
			Help: "Outbox publish attempts by result (success/retry/dlq).",
		}, []string{"result"}),
		outboxPendingGauge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_pending_records",
			Help: "Current number of PENDING outbox records.",
		}),
		outboxFailedGauge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_failed_records",
			Help: "Current number of FAILED (exhausted-retry) outbox records.",
		}),
		outboxOldestPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest PENDING outbox record.",
		}),
		outboxRelayLagSecond: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "oms_outbox_relay_lag_seconds",
			Help:    "Delay between outbox record creation and successful publish.",
			Buckets: prometheus.DefBuckets,
		}),
		brokerConsumedTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_broker_consumed_total",
			Help: "Messages consumed by result (success/duplicate/invalid_schema/handler_error/check_error).",
		}, []string{"queue", "result"}),
		brokerPublishTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_broker_published_total",
			Help: "Messages published by exchange and result.",
		}, []string{"exchange", "result"}),
		brokerRetryTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_broker_retry_total",
			Help: "Messages requeued for retry by queue.",
		}, []string{"queue"}),
		brokerDLQTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_broker_dlq_total",
			Help: "Messages routed to the dead-letter queue.",
		}, []string{"queue"}),
		breakerStateGauge: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "oms_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"target"}),
		breakerTripTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_circuit_breaker_trips_total",
			Help: "Number of times a circuit breaker tripped to open.",
		}, []string{"target"}),
		httpRequestDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_http_client_request_duration_seconds",
			Help:    "Duration of outbound HTTP requests made via internal/httpclient.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target", "outcome"}),
		seckillReserveTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_seckill_reserve_total",
			Help: "Flash-sale reservation attempts by outcome.",
		}, []string{"campaign_id", "outcome"}),
		seckillGhostLogTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_seckill_ghost_orders_total",
			Help: "Number of ghost orders written to the emergency log.",
		}),
		seckillInFlightReqs: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_seckill_inflight_requests",
			Help: "Flash-sale requests currently executing the Lua reservation script.",
		}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic("register counter vec " + opts.Name + ": " + err.Error())
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	collector := prometheus.NewGaugeVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		panic("register gauge vec " + opts.Name + ": " + err.Error())
	}
	return collector
}

func (m *FabricMetrics) RecordOutboxPublish(result string) {
	m.outboxPublishTotal.WithLabelValues(result).Inc()
}
func (m *FabricMetrics) SetOutboxBacklog(pending, failed int, oldestAgeSeconds float64) {
	m.outboxPendingGauge.Set(float64(pending))
	m.outboxFailedGauge.Set(float64(failed))
	m.outboxOldestPending.Set(oldestAgeSeconds)
}
func (m *FabricMetrics) ObserveOutboxRelayLag(seconds float64) {
	m.outboxRelayLagSecond.Observe(seconds)
}

func (m *FabricMetrics) RecordBrokerConsumed(queue, result string) {
	m.brokerConsumedTotal.WithLabelValues(queue, result).Inc()
}
func (m *FabricMetrics) RecordBrokerPublished(exchange, result string) {
	m.brokerPublishTotal.WithLabelValues(exchange, result).Inc()
}
func (m *FabricMetrics) RecordBrokerRetry(queue string) {
	m.brokerRetryTotal.WithLabelValues(queue).Inc()
}
func (m *FabricMetrics) RecordBrokerDLQ(queue string) { m.brokerDLQTotal.WithLabelValues(queue).Inc() }

func (m *FabricMetrics) SetBreakerState(target string, state int) {
	m.breakerStateGauge.WithLabelValues(target).Set(float64(state))
}
func (m *FabricMetrics) RecordBreakerTrip(target string) {
	m.breakerTripTotal.WithLabelValues(target).Inc()
}
func (m *FabricMetrics) ObserveHTTPRequest(target, outcome string, seconds float64) {
	m.httpRequestDuration.WithLabelValues(target, outcome).Observe(seconds)
}

func (m *FabricMetrics) RecordSeckillReserve(campaignID, outcome string) {
	m.seckillReserveTotal.WithLabelValues(campaignID, outcome).Inc()
}
func (m *FabricMetrics) RecordGhostOrder()        { m.seckillGhostLogTotal.Inc() }
func (m *FabricMetrics) SetSeckillInFlight(n int) { m.seckillInFlightReqs.Set(float64(n)) }
