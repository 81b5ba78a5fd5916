// Package httpclient provides a resilient HTTP client for synchronous
// inter-service calls (order -> inventory product reads and similar):
// hard per-attempt timeout, exponential-backoff retry on transient failures,
// and a three-state circuit breaker around the retry loop so a stalled
// downstream doesn't cascade into its callers.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/mkarasev/oms-saga/internal/metrics"
)

var (
	// ErrCircuitOpen возвращается, когда breaker отклоняет вызов не пытаясь
	// его выполнить. Вызывающая сторона трактует это как retry-later (503).
	ErrCircuitOpen = errors.New("CIRCUIT_OPEN")
	// ErrTimeout возвращается при истечении дедлайна запроса.
	ErrTimeout = errors.New("TIMEOUT")
)

// Options configures a Client.
type Options struct {
	Target         string // logical name, used in metrics labels
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Breaker thresholds: trip when the error share over the rolling window
	// reaches ErrorThreshold and at least VolumeThreshold requests were seen.
	ErrorThreshold  float64
	VolumeThreshold uint32
	RollingWindow   time.Duration
	ResetTimeout    time.Duration

	Metrics *metrics.FabricMetrics
}

// Client wraps *http.Client with retry + circuit breaker.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	opts    Options
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = time.Second
	}
	if opts.ErrorThreshold <= 0 || opts.ErrorThreshold > 1 {
		opts.ErrorThreshold = 0.5
	}
	if opts.VolumeThreshold == 0 {
		opts.VolumeThreshold = 10
	}
	if opts.RollingWindow <= 0 {
		opts.RollingWindow = 10 * time.Second
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 30 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewFabricMetrics()
	}

	target := opts.Target
	m := opts.Metrics

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        target,
		MaxRequests: 1,
		Interval:    opts.RollingWindow,
		Timeout:     opts.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < opts.VolumeThreshold {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= opts.ErrorThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.SetBreakerState(name, int(to))
			if to == gobreaker.StateOpen {
				m.RecordBreakerTrip(name)
			}
		},
	})

	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		breaker: breaker,
		opts:    opts,
	}
}

// Target возвращает логическое имя зависимости.
func (c *Client) Target() string {
	return c.opts.Target
}

// State возвращает текущее состояние breaker'а и счётчики окна — для
// эндпоинта /circuit-breaker/status.
func (c *Client) State() (string, gobreaker.Counts) {
	return c.breaker.State().String(), c.breaker.Counts()
}

// Do executes an HTTP request with retry-with-backoff, guarded by the
// circuit breaker. newReq builds a fresh *http.Request per attempt (request
// bodies can't be replayed from an already-consumed io.Reader); the active
// trace context is injected into the outgoing headers.
func (c *Client) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		start := time.Now()
		result, err := c.breaker.Execute(func() (interface{}, error) {
			req, err := newReq(ctx)
			if err != nil {
				return nil, err
			}
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 500 {
				body, _ := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				return nil, fmt.Errorf("upstream %s returned %d: %s", c.opts.Target, resp.StatusCode, bytes.TrimSpace(body))
			}
			return resp, nil
		})

		if err == nil {
			c.opts.Metrics.ObserveHTTPRequest(c.opts.Target, "success", time.Since(start).Seconds())
			return result.(*http.Response), nil
		}

		err = c.translateError(err)
		lastErr = err
		outcome := "error"
		switch {
		case errors.Is(err, ErrCircuitOpen):
			outcome = "breaker_open"
		case errors.Is(err, ErrTimeout):
			outcome = "timeout"
		}
		c.opts.Metrics.ObserveHTTPRequest(c.opts.Target, outcome, time.Since(start).Seconds())

		// За открытым breaker'ом повторять бессмысленно: он отклонит и
		// следующую попытку, не трогая зависимость.
		if errors.Is(err, ErrCircuitOpen) || attempt >= c.opts.MaxRetries {
			break
		}

		delay := c.opts.RetryBaseDelay << uint(attempt-1)
		if delay > c.opts.RetryMaxDelay {
			delay = c.opts.RetryMaxDelay
		}
		select {
		case <-ctx.Done():
			return nil, c.translateError(ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("request to %s failed: %w", c.opts.Target, lastErr)
}

// translateError сводит сырые транспортные ошибки к стабильной поверхности:
// CIRCUIT_OPEN, TIMEOUT или исходная ошибка.
func (c *Client) translateError(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	var urlErr interface{ Timeout() bool }
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrTimeout
	}
	return err
}
