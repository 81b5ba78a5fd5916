// dlq-reprocess перекладывает сообщения из dead-letter очереди обратно в
// основную очередь после того, как причина отказа устранена. По умолчанию —
// dry-run: сообщения читаются, печатаются и возвращаются в DLQ через nack.
// С -execute каждое сообщение переиздаётся в основную очередь (с обнулённым
// счётчиком ретраев) и подтверждается.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	rabbitURL   string
	queue       string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

func parseConfig() config {
	var cfg config
	flag.StringVar(&cfg.rabbitURL, "rabbit-url", "", "RabbitMQ URL (fallback: RABBITMQ_URL)")
	flag.StringVar(&cfg.queue, "queue", "", "source queue name without the .dlq suffix (e.g. order.created)")
	flag.IntVar(&cfg.limit, "limit", defaultLimit, "max messages to reprocess in one run")
	flag.BoolVar(&cfg.execute, "execute", false, "republish to the main queue; without this flag only inspect")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop after this long without a delivery")
	flag.Parse()

	if strings.TrimSpace(cfg.rabbitURL) == "" {
		cfg.rabbitURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	}
	return cfg
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "dlq-reprocess")

	cfg := parseConfig()
	if cfg.rabbitURL == "" {
		fail("RABBITMQ_URL (or -rabbit-url) is required")
	}
	if strings.TrimSpace(cfg.queue) == "" {
		fail("-queue is required")
	}
	if cfg.limit <= 0 {
		cfg.limit = defaultLimit
	}

	conn, err := amqp.Dial(cfg.rabbitURL)
	if err != nil {
		fail("dial amqp: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		fail("open channel: %v", err)
	}
	defer ch.Close()

	moved, inspected, err := drain(ch, cfg, logger)
	if err != nil {
		fail("reprocess failed after %d message(s): %v", moved, err)
	}

	if cfg.execute {
		fmt.Printf("republished %d message(s) from %s.dlq to %s\n", moved, cfg.queue, cfg.queue)
	} else {
		fmt.Printf("dry-run: %d message(s) inspected in %s.dlq; pass -execute to republish\n", inspected, cfg.queue)
	}
}

// drain снимает до limit сообщений из DLQ. В dry-run режиме каждое сообщение
// возвращается обратно nack'ом с requeue, в execute — переиздаётся в
// основную очередь через default exchange и подтверждается.
func drain(ch *amqp.Channel, cfg config, logger *log.Entry) (moved, inspected int, err error) {
	dlqName := cfg.queue + ".dlq"

	for inspected < cfg.limit {
		d, ok, err := ch.Get(dlqName, false)
		if err != nil {
			return moved, inspected, fmt.Errorf("get from %s: %w", dlqName, err)
		}
		if !ok {
			// Очередь пуста; подождём idle-timeout на случай in-flight requeue.
			time.Sleep(cfg.idleTimeout)
			if d, ok, err = ch.Get(dlqName, false); err != nil || !ok {
				return moved, inspected, err
			}
		}
		inspected++

		logger.WithFields(log.Fields{
			"message_id":     d.MessageId,
			"correlation_id": d.CorrelationId,
			"bytes":          len(d.Body),
		}).Info("dlq message")

		if !cfg.execute {
			if err := d.Nack(false, true); err != nil {
				return moved, inspected, fmt.Errorf("requeue to dlq: %w", err)
			}
			continue
		}

		headers := amqp.Table{}
		for k, v := range d.Headers {
			headers[k] = v
		}
		// Обнуляем счётчик ретраев: сообщение идёт на полный повторный цикл.
		delete(headers, "x-retry-count")

		if err := ch.Publish("", cfg.queue, false, false, amqp.Publishing{
			ContentType:   d.ContentType,
			DeliveryMode:  amqp.Persistent,
			MessageId:     d.MessageId,
			CorrelationId: d.CorrelationId,
			Timestamp:     d.Timestamp,
			Headers:       headers,
			Body:          d.Body,
		}); err != nil {
			_ = d.Nack(false, true)
			return moved, inspected, fmt.Errorf("republish to %s: %w", cfg.queue, err)
		}
		if err := d.Ack(false); err != nil {
			return moved, inspected, fmt.Errorf("ack dlq message: %w", err)
		}
		moved++
	}

	return moved, inspected, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
