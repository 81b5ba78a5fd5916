package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// HeaderCarrier adapts AMQP message headers to otel's propagation.TextMapCarrier
// so trace context travels with every event across service boundaries.
type HeaderCarrier amqp.Table

func (c HeaderCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
