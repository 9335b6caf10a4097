// Package pubsub bridges in-process bus events to an AMQP topic
// exchange. The bridge is optional; it only runs when an AMQP URL is
// configured. Broker failures trip a circuit breaker instead of
// backpressuring the bus.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sony/gobreaker"

	"github.com/webitel/relay-service/internal/bus"
	"github.com/webitel/relay-service/internal/domain/event"
)

type Config struct {
	URL      string
	Exchange string
	// Pattern selects which bus topics the bridge forwards.
	Pattern string
}

// Egress forwards matching bus events to the broker.
type Egress struct {
	logger    *slog.Logger
	bus       *bus.Bus
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker
	pattern   string
	subID     string
}

func NewEgress(logger *slog.Logger, b *bus.Bus, cfg Config) (*Egress, error) {
	amqpCfg := wamqp.NewDurablePubSubConfig(cfg.URL, nil)
	amqpCfg.Exchange = wamqp.ExchangeConfig{
		GenerateName: func(string) string { return cfg.Exchange },
		Type:         "topic",
		Durable:      true,
	}
	amqpCfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }

	pub, err := wamqp.NewPublisher(amqpCfg, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("amqp egress: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "amqp-egress",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("amqp breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "*"
	}
	return &Egress{
		logger:    logger,
		bus:       b,
		publisher: pub,
		breaker:   cb,
		pattern:   pattern,
	}, nil
}

// Start subscribes the bridge to the bus. Events dropped while the
// breaker is open are logged, never retried; the replay ring covers
// recovery.
func (e *Egress) Start() error {
	id, err := e.bus.Subscribe(e.pattern, func(_ context.Context, ev event.Event) error {
		return e.forward(ev)
	}, bus.Async())
	if err != nil {
		return err
	}
	e.subID = id
	return nil
}

func (e *Egress) forward(ev event.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp egress: marshal: %w", err)
	}

	_, err = e.breaker.Execute(func() (any, error) {
		msg := message.NewMessage(watermill.NewUUID(), body)
		msg.Metadata.Set("tenant_id", ev.TenantID)
		msg.Metadata.Set("correlation_id", ev.CorrelationID)
		return nil, e.publisher.Publish(ev.Topic, msg)
	})
	if err != nil {
		e.logger.Warn("amqp publish failed",
			slog.String("topic", ev.Topic),
			slog.Uint64("sequence", ev.Sequence),
			slog.Any("err", err),
		)
	}
	return err
}

// Close unsubscribes and closes the broker connection.
func (e *Egress) Close() error {
	if e.subID != "" {
		e.bus.Unsubscribe(e.subID)
	}
	return e.publisher.Close()
}
