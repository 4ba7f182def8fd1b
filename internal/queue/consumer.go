package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Defaults for the order event subscription.
const (
	DefaultOrderExchange = "commerce.orders"
	DefaultOrderQueue    = "orders.events"
)

// OrderEventHandler applies an order event to the reservation ledger.
type OrderEventHandler interface {
	HandleOrderEvent(ctx context.Context, ev OrderEvent) error
}

// OrderConsumer binds a durable queue to the order exchange and feeds every
// delivery to Handler.  Failed deliveries are requeued once when Retryable
// says so, otherwise rejected.
type OrderConsumer struct {
	URL       string
	Exchange  string
	Queue     string
	Handler   OrderEventHandler
	Retryable func(error) bool
	Prefetch  int
}

// Run keeps the consumer connected until ctx is cancelled, reconnecting with
// exponential backoff capped at 30s.
func (c *OrderConsumer) Run(ctx context.Context) error {
	if c.Exchange == "" {
		c.Exchange = DefaultOrderExchange
	}
	if c.Queue == "" {
		c.Queue = DefaultOrderQueue
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.Printf("order-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("order-consumer: consume loop ended: %v; reconnecting", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *OrderConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 20
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		log.Printf("order-consumer: set QoS failed: %v", err)
	}
	if err := ch.ExchangeDeclare(c.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	for _, key := range []string{EventOrderPaid, EventOrderVoided} {
		if err := ch.QueueBind(q.Name, key, c.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	for d := range msgs {
		c.handleDelivery(ctx, d)
	}
	return errors.New("deliveries channel closed")
}

func (c *OrderConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var ev OrderEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		log.Printf("order-consumer: unmarshal failed: %v", err)
		_ = d.Nack(false, false)
		return
	}
	if ev.Event == "" {
		ev.Event = d.RoutingKey
	}
	if err := c.Handler.HandleOrderEvent(ctx, ev); err != nil {
		requeue := !d.Redelivered && c.Retryable != nil && c.Retryable(err)
		log.Printf("order-consumer: %s order=%s failed: %v (requeue=%t)", ev.Event, ev.OrderID, err, requeue)
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
