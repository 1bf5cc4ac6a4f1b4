package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"wallpapers/internal/util"
)

const DefaultExchange = "wallpapers.notifications"

// publisher is the part of *amqp.Channel the notifier uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notifications as JSON to a topic exchange with
// routing key notify.<class>, for push or in-app delivery elsewhere.
type AMQPNotifier struct {
	ch       publisher
	closer   func() error
	exchange string
}

// NewAMQPNotifier dials url and declares the exchange.
func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPNotifier{
		ch:       ch,
		exchange: exchange,
		closer: func() error {
			_ = ch.Close()
			return conn.Close()
		},
	}, nil
}

// Notify publishes n. Messages are persistent and expire after an hour since
// a stale failure notice is of no use.
func (a *AMQPNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err = a.ch.PublishWithContext(ctx, a.exchange, "notify."+n.Class.String(), false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: util.RequestIDFromContext(ctx),
		Timestamp:     n.At,
		Expiration:    "3600000",
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (a *AMQPNotifier) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer()
}
