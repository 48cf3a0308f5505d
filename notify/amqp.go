package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warp/token-engine/allocation"
)

// ConfirmedRoutingKey is the routing key of booking confirmation events.
const ConfirmedRoutingKey = "booking.confirmed"

// BookingConfirmed is the JSON event body.
type BookingConfirmed struct {
	Recipient   string    `json:"recipient"`
	SubjectName string    `json:"subject_name"`
	Token       int       `json:"token"`
	Provider    string    `json:"provider,omitempty"`
	Date        string    `json:"date"`
	TimeSlot    string    `json:"time_slot,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes confirmations so other services (SMS workers,
// dashboards) can consume them.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	now      func() time.Time
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, now: time.Now}, nil
}

var _ allocation.Notifier = (*AMQPPublisher)(nil)

func (p *AMQPPublisher) Notify(ctx context.Context, recipient string, c allocation.Confirmation) error {
	return p.PublishJSON(ctx, ConfirmedRoutingKey, BookingConfirmed{
		Recipient:   recipient,
		SubjectName: c.SubjectName,
		Token:       c.Token,
		Provider:    c.Provider,
		Date:        c.Date,
		TimeSlot:    c.TimeSlot,
		PublishedAt: p.now().UTC(),
	})
}

func (p *AMQPPublisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         b,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
