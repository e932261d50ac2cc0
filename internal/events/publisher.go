package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Envelope is the wire shape for exported lifecycle events
type Envelope struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	AgentID    string    `json:"agentId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

// Event kinds exported to the broker
const (
	KindPresenceChanged = "presence.changed"
	KindMessageStored   = "message.stored"
	KindCallPlaced      = "call.placed"
	KindCallAnswered    = "call.answered"
	KindCallEnded       = "call.ended"
)

// Publisher exports lifecycle events to external consumers. Publishing is
// best effort from the caller's point of view; delivery guarantees live here.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqClient struct {
	conn     *amqp091.Connection
	exchange string
	logger   zerolog.Logger
}

// New connects to RabbitMQ and declares the topic exchange
func New(url, exchange string, logger zerolog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqClient{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With().Str("component", "events").Logger(),
	}, nil
}

func (r *rmqClient) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.OccurredAt,
			Body:         body,
		},
	)
	if err == nil {
		r.logger.Debug().Str("key", key).Str("exchange", r.exchange).Msg("event published")
	}
	return err
}

func (r *rmqClient) Close() error {
	return r.conn.Close()
}
