// Package notify forwards committed fact changes to RabbitMQ so downstream
// consumers (tax form renderers, reminders) can refresh.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/generic"
)

const publishTimeout = 5 * time.Second

// Channel is the part of *amqp091.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Message is the body of every change notification.
type Message struct {
	Kind       generic.EventKind  `json:"kind"`
	SubjectID  generic.SubjectID  `json:"subject_id,omitempty"`
	PropertyID generic.SubjectID  `json:"property_id,omitempty"`
	IntervalID generic.IntervalID `json:"interval_id,omitempty"`
	ExpenseID  generic.ExpenseID  `json:"expense_id,omitempty"`
	Years      []int              `json:"years,omitempty"`
	At         generic.TimePoint  `json:"at"`
}

// NewMessage converts an engine event into its wire form.
func NewMessage(e generic.Event) Message {
	return Message{
		Kind:       e.Kind,
		SubjectID:  e.SubjectID,
		PropertyID: e.PropertyID,
		IntervalID: e.IntervalID,
		ExpenseID:  e.ExpenseID,
		Years:      e.Years,
		At:         e.At,
	}
}

// Publisher sends a Message per event to a durable topic exchange.
type Publisher struct {
	channel    Channel
	conn       *amqp091.Connection
	exchange   string
	routingKey string
	logger     *slog.Logger
}

// NewPublisher declares the exchange on ch and returns a publisher using it.
func NewPublisher(ch Channel, exchange, routingKey string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange, routingKey: routingKey, logger: logger}, nil
}

// Dial connects to the broker from cfg and opens a channel.
func Dial(cfg config.AMQP, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := NewPublisher(ch, cfg.Exchange, cfg.RoutingKey, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// Notify implements generic.Observer.
func (p *Publisher) Notify(ctx context.Context, e generic.Event) error {
	body, err := json.Marshal(NewMessage(e))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := p.routingKey + "." + string(e.Kind)
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Type:         string(e.Kind),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.logger.DebugContext(ctx, "change published",
		"kind", e.Kind, "exchange", p.exchange, "routing_key", key)
	return nil
}

// Close closes the channel and, for dialed publishers, the connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ generic.Observer = (*Publisher)(nil)
