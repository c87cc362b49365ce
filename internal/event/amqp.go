package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"quiz-delivery-service/internal/logging"
)

const publishTimeout = 5 * time.Second

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher forwards bus events to a RabbitMQ topic exchange, routed by
// event name.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

// NewAMQPPublisher connects to url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := newAMQPPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{channel: ch, exchange: exchange}
}

// Forward subscribes the publisher to the named events on bus. Publishing
// runs on the background lane so a slow broker never holds up delivery.
func (p *AMQPPublisher) Forward(bus *Bus, names ...string) {
	for _, name := range names {
		bus.Subscribe(name, p.Handle, OnLane(Background), WithTimeout(publishTimeout))
	}
}

// Handle publishes e as a persistent JSON message.
func (p *AMQPPublisher) Handle(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         e.Name(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, e.Name(), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Name(), err)
	}

	logging.WithContext(ctx).WithField("event", e.Name()).Debug("event: published to amqp")
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			logging.Logger().WithError(err).Warn("event: close amqp channel")
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}
