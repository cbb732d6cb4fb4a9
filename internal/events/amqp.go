package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "pos.events"

// AMQPPublisher publishes envelopes to a RabbitMQ topic exchange with
// routing key org.<orgID>.<event-type>. Publishes are confirmed by the
// broker before returning.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	// mu serializes Publish so broker acks match publishes.
	mu   sync.Mutex
	acks <-chan amqp.Confirmation
}

// DialAMQP connects to the broker, declares the topic exchange, and enables
// publisher confirms.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable confirms")
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, acks: acks}, nil
}

// Publish wraps the payload in an envelope and waits for the broker ack.
func (p *AMQPPublisher) Publish(ctx context.Context, orgID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	env := Envelope{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Type:           eventType,
		OccurredAt:     time.Now().UTC(),
		Payload:        body,
	}
	envBody, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	routingKey := "org." + orgID + "." + eventType
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    env.ID,
		Timestamp:    env.OccurredAt,
		Body:         envBody,
	}); err != nil {
		return errors.Wrap(err, "publish")
	}

	select {
	case confirm := <-p.acks:
		if !confirm.Ack {
			return errors.New("broker nacked publish")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
