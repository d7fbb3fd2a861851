package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Event describes one alert lifecycle transition for downstream consumers.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"` // alert.created | alert.updated | alert.resolved
	Hostname     string    `json:"hostname"`
	AlertName    string    `json:"alert_name"`
	AlertKind    string    `json:"alert_kind"`
	Severity     string    `json:"severity"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	TimeToImpact string    `json:"predicted_time_to_impact,omitempty"`
	EmittedAt    time.Time `json:"emitted_at"`
}

const (
	TypeAlertCreated  = "alert.created"
	TypeAlertUpdated  = "alert.updated"
	TypeAlertResolved = "alert.resolved"
)

// NewEvent stamps an event with an id and emission time.
func NewEvent(eventType string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		EmittedAt: time.Now().UTC(),
	}
}

// Publisher delivers alert lifecycle events to the message bus boundary.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NoopPublisher discards events; used when no broker is configured.
type NoopPublisher struct{}

// Publish drops the event.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close is a no-op.
func (NoopPublisher) Close() error { return nil }

// AMQPPublisher publishes events to a RabbitMQ-compatible broker. Each publish
// dials a fresh connection; alert volume is low enough that connection reuse
// is not worth the reconnect bookkeeping.
type AMQPPublisher struct {
	url   string
	queue string
}

// NewAMQPPublisher validates broker connectivity and returns a publisher
// targeting the named queue.
func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if queue == "" {
		queue = "dex.alerts"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	conn.Close()

	return &AMQPPublisher{url: url, queue: queue}, nil
}

// Publish serialises the event as JSON and sends it to the configured queue.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // auto-delete
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", p.queue, err)
	}

	if err := ch.Publish(
		"",     // exchange
		q.Name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   ev.ID,
			Timestamp:   ev.EmittedAt,
			Body:        body,
		},
	); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close is a no-op for the dial-per-publish publisher.
func (p *AMQPPublisher) Close() error { return nil }
