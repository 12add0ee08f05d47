/**
 * @description
 * This package provides a producer for publishing purchase events to
 * RabbitMQ. The orchestration core appends to the Publisher interface, an
 * explicit event sink threaded through construction, never to ambient
 * global state. A no-op fallback keeps the service bootable when the broker
 * is unavailable.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/velora/purchase-service/internal/domain"
)

// Routing keys for purchase events.
const (
	KeyPurchaseProcessed = "purchase.processed"
	KeyThreeDSCompleted  = "purchase.threeds.completed"
)

// Publisher is the event sink the orchestration core appends to.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishPurchaseProcessed(ctx context.Context, event domain.PurchaseProcessedEvent) error
	PublishThreeDSCompleted(ctx context.Context, event domain.ThreeDSCompletedEvent) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing.
type EventProducer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is
// unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishPurchaseProcessed(ctx context.Context, event domain.PurchaseProcessedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"purchase event publish skipped\" session_id=%s", event.SessionID)
	return nil
}

func (p *EventProducerFallback) PublishThreeDSCompleted(ctx context.Context, event domain.ThreeDSCompletedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"threeds event publish skipped\" session_id=%s", event.SessionID)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer bound to the
// given exchange.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish marshals body as JSON and publishes it.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.channel.PublishWithContext(publishCtx, exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
}

// PublishPurchaseProcessed publishes the terminal outcome of a purchase item.
func (p *EventProducer) PublishPurchaseProcessed(ctx context.Context, event domain.PurchaseProcessedEvent) error {
	return p.Publish(ctx, p.exchange, KeyPurchaseProcessed, event)
}

// PublishThreeDSCompleted publishes a terminal 3DS sub-flow outcome.
func (p *EventProducer) PublishThreeDSCompleted(ctx context.Context, event domain.ThreeDSCompletedEvent) error {
	return p.Publish(ctx, p.exchange, KeyThreeDSCompleted, event)
}

// Close shuts down the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
