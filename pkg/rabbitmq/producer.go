/**
 * @description
 * This package provides a producer for publishing order lifecycle events to
 * RabbitMQ. Downstream consumers (member notification delivery, admin feeds)
 * subscribe to the topic exchange; the core pipeline only publishes and never
 * blocks on a consumer.
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
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Exchange is the topic exchange all sweep-service events are published to.
const Exchange = "stockloyal.events"

// Routing keys published by the pipeline.
const (
	RouteOrderPlaced    = "order.placed"
	RouteOrderCompleted = "order.completed"
	RouteOrderFunded    = "order.funded"
	RouteOrderFailed    = "order.failed"
	RouteSweepCompleted = "sweep.completed"
	RouteMemberNotify   = "member.notify"
)

// OrderEvent is the payload published on order lifecycle transitions.
type OrderEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	MemberID    uuid.UUID `json:"member_id"`
	MerchantID  uuid.UUID `json:"merchant_id"`
	Symbol      string    `json:"symbol"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// MemberNotifyEvent asks the notification pipeline to tell a member about an
// executed order. Outbound email delivery itself lives outside this service.
type MemberNotifyEvent struct {
	MemberID    uuid.UUID `json:"member_id"`
	OrderID     uuid.UUID `json:"order_id"`
	Symbol      string    `json:"symbol"`
	AmountCents int64     `json:"amount_cents"`
	Template    string    `json:"template"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *zap.SugaredLogger
}

// NopPublisher is a no-op publisher used when RabbitMQ is unavailable at
// startup; the pipeline keeps running and only event fan-out degrades.
type NopPublisher struct {
	Logger *zap.SugaredLogger
}

func (p *NopPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	if p.Logger != nil {
		p.Logger.Warnw("publish skipped, rabbitmq unavailable", "routing_key", routingKey)
	}
	return nil
}

func (p *NopPublisher) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from the first
	// occurrence of amqp.
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

// NewEventProducer connects to RabbitMQ and declares the events exchange.
func NewEventProducer(amqpURL string, logger *zap.SugaredLogger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang indefinitely.
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, logger: logger}, nil
}

// Publish sends one JSON message to the events exchange.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		p.logger.Errorw("json marshal failed", "routing_key", routingKey, "err", err)
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
	if err != nil {
		// One-shot retry: reopen the channel and try again.
		p.logger.Warnw("publish failed, reopening channel", "routing_key", routingKey, "err", err)
		if p.conn == nil {
			return err
		}
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return err
		}
		p.channel = ch
		if exErr := p.channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); exErr != nil {
			return err
		}
		return p.channel.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		})
	}
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
