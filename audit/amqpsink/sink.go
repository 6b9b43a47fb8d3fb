// Package amqpsink publishes authcore audit events to a RabbitMQ topic
// exchange, one persistent JSON message per event. Routing keys are
// "audit.<event_type>".
package amqpsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
)

// DefaultPublishTimeout bounds a single publish.
const DefaultPublishTimeout = 5 * time.Second

// Channel is the subset of *amqp.Channel used by Sink.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ authcore.AuditSink = (*Sink)(nil)

// Sink implements authcore.AuditSink and io.Closer.
type Sink struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger
	timeout  time.Duration
	failed   atomic.Uint64
}

// Dial connects to url, opens a channel and declares exchange.
func Dial(url, exchange string, logger *zap.Logger) (*Sink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	s, err := New(ch, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.conn = conn
	return s, nil
}

// New declares a durable topic exchange on ch and returns a Sink over it.
func New(ch Channel, exchange string, logger *zap.Logger) (*Sink, error) {
	if ch == nil {
		return nil, errors.New("amqpsink: channel is required")
	}
	if exchange == "" {
		return nil, errors.New("amqpsink: exchange is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Sink{
		ch:       ch,
		exchange: exchange,
		logger:   logger.Named("amqpsink"),
		timeout:  DefaultPublishTimeout,
	}, nil
}

// Emit publishes event. Failures are logged and counted; the auth flow that
// produced the event is never blocked on the broker beyond the timeout.
func (s *Sink) Emit(ctx context.Context, event authcore.AuditEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("marshal audit event failed", zap.String("event_id", event.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         event.EventType,
		Body:         body,
	}
	if err := s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(event), false, false, msg); err != nil {
		s.failed.Add(1)
		s.logger.Warn("publish audit event failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// Failed reports events that could not be published.
func (s *Sink) Failed() uint64 {
	return s.failed.Load()
}

// Close closes the channel and, for sinks made by Dial, the connection.
func (s *Sink) Close() error {
	err := s.ch.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}

// RoutingKey returns the routing key event is published with.
func RoutingKey(event authcore.AuditEvent) string {
	return "audit." + event.EventType
}
