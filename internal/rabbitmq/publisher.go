package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chat-relay/internal/telemetry"
)

const publishTimeout = 5 * time.Second

// ErrClosed is returned by Publish after the broker connection went away.
var ErrClosed = errors.New("amqp publisher closed")

// Publisher publishes relay lifecycle and audit events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type headersKey struct{}

// WithHeaders attaches AMQP message headers to ctx for the next Publish call.
func WithHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return context.WithValue(ctx, headersKey{}, headers)
}

func headersFromContext(ctx context.Context) amqp.Table {
	headers, _ := ctx.Value(headersKey{}).(map[string]string)
	if len(headers) == 0 {
		return nil
	}
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return table
}

// NewPublisher connects to the broker and declares exchange. The relay keeps
// running without a broker, so any failure yields a noop publisher instead of
// an error.
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if amqpURL == "" {
		return newNoop("empty amqp url", logger)
	}

	p, err := dial(amqpURL, exchange, logger)
	if err != nil {
		return newNoop(err.Error(), logger)
	}
	logger.Info("rabbitmq connected", zap.String("exchange", exchange))
	return p
}

func dial(amqpURL, exchange string, logger *zap.Logger) (*amqpPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}
	go p.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return p, nil
}

type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	closed   bool
	logger   *zap.Logger
}

// watch marks the publisher closed when the broker drops the connection.
func (p *amqpPublisher) watch(notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if ok && amqpErr != nil {
		p.logger.Warn("rabbitmq connection lost", zap.String("reason", amqpErr.Reason), zap.Int("code", amqpErr.Code))
	}
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headersFromContext(ctx),
		Body:         body,
	})
	if err != nil {
		p.logger.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.ch.Close()
	return p.conn.Close()
}

type noopPublisher struct {
	reason string
	logger *zap.Logger
}

func newNoop(reason string, logger *zap.Logger) noopPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("rabbitmq disabled, using noop", zap.String("reason", reason))
	return noopPublisher{reason: reason, logger: logger}
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	if p.logger == nil {
		return nil
	}
	fields := []zap.Field{zap.String("routing_key", routingKey)}
	if audit, ok := event.(telemetry.AuditEnvelope); ok {
		fields = append(fields,
			zap.String("event_type", audit.EventType),
			zap.String("request_id", audit.RequestID),
		)
	}
	p.logger.Debug("rabbitmq noop publish", fields...)
	return nil
}

func (noopPublisher) Close() error { return nil }

// PublisherMode reports "amqp", "noop" or "unknown" for startup logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why a noop publisher was chosen.
func PublisherNoopReason(p Publisher) string {
	if noop, ok := p.(noopPublisher); ok {
		return noop.reason
	}
	return ""
}
