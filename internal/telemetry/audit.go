package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit levels.
const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
)

const auditSchemaVersion = 2

// Record is one operator-visible relay decision.
type Record struct {
	Level      string
	Text       string
	RequestID  string
	IdentityID *string
	// Set for hub decisions about a client event.
	Event  string
	Reason string
	Handle string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string `json:"level"`
	Text   string `json:"text"`
	Event  string `json:"event,omitempty"`
	Reason string `json:"reason,omitempty"`
	ConnID string `json:"conn_id,omitempty"`
}

// AuditEmitter publishes audit_log envelopes to the broker.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
	now         func() time.Time
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger.Named("audit"),
		now:         time.Now,
	}
}

// Emit publishes rec. A nil emitter is a no-op; publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, rec Record) {
	if e == nil || e.publisher == nil {
		return
	}

	env := e.envelope(rec)
	e.logger.Debug("audit emit",
		zap.String("level", rec.Level),
		zap.String("request_id", rec.RequestID),
		zap.Stringp("user_id", rec.IdentityID),
		zap.String("text", rec.Text),
	)
	if err := e.publisher.Publish(ctx, e.routingKey, env); err != nil {
		e.logger.Warn("audit publish failed", zap.String("routing_key", e.routingKey), zap.Error(err))
	}
}

func (e *AuditEmitter) envelope(rec Record) AuditEnvelope {
	return AuditEnvelope{
		SchemaVersion: auditSchemaVersion,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		UserID:        rec.IdentityID,
		Payload: AuditPayload{
			Level:  rec.Level,
			Text:   rec.Text,
			Event:  rec.Event,
			Reason: rec.Reason,
			ConnID: rec.Handle,
		},
	}
}
