package observability

import (
	"context"
	"time"

	"chat-relay/internal/rabbitmq"
)

// Routing keys for relay lifecycle events.
const (
	RoutingWSConnected    = "ws_events.connected"
	RoutingWSDisconnected = "ws_events.disconnected"
	RoutingWSError        = "ws_events.error"
)

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// NewWSEnvelope wraps a websocket lifecycle payload.
func NewWSEnvelope(name string, payload interface{}) EventEnvelope {
	return EventEnvelope{
		EventType:  "ws_event",
		EventName:  name,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

var defaultPublisher rabbitmq.Publisher

func SetPublisher(publisher rabbitmq.Publisher) {
	defaultPublisher = publisher
}

// PublishEvent sends message through the process-wide publisher. It is a no-op until SetPublisher is called.
func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(rabbitmq.WithHeaders(ctx, headers), routingKey, message)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
