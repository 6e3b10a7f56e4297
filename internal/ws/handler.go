package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
)

// HandlerConfig configures websocket upgrades and per-connection limits.
type HandlerConfig struct {
	AllowedOrigins []string
	SendBuffer     int
	Limits         Limits
}

// WebSocketHandler upgrades HTTP requests and binds each connection to the hub.
type WebSocketHandler struct {
	hub      *Hub
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	parsers  fastjson.ParserPool
	logger   *zap.Logger
}

func NewWebSocketHandler(hub *Hub, cfg HandlerConfig, logger *zap.Logger) *WebSocketHandler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	h := &WebSocketHandler{hub: hub, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handle upgrades the request and serves the connection until it closes.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-relay/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		span.End()
		return
	}

	requestID := c.GetString(middleware.RequestIDKey)
	if requestID == "" {
		requestID = observability.RequestIDFromRequest(c.Request)
	}
	info := ConnInfo{
		Handle:      xid.New().String(),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("ws.handle", info.Handle))

	client := NewClient(info, conn, h.hub, h.cfg.SendBuffer, h.cfg.Limits, &h.parsers, h.logger)
	if err := h.hub.Connect(ctx, info, client); err != nil {
		h.logger.Warn("hub refused connection", zap.String("handle", info.Handle), zap.Error(err))
		span.RecordError(err)
		span.End()
		conn.Close()
		return
	}
	span.End()

	observability.IncWSActive()
	observability.IncWSEvent(observability.KindLifecycle, "connect")
	h.publish(ctx, observability.RoutingWSConnected, "ws_connect", info, "")

	go client.WritePump()
	readErr := client.ReadPump(ctx)

	// The request context may already be cancelled here.
	cleanupCtx := context.WithoutCancel(ctx)
	if err := h.hub.Disconnect(cleanupCtx, info.Handle); err != nil {
		h.logger.Debug("hub disconnect skipped", zap.String("handle", info.Handle), zap.Error(err))
	}
	client.Close()

	observability.DecWSActive()
	observability.IncWSEvent(observability.KindLifecycle, "disconnect")
	reason := ""
	if readErr != nil {
		reason = readErr.Error()
	}
	if readErr != nil && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		observability.IncWSEvent(observability.KindLifecycle, "error")
		h.logger.Info("websocket closed with error", zap.String("handle", info.Handle), zap.Error(readErr))
		h.publish(cleanupCtx, observability.RoutingWSError, "ws_error", info, reason)
	}
	h.publish(cleanupCtx, observability.RoutingWSDisconnected, "ws_disconnect", info, reason)
}

func (h *WebSocketHandler) publish(ctx context.Context, routingKey, name string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       name,
			"conn_id":     info.Handle,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"ip": info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	if err := observability.PublishEvent(ctx, routingKey, observability.NewWSEnvelope(name, payload), headers); err != nil {
		h.logger.Debug("ws event publish failed", zap.String("event", name), zap.Error(err))
	}
}
