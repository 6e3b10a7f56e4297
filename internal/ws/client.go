package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-relay/internal/models"
	"chat-relay/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Error codes sent to a single client in an "error" event.
const (
	CodeBadRequest  = "bad-request"
	CodeRateLimited = "rate-limited"
)

// Limits configures the per-connection token buckets.
type Limits struct {
	MessageRate  float64
	MessageBurst int
	TypingRate   float64
	TypingBurst  int
}

// Client is a websocket connection bound to the hub. It implements Sink.
type Client struct {
	info ConnInfo
	conn *websocket.Conn
	hub  *Hub

	send      chan models.ServerEvent
	closed    chan struct{}
	closeOnce sync.Once

	messageLim *rate.Limiter
	typingLim  *rate.Limiter
	parsers    *fastjson.ParserPool
	logger     *zap.Logger
}

func NewClient(info ConnInfo, conn *websocket.Conn, hub *Hub, buffer int, limits Limits, parsers *fastjson.ParserPool, logger *zap.Logger) *Client {
	return &Client{
		info:       info,
		conn:       conn,
		hub:        hub,
		send:       make(chan models.ServerEvent, buffer),
		closed:     make(chan struct{}),
		messageLim: rate.NewLimiter(rate.Limit(limits.MessageRate), limits.MessageBurst),
		typingLim:  rate.NewLimiter(rate.Limit(limits.TypingRate), limits.TypingBurst),
		parsers:    parsers,
		logger:     logger.With(zap.String("handle", info.Handle)),
	}
}

// Send queues ev without blocking.
func (c *Client) Send(ev models.ServerEvent) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the underlying connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// WritePump drains queued events to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			if err := c.write(ev); err != nil {
				c.logger.Warn("websocket write failed", zap.String("event", ev.Event), zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}

		case <-c.closed:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still queued when the client is closed.
func (c *Client) flush() {
	for {
		select {
		case ev := <-c.send:
			if err := c.write(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(ev models.ServerEvent) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(ev); err != nil {
		return err
	}
	observability.IncWSEvent(observability.KindOutbound, ev.Event)
	return nil
}

// ReadPump decodes inbound frames and submits them to the hub until the
// connection fails. It returns the error that ended the connection.
func (c *Client) ReadPump(ctx context.Context) error {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.handleFrame(ctx, frame); err != nil {
			return err
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, frame []byte) error {
	p := c.parsers.Get()
	ev, err := DecodeClientEvent(p, frame)
	c.parsers.Put(p)
	if err != nil {
		observability.IncWSEvent(observability.KindInbound, "invalid")
		c.logger.Debug("rejected frame", zap.Error(err))
		c.sendError(CodeBadRequest, err.Error())
		return nil
	}
	observability.IncWSEvent(observability.KindInbound, ev.Name())

	if !c.allow(ev) {
		observability.IncDropped(ev.Name(), CodeRateLimited)
		c.sendError(CodeRateLimited, "too many "+ev.Name()+" events")
		return nil
	}

	return c.hub.Submit(ctx, c.info.Handle, ev)
}

func (c *Client) allow(ev models.ClientEvent) bool {
	switch ev.(type) {
	case models.SendMessage, models.ShareFile:
		return c.messageLim.Allow()
	case models.Typing:
		return c.typingLim.Allow()
	default:
		return true
	}
}

func (c *Client) sendError(code, message string) {
	c.Send(models.ServerEvent{
		Event: models.EventError,
		Data:  models.ErrorPayload{Code: code, Message: message},
	})
}
