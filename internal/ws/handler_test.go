package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-relay/internal/middleware"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func startRelay(t *testing.T, cfg HandlerConfig) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	// Handler goroutines may outlive the test, so they must not log through t.
	logger := zap.NewNop()

	hub := NewHub(repositories.NewMemoryRoomRepo(), repositories.NewMemoryPresenceRepo(), WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	router := gin.New()
	router.Use(middleware.RequestID())
	router.GET("/ws", NewWebSocketHandler(hub, cfg, logger).Handle)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

var testLimits = Limits{MessageRate: 100, MessageBurst: 100, TypingRate: 100, TypingBurst: 100}

func TestWebSocketRoundTrip(t *testing.T) {
	url := startRelay(t, HandlerConfig{Limits: testLimits})
	conn := dial(t, url)

	send(t, conn, models.EventAuthenticate, map[string]string{"id": "u1", "name": "Ann", "role": "admin"})
	assert.Equal(t, models.EventUsersUpdate, next(t, conn).Event)

	send(t, conn, models.EventJoinRoom, map[string]string{"roomId": "room-1"})
	assert.Equal(t, models.EventRoomMessages, next(t, conn).Event)
	assert.Equal(t, models.EventRoomParticipants, next(t, conn).Event)

	send(t, conn, models.EventSendMessage, map[string]string{"roomId": "room-1", "content": "hello"})
	f := next(t, conn)
	require.Equal(t, models.EventNewMessage, f.Event)
	var msg models.Message
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "u1", msg.SenderID)
	assert.NotEmpty(t, msg.ID)
}

func TestWebSocketMalformedFrame(t *testing.T) {
	url := startRelay(t, HandlerConfig{Limits: testLimits})
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"join-room"`)))

	f := next(t, conn)
	require.Equal(t, models.EventError, f.Event)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, CodeBadRequest, payload.Code)
}

func TestWebSocketRateLimit(t *testing.T) {
	url := startRelay(t, HandlerConfig{Limits: Limits{MessageRate: 0.001, MessageBurst: 1, TypingRate: 1, TypingBurst: 1}})
	conn := dial(t, url)

	send(t, conn, models.EventAuthenticate, map[string]string{"id": "u1", "name": "Ann"})
	next(t, conn)
	send(t, conn, models.EventJoinRoom, map[string]string{"roomId": "room-1"})
	next(t, conn)
	next(t, conn)

	send(t, conn, models.EventSendMessage, map[string]string{"roomId": "room-1", "content": "one"})
	send(t, conn, models.EventSendMessage, map[string]string{"roomId": "room-1", "content": "two"})

	got := map[string]frame{}
	for i := 0; i < 2; i++ {
		f := next(t, conn)
		got[f.Event] = f
	}
	require.Contains(t, got, models.EventNewMessage)
	require.Contains(t, got, models.EventError)

	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(got[models.EventError].Data, &payload))
	assert.Equal(t, CodeRateLimited, payload.Code)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	url := startRelay(t, HandlerConfig{AllowedOrigins: []string{"https://app.example.com"}, Limits: testLimits})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
