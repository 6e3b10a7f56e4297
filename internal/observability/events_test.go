package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-relay/internal/mocks"
)

func TestBuildHeaders(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r1", "trace_id": "t1"}, BuildHeaders("r1", "t1"))
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), RoutingWSConnected, NewWSEnvelope("ws_connect", nil), nil))
}

func TestPublishEventUsesPublisher(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	SetPublisher(publisher)
	t.Cleanup(func() { SetPublisher(nil) })

	envelope := NewWSEnvelope("ws_disconnect", map[string]string{"conn_id": "c1"})
	publisher.On("Publish", mock.Anything, RoutingWSDisconnected, envelope).Return(assert.AnError).Once()

	err := PublishEvent(context.Background(), RoutingWSDisconnected, envelope, BuildHeaders("r1", ""))

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "ws_event", envelope.EventType)
	publisher.AssertExpectations(t)
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "10.0.0.5:5555"
	assert.Equal(t, "10.0.0.5", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPFromRequest(req))
}

func TestIPFromRequestRealIPAndGarbage(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "10.0.0.5:5555"
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", IPFromRequest(req))
}

func TestRequestIDFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	assert.Empty(t, RequestIDFromRequest(req))

	req.Header.Set("X-Correlation-ID", "corr-1")
	assert.Equal(t, "corr-1", RequestIDFromRequest(req))

	req.Header.Set("X-Request-ID", "req-1")
	assert.Equal(t, "req-1", RequestIDFromRequest(req))
}
