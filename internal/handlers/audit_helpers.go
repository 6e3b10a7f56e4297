package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-relay/internal/middleware"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

// identityIDFromContext reads the identity asserted by the hosting application, if any.
func identityIDFromContext(c *gin.Context) *string {
	if id := c.GetHeader("X-Identity-ID"); id != "" {
		return &id
	}
	return nil
}
