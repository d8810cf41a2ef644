package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the identifier on the wire, inbound and out.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is where the identifier lives in the gin.Context. Prefer
	// RequestIDFrom over reading the key directly.
	RequestIDKey = "request_id"
)

// RequestID tags every request with an identifier: the inbound X-Request-ID
// header when an upstream proxy already set one, a fresh UUID v4 otherwise.
// The ID is stored in the context under RequestIDKey and echoed back in the
// response header so clients can quote it when reporting problems. Register
// this early so all downstream logging carries the ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestIDFrom returns the request's identifier, or "" when the RequestID
// middleware did not run.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
