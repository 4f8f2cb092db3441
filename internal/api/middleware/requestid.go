package middleware

import (
	"github.com/GriffinCanCode/sentinel/internal/shared/id"
	"github.com/gin-gonic/gin"
)

// RequestIDHeader carries the per-request event ID.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns an event ID to requests that arrive without one and
// echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" || len(rid) > 64 {
			rid = id.NewEventID().String()
			c.Request.Header.Set(RequestIDHeader, rid)
		}
		c.Set("request_id", rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}
