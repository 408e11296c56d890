package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// RateLimitMiddleware rejects requests beyond the limiter's budget with 429.
// A nil limiter allows everything.
func RateLimitMiddleware(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l != nil && !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, proto.ErrorResponse{Error: "too many requests", Code: "rate_limited"})
			return
		}
		c.Next()
	}
}
