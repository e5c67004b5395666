package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// rateLimit guards the expensive endpoints: a global bucket first, then the
// per-client window keyed by address.
func (h *APIHandler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.Global.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later"})
			return
		}
		if h.Limiter == nil {
			c.Next()
			return
		}
		key := c.ClientIP()
		if !h.Limiter.Allow(key) {
			secs := int(math.Ceil(h.Limiter.RetryAfter(key).Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests, please try again later"})
			return
		}
		c.Next()
	}
}
