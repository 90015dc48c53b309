package middleware

import (
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/pkg/ratelimit"
	"posmdesk/internal/pkg/response"
)

// RateLimit budgets requests per client IP. A nil limiter disables it and a
// limiter error lets the request through.
func RateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	limit := strconv.Itoa(limiter.Limit())

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Printf("rate_limit_unavailable key=%s error=%q", key, err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			response.CustomError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, retry later")
			return
		}
		c.Next()
	}
}
