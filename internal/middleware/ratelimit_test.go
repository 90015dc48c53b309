package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"posmdesk/internal/pkg/ratelimit"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

func (brokenLimiter) Limit() int { return 1 }

func limitedRouter(l ratelimit.Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	api := r.Group("/api/v1")
	api.Use(RateLimit(l))
	api.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r *gin.Engine, path, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":40000"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitRejectsAfterBudget(t *testing.T) {
	r := limitedRouter(ratelimit.NewMemory(ratelimit.Config{Capacity: 2, Refill: 2, Interval: time.Minute}))

	w := hit(r, "/api/v1/ping", "10.0.0.1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, hit(r, "/api/v1/ping", "10.0.0.1").Code)

	w = hit(r, "/api/v1/ping", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"RATE_LIMITED"`)

	assert.Equal(t, http.StatusOK, hit(r, "/api/v1/ping", "10.0.0.2").Code)
	assert.Equal(t, http.StatusOK, hit(r, "/health", "10.0.0.1").Code)
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := limitedRouter(brokenLimiter{})
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "/api/v1/ping", "10.0.0.1").Code)
	}

	r = limitedRouter(nil)
	assert.Equal(t, http.StatusOK, hit(r, "/api/v1/ping", "10.0.0.1").Code)
}
