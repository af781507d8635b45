package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"vmail/backend/internal/monitoring"
)

type stubLimiter struct {
	allowed bool
	err     error
}

func (s stubLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return s.allowed, s.err
}

func doRequest(limiter RateLimiter) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/mailbox", RateLimit(limiter, monitoring.NewMetrics(), zap.NewNop()),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/mailbox", nil))
	return rec
}

func TestRateLimitAllows(t *testing.T) {
	rec := doRequest(stubLimiter{allowed: true})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitBlocks(t *testing.T) {
	rec := doRequest(stubLimiter{allowed: false})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimitFailsOpen(t *testing.T) {
	rec := doRequest(stubLimiter{err: errors.New("redis down")})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLocalLimiterExhaustsBurst(t *testing.T) {
	limiter := NewLocalLimiter(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "1.2.3.4")
		assert.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "1.2.3.4")
	assert.NoError(t, err)
	assert.False(t, ok)

	// 其他 key 不受影响
	ok, _ = limiter.Allow(ctx, "5.6.7.8")
	assert.True(t, ok)
}
