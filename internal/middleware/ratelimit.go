package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vmail/backend/internal/monitoring"
)

// RateLimiter 按 key 计数的限流器。
// Redis 实现用于多实例共享窗口，LocalLimiter 是单实例退化方案。
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter 进程内限流器，每个 key 一个令牌桶。
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewLocalLimiter 创建进程内限流器，perMinute 为每分钟配额。
func NewLocalLimiter(perMinute int) *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

// Allow 对 key 取一个令牌。
func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow(), nil
}

// RateLimit 按客户端 IP 限流的 gin 中间件。
//
// 限流器自身故障（比如 Redis 不可达）时放行请求：
// 限流是防滥用手段，不应该变成签发邮箱的单点故障。
func RateLimit(limiter RateLimiter, metrics *monitoring.Metrics, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		allowed, err := limiter.Allow(ctx, c.ClientIP())
		if err != nil {
			log.Warn("限流器不可用，放行请求",
				zap.String("ip", c.ClientIP()),
				zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			metrics.RecordRateLimitBlock(c.FullPath())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
