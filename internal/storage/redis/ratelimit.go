// Package redis 提供邮箱签发限流用的 Redis 客户端。
//
// Redis 在本系统里是可选依赖：只服务于多实例部署下的共享限流窗口，
// 未配置时调用方退化为进程内限流。
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vmail/backend/internal/config"
)

// NewClient 创建 Redis 客户端并验证连通性。
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// FixedWindowLimiter 固定窗口计数限流器。
// 多实例共享同一个 Redis 时窗口计数全局一致。
type FixedWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewFixedWindowLimiter 创建限流器。
func NewFixedWindowLimiter(client *redis.Client, limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Allow 对 key 计一次数，返回是否仍在限额内。
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := "ratelimit:" + key

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	// 只在窗口首次计数时设置过期，后续计数沿用剩余窗口
	pipe.ExpireNX(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to update rate limit window: %w", err)
	}

	return count.Val() <= int64(l.limit), nil
}
