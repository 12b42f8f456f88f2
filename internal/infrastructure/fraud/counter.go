package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-wallet/internal/infrastructure/config"
)

const keyPrefix = "fraud:forged:"

// RedisCounter 端末ごとの不正スキャン回数をRedisで数える
// キーは最初のINCRでwindowの有効期限が付く固定窓
type RedisCounter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisClient Redisクライアントを作成し接続を確認
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisCounter 新しいRedisCounterを作成
func NewRedisCounter(client *redis.Client, window time.Duration) *RedisCounter {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &RedisCounter{client: client, window: window}
}

// Increment 対象の不正スキャン回数を1増やし、窓内の累計を返す
func (c *RedisCounter) Increment(ctx context.Context, subject string) (int64, error) {
	key := keyPrefix + subject
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment forged counter: %w", err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, c.window).Err(); err != nil {
			return count, fmt.Errorf("failed to set forged counter expiry: %w", err)
		}
	}
	return count, nil
}
