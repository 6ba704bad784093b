package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/system-design/14-catalog-read-path/pkg/errors"
)

// Backend 共享快取的最小介面
//
// 為什麼定義介面？
//   - 便於測試（可用記憶體實作替代真實 Redis）
//   - 只暴露需要的操作：Get / Set，沒有 TTL、沒有交易
type Backend interface {
	// Get 讀取 key；不存在時 found = false 且 err = nil
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set 寫入 key，不設過期時間
	Set(ctx context.Context, key, value string) error
}

// RedisBackend 以 Redis 實作 Backend
type RedisBackend struct {
	client redis.Cmdable
}

// NewRedisBackend 創建 Redis 後端
func NewRedisBackend(client redis.Cmdable) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get 實作 Backend
func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.ErrCacheUnavailable.WithCause(err)
	}
	return val, true, nil
}

// Set 實作 Backend（expiration = 0，永不過期）
func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return apperrors.ErrCacheUnavailable.WithCause(err)
	}
	return nil
}

// SetMany 以 pipeline 批次寫入（啟動預熱使用）
func (r *RedisBackend) SetMany(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for key, value := range entries {
		pipe.Set(ctx, key, value, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.ErrCacheUnavailable.WithCause(err)
	}
	return nil
}
