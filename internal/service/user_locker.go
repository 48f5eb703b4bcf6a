package service

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"webtoapp/internal/infrastructure/lock"
)

// UserLocker 同一用户的订阅/钱包写入串行化
// 每笔订单的认领权由支付记录 CAS 保证，这把锁只负责同一用户
// 两笔不同订单近乎同时完成时的写入顺序
type UserLocker interface {
	WithLock(ctx context.Context, userID int64, providerOrderID string, fn func() error) error
}

type redisUserLocker struct {
	client *redis.Client
}

func NewRedisUserLocker(client *redis.Client) UserLocker {
	return &redisUserLocker{client: client}
}

func (l *redisUserLocker) WithLock(ctx context.Context, userID int64, providerOrderID string, fn func() error) error {
	userLock := lock.NewUserLock(l.client, userID, providerOrderID)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return err
	}
	defer userLock.Unlock(ctx)
	return fn()
}

// noopLocker 测试用
type noopLocker struct{}

func (noopLocker) WithLock(ctx context.Context, userID int64, providerOrderID string, fn func() error) error {
	return fn()
}
