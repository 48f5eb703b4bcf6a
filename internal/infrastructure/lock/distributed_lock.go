package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 基于 Redis SetNX 的分布式锁
// 加锁 SET key value NX EX，释放用 Lua 脚本先验证持有者再删除
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者标识，释放时验证，防止误删别人的锁
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewUserLock 按用户维度的订阅写锁
//
// 每笔订单的认领权由支付记录上的 CAS 保证，但同一用户的两笔不同订单
// 可能几乎同时完成确认，订阅/钱包写入需要按用户串行化。
// value 用订单号，便于排查是哪笔订单持有锁
func NewUserLock(client *redis.Client, userID int64, providerOrderID string) *DistributedLock {
	key := fmt.Sprintf("subscription:lock:user:%d", userID)
	return NewDistributedLock(client, key, providerOrderID, 30*time.Second)
}
