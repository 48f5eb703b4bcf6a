package ratelimit

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Limiter 固定窗口计数限流器
//
// 以 go-cache 的条目过期时间做窗口边界：每个 key 在窗口内共用
// 一个计数条目，过期后下一次访问自动开启新窗口。
// 关闭 go-cache 的后台清理协程，过期条目由 Prune 显式回收，
// 避免服务退出时残留 janitor 协程。
type Limiter struct {
	mu     sync.Mutex
	store  *gocache.Cache
	limit  int
	window time.Duration
}

// New 创建限流器，limit 为每个 key 在 window 内允许的次数
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  gocache.New(window, 0),
		limit:  limit,
		window: window,
	}
}

// Allow 判断 key 的本次访问是否放行，放行时计数加一
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, found := l.store.Get(key)
	if !found {
		l.store.Set(key, 1, l.window)
		return true
	}

	count := current.(int)
	if count >= l.limit {
		return false
	}

	// 保留首次访问设定的窗口到期时间，只更新计数
	if _, expireAt, ok := l.store.GetWithExpiration(key); ok {
		l.store.Set(key, count+1, time.Until(expireAt))
	} else {
		l.store.Set(key, count+1, l.window)
	}
	return true
}

// Remaining 返回 key 在当前窗口的剩余额度
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, found := l.store.Get(key)
	if !found {
		return l.limit
	}
	remaining := l.limit - current.(int)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Prune 回收已过期的窗口计数
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store.DeleteExpired()
}
